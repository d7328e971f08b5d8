package store

import (
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/studsec/instancer/pkg/types"
)

// instanceModel is the single table backing the store
type instanceModel struct {
	Name   string `gorm:"column:name;primaryKey"`
	UserID string `gorm:"column:user_id;primaryKey"`
	Server *int   `gorm:"column:server"`
	Port   *int   `gorm:"column:port"`
	State  string `gorm:"column:state;not null"`
	Reason string `gorm:"column:reason;not null"`
}

func (instanceModel) TableName() string {
	return "challenges"
}

// GormStore implements Store on an embedded sqlite database
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens (or creates) the sqlite database at path and ensures the
// challenges table exists. Pass ":memory:" for an ephemeral store in tests.
func NewGormStore(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&instanceModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate challenges table: %w", err)
	}

	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Create(key types.InstanceKey) error {
	model := instanceModel{
		Name:   key.Challenge,
		UserID: key.UserID,
		State:  string(types.InstanceStateCreated),
		Reason: "",
	}
	if err := s.db.Create(&model).Error; err != nil {
		return fmt.Errorf("failed to create instance row: %w", err)
	}
	return nil
}

func (s *GormStore) get(key types.InstanceKey) (*instanceModel, error) {
	var model instanceModel
	result := s.db.Where("name = ? AND user_id = ?", key.Challenge, key.UserID).First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load instance row: %w", result.Error)
	}
	return &model, nil
}

func (s *GormStore) Get(key types.InstanceKey) (types.InstanceState, error) {
	model, err := s.get(key)
	if err != nil {
		return "", err
	}
	return types.InstanceState(model.State), nil
}

func (s *GormStore) GetWithReason(key types.InstanceKey) (types.InstanceState, string, error) {
	model, err := s.get(key)
	if err != nil {
		return "", "", err
	}
	return types.InstanceState(model.State), model.Reason, nil
}

func (s *GormStore) GetInstance(key types.InstanceKey) (*types.Instance, error) {
	model, err := s.get(key)
	if err != nil {
		return nil, err
	}
	return modelToInstance(model), nil
}

func (s *GormStore) List() ([]*types.Instance, error) {
	var models []instanceModel
	if err := s.db.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list instance rows: %w", err)
	}

	instances := make([]*types.Instance, 0, len(models))
	for i := range models {
		instances = append(instances, modelToInstance(&models[i]))
	}
	return instances, nil
}

func (s *GormStore) Set(key types.InstanceKey, state types.InstanceState, reason string) error {
	result := s.db.Model(&instanceModel{}).
		Where("name = ? AND user_id = ?", key.Challenge, key.UserID).
		Updates(map[string]interface{}{"state": string(state), "reason": reason})
	if result.Error != nil {
		return fmt.Errorf("failed to set state: %w", result.Error)
	}
	return nil
}

func (s *GormStore) SetServer(key types.InstanceKey, idx int) error {
	result := s.db.Model(&instanceModel{}).
		Where("name = ? AND user_id = ?", key.Challenge, key.UserID).
		Update("server", idx)
	if result.Error != nil {
		return fmt.Errorf("failed to set server: %w", result.Error)
	}
	return nil
}

func (s *GormStore) GetServer(key types.InstanceKey) (*int, error) {
	model, err := s.get(key)
	if err != nil {
		return nil, err
	}
	return model.Server, nil
}

func (s *GormStore) SetPort(key types.InstanceKey, port int) error {
	result := s.db.Model(&instanceModel{}).
		Where("name = ? AND user_id = ?", key.Challenge, key.UserID).
		Update("port", port)
	if result.Error != nil {
		return fmt.Errorf("failed to set port: %w", result.Error)
	}
	return nil
}

func (s *GormStore) GetPort(key types.InstanceKey) (*int, error) {
	model, err := s.get(key)
	if err != nil {
		return nil, err
	}
	return model.Port, nil
}

func (s *GormStore) Delete(key types.InstanceKey) error {
	result := s.db.Where("name = ? AND user_id = ?", key.Challenge, key.UserID).
		Delete(&instanceModel{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete instance row: %w", result.Error)
	}
	return nil
}

func (s *GormStore) DeleteAndInsert(key types.InstanceKey, state types.InstanceState) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ? AND user_id = ?", key.Challenge, key.UserID).
			Delete(&instanceModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete instance row: %w", err)
		}
		model := instanceModel{
			Name:   key.Challenge,
			UserID: key.UserID,
			State:  string(state),
			Reason: "",
		}
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("failed to insert instance row: %w", err)
		}
		return nil
	})
}

func modelToInstance(model *instanceModel) *types.Instance {
	return &types.Instance{
		Key: types.InstanceKey{
			Challenge: model.Name,
			UserID:    model.UserID,
		},
		State:     types.InstanceState(model.State),
		Reason:    model.Reason,
		ServerIdx: model.Server,
		Port:      model.Port,
	}
}
