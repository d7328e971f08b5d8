package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the main configuration struct combining all sub-configs
type Config struct {
	API      APIConfig               `mapstructure:"api" validate:"required"`
	Docker   DockerConfig            `mapstructure:"docker"`
	SSH      SSHConfig               `mapstructure:"ssh"`
	Database DatabaseConfig          `mapstructure:"database"`
	Servers  map[string]ServerConfig `mapstructure:"servers" validate:"required,min=1"`
}

// APIConfig configures the HTTP listener and its single shared credential
type APIConfig struct {
	IP       string `mapstructure:"ip" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Username string `mapstructure:"username" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
}

// DockerConfig selects the catalogue backend. Exactly one of ComposePath
// (compose backend) or ChallengePath (script backend) must be set.
type DockerConfig struct {
	ComposePath   string `mapstructure:"compose_path"`
	ChallengePath string `mapstructure:"challenge_path"`
}

// SSHConfig holds the private key used for every worker connection
type SSHConfig struct {
	Keyfile string `mapstructure:"keyfile" validate:"required"`
}

// DatabaseConfig points at the sqlite file backing the durable store
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ServerConfig is one [servers.<name>] table. The reserved "default" table
// supplies Port, User and Path for hosts that do not override them.
type ServerConfig struct {
	IP   string `mapstructure:"ip"`
	Port int    `mapstructure:"port"`
	User string `mapstructure:"user"`
	Path string `mapstructure:"path"`
}

// LoadConfig reads and validates the TOML configuration file
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/instancer")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ValidateConfig checks structural constraints the TOML schema cannot express
func ValidateConfig(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if (cfg.Docker.ComposePath == "") == (cfg.Docker.ChallengePath == "") {
		return fmt.Errorf("exactly one of docker.compose_path or docker.challenge_path must be set")
	}

	if _, ok := cfg.Servers["default"]; !ok {
		return fmt.Errorf("servers.default table is required")
	}

	workers := 0
	for name := range cfg.Servers {
		if name != "default" {
			workers++
		}
	}
	if workers == 0 {
		return fmt.Errorf("at least one worker must be configured under [servers]")
	}

	return nil
}

// MustLoadConfig loads configuration and panics on error (for use in main.go)
func MustLoadConfig(configPath string) *Config {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
