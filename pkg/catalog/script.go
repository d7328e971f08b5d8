package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/studsec/instancer/pkg/log"
	"github.com/studsec/instancer/pkg/registry"
	"github.com/studsec/instancer/pkg/types"
)

// indexFile names the catalogue index inside the challenge tree
const indexFile = "challenges.yml"

// scriptIndex is the on-disk shape of the script catalogue
type scriptIndex struct {
	Challenges []scriptEntry `yaml:"challenges"`
}

type scriptEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	Flag string `yaml:"flag"`
	URL  string `yaml:"url"`
}

// ScriptSource serves challenges packaged as script trees: each challenge
// directory carries Source/run.sh, Source/destroy.sh and Tests/main.py.
type ScriptSource struct {
	challenges map[string]*types.Challenge
	order      []string
}

// LoadScript reads the catalogue index under challengePath
func LoadScript(challengePath string) (*ScriptSource, error) {
	data, err := os.ReadFile(filepath.Join(challengePath, indexFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read challenge index: %w", err)
	}

	var index scriptIndex
	if err := yaml.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse challenge index: %w", err)
	}

	logger := log.WithComponent("catalog")

	src := &ScriptSource{challenges: make(map[string]*types.Challenge)}
	for _, entry := range index.Challenges {
		if entry.ID == "" || entry.Path == "" {
			logger.Warn().Str("id", entry.ID).Msg("Challenge entry missing id or path, skipping")
			continue
		}
		name := entry.Name
		if name == "" {
			name = entry.ID
		}
		src.challenges[entry.ID] = &types.Challenge{
			ID:          entry.ID,
			Name:        name,
			Path:        entry.Path,
			Flag:        entry.Flag,
			URLTemplate: entry.URL,
		}
		src.order = append(src.order, entry.ID)
	}

	if len(src.challenges) == 0 {
		return nil, fmt.Errorf("challenge index %s contains no challenges", indexFile)
	}

	return src, nil
}

func (s *ScriptSource) List() []*types.Challenge {
	list := make([]*types.Challenge, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, s.challenges[id])
	}
	return list
}

func (s *ScriptSource) Lookup(id string) (*types.Challenge, bool) {
	ch, ok := s.challenges[id]
	return ch, ok
}

// challengeDir is the challenge tree root on a worker
func challengeDir(ch *types.Challenge, worker *registry.Worker) string {
	return path.Join(worker.BasePath, ch.Path)
}

func (s *ScriptSource) RunCmd(ch *types.Challenge, worker *registry.Worker, userID string, port int, hostname string) string {
	dir := path.Join(challengeDir(ch, worker), "Source")
	return fmt.Sprintf("cd %s && bash run.sh --flag %s --hostname %s --port %d",
		quote(dir), quote(ch.Flag), hostname, port)
}

func (s *ScriptSource) DestroyCmd(ch *types.Challenge, worker *registry.Worker, userID string, port int) string {
	dir := path.Join(challengeDir(ch, worker), "Source")
	return fmt.Sprintf("cd %s && bash destroy.sh --port %d", quote(dir), port)
}

func (s *ScriptSource) ProbeCmd(ch *types.Challenge, worker *registry.Worker, userID string, port int) string {
	dir := challengeDir(ch, worker)
	return fmt.Sprintf(
		"python3 %s --connection-string \"127.0.0.1 %d\" --flag=%s --handout-path %s --deployment-path %s",
		quote(path.Join(dir, "Tests/main.py")),
		port,
		quote(ch.Flag),
		quote(path.Join(dir, "Handout")),
		quote(path.Join(dir, "Source")),
	)
}

// ParseProbe interprets Tests/main.py output: a JSON object whose values are
// all empty means the instance is healthy; any non-empty value names a
// failing check.
func (s *ScriptSource) ParseProbe(ch *types.Challenge, worker *registry.Worker, output string) (types.Observation, bool) {
	var checks map[string]string
	if err := json.Unmarshal([]byte(output), &checks); err != nil {
		return types.Observation{
			State:  types.InstanceStateFailed,
			Reason: "pre-flight test failed to run!",
		}, true
	}

	for _, v := range checks {
		if v != "" {
			return types.Observation{State: types.InstanceStateStopped}, true
		}
	}
	return types.Observation{State: types.InstanceStateRunning}, true
}
