package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/studsec/instancer/pkg/log"
	"github.com/studsec/instancer/pkg/registry"
	"github.com/studsec/instancer/pkg/types"
)

// urlLabel lets a compose service override the default URL template
const urlLabel = "instancer.url"

// composeFile is the subset of a compose file the catalogue cares about
type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Ports  []portSpec        `yaml:"ports"`
	Labels map[string]string `yaml:"labels"`
	Deploy *composeDeploy    `yaml:"deploy"`
}

// portSpec tolerates the short syntax in both spellings: `- 5000` and
// `- "8080:80/tcp"`
type portSpec string

func (p *portSpec) UnmarshalYAML(value *yaml.Node) error {
	*p = portSpec(value.Value)
	return nil
}

type composeDeploy struct {
	Resources *composeResources `yaml:"resources"`
}

type composeResources struct {
	Limits map[string]string `yaml:"limits"`
}

// ComposeSource serves challenges defined as services of one compose project.
// Only services that expose ports are treated as challenges.
type ComposeSource struct {
	challenges map[string]*types.Challenge
	order      []string
}

// LoadCompose parses the compose file at composePath
func LoadCompose(composePath string) (*ComposeSource, error) {
	data, err := os.ReadFile(composePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read compose file: %w", err)
	}

	var file composeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse compose file: %w", err)
	}

	logger := log.WithComponent("catalog")

	src := &ComposeSource{challenges: make(map[string]*types.Challenge)}
	for name, service := range file.Services {
		if len(service.Ports) == 0 {
			continue
		}

		warnMissingLimits(logger, name, service)
		warnHardcodedPorts(logger, name, service.Ports)

		url := service.Labels[urlLabel]
		if url == "" {
			url = "http://{{IP}}:{{PORT}}"
		}

		src.challenges[name] = &types.Challenge{
			ID:          name,
			Name:        name,
			URLTemplate: url,
		}
		src.order = append(src.order, name)
	}

	if len(src.challenges) == 0 {
		return nil, fmt.Errorf("compose file %s defines no services with ports", composePath)
	}

	return src, nil
}

// warnMissingLimits nags about services that can exhaust a worker
func warnMissingLimits(logger zerolog.Logger, name string, service composeService) {
	const remedy = "make sure you use resource limits on each service to prevent resource exhaustion"

	switch {
	case service.Deploy == nil:
		logger.Warn().Str("service", name).Msgf("No deploy label, %s", remedy)
	case service.Deploy.Resources == nil:
		logger.Warn().Str("service", name).Msgf("No resources label in deploy section, %s", remedy)
	case len(service.Deploy.Resources.Limits) == 0:
		logger.Warn().Str("service", name).Msgf("No limits label in resources section, %s", remedy)
	}
}

// warnHardcodedPorts flags host-side port pins that exhaust under load
func warnHardcodedPorts(logger zerolog.Logger, name string, ports []portSpec) {
	for _, port := range ports {
		spec := strings.SplitN(string(port), "/", 2)[0]
		if strings.Contains(spec, ":") {
			logger.Warn().
				Str("service", name).
				Str("port", string(port)).
				Msg("Hardcoded host port, will cause problems when deploying and running out of ports")
		}
	}
}

func (s *ComposeSource) List() []*types.Challenge {
	list := make([]*types.Challenge, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, s.challenges[id])
	}
	return list
}

func (s *ComposeSource) Lookup(id string) (*types.Challenge, bool) {
	ch, ok := s.challenges[id]
	return ch, ok
}

// composeBase renders the compose invocation shared by every command
func composeBase(worker *registry.Worker, userID string) string {
	return fmt.Sprintf("docker compose -p %s --project-directory %s", quote(userID), quote(worker.BasePath))
}

func (s *ComposeSource) RunCmd(ch *types.Challenge, worker *registry.Worker, userID string, port int, hostname string) string {
	base := composeBase(worker, userID)
	return fmt.Sprintf("%s build --with-dependencies %s && %s down %s && %s up -d %s",
		base, ch.ID, base, ch.ID, base, ch.ID)
}

func (s *ComposeSource) DestroyCmd(ch *types.Challenge, worker *registry.Worker, userID string, port int) string {
	return fmt.Sprintf("%s down %s", composeBase(worker, userID), ch.ID)
}

func (s *ComposeSource) ProbeCmd(ch *types.Challenge, worker *registry.Worker, userID string, port int) string {
	return fmt.Sprintf("%s ps --format json", composeBase(worker, userID))
}

// composePSEntry is one line of `docker compose ps --format json`
type composePSEntry struct {
	Service    string `json:"Service"`
	State      string `json:"State"`
	Publishers []struct {
		PublishedPort int `json:"PublishedPort"`
	} `json:"Publishers"`
}

// ParseProbe filters the ps listing to this challenge's service. The observed
// compose state is persisted when it is one of ours; anything else collapses
// to stopped with a reason naming the raw state ("service is exited").
func (s *ComposeSource) ParseProbe(ch *types.Challenge, worker *registry.Worker, output string) (types.Observation, bool) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var entry composePSEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.Service != ch.ID {
			continue
		}

		obs := types.Observation{State: types.InstanceState(entry.State)}
		if !types.ValidState(obs.State) {
			obs = types.Observation{
				State:  types.InstanceStateStopped,
				Reason: fmt.Sprintf("service is %s", entry.State),
			}
		}

		for _, pub := range entry.Publishers {
			if pub.PublishedPort > 0 {
				obs.Endpoint = fmt.Sprintf("%s:%d", worker.IP, pub.PublishedPort)
				break
			}
		}
		return obs, true
	}

	return types.Observation{}, false
}
