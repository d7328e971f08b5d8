package registry

import (
	"fmt"
	"sort"

	"github.com/studsec/instancer/pkg/config"
	"github.com/studsec/instancer/pkg/log"
)

// Worker is one remote host that runs instances. Connection parameters and
// the base path come from configuration; the port allocator is local state.
type Worker struct {
	Hostname string
	IP       string
	SSHPort  int
	User     string
	BasePath string

	Ports *PortAllocator
}

// Addr returns the ssh dial address of the worker
func (w *Worker) Addr() string {
	return fmt.Sprintf("%s:%d", w.IP, w.SSHPort)
}

// Registry is the static list of workers, read-only after startup
type Registry struct {
	workers []*Worker
}

// New builds a registry from an explicit worker list
func New(workers ...*Worker) *Registry {
	return &Registry{workers: workers}
}

// FromConfig builds the registry from the [servers] tables. The default table
// supplies port, user and path for hosts that do not override them; hosts
// missing an ip are skipped with a warning.
func FromConfig(servers map[string]config.ServerConfig) (*Registry, error) {
	logger := log.WithComponent("registry")

	defaults, ok := servers["default"]
	if !ok {
		return nil, fmt.Errorf("servers.default table is required")
	}

	// Deterministic worker order: server indexes persist across restarts
	names := make([]string, 0, len(servers))
	for name := range servers {
		if name == "default" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var workers []*Worker
	for _, name := range names {
		host := servers[name]

		if host.IP == "" {
			logger.Warn().Str("host", name).Msg("Host is missing ip, skipping")
			continue
		}

		port := defaults.Port
		if host.Port != 0 {
			port = host.Port
		}
		user := defaults.User
		if host.User != "" {
			user = host.User
		}
		path := defaults.Path
		if host.Path != "" {
			path = host.Path
		}

		workers = append(workers, &Worker{
			Hostname: name,
			IP:       host.IP,
			SSHPort:  port,
			User:     user,
			BasePath: path,
			Ports:    NewPortAllocator(StartPortRange, EndPortRange),
		})
	}

	if len(workers) == 0 {
		return nil, fmt.Errorf("no usable workers configured")
	}

	return &Registry{workers: workers}, nil
}

// Workers returns all workers in index order
func (r *Registry) Workers() []*Worker {
	return r.workers
}

// Get returns the worker at idx, nil when out of range
func (r *Registry) Get(idx int) *Worker {
	if idx < 0 || idx >= len(r.workers) {
		return nil
	}
	return r.workers[idx]
}

// Index returns the registry index of w, -1 when unknown
func (r *Registry) Index(w *Worker) int {
	for i, worker := range r.workers {
		if worker == w {
			return i
		}
	}
	return -1
}

// Len returns the number of workers
func (r *Registry) Len() int {
	return len(r.workers)
}
