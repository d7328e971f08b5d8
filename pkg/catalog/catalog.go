package catalog

import (
	"strconv"
	"strings"

	"github.com/studsec/instancer/pkg/registry"
	"github.com/studsec/instancer/pkg/types"
)

// Source is the catalogue capability. The compose backend and the script
// backend both implement it; the lifecycle engine and the reconciler never
// know which one they are driving.
type Source interface {
	// List returns every challenge in the catalogue
	List() []*types.Challenge

	// Lookup resolves a challenge id
	Lookup(id string) (*types.Challenge, bool)

	// RunCmd renders the command that starts an instance on a worker
	RunCmd(ch *types.Challenge, worker *registry.Worker, userID string, port int, hostname string) string

	// DestroyCmd renders the command that terminates an instance on a worker
	DestroyCmd(ch *types.Challenge, worker *registry.Worker, userID string, port int) string

	// ProbeCmd renders the liveness probe for one worker. A zero port means
	// no port has been allocated yet.
	ProbeCmd(ch *types.Challenge, worker *registry.Worker, userID string, port int) string

	// ParseProbe interprets a worker's probe output. The boolean reports
	// whether the output mentioned this instance at all; a worker whose
	// probe ran but saw nothing is not authoritative.
	ParseProbe(ch *types.Challenge, worker *registry.Worker, output string) (types.Observation, bool)
}

// URL substitutes the {{IP}} and {{PORT}} placeholders of a challenge's URL
// template. An empty template yields an empty URL.
func URL(ch *types.Challenge, ip string, port int) string {
	if ch.URLTemplate == "" {
		return ""
	}
	url := strings.ReplaceAll(ch.URLTemplate, "{{IP}}", ip)
	return strings.ReplaceAll(url, "{{PORT}}", strconv.Itoa(port))
}

// quote wraps s in single quotes for the remote shell
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
