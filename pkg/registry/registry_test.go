package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studsec/instancer/pkg/config"
)

func TestFromConfig(t *testing.T) {
	servers := map[string]config.ServerConfig{
		"default": {Port: 22, User: "root", Path: "/opt/challenges"},
		"alpha":   {IP: "10.0.0.1"},
		"bravo":   {IP: "10.0.0.2", Port: 2222, User: "deploy", Path: "/srv/ctf"},
		"broken":  {User: "root"}, // missing ip, skipped
	}

	reg, err := FromConfig(servers)
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	// Workers are sorted by name so indexes survive restarts
	alpha := reg.Get(0)
	assert.Equal(t, "alpha", alpha.Hostname)
	assert.Equal(t, "10.0.0.1", alpha.IP)
	assert.Equal(t, 22, alpha.SSHPort)
	assert.Equal(t, "root", alpha.User)
	assert.Equal(t, "/opt/challenges", alpha.BasePath)
	assert.Equal(t, "10.0.0.1:22", alpha.Addr())

	bravo := reg.Get(1)
	assert.Equal(t, "bravo", bravo.Hostname)
	assert.Equal(t, 2222, bravo.SSHPort)
	assert.Equal(t, "deploy", bravo.User)
	assert.Equal(t, "/srv/ctf", bravo.BasePath)
}

func TestFromConfigNoDefault(t *testing.T) {
	_, err := FromConfig(map[string]config.ServerConfig{
		"alpha": {IP: "10.0.0.1"},
	})
	assert.Error(t, err)
}

func TestFromConfigNoUsableWorkers(t *testing.T) {
	_, err := FromConfig(map[string]config.ServerConfig{
		"default": {Port: 22, User: "root", Path: "/opt"},
		"broken":  {User: "root"},
	})
	assert.Error(t, err)
}

func TestRegistryLookups(t *testing.T) {
	w1 := &Worker{Hostname: "alpha", Ports: NewPortAllocator(StartPortRange, EndPortRange)}
	w2 := &Worker{Hostname: "bravo", Ports: NewPortAllocator(StartPortRange, EndPortRange)}
	reg := New(w1, w2)

	assert.Equal(t, w2, reg.Get(1))
	assert.Nil(t, reg.Get(2))
	assert.Nil(t, reg.Get(-1))

	assert.Equal(t, 0, reg.Index(w1))
	assert.Equal(t, 1, reg.Index(w2))
	assert.Equal(t, -1, reg.Index(&Worker{Hostname: "ghost"}))
}
