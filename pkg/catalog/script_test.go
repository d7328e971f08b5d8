package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studsec/instancer/pkg/registry"
	"github.com/studsec/instancer/pkg/types"
)

const testIndex = `
challenges:
  - id: buffer_overflow
    name: Buffer Overflow
    path: pwn/buffer_overflow
    flag: CTF{s4mple}
    url: http://{{IP}}:{{PORT}}
  - id: heap_spray
    path: pwn/heap_spray
    flag: CTF{h34p}
  - id: ""
    path: broken/entry
`

func writeIndex(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFile), []byte(content), 0644))
	return dir
}

func testWorker() *registry.Worker {
	return &registry.Worker{
		Hostname: "alpha",
		IP:       "10.0.0.1",
		SSHPort:  22,
		User:     "root",
		BasePath: "/opt/challenges",
		Ports:    registry.NewPortAllocator(registry.StartPortRange, registry.EndPortRange),
	}
}

func TestLoadScript(t *testing.T) {
	src, err := LoadScript(writeIndex(t, testIndex))
	require.NoError(t, err)

	// The entry without an id is dropped
	assert.Len(t, src.List(), 2)

	ch, ok := src.Lookup("buffer_overflow")
	require.True(t, ok)
	assert.Equal(t, "Buffer Overflow", ch.Name)
	assert.Equal(t, "pwn/buffer_overflow", ch.Path)
	assert.Equal(t, "CTF{s4mple}", ch.Flag)

	// Name falls back to the id
	heap, ok := src.Lookup("heap_spray")
	require.True(t, ok)
	assert.Equal(t, "heap_spray", heap.Name)

	_, ok = src.Lookup("missing")
	assert.False(t, ok)
}

func TestLoadScriptMissingIndex(t *testing.T) {
	_, err := LoadScript(t.TempDir())
	assert.Error(t, err)
}

func TestLoadScriptEmptyIndex(t *testing.T) {
	_, err := LoadScript(writeIndex(t, "challenges: []\n"))
	assert.Error(t, err)
}

func TestScriptCommands(t *testing.T) {
	src, err := LoadScript(writeIndex(t, testIndex))
	require.NoError(t, err)
	ch, _ := src.Lookup("buffer_overflow")
	worker := testWorker()

	run := src.RunCmd(ch, worker, "u1", 4242, "0.0.0.0")
	assert.Equal(t,
		"cd '/opt/challenges/pwn/buffer_overflow/Source' && bash run.sh --flag 'CTF{s4mple}' --hostname 0.0.0.0 --port 4242",
		run)

	destroy := src.DestroyCmd(ch, worker, "u1", 4242)
	assert.Equal(t,
		"cd '/opt/challenges/pwn/buffer_overflow/Source' && bash destroy.sh --port 4242",
		destroy)

	probe := src.ProbeCmd(ch, worker, "u1", 4242)
	assert.Contains(t, probe, "python3 '/opt/challenges/pwn/buffer_overflow/Tests/main.py'")
	assert.Contains(t, probe, `--connection-string "127.0.0.1 4242"`)
	assert.Contains(t, probe, "--flag='CTF{s4mple}'")
	assert.Contains(t, probe, "--handout-path '/opt/challenges/pwn/buffer_overflow/Handout'")
	assert.Contains(t, probe, "--deployment-path '/opt/challenges/pwn/buffer_overflow/Source'")
}

func TestScriptParseProbe(t *testing.T) {
	src, err := LoadScript(writeIndex(t, testIndex))
	require.NoError(t, err)
	ch, _ := src.Lookup("buffer_overflow")
	worker := testWorker()

	tests := []struct {
		name       string
		output     string
		wantState  types.InstanceState
		wantReason string
	}{
		{
			name:      "all checks empty means healthy",
			output:    `{"connect": "", "flag": ""}`,
			wantState: types.InstanceStateRunning,
		},
		{
			name:      "failing check means down",
			output:    `{"connect": "", "flag": "wrong flag"}`,
			wantState: types.InstanceStateStopped,
		},
		{
			name:       "invalid json means the probe itself broke",
			output:     "Traceback (most recent call last): ...",
			wantState:  types.InstanceStateFailed,
			wantReason: "pre-flight test failed to run!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, found := src.ParseProbe(ch, worker, tt.output)
			assert.True(t, found)
			assert.Equal(t, tt.wantState, obs.State)
			assert.Equal(t, tt.wantReason, obs.Reason)
		})
	}
}

func TestURLSubstitution(t *testing.T) {
	ch := &types.Challenge{URLTemplate: "http://{{IP}}:{{PORT}}/login"}
	assert.Equal(t, "http://10.0.0.1:4242/login", URL(ch, "10.0.0.1", 4242))

	assert.Empty(t, URL(&types.Challenge{}, "10.0.0.1", 4242))
}
