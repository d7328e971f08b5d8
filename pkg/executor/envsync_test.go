package executor

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pwn/buffer_overflow/Source"), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "pwn/buffer_overflow/Source/run.sh"),
		[]byte("#!/bin/sh\n"), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "challenges.yml"),
		[]byte("challenges: []\n"), 0644))

	var buf bytes.Buffer
	require.NoError(t, tarDirectory(dir, &buf))

	entries := map[string]bool{}
	tr := tar.NewReader(&buf)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		entries[header.Name] = true

		if header.Name == "pwn/buffer_overflow/Source/run.sh" {
			content, err := io.ReadAll(tr)
			require.NoError(t, err)
			assert.Equal(t, "#!/bin/sh\n", string(content))
			assert.EqualValues(t, 0755, header.Mode&0777)
		}
	}

	// Paths are relative to the synced directory itself
	assert.True(t, entries["challenges.yml"])
	assert.True(t, entries["pwn/buffer_overflow/Source/run.sh"])
	assert.False(t, entries["."])
}

func TestTarDirectoryMissing(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, tarDirectory("/does/not/exist", &buf))
}
