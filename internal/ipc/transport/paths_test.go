package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketPathUsesRuntimeDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", tmp)

	p, err := SocketPath("", "tester")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, "localrmi", "tester.sock"), p)
	fi, err := os.Stat(filepath.Dir(p))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestSocketPathExplicitDir(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "run")
	p, err := SocketPath(dir, "echo.sock")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "echo.sock"), p)
}

func TestSocketPathAbsolute(t *testing.T) {
	t.Parallel()
	abs := filepath.Join(t.TempDir(), "x", "srv.sock")
	p, err := SocketPath("/ignored", abs)
	require.NoError(t, err)
	assert.Equal(t, abs, p)
}

func TestSocketPathRejectsBadNames(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"", "..", "a/b"} {
		_, err := SocketPath(t.TempDir(), name)
		assert.Error(t, err, name)
	}
}
