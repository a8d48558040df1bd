package app

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlaybook(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playbook.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
block "command" "hello" {
  script = "echo hello"
}
`), 0o644))
	return path
}

func TestNewConfigRequiresPlaybookPath(t *testing.T) {
	_, err := NewConfig(Config{})
	assert.Error(t, err)
}

func TestNewConfigRequiresExistingPlaybook(t *testing.T) {
	_, err := NewConfig(Config{PlaybookPath: "/does/not/exist.hcl"})
	assert.Error(t, err)
}

func TestNewConfigDefaultsPort(t *testing.T) {
	cfg, err := NewConfig(Config{PlaybookPath: writePlaybook(t)})
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
}

func TestNewConfigRejectsBadPort(t *testing.T) {
	_, err := NewConfig(Config{PlaybookPath: writePlaybook(t), Port: 99999})
	assert.Error(t, err)
}

func TestNewAppWiresEverything(t *testing.T) {
	cfg, err := NewConfig(Config{PlaybookPath: writePlaybook(t)})
	require.NoError(t, err)

	a, err := NewApp(io.Discard, cfg)
	require.NoError(t, err)
	require.NotNil(t, a)

	exe, err := a.registry.Resolve("hello")
	require.NoError(t, err)
	assert.Equal(t, "echo hello", exe.Script)

	// The session roots at the playbook directory by default.
	_, workdir := a.session.Snapshot()
	assert.Equal(t, filepath.Dir(cfg.PlaybookPath), workdir)
}

func TestNewAppFailsOnBrokenPlaybook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playbook.hcl")
	require.NoError(t, os.WriteFile(path, []byte("block {{{"), 0o644))

	cfg, err := NewConfig(Config{PlaybookPath: path})
	require.NoError(t, err)

	_, err = NewApp(io.Discard, cfg)
	assert.Error(t, err)
}
