package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlaybook(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playbook.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const samplePlaybook = `
block "command" "create-bucket" {
  description = "Create the artifact bucket"
  outputs     = ["bucket_name"]
  script      = "echo bucket_name=demo >> \"$PLAYBOOK_OUTPUT\""
}

block "command" "upload" {
  script = "aws s3 cp app.zip s3://{{ ._blocks.create-bucket.outputs.bucket_name }}/"
}
`

func TestLoadGeneration(t *testing.T) {
	path := writePlaybook(t, samplePlaybook)

	gen, err := LoadGeneration(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, gen.All(), 2)

	exe, err := gen.Resolve("create-bucket")
	require.NoError(t, err)
	assert.Equal(t, "create-bucket", exe.BlockID)
	assert.Equal(t, "create_bucket", exe.Key)
	assert.Equal(t, []string{"bucket_name"}, exe.DeclaredOutputs)
	assert.Equal(t, Fingerprint(exe.Script), exe.Fingerprint)
	assert.Len(t, exe.Fingerprint, 64)

	// Normalized spelling resolves the same executable.
	same, err := gen.Resolve("create_bucket")
	require.NoError(t, err)
	assert.Same(t, exe, same)

	upload, err := gen.Resolve("upload")
	require.NoError(t, err)
	require.Len(t, upload.OutputRefs, 1)
	assert.Equal(t, "create-bucket", upload.OutputRefs[0].BlockID)
}

func TestResolveUnknownBlock(t *testing.T) {
	path := writePlaybook(t, samplePlaybook)
	gen, err := LoadGeneration(context.Background(), path)
	require.NoError(t, err)

	_, err = gen.Resolve("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReloadSwapsGeneration(t *testing.T) {
	path := writePlaybook(t, samplePlaybook)
	gen, err := LoadGeneration(context.Background(), path)
	require.NoError(t, err)

	reg := New(gen)
	before, err := reg.Resolve("create-bucket")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
block "command" "create-bucket" {
  script = "echo changed"
}
`), 0o644))

	_, err = reg.Reload(context.Background(), path)
	require.NoError(t, err)

	after, err := reg.Resolve("create-bucket")
	require.NoError(t, err)
	assert.Equal(t, "echo changed", after.Script)
	assert.NotEqual(t, before.Fingerprint, after.Fingerprint)

	// The executable resolved before the reload is untouched.
	assert.Contains(t, before.Script, "PLAYBOOK_OUTPUT")

	// A block dropped on disk is gone after the swap.
	_, err = reg.Resolve("upload")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReloadFailureKeepsCurrentGeneration(t *testing.T) {
	path := writePlaybook(t, samplePlaybook)
	gen, err := LoadGeneration(context.Background(), path)
	require.NoError(t, err)
	reg := New(gen)

	require.NoError(t, os.WriteFile(path, []byte(`block "command" {{{`), 0o644))

	_, err = reg.Reload(context.Background(), path)
	require.Error(t, err)

	_, err = reg.Resolve("upload")
	assert.NoError(t, err)
}

func TestResolveLiveDoesNotSwap(t *testing.T) {
	path := writePlaybook(t, samplePlaybook)
	gen, err := LoadGeneration(context.Background(), path)
	require.NoError(t, err)
	reg := New(gen)

	require.NoError(t, os.WriteFile(path, []byte(`
block "command" "create-bucket" {
  script = "echo live"
}
`), 0o644))

	live, err := reg.ResolveLive(context.Background(), path, "create-bucket")
	require.NoError(t, err)
	assert.Equal(t, "echo live", live.Script)

	// Registered generation still serves the old script.
	registered, err := reg.Resolve("create-bucket")
	require.NoError(t, err)
	assert.Contains(t, registered.Script, "PLAYBOOK_OUTPUT")
}

func TestFingerprintStable(t *testing.T) {
	assert.Equal(t, Fingerprint("echo hi"), Fingerprint("echo hi"))
	assert.NotEqual(t, Fingerprint("echo hi"), Fingerprint("echo ho"))
}
