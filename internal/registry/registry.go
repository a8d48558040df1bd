package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vk/playbookgo/internal/deps"
	"github.com/vk/playbookgo/internal/playbook"
)

// ErrNotFound is returned when no registered executable matches the id.
var ErrNotFound = errors.New("block not registered")

// Executable is one vetted, runnable script. Instances are immutable after
// registration; a reload produces new instances rather than mutating old ones.
type Executable struct {
	// BlockID is the author's spelling, Key the normalized lookup form.
	BlockID string
	Key     string

	Kind        playbook.Kind
	Description string

	// Script is the exact text that will run, resolved at load time.
	Script string
	// Fingerprint is the hex sha256 of Script. It identifies the script
	// version in logs and lets clients detect that a reload changed a block.
	Fingerprint string

	// Source is the playbook file the block came from, Path its script file
	// when the script was external.
	Source string
	Path   string

	// Workdir overrides the execution directory when non-empty.
	Workdir string

	// TemplateVars are the block's declared default variable values.
	TemplateVars map[string]string

	// InputDeps and OutputRefs drive readiness evaluation.
	InputDeps  []string
	OutputRefs []deps.OutputRef

	// DeclaredOutputs lists outputs the block promises to publish.
	DeclaredOutputs []string
}

// Generation is one immutable snapshot of every registered executable.
type Generation struct {
	byKey    map[string]*Executable
	ordered  []*Executable
	Source   string
	Warnings []string
	LoadedAt time.Time
}

// Resolve looks up an executable by raw or normalized id.
func (g *Generation) Resolve(id string) (*Executable, error) {
	exe, ok := g.byKey[deps.NormalizeBlockID(id)]
	if !ok {
		return nil, fmt.Errorf("resolving block %q: %w", id, ErrNotFound)
	}
	return exe, nil
}

// All returns the executables in document order. The slice is shared; callers
// must not mutate it.
func (g *Generation) All() []*Executable {
	return g.ordered
}

// Registry holds the current generation behind an atomic pointer, so resolve
// and reload never contend on a lock.
type Registry struct {
	current atomic.Pointer[Generation]
}

// New creates a registry seeded with gen.
func New(gen *Generation) *Registry {
	r := &Registry{}
	r.current.Store(gen)
	return r
}

// Generation returns the current snapshot.
func (r *Registry) Generation() *Generation {
	return r.current.Load()
}

// Resolve looks up an executable in the current generation.
func (r *Registry) Resolve(id string) (*Executable, error) {
	return r.current.Load().Resolve(id)
}

// Swap atomically replaces the current generation. Readers that already hold
// the old generation keep using it untouched.
func (r *Registry) Swap(gen *Generation) *Generation {
	return r.current.Swap(gen)
}

// Fingerprint computes the hex sha256 of a script body.
func Fingerprint(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}
