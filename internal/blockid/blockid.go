// Package blockid tracks block identities within a loaded playbook.
//
// Block ids appear verbatim in documents and may contain hyphens, but every
// lookup key is the normalized form with hyphens folded to underscores. Two
// distinct raw ids can therefore collide after normalization; the registry
// detects both exact duplicates and normalization collisions at load time so
// the document loader can surface them as warnings.
package blockid

import (
	"sync"

	"github.com/vk/playbookgo/internal/deps"
)

// Verdict classifies the outcome of registering a raw block id.
type Verdict int

const (
	// Accepted means the id was new under both its raw and normalized form.
	Accepted Verdict = iota
	// Duplicate means the exact raw id was registered before.
	Duplicate
	// NormalizationCollision means a different raw id already occupies the
	// same normalized key.
	NormalizationCollision
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case NormalizationCollision:
		return "normalization collision"
	default:
		return "unknown"
	}
}

// Result reports what Register decided for one raw id.
type Result struct {
	Verdict Verdict
	// Key is the normalized lookup key for the id.
	Key string
	// CollidingID is the previously registered raw id occupying the same
	// key. Set for Duplicate and NormalizationCollision, empty otherwise.
	CollidingID string
}

// Normalize folds a raw block id to its lookup key.
func Normalize(raw string) string {
	return deps.NormalizeBlockID(raw)
}

// Registry records the block ids seen in one document generation.
type Registry struct {
	mu    sync.Mutex
	byKey map[string]string // normalized key -> first raw id
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]string)}
}

// Register records raw and reports whether it is new, an exact duplicate, or
// a collision with a differently spelled id. The first spelling wins the key;
// later colliding spellings are never stored.
func (r *Registry) Register(raw string) Result {
	key := Normalize(raw)

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byKey[key]
	if !ok {
		r.byKey[key] = raw
		return Result{Verdict: Accepted, Key: key}
	}
	if existing == raw {
		return Result{Verdict: Duplicate, Key: key, CollidingID: existing}
	}
	return Result{Verdict: NormalizationCollision, Key: key, CollidingID: existing}
}

// Lookup returns the raw id registered under the normalized form of id.
func (r *Registry) Lookup(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.byKey[Normalize(id)]
	return raw, ok
}

// Len returns the number of distinct registered ids.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}
