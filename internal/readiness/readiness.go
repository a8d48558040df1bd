// Package readiness decides whether a block has everything it needs to run.
//
// A block is ready when every input variable it references has a non-empty
// value and every output it references has been published. Unmet output
// dependencies are reported grouped by the block that should produce them,
// which is the shape a UI needs to say "run create-vpc first".
package readiness

import (
	"context"
	"reflect"

	"github.com/vk/playbookgo/internal/deps"
	"github.com/vk/playbookgo/internal/outputstore"
)

// UnmetOutputs names one upstream block and the outputs of it that are still
// missing.
type UnmetOutputs struct {
	// BlockID is the upstream block as the referencing script spelled it.
	BlockID string   `json:"blockId"`
	Missing []string `json:"missing"`
}

// Readiness is the result of one evaluation.
type Readiness struct {
	Ready         bool           `json:"ready"`
	MissingInputs []string       `json:"missingInputs,omitempty"`
	Unmet         []UnmetOutputs `json:"unmetOutputs,omitempty"`
}

// Gate evaluates readiness against the output store.
type Gate struct {
	outputs *outputstore.Store
}

func NewGate(outputs *outputstore.Store) *Gate {
	return &Gate{outputs: outputs}
}

// Check evaluates one block's dependencies. inputs carries the caller's
// resolved input values; an input is satisfied only by a non-empty value.
// Unmet outputs are grouped by source block in first-reference order.
func (g *Gate) Check(inputDeps []string, outputRefs []deps.OutputRef, inputs map[string]string) Readiness {
	r := Readiness{Ready: true}

	for _, name := range inputDeps {
		if inputs[name] == "" {
			r.MissingInputs = append(r.MissingInputs, name)
		}
	}

	byBlock := make(map[string]int)
	for _, ref := range outputRefs {
		if _, ok := g.outputs.Get(ref.BlockID, ref.OutputName); ok {
			continue
		}
		key := deps.NormalizeBlockID(ref.BlockID)
		idx, seen := byBlock[key]
		if !seen {
			idx = len(r.Unmet)
			byBlock[key] = idx
			r.Unmet = append(r.Unmet, UnmetOutputs{BlockID: ref.BlockID})
		}
		r.Unmet[idx].Missing = append(r.Unmet[idx].Missing, ref.OutputName)
	}

	r.Ready = len(r.MissingInputs) == 0 && len(r.Unmet) == 0
	return r
}

// Watch re-evaluates readiness every time the output store changes and sends
// the result whenever it differs from the last one sent. The first evaluation
// is always sent. inputsFn is called per evaluation so callers can reflect
// session changes. The channel closes when ctx is done.
func (g *Gate) Watch(ctx context.Context, inputDeps []string, outputRefs []deps.OutputRef, inputsFn func() map[string]string) <-chan Readiness {
	out := make(chan Readiness, 1)
	signals := g.outputs.Subscribe(ctx)

	go func() {
		defer close(out)

		last := g.Check(inputDeps, outputRefs, inputsFn())
		select {
		case out <- last:
		case <-ctx.Done():
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-signals:
			}

			next := g.Check(inputDeps, outputRefs, inputsFn())
			if reflect.DeepEqual(next, last) {
				continue
			}
			last = next
			select {
			case out <- next:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
