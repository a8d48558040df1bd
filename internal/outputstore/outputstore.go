// Package outputstore holds the outputs blocks publish for one another.
//
// The store is the synchronization point of the dependency chain: a block's
// outputs are fully visible in the store before any subscriber is woken, so a
// watcher that re-checks readiness on a signal always observes the values
// that triggered it. Notification is coalescing, a slow subscriber sees one
// pending signal rather than a backlog.
package outputstore

import (
	"context"
	"sync"

	"github.com/vk/playbookgo/internal/deps"
)

// Store maps normalized block id to that block's published outputs.
type Store struct {
	mu      sync.RWMutex
	outputs map[string]map[string]string
	subs    map[chan struct{}]struct{}
}

func New() *Store {
	return &Store{
		outputs: make(map[string]map[string]string),
		subs:    make(map[chan struct{}]struct{}),
	}
}

// Publish records outputs for blockID, replacing any previous set, then
// notifies subscribers. Values are copied; the caller keeps ownership of m.
// Publishing an empty set clears the block's entry.
func (s *Store) Publish(blockID string, m map[string]string) {
	key := deps.NormalizeBlockID(blockID)

	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}

	s.mu.Lock()
	if len(cp) == 0 {
		delete(s.outputs, key)
	} else {
		s.outputs[key] = cp
	}
	s.mu.Unlock()

	s.notify()
}

// Get returns one output value.
func (s *Store) Get(blockID, name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.outputs[deps.NormalizeBlockID(blockID)][name]
	return v, ok
}

// Snapshot returns a deep copy of everything published so far, keyed by
// normalized block id.
func (s *Store) Snapshot() map[string]map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[string]map[string]string, len(s.outputs))
	for block, vals := range s.outputs {
		cp := make(map[string]string, len(vals))
		for k, v := range vals {
			cp[k] = v
		}
		snap[block] = cp
	}
	return snap
}

// Clear drops all published outputs and wakes subscribers.
func (s *Store) Clear() {
	s.mu.Lock()
	s.outputs = make(map[string]map[string]string)
	s.mu.Unlock()

	s.notify()
}

// Subscribe returns a channel that receives a signal after every publish.
// Signals coalesce: the channel has capacity one and a publish that finds it
// full is dropped, because the subscriber will observe the new state when it
// drains the pending signal. The subscription ends when ctx is done.
func (s *Store) Subscribe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}()

	return ch
}

func (s *Store) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
