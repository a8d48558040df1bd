package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Execution is one run of one block. Its event channel carries log lines,
// then at most one outputs event, at most one files event, and exactly one
// terminal status event before closing.
type Execution struct {
	// ID uniquely identifies this run.
	ID string
	// BlockID is the author's spelling of the block that is running.
	BlockID string
	// Fingerprint identifies the exact script version being run.
	Fingerprint string

	events chan Event
	done   chan struct{}

	cancel     context.CancelFunc
	cancelOnce sync.Once
	cancelled  atomic.Bool

	status atomic.Value // Status
}

func newExecution(blockID, fingerprint string, cancel context.CancelFunc) *Execution {
	ex := &Execution{
		ID:          uuid.NewString(),
		BlockID:     blockID,
		Fingerprint: fingerprint,
		events:      make(chan Event, 64),
		done:        make(chan struct{}),
		cancel:      cancel,
	}
	ex.status.Store(StatusPending)
	return ex
}

// Events returns the event stream. The channel closes after the terminal
// event is delivered.
func (ex *Execution) Events() <-chan Event {
	return ex.events
}

// Done closes when the execution has fully finished, including cleanup.
func (ex *Execution) Done() <-chan struct{} {
	return ex.done
}

// Status returns the current lifecycle state.
func (ex *Execution) Status() Status {
	return ex.status.Load().(Status)
}

// Cancel stops the subprocess. It is idempotent and safe from any
// goroutine; a cancelled run finishes with the cancelled terminal status and
// the block becomes runnable again.
func (ex *Execution) Cancel() {
	ex.cancelOnce.Do(func() {
		ex.cancelled.Store(true)
		ex.cancel()
	})
}

// emit queues an event. The channel is buffered for bursty log output;
// consumers must drain Events until it closes, even after calling Cancel.
func (ex *Execution) emit(e Event) {
	ex.events <- e
}
