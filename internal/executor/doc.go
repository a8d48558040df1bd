// Package executor runs registered blocks as subprocesses.
//
// The engine is the only component that spawns anything. It resolves a block
// through the registry trust boundary, refuses runs whose dependencies are
// unmet, renders the script against the session and the output store, and
// then streams the subprocess's life as an ordered event stream: log lines,
// at most one outputs event, at most one files event, and exactly one
// terminal status.
//
// A block has at most one live execution at a time. Cancellation is
// idempotent and yields the distinct cancelled terminal status; a cancelled
// block can be run again immediately.
package executor
