package executor

import "time"

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusWarn      Status = "warn"
	StatusFail      Status = "fail"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s ends an execution.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusWarn, StatusFail, StatusCancelled:
		return true
	}
	return false
}

// Event is one item on an execution's event stream. The set of event types
// is closed: log lines, at most one outputs event, at most one files event,
// and exactly one terminal event, in that order. The terminal event is a
// status event for a run that happened, an error event when the engine
// failed before the script could run.
type Event interface {
	// Kind is the wire name of the event type.
	Kind() string
	isEvent()
}

// LogEvent carries one line of subprocess output.
type LogEvent struct {
	Line      string `json:"line"`
	Timestamp string `json:"timestamp"`
	// Replace marks a carriage-return rewrite of the previous line, the way
	// progress bars redraw in a terminal.
	Replace bool `json:"replace,omitempty"`
}

func (LogEvent) Kind() string { return "log" }
func (LogEvent) isEvent()     {}

// NewLogEvent stamps a log line with the current time.
func NewLogEvent(line string, replace bool) LogEvent {
	return LogEvent{
		Line:      line,
		Timestamp: time.Now().Format(time.RFC3339),
		Replace:   replace,
	}
}

// OutputsEvent reports the key/value outputs the block published. It is sent
// only after the values are visible in the output store.
type OutputsEvent struct {
	Outputs map[string]string `json:"outputs"`
}

func (OutputsEvent) Kind() string { return "outputs" }
func (OutputsEvent) isEvent()     {}

// CapturedFile describes one file the block wrote into its capture directory.
type CapturedFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// FilesCapturedEvent reports the files collected from the capture directory.
type FilesCapturedEvent struct {
	Files []CapturedFile `json:"files"`
	Count int            `json:"count"`
}

func (FilesCapturedEvent) Kind() string { return "files_captured" }
func (FilesCapturedEvent) isEvent()     {}

// StatusEvent is the terminal event of every stream whose subprocess ran.
type StatusEvent struct {
	Status   Status `json:"status"`
	ExitCode int    `json:"exitCode"`
}

func (StatusEvent) Kind() string { return "status" }
func (StatusEvent) isEvent()     {}

// ErrorEvent reports an engine-side failure that prevented the subprocess
// from running, as opposed to the subprocess exiting non-zero. It replaces
// the status event as the stream's terminal frame.
type ErrorEvent struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (ErrorEvent) Kind() string { return "error" }
func (ErrorEvent) isEvent()     {}
