package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/vk/playbookgo/internal/ctxlog"
	"github.com/vk/playbookgo/internal/outputstore"
	"github.com/vk/playbookgo/internal/readiness"
	"github.com/vk/playbookgo/internal/registry"
	"github.com/vk/playbookgo/internal/session"
)

// ErrAlreadyRunning is returned when a block already has a live execution.
var ErrAlreadyRunning = errors.New("block already has a running execution")

// NotReadyError refuses an execution whose dependencies are unmet. It
// carries the full readiness report so callers can tell the user exactly
// what to run or set first.
type NotReadyError struct {
	Readiness readiness.Readiness
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("block is not ready: %d missing inputs, %d blocks with unmet outputs",
		len(e.Readiness.MissingInputs), len(e.Readiness.Unmet))
}

// Config tunes the engine.
type Config struct {
	// PlaybookPath backs live resolution.
	PlaybookPath string
	// Timeout bounds each subprocess; zero means no limit.
	Timeout time.Duration
	// UsePTY runs subprocesses under a pseudo-terminal so interactive tools
	// emit progress output. Falls back to pipes when no PTY is available.
	UsePTY bool
	// CaptureDir is where captured files are copied, one subdirectory per
	// execution id. Empty keeps only the manifest.
	CaptureDir string
}

// Request asks the engine to run one registered block. Callers only ever
// name a block; the script text always comes from the registry.
type Request struct {
	BlockID string
	// Live resolves the block from the playbook on disk instead of the
	// registered generation.
	Live bool
	// Variables override the block's declared defaults.
	Variables map[string]string
	// Env adds one-off environment variables on top of the session.
	Env map[string]string
	// CaptureFiles collects whatever the block writes under $PLAYBOOK_FILES.
	CaptureFiles bool
	// CaptureOutputPath overrides the engine's capture directory for this
	// run. Captured files land directly under it.
	CaptureOutputPath string
}

// Engine runs registered blocks as subprocesses and streams their events.
type Engine struct {
	registry *registry.Registry
	outputs  *outputstore.Store
	session  *session.Store
	gate     *readiness.Gate
	cfg      Config

	mu      sync.Mutex
	running map[string]*Execution // normalized block key -> live execution
}

func NewEngine(reg *registry.Registry, outputs *outputstore.Store, sess *session.Store, gate *readiness.Gate, cfg Config) *Engine {
	return &Engine{
		registry: reg,
		outputs:  outputs,
		session:  sess,
		gate:     gate,
		cfg:      cfg,
		running:  make(map[string]*Execution),
	}
}

// Running returns the live execution for a block, if any.
func (e *Engine) Running(blockID string) (*Execution, bool) {
	exe, err := e.registry.Resolve(blockID)
	key := blockID
	if err == nil {
		key = exe.Key
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ex, ok := e.running[key]
	return ex, ok
}

// Execute validates, renders, and launches one block. All refusals happen
// here, before anything is spawned: unknown block, unmet dependencies, a
// render error, or an execution already in flight. On success the returned
// Execution's event stream is live and the subprocess is starting.
func (e *Engine) Execute(ctx context.Context, req Request) (*Execution, error) {
	logger := ctxlog.FromContext(ctx).With("block", req.BlockID)

	var exe *registry.Executable
	var err error
	if req.Live {
		exe, err = e.registry.ResolveLive(ctx, e.cfg.PlaybookPath, req.BlockID)
	} else {
		exe, err = e.registry.Resolve(req.BlockID)
	}
	if err != nil {
		return nil, err
	}

	vars := resolveVariables(exe, req.Variables)
	if r := e.gate.Check(exe.InputDeps, exe.OutputRefs, vars); !r.Ready {
		return nil, &NotReadyError{Readiness: r}
	}

	script, err := renderScript(exe, vars, normalizeOutputs(e.outputs.Snapshot()))
	if err != nil {
		return nil, err
	}

	// The run outlives the caller's request context; cancellation is owned
	// by the Execution.
	runCtx, cancel := context.WithCancel(ctxlog.WithLogger(context.Background(), logger))

	e.mu.Lock()
	if _, busy := e.running[exe.Key]; busy {
		e.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("block %q: %w", exe.BlockID, ErrAlreadyRunning)
	}
	ex := newExecution(exe.BlockID, exe.Fingerprint, cancel)
	e.running[exe.Key] = ex
	e.mu.Unlock()

	logger.Info("▶️ Starting block execution", "execution", ex.ID, "kind", exe.Kind)
	go e.run(runCtx, ex, exe, script, req)
	return ex, nil
}

func (e *Engine) run(ctx context.Context, ex *Execution, exe *registry.Executable, script string, req Request) {
	logger := ctxlog.FromContext(ctx)

	defer close(ex.done)
	defer func() {
		e.mu.Lock()
		delete(e.running, exe.Key)
		e.mu.Unlock()
	}()
	defer close(ex.events)

	if e.cfg.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancelTimeout()
	}

	ex.status.Store(StatusRunning)
	status, exitCode, errored := e.runSubprocess(ctx, ex, exe, script, req)
	ex.status.Store(status)
	// When the engine itself failed before the script could run, the error
	// event already on the stream is the terminal frame.
	if !errored {
		ex.emit(StatusEvent{Status: status, ExitCode: exitCode})
	}

	logger.Info("🏁 Block execution finished",
		"execution", ex.ID,
		"status", status,
		"exitCode", exitCode,
	)
}

// runSubprocess does the actual spawn-stream-collect cycle and returns the
// terminal status. The errored result reports an engine-side failure, for
// which an error event has already been emitted and no status event follows.
func (e *Engine) runSubprocess(ctx context.Context, ex *Execution, exe *registry.Executable, script string, req Request) (Status, int, bool) {
	logger := ctxlog.FromContext(ctx)

	dir, err := os.MkdirTemp("", "playbookgo-")
	if err != nil {
		ex.emit(ErrorEvent{Message: "preparing execution workspace", Details: err.Error()})
		return StatusFail, -1, true
	}
	defer os.RemoveAll(dir)

	scriptPath, err := writeTempScript(dir, script)
	if err != nil {
		ex.emit(ErrorEvent{Message: "materializing script", Details: err.Error()})
		return StatusFail, -1, true
	}

	outputsPath := filepath.Join(dir, "outputs")
	filesDir := filepath.Join(dir, "files")
	if err := os.MkdirAll(filesDir, 0o700); err != nil {
		ex.emit(ErrorEvent{Message: "preparing capture directory", Details: err.Error()})
		return StatusFail, -1, true
	}

	interp, interpArgs := detectInterpreter(script)
	interpPath, err := resolveInterpreterPath(interp)
	if err != nil {
		ex.emit(ErrorEvent{Message: "resolving interpreter", Details: err.Error()})
		return StatusFail, -1, true
	}

	sessEnv, sessWorkdir := e.session.Snapshot()
	cwd := exe.Workdir
	if cwd == "" {
		cwd = sessWorkdir
	}

	extra := map[string]string{
		"PLAYBOOK_OUTPUT": outputsPath,
		"PLAYBOOK_FILES":  filesDir,
	}

	// Environment capture only works for bash scripts, where the wrapper can
	// source the script and trap its exit.
	var envFile, cwdFile string
	cmdName, cmdArgs := interpPath, append(interpArgs, scriptPath)
	if filepath.Base(interpPath) == "bash" && len(interpArgs) == 0 {
		wrapper, ef, cf, werr := writeEnvCapture(dir, scriptPath)
		if werr != nil {
			logger.Warn("Environment capture unavailable", "error", werr)
		} else {
			envFile, cwdFile = ef, cf
			cmdArgs = []string{wrapper}
			extra["__PG_SCRIPT"] = scriptPath
			extra["__PG_ENV_FILE"] = envFile
			extra["__PG_CWD_FILE"] = cwdFile
		}
	}

	env := buildEnv(sessEnv, req.Env, extra)

	buildCmd := func() *exec.Cmd {
		cmd := exec.CommandContext(ctx, cmdName, cmdArgs...)
		cmd.Dir = cwd
		cmd.Env = env
		// Cancellation must reach the whole process group, not just the
		// interpreter, or backgrounded children keep the pipes open.
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return cmd
	}
	emit := func(le LogEvent) { ex.emit(le) }

	var cmd *exec.Cmd
	drained := make(chan struct{})

	if e.cfg.UsePTY {
		cmd = buildCmd()
		ptmx, perr := pty.Start(cmd)
		if perr == nil {
			go func() {
				streamTerminal(ptmx, emit)
				ptmx.Close()
				close(drained)
			}()
		} else {
			logger.Warn("PTY unavailable, falling back to pipes", "error", perr)
			cmd = nil
		}
	}

	if cmd == nil {
		cmd = buildCmd()
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		stdout, oerr := cmd.StdoutPipe()
		stderr, serr := cmd.StderrPipe()
		if oerr != nil || serr != nil {
			ex.emit(ErrorEvent{Message: "wiring subprocess pipes", Details: errors.Join(oerr, serr).Error()})
			return StatusFail, -1, true
		}
		if err := cmd.Start(); err != nil {
			ex.emit(ErrorEvent{Message: "starting subprocess", Details: err.Error()})
			return StatusFail, -1, true
		}
		go func() {
			var wg sync.WaitGroup
			wg.Add(2)
			go func() { defer wg.Done(); streamPipe(stdout, emit) }()
			go func() { defer wg.Done(); streamPipe(stderr, emit) }()
			wg.Wait()
			close(drained)
		}()
	}

	<-drained
	waitErr := cmd.Wait()

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	var status Status
	switch {
	case ex.cancelled.Load():
		status, exitCode = StatusCancelled, -1
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status, exitCode = StatusFail, -1
		logger.Warn("Execution timed out", "block", exe.BlockID, "timeout", e.cfg.Timeout)
	case exitCode == 0:
		status = StatusSuccess
	case exitCode == 2:
		status = StatusWarn
	default:
		status = StatusFail
	}

	if status != StatusSuccess && status != StatusWarn {
		return status, exitCode, false
	}

	// Publish before the outputs event leaves the stream: anyone woken by
	// the store must already be able to read the values.
	outs, warns, perr := parseOutputsFile(outputsPath)
	for _, w := range warns {
		logger.Warn("Skipping malformed output", "block", exe.BlockID, "detail", w)
	}
	if perr != nil {
		logger.Warn("Reading outputs failed", "block", exe.BlockID, "error", perr)
	}
	if len(outs) > 0 {
		e.outputs.Publish(exe.BlockID, outs)
		ex.emit(OutputsEvent{Outputs: outs})
	}

	if req.CaptureFiles {
		dest := req.CaptureOutputPath
		if dest == "" && e.cfg.CaptureDir != "" {
			dest = filepath.Join(e.cfg.CaptureDir, ex.ID)
		}
		files, ferr := collectCapturedFiles(filesDir, dest)
		if ferr != nil {
			logger.Warn("Collecting captured files failed", "block", exe.BlockID, "error", ferr)
		} else if len(files) > 0 {
			ex.emit(FilesCapturedEvent{Files: files, Count: len(files)})
		}
	}

	if envFile != "" {
		if captured, cerr := parseCapturedEnv(envFile); cerr == nil {
			e.session.MergeCaptured(captured, parseCapturedCwd(cwdFile))
		} else {
			logger.Warn("Environment capture failed", "block", exe.BlockID, "error", cerr)
		}
	}

	return status, exitCode, false
}

// buildEnv flattens the layered environment, later layers winning, and
// guarantees PATH and HOME so interpreters and tools resolve.
func buildEnv(layers ...map[string]string) []string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	if merged["PATH"] == "" {
		merged["PATH"] = os.Getenv("PATH")
	}
	if merged["HOME"] == "" {
		merged["HOME"] = os.Getenv("HOME")
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}
