package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// envCaptureWrapper wraps a user script so the shell dumps its final
// environment and working directory on exit. The dump runs from an EXIT trap
// layered over any trap the user script installs, so it fires on normal
// exit, on `exit` inside the script, and on failure alike. The environment
// is NUL-delimited because values may contain newlines.
const envCaptureWrapper = `#!/bin/bash
__pg_dump_state() {
  env -0 > "$__PG_ENV_FILE" 2>/dev/null || env > "$__PG_ENV_FILE"
  pwd > "$__PG_CWD_FILE"
}

__pg_user_trap=""
trap_orig() { __pg_user_trap="$*"; }

__pg_on_exit() {
  local rc=$?
  if [ -n "$__pg_user_trap" ]; then
    eval "$__pg_user_trap"
  fi
  __pg_dump_state
  exit $rc
}
trap __pg_on_exit EXIT

# Re-route user EXIT traps through our own so the state dump survives them.
trap() {
  if [ "${2:-}" = "EXIT" ] || [ "${2:-}" = "0" ]; then
    trap_orig "$1"
  else
    builtin trap "$@"
  fi
}

source "$__PG_SCRIPT"
`

// writeEnvCapture sets up the capture wrapper in dir for the script at
// scriptPath. It returns the wrapper path, the env dump path, and the cwd
// dump path.
func writeEnvCapture(dir, scriptPath string) (wrapper, envFile, cwdFile string, err error) {
	envFile = filepath.Join(dir, "env.out")
	cwdFile = filepath.Join(dir, "cwd.out")

	wrapper = filepath.Join(dir, "capture.sh")
	if err = os.WriteFile(wrapper, []byte(envCaptureWrapper), 0o700); err != nil {
		return "", "", "", fmt.Errorf("writing capture wrapper: %w", err)
	}
	return wrapper, envFile, cwdFile, nil
}

// parseCapturedEnv reads a NUL-delimited env dump. A dump without NULs falls
// back to newline splitting, losing multi-line values but keeping the rest.
func parseCapturedEnv(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading captured environment: %w", err)
	}

	sep := "\x00"
	if !strings.Contains(string(data), sep) {
		sep = "\n"
	}

	env := make(map[string]string)
	for _, entry := range strings.Split(string(data), sep) {
		if entry == "" {
			continue
		}
		k, v, ok := strings.Cut(entry, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env, nil
}

// parseCapturedCwd reads the working-directory dump.
func parseCapturedCwd(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
