package executor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// defaultInterpreter runs scripts that carry no shebang.
const defaultInterpreter = "bash"

// detectInterpreter reads the script's shebang line and returns the command
// and fixed arguments to run it with. Scripts without a shebang run under
// bash.
func detectInterpreter(script string) (string, []string) {
	if !strings.HasPrefix(script, "#!") {
		return defaultInterpreter, nil
	}

	line := script
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(strings.TrimPrefix(line, "#!"))
	if len(fields) == 0 {
		return defaultInterpreter, nil
	}

	// "#!/usr/bin/env python3" means run python3 from PATH.
	if filepath.Base(fields[0]) == "env" && len(fields) > 1 {
		rest := fields[1:]
		if rest[0] == "-S" && len(rest) > 1 {
			rest = rest[1:]
		}
		return rest[0], rest[1:]
	}
	return fields[0], fields[1:]
}

// resolveInterpreterPath finds the interpreter binary, accepting either an
// absolute path or a PATH lookup.
func resolveInterpreterPath(interpreter string) (string, error) {
	if filepath.IsAbs(interpreter) {
		if _, err := os.Stat(interpreter); err != nil {
			return "", fmt.Errorf("interpreter %q: %w", interpreter, err)
		}
		return interpreter, nil
	}
	path, err := exec.LookPath(interpreter)
	if err != nil {
		return "", fmt.Errorf("interpreter %q not found on PATH: %w", interpreter, err)
	}
	return path, nil
}

// writeTempScript materializes a rendered script as an owner-only executable
// file inside dir.
func writeTempScript(dir, script string) (string, error) {
	f, err := os.CreateTemp(dir, "script-*.sh")
	if err != nil {
		return "", fmt.Errorf("creating script file: %w", err)
	}
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return "", fmt.Errorf("writing script file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing script file: %w", err)
	}
	if err := os.Chmod(f.Name(), 0o700); err != nil {
		return "", fmt.Errorf("marking script executable: %w", err)
	}
	return f.Name(), nil
}
