package executor

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// outputKeyRegex validates output names: the same shape as a shell variable
// name, so blocks can write them with a plain echo.
var outputKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// parseOutputsFile reads the KEY=value file a block appends to through
// $PLAYBOOK_OUTPUT. Later writes win, values are kept verbatim, and lines
// that do not parse are returned as warnings rather than failing the block.
func parseOutputsFile(path string) (map[string]string, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("reading outputs file: %w", err)
	}

	outputs := make(map[string]string)
	var warnings []string

	for i, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			warnings = append(warnings, fmt.Sprintf("outputs line %d is not KEY=value: %q", i+1, line))
			continue
		}
		if !outputKeyRegex.MatchString(key) {
			warnings = append(warnings, fmt.Sprintf("outputs line %d has invalid key %q", i+1, key))
			continue
		}
		outputs[key] = value
	}

	if len(outputs) == 0 {
		return nil, warnings, nil
	}
	return outputs, warnings, nil
}
