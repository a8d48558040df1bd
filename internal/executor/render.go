package executor

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/vk/playbookgo/internal/deps"
	"github.com/vk/playbookgo/internal/registry"
)

// renderScript substitutes input variables and published outputs into a
// script body. Rendering happens before anything is spawned, so a missing
// value is a refusal rather than a half-run block. missingkey=error turns any
// unresolved placeholder into a template error naming the key.
func renderScript(exe *registry.Executable, vars map[string]string, outputs map[string]map[string]string) (string, error) {
	tmpl, err := template.New(exe.BlockID).Option("missingkey=error").Parse(exe.Script)
	if err != nil {
		return "", fmt.Errorf("parsing script for block %q: %w", exe.BlockID, err)
	}

	data := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		data[k] = v
	}

	blocks := make(map[string]any, len(outputs))
	for blockKey, vals := range outputs {
		outs := make(map[string]any, len(vals))
		for name, value := range vals {
			outs[name] = value
		}
		blocks[blockKey] = map[string]any{"outputs": outs}
	}
	data["_blocks"] = blocks

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering script for block %q: %w", exe.BlockID, err)
	}
	return buf.String(), nil
}

// resolveVariables layers the caller's values over the block's declared
// defaults.
func resolveVariables(exe *registry.Executable, overrides map[string]string) map[string]string {
	vars := make(map[string]string, len(exe.TemplateVars)+len(overrides))
	for k, v := range exe.TemplateVars {
		vars[k] = v
	}
	for k, v := range overrides {
		vars[k] = v
	}
	return vars
}

// normalizeOutputs rekeys an output snapshot so template dot-paths resolve.
func normalizeOutputs(snapshot map[string]map[string]string) map[string]map[string]string {
	normalized := make(map[string]map[string]string, len(snapshot))
	for block, vals := range snapshot {
		normalized[deps.NormalizeBlockID(block)] = vals
	}
	return normalized
}
