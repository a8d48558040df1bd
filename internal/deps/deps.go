// Package deps extracts variable dependencies from block script text.
//
// Blocks reference values through Go-template placeholders. Two families
// matter here:
//
//   - input references such as {{ .AccountName }} or {{ ._module.source }},
//     where only the root segment before the first dot names the dependency;
//   - output references such as {{ ._blocks.create_vpc.outputs.vpc_id }},
//     which address another block's published output.
//
// Extraction is purely lexical: it never evaluates the template, so it works
// on shell scripts, HCL heredocs, YAML, or anything else an author embeds
// placeholders in.
package deps

import (
	"regexp"
	"strings"
)

// blocksRoot is the reserved template namespace for other blocks' outputs.
// References under it are output dependencies, never input dependencies.
const blocksRoot = "_blocks"

// actionRegex captures the interior of a single {{ ... }} template action.
var actionRegex = regexp.MustCompile(`(?s)\{\{-?(.*?)-?\}\}`)

// rootRefRegex finds rooted accesses inside an action body. A rooted access
// is ".Name" where the preceding character cannot extend an identifier or a
// local variable: this accepts "{{ .X }}", "{{ .X | upper }}" and
// "{{ range .Items }}" while rejecting "$v.field" (loop local), ".X.Y"'s
// second segment, and "(expr).field".
var rootRefRegex = regexp.MustCompile(`(^|[^\w$\)\]])\.([A-Za-z_][A-Za-z0-9_]*)`)

// outputRefRegex matches output-access placeholders, tolerating missing
// spaces and trailing pipe functions. The block id may contain hyphens; the
// output name may not.
var outputRefRegex = regexp.MustCompile(`\{\{-?\s*\._blocks\.([A-Za-z0-9_-]+)\.outputs\.([A-Za-z_][A-Za-z0-9_]*)\s*(?:\|[^}]*)?-?\}\}`)

// OutputRef is a single reference to another block's published output.
type OutputRef struct {
	// BlockID is the id exactly as the author wrote it, for display.
	BlockID string
	// OutputName is the referenced output key.
	OutputName string
	// FullPath is the dotted template path with the block id normalized
	// (hyphens folded to underscores), matching the namespace the rendered
	// template will actually see.
	FullPath string
}

// NormalizeBlockID folds hyphens to underscores. Go templates cannot address
// a map key containing "-" through dot notation, so every template namespace
// and store lookup uses the folded form.
func NormalizeBlockID(id string) string {
	return strings.ReplaceAll(id, "-", "_")
}

// Inputs returns the root input-variable names referenced by content, in
// first-appearance order and without duplicates. Loop locals ($name) and the
// _blocks namespace are excluded, as are bare identifiers without a leading
// dot ("{{ Variable }}" is not a rooted access).
func Inputs(content string) []string {
	var names []string
	seen := make(map[string]bool)

	for _, action := range actionRegex.FindAllStringSubmatch(content, -1) {
		for _, ref := range rootRefRegex.FindAllStringSubmatch(action[1], -1) {
			name := ref[2]
			if name == blocksRoot || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}

	return names
}

// Outputs returns the output references in content, in first-appearance
// order, deduplicated by normalized (block, output) pair.
func Outputs(content string) []OutputRef {
	var refs []OutputRef
	seen := make(map[string]bool)

	for _, m := range outputRefRegex.FindAllStringSubmatch(content, -1) {
		blockID, outputName := m[1], m[2]
		normalized := NormalizeBlockID(blockID)
		key := normalized + "." + outputName
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, OutputRef{
			BlockID:    blockID,
			OutputName: outputName,
			FullPath:   blocksRoot + "." + normalized + ".outputs." + outputName,
		})
	}

	return refs
}
