// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the format-agnostic document model. A Document is one
// loaded playbook file: an ordered list of Blocks plus the warnings collected
// while loading it. Blocks keep the author's raw id for display and a
// normalized Key for every lookup, so the rest of the system never has to
// care how an id was spelled.
package playbook

import (
	"time"

	"github.com/hashicorp/hcl/v2"

	"github.com/vk/playbookgo/internal/deps"
)

// Kind classifies what a block does when executed.
type Kind string

const (
	KindCommand     Kind = "command"
	KindCheck       Kind = "check"
	KindAuth        Kind = "auth"
	KindInputs      Kind = "inputs"
	KindTemplate    Kind = "template"
	KindPullRequest Kind = "pull_request"
)

// knownKinds lists every block kind the loader accepts.
var knownKinds = map[Kind]bool{
	KindCommand:     true,
	KindCheck:       true,
	KindAuth:        true,
	KindInputs:      true,
	KindTemplate:    true,
	KindPullRequest: true,
}

// Valid reports whether k names a supported block kind.
func (k Kind) Valid() bool {
	return knownKinds[k]
}

// Block is one executable unit of a playbook.
type Block struct {
	// ID is the author's spelling, used for display and API responses.
	ID string
	// Key is the normalized lookup key (hyphens folded to underscores).
	Key string

	Kind        Kind
	Description string

	// Script is the inline script body, already resolved from script_path
	// when the author referenced an external file.
	Script string
	// ScriptPath is the path the script was read from, empty for inline
	// scripts.
	ScriptPath string

	// Outputs lists the output names the block declares it will publish.
	Outputs []string

	// Workdir overrides the execution working directory when non-empty.
	Workdir string

	// Variables are document-level defaults for template inputs.
	Variables map[string]string

	// InputDeps and OutputDeps are extracted from Script at load time.
	InputDeps  []string
	OutputDeps []deps.OutputRef

	// DefRange locates the block in its source file, for diagnostics.
	DefRange hcl.Range
}

// Document is a fully loaded playbook file.
type Document struct {
	// Path is the file the document was loaded from.
	Path string
	// Dir is the directory containing Path. Relative script_path values
	// resolve against it, and it is the default execution workdir.
	Dir string

	Blocks []*Block
	byKey  map[string]*Block

	// Warnings are non-fatal load problems: duplicate ids, colliding ids,
	// unreadable script files. The document stays usable; callers surface
	// these to the user.
	Warnings []string

	LoadedAt time.Time
}

// Lookup resolves a block by raw or normalized id.
func (d *Document) Lookup(id string) (*Block, bool) {
	b, ok := d.byKey[deps.NormalizeBlockID(id)]
	return b, ok
}

// Len returns the number of addressable blocks.
func (d *Document) Len() int {
	return len(d.byKey)
}
