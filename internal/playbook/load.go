// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file loads a playbook document from disk. Loading is deliberately
// forgiving: a malformed block id or a missing script file becomes a warning
// on the Document rather than a fatal error, so a single bad block does not
// take the whole playbook offline. Only syntax errors in the file itself are
// fatal.
package playbook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/playbookgo/internal/blockid"
	"github.com/vk/playbookgo/internal/ctxlog"
	"github.com/vk/playbookgo/internal/deps"
	"github.com/vk/playbookgo/internal/fsutil"
)

// documentSchema matches the top-level structure of a playbook file: a
// sequence of `block "<kind>" "<id>"` blocks.
var documentSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "block", LabelNames: []string{"kind", "id"}},
	},
}

// blockSchema matches the attributes allowed inside a block body.
var blockSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "description"},
		{Name: "script"},
		{Name: "script_path"},
		{Name: "outputs"},
		{Name: "workdir"},
		{Name: "variables"},
	},
}

// LoadPath loads a playbook from path. A file loads on its own; a directory
// loads every .hcl file under it, merged into one document with block ids
// unique across all files.
func LoadPath(ctx context.Context, path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("playbook path %q: %w", path, err)
	}
	if !info.IsDir() {
		return Load(ctx, path)
	}

	files, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("scanning playbook directory %q: %w", path, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("playbook directory %q contains no .hcl files", path)
	}

	merged := &Document{
		Path:     path,
		Dir:      path,
		byKey:    make(map[string]*Block),
		LoadedAt: time.Now(),
	}
	ids := blockid.NewRegistry()

	for _, file := range files {
		doc, err := Load(ctx, file)
		if err != nil {
			return nil, err
		}
		merged.Warnings = append(merged.Warnings, doc.Warnings...)

		for _, b := range doc.Blocks {
			switch res := ids.Register(b.ID); res.Verdict {
			case blockid.Duplicate:
				merged.warnf("%s: block id %q already defined in another file, keeping the first definition", file, b.ID)
				continue
			case blockid.NormalizationCollision:
				merged.warnf("%s: block id %q collides with %q from another file, keeping the first definition", file, b.ID, res.CollidingID)
				continue
			}
			merged.Blocks = append(merged.Blocks, b)
			merged.byKey[b.Key] = b
		}
	}

	return merged, nil
}

// Load parses the playbook file at path into a Document.
func Load(ctx context.Context, path string) (*Document, error) {
	logger := ctxlog.FromContext(ctx)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing playbook %q: %w", path, diags)
	}

	content, diags := file.Body.Content(documentSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("reading playbook %q: %w", path, diags)
	}

	doc := &Document{
		Path:     path,
		Dir:      filepath.Dir(path),
		byKey:    make(map[string]*Block),
		LoadedAt: time.Now(),
	}
	ids := blockid.NewRegistry()

	for _, raw := range content.Blocks {
		kind, id := Kind(raw.Labels[0]), raw.Labels[1]

		if !kind.Valid() {
			doc.warnf("%s: block %q has unknown kind %q, skipping", raw.DefRange, id, kind)
			continue
		}

		block, warns := decodeBlock(raw, kind, id, doc.Dir)
		doc.Warnings = append(doc.Warnings, warns...)
		if block == nil {
			continue
		}

		switch res := ids.Register(id); res.Verdict {
		case blockid.Duplicate:
			doc.warnf("%s: duplicate block id %q, keeping the first definition", raw.DefRange, id)
			continue
		case blockid.NormalizationCollision:
			doc.warnf("%s: block id %q collides with %q after normalization, keeping the first definition",
				raw.DefRange, id, res.CollidingID)
			continue
		}

		doc.Blocks = append(doc.Blocks, block)
		doc.byKey[block.Key] = block
	}

	logger.Info("📖 Playbook loaded",
		"path", path,
		"blocks", len(doc.Blocks),
		"warnings", len(doc.Warnings),
	)
	return doc, nil
}

func (d *Document) warnf(format string, args ...any) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}

// decodeBlock reads one block body into the model. A nil result means the
// block is unusable; warnings explain why.
func decodeBlock(raw *hcl.Block, kind Kind, id string, dir string) (*Block, []string) {
	var warns []string

	content, diags := raw.Body.Content(blockSchema)
	if diags.HasErrors() {
		return nil, []string{fmt.Sprintf("%s: block %q: %s", raw.DefRange, id, diags.Error())}
	}

	block := &Block{
		ID:       id,
		Key:      blockid.Normalize(id),
		Kind:     kind,
		DefRange: raw.DefRange,
	}

	block.Description = stringAttr(content, "description", &warns, id)
	block.Script = stringAttr(content, "script", &warns, id)
	block.Workdir = stringAttr(content, "workdir", &warns, id)

	if path := stringAttr(content, "script_path", &warns, id); path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		block.ScriptPath = path
		data, err := os.ReadFile(path)
		if err != nil {
			warns = append(warns, fmt.Sprintf("block %q: script file %q is unreadable: %v", id, path, err))
		} else {
			block.Script = string(data)
		}
	}

	if attr, ok := content.Attributes["outputs"]; ok {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() || !val.Type().IsTupleType() && !val.Type().IsListType() {
			warns = append(warns, fmt.Sprintf("block %q: outputs must be a list of strings", id))
		} else {
			for _, v := range val.AsValueSlice() {
				if v.Type() == cty.String {
					block.Outputs = append(block.Outputs, v.AsString())
				}
			}
		}
	}

	if attr, ok := content.Attributes["variables"]; ok {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() || !val.CanIterateElements() {
			warns = append(warns, fmt.Sprintf("block %q: variables must be a map of strings", id))
		} else {
			block.Variables = make(map[string]string)
			for k, v := range val.AsValueMap() {
				if v.Type() == cty.String {
					block.Variables[k] = v.AsString()
				}
			}
		}
	}

	block.InputDeps = deps.Inputs(block.Script)
	block.OutputDeps = deps.Outputs(block.Script)

	return block, warns
}

// stringAttr evaluates an optional string attribute, returning "" when the
// attribute is absent.
func stringAttr(content *hcl.BodyContent, name string, warns *[]string, id string) string {
	attr, ok := content.Attributes[name]
	if !ok {
		return ""
	}
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() || val.Type() != cty.String {
		*warns = append(*warns, fmt.Sprintf("block %q: attribute %q must be a string", id, name))
		return ""
	}
	return val.AsString()
}
