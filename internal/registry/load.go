package registry

import (
	"context"

	"github.com/vk/playbookgo/internal/ctxlog"
	"github.com/vk/playbookgo/internal/playbook"
)

// FromDocument builds a generation from a loaded playbook document.
func FromDocument(doc *playbook.Document) *Generation {
	gen := &Generation{
		byKey:    make(map[string]*Executable, len(doc.Blocks)),
		Source:   doc.Path,
		Warnings: doc.Warnings,
		LoadedAt: doc.LoadedAt,
	}

	for _, b := range doc.Blocks {
		exe := &Executable{
			BlockID:         b.ID,
			Key:             b.Key,
			Kind:            b.Kind,
			Description:     b.Description,
			Script:          b.Script,
			Fingerprint:     Fingerprint(b.Script),
			Source:          doc.Path,
			Path:            b.ScriptPath,
			Workdir:         b.Workdir,
			TemplateVars:    b.Variables,
			InputDeps:       b.InputDeps,
			OutputRefs:      b.OutputDeps,
			DeclaredOutputs: b.Outputs,
		}
		gen.byKey[exe.Key] = exe
		gen.ordered = append(gen.ordered, exe)
	}

	return gen
}

// LoadGeneration parses the playbook at path, a file or a directory of .hcl
// files, and registers every block.
func LoadGeneration(ctx context.Context, path string) (*Generation, error) {
	doc, err := playbook.LoadPath(ctx, path)
	if err != nil {
		return nil, err
	}
	gen := FromDocument(doc)

	logger := ctxlog.FromContext(ctx)
	logger.Info("Registry generation built",
		"path", path,
		"executables", len(gen.ordered),
	)
	return gen, nil
}

// Reload builds a fresh generation from path and swaps it in. On a load
// failure the current generation stays in place.
func (r *Registry) Reload(ctx context.Context, path string) (*Generation, error) {
	gen, err := LoadGeneration(ctx, path)
	if err != nil {
		return nil, err
	}
	r.Swap(gen)
	return gen, nil
}

// ResolveLive re-reads the playbook from disk and resolves id against the
// fresh parse without disturbing the registered generation. Used when a
// caller wants the on-disk version of a single block.
func (r *Registry) ResolveLive(ctx context.Context, path string, id string) (*Executable, error) {
	gen, err := LoadGeneration(ctx, path)
	if err != nil {
		return nil, err
	}
	return gen.Resolve(id)
}
