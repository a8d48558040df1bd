package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vk/playbookgo/internal/playbook"
	"github.com/vk/playbookgo/internal/readiness"
	"github.com/vk/playbookgo/internal/registry"
)

type blockSummary struct {
	ID              string              `json:"id"`
	Kind            string              `json:"kind"`
	Description     string              `json:"description,omitempty"`
	Fingerprint     string              `json:"fingerprint"`
	DeclaredOutputs []string            `json:"declaredOutputs,omitempty"`
	Inputs          []string            `json:"inputs,omitempty"`
	DependsOn       []string            `json:"dependsOn,omitempty"`
	Running         bool                `json:"running"`
	Readiness       readiness.Readiness `json:"readiness"`
}

func (s *Server) blockSummary(exe *registry.Executable) blockSummary {
	var dependsOn []string
	seen := make(map[string]bool)
	for _, ref := range exe.OutputRefs {
		if !seen[ref.BlockID] {
			seen[ref.BlockID] = true
			dependsOn = append(dependsOn, ref.BlockID)
		}
	}

	_, running := s.engine.Running(exe.BlockID)

	return blockSummary{
		ID:              exe.BlockID,
		Kind:            string(exe.Kind),
		Description:     exe.Description,
		Fingerprint:     exe.Fingerprint,
		DeclaredOutputs: exe.DeclaredOutputs,
		Inputs:          exe.InputDeps,
		DependsOn:       dependsOn,
		Running:         running,
		Readiness:       s.gate.Check(exe.InputDeps, exe.OutputRefs, s.blockInputs(exe, nil)),
	}
}

// blockInputs resolves the values readiness judges inputs against: playbook
// defaults, then the block's own, then the session environment, then caller
// overrides.
func (s *Server) blockInputs(exe *registry.Executable, overrides map[string]string) map[string]string {
	env, _ := s.session.Snapshot()

	inputs := s.documentDefaults()
	for k, v := range exe.TemplateVars {
		inputs[k] = v
	}
	for k, v := range env {
		inputs[k] = v
	}
	for k, v := range overrides {
		inputs[k] = v
	}
	return inputs
}

// documentDefaults gathers the variables declared by inputs blocks. They are
// playbook-wide and sit below every other value source.
func (s *Server) documentDefaults() map[string]string {
	defaults := make(map[string]string)
	for _, exe := range s.reg.Generation().All() {
		if exe.Kind == playbook.KindInputs {
			for k, v := range exe.TemplateVars {
				defaults[k] = v
			}
		}
	}
	return defaults
}

func (s *Server) handleBlocksList(c *gin.Context) {
	gen := s.reg.Generation()

	blocks := make([]blockSummary, 0, len(gen.All()))
	for _, exe := range gen.All() {
		blocks = append(blocks, s.blockSummary(exe))
	}

	c.JSON(http.StatusOK, gin.H{
		"source":   gen.Source,
		"loadedAt": gen.LoadedAt,
		"warnings": gen.Warnings,
		"blocks":   blocks,
	})
}

func (s *Server) handleBlockReadiness(c *gin.Context) {
	exe, err := s.reg.Resolve(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	overrides := make(map[string]string)
	for k, vs := range c.Request.URL.Query() {
		if len(vs) > 0 {
			overrides[k] = vs[0]
		}
	}

	c.JSON(http.StatusOK, s.gate.Check(exe.InputDeps, exe.OutputRefs, s.blockInputs(exe, overrides)))
}

func (s *Server) handleOutputs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"outputs": s.outputs.Snapshot()})
}

func (s *Server) handleReload(c *gin.Context) {
	gen, err := s.reg.Reload(c.Request.Context(), s.playbookPath)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("Playbook reloaded", "blocks", len(gen.All()), "warnings", len(gen.Warnings))
	c.JSON(http.StatusOK, gin.H{
		"blocks":   len(gen.All()),
		"warnings": gen.Warnings,
		"loadedAt": gen.LoadedAt,
	})
}

// notFound reports whether err is an unknown-block resolution failure.
func notFound(err error) bool {
	return errors.Is(err, registry.ErrNotFound)
}
