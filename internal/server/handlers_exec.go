package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vk/playbookgo/internal/executor"
	"github.com/vk/playbookgo/internal/readiness"
)

type execRequest struct {
	BlockID           string            `json:"blockId" binding:"required"`
	Live              bool              `json:"live"`
	Variables         map[string]string `json:"variables"`
	Env               map[string]string `json:"env"`
	CaptureFiles      bool              `json:"captureFiles"`
	CaptureOutputPath string            `json:"captureOutputPath"`
}

// handleExec launches one block and streams its events. All refusals happen
// before the first SSE frame, so clients get a real HTTP status for unknown
// blocks, unmet dependencies, and concurrent runs.
func (s *Server) handleExec(c *gin.Context) {
	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	ex, err := s.engine.Execute(c.Request.Context(), executor.Request{
		BlockID:           req.BlockID,
		Live:              req.Live,
		Variables:         s.withSessionEnv(req.Variables),
		Env:               req.Env,
		CaptureFiles:      req.CaptureFiles,
		CaptureOutputPath: req.CaptureOutputPath,
	})
	if err != nil {
		var notReady *executor.NotReadyError
		switch {
		case notFound(err):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, executor.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.As(err, &notReady):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":     "block is not ready",
				"readiness": notReady.Readiness,
			})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	sseHeaders(c)
	c.SSEvent("execution", gin.H{"id": ex.ID, "blockId": ex.BlockID, "fingerprint": ex.Fingerprint})
	c.Writer.Flush()

	// The stream must be drained to its terminal event even after the client
	// goes away; disconnecting cancels the run, it does not abandon it.
	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			ex.Cancel()
			clientGone = nil
		case e, ok := <-ex.Events():
			if !ok {
				return
			}
			if c.Request.Context().Err() == nil {
				c.SSEvent(e.Kind(), e)
				c.Writer.Flush()
			}
		}
	}
}

// withSessionEnv resolves execution variables the same way the readiness
// endpoint judges them: declared defaults, then the session environment,
// then explicit variables on top.
func (s *Server) withSessionEnv(vars map[string]string) map[string]string {
	env, _ := s.session.Snapshot()
	merged := s.documentDefaults()
	for k, v := range env {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	return merged
}

// handleReadinessStream pushes a readiness snapshot for every block whenever
// published outputs change.
func (s *Server) handleReadinessStream(c *gin.Context) {
	sseHeaders(c)

	ctx := c.Request.Context()
	signals := s.outputs.Subscribe(ctx)

	send := func(last map[string]readiness.Readiness) map[string]readiness.Readiness {
		gen := s.reg.Generation()
		snapshot := make(map[string]readiness.Readiness, len(gen.All()))
		changed := last == nil
		for _, exe := range gen.All() {
			r := s.gate.Check(exe.InputDeps, exe.OutputRefs, s.blockInputs(exe, nil))
			snapshot[exe.BlockID] = r
			if !changed {
				prev, ok := last[exe.BlockID]
				if !ok || !readinessEqual(prev, r) {
					changed = true
				}
			}
		}
		if changed {
			c.SSEvent("readiness", snapshot)
			c.Writer.Flush()
		}
		return snapshot
	}

	last := send(nil)
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			last = send(last)
		}
	}
}

func readinessEqual(a, b readiness.Readiness) bool {
	if a.Ready != b.Ready || len(a.MissingInputs) != len(b.MissingInputs) || len(a.Unmet) != len(b.Unmet) {
		return false
	}
	for i := range a.MissingInputs {
		if a.MissingInputs[i] != b.MissingInputs[i] {
			return false
		}
	}
	for i := range a.Unmet {
		if a.Unmet[i].BlockID != b.Unmet[i].BlockID || len(a.Unmet[i].Missing) != len(b.Unmet[i].Missing) {
			return false
		}
		for j := range a.Unmet[i].Missing {
			if a.Unmet[i].Missing[j] != b.Unmet[i].Missing[j] {
				return false
			}
		}
	}
	return true
}

func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}
