package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleSessionCreate(c *gin.Context) {
	token, err := s.session.Create()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info("Session token minted")
	c.JSON(http.StatusCreated, gin.H{"token": token})
}

func (s *Server) handleSessionJoin(c *gin.Context) {
	token, err := s.session.Join(c.GetString("sessionToken"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token})
}

func (s *Server) handleSessionRevoke(c *gin.Context) {
	s.session.Revoke(c.GetString("sessionToken"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSessionMetadata(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.Metadata())
}

type envPatchRequest struct {
	// Env is merged into the session; keys absent here are left untouched.
	Env map[string]string `json:"env"`
	// Unset removes keys entirely.
	Unset []string `json:"unset"`
}

func (s *Server) handleSessionEnvPatch(c *gin.Context) {
	var req envPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	if len(req.Env) > 0 {
		s.session.Merge(req.Env)
	}
	if len(req.Unset) > 0 {
		s.session.Delete(req.Unset...)
	}
	c.JSON(http.StatusOK, s.session.Metadata())
}

func (s *Server) handleSessionReset(c *gin.Context) {
	s.session.Reset()
	s.outputs.Clear()
	s.logger.Info("Session reset")
	c.JSON(http.StatusOK, s.session.Metadata())
}
