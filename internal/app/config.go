package app

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	PlaybookPath string

	Port      int
	LogFormat string
	LogLevel  string

	// Workdir is the initial session working directory. Defaults to the
	// playbook's directory when empty.
	Workdir string

	// ExecTimeout bounds each block subprocess; zero disables the limit.
	ExecTimeout time.Duration

	// UsePTY runs block subprocesses under a pseudo-terminal.
	UsePTY bool

	// CaptureDir is where captured files are copied. Empty keeps manifests
	// only.
	CaptureDir string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.PlaybookPath == "" {
		return nil, errors.New("PlaybookPath is a required configuration field and cannot be empty")
	}
	if _, err := os.Stat(cfg.PlaybookPath); err != nil {
		return nil, fmt.Errorf("playbook path %q: %w", cfg.PlaybookPath, err)
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port %d is out of range", cfg.Port)
	}
	if cfg.ExecTimeout < 0 {
		return nil, errors.New("ExecTimeout cannot be negative")
	}

	return &cfg, nil
}
