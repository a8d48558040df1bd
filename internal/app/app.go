package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vk/playbookgo/internal/ctxlog"
	"github.com/vk/playbookgo/internal/executor"
	"github.com/vk/playbookgo/internal/outputstore"
	"github.com/vk/playbookgo/internal/readiness"
	"github.com/vk/playbookgo/internal/registry"
	"github.com/vk/playbookgo/internal/server"
	"github.com/vk/playbookgo/internal/session"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	config *Config
	logger *slog.Logger

	registry *registry.Registry
	outputs  *outputstore.Store
	session  *session.Store
	gate     *readiness.Gate
	engine   *executor.Engine
	server   *server.Server
}

// NewApp is the constructor for the main application. It loads the playbook,
// builds the registry generation, and wires every component together. It
// returns an error rather than serving anything when the playbook cannot be
// parsed at all.
func NewApp(outW io.Writer, config *Config) (*App, error) {
	logger := newLogger(config.LogLevel, config.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)

	gen, err := registry.LoadGeneration(ctx, config.PlaybookPath)
	if err != nil {
		return nil, fmt.Errorf("loading playbook: %w", err)
	}
	for _, w := range gen.Warnings {
		logger.Warn("Playbook warning", "detail", w)
	}

	workdir := config.Workdir
	if workdir == "" {
		workdir = filepath.Dir(config.PlaybookPath)
		if info, statErr := os.Stat(config.PlaybookPath); statErr == nil && info.IsDir() {
			workdir = config.PlaybookPath
		}
	}

	a := &App{
		config:   config,
		logger:   logger,
		registry: registry.New(gen),
		outputs:  outputstore.New(),
		session:  session.NewStore(workdir),
	}
	a.gate = readiness.NewGate(a.outputs)
	a.engine = executor.NewEngine(a.registry, a.outputs, a.session, a.gate, executor.Config{
		PlaybookPath: config.PlaybookPath,
		Timeout:      config.ExecTimeout,
		UsePTY:       config.UsePTY,
		CaptureDir:   config.CaptureDir,
	})
	a.server = server.New(logger, a.registry, a.outputs, a.session, a.gate, a.engine, config.PlaybookPath)

	logger.Debug("Application wired.", "blocks", len(gen.All()), "workdir", workdir)
	return a, nil
}

// Logger exposes the app's logger for entrypoints.
func (a *App) Logger() *slog.Logger {
	return a.logger
}
