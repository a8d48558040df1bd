package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.config.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: a.server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("🚀 Server starting", "address", fmt.Sprintf("http://localhost%s", addr), "playbook", a.config.PlaybookPath)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	a.logger.Info("🏁 Server stopped.")
	return nil
}
