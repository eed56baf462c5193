package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"go.uber.org/zap"
)

const defaultShutdownTimeout = 5 * time.Second

// Run serves handler on cfg.Address and blocks until ctx is canceled or the server fails.
func Run(ctx context.Context, cfg config.HTTPConfig, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("address", cfg.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http %s: %w", cfg.Address, err)
		}
		return nil
	case <-ctx.Done():
		timeout := defaultShutdownTimeout
		if cfg.ShutdownTimeoutSecs > 0 {
			timeout = time.Duration(cfg.ShutdownTimeoutSecs) * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		logger.Info("shutting down http server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}
