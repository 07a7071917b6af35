package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ramxx/tminus/internal/app"
	"github.com/ramxx/tminus/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, outbox processor, and feed scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		container, err := app.New(ctx, cfg, log())
		if err != nil {
			return err
		}
		defer container.Close()

		if cfg.MirrorEnabled {
			if err := container.Outbox.Start(ctx); err != nil {
				return err
			}
		}
		if err := container.Scheduler.Start(ctx); err != nil {
			return err
		}

		server := container.APIServer()
		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log().Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}
