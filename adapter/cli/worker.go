package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ramxx/tminus/internal/app"
	"github.com/ramxx/tminus/internal/mirror"
	"github.com/ramxx/tminus/internal/shared/infrastructure/eventbus"
	"github.com/ramxx/tminus/pkg/config"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the mirror writer consuming outbound write intents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.LocalMode {
			return fmt.Errorf("the mirror worker requires RabbitMQ; local mode runs intents in-process")
		}

		container, err := app.New(ctx, cfg, log())
		if err != nil {
			return err
		}
		defer container.Close()

		consumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{
			URL:    cfg.RabbitMQURL,
			Logger: log(),
		})
		if err != nil {
			return err
		}
		defer consumer.Close()

		credentials := mirror.NewAccountCredentials(container.Store)
		writer := mirror.NewWriter(consumer, mirror.NewCalDAVWriter(credentials, log()), container.Metrics, log())

		// Liveness endpoint for the worker process.
		healthMux := http.NewServeMux()
		healthMux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		})
		healthServer := &http.Server{Addr: cfg.WorkerHealthAddr, Handler: healthMux}
		go func() {
			if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log().Error("worker health server failed", "error", err)
			}
		}()
		defer healthServer.Close()

		log().Info("mirror worker started", "health_addr", cfg.WorkerHealthAddr)
		if err := writer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
