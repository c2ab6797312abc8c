// cmd/query-server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"nlquery/internal/api"
	"nlquery/internal/bootstrap"
	"nlquery/internal/common/camunda"
	"nlquery/internal/common/config"
	"nlquery/internal/common/logger"
	mq "nlquery/internal/workers/nl-query/mongo-query"
	sq "nlquery/internal/workers/nl-query/sql-query"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting query server...", zap.String("environment", cfg.App.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("bootstrap failed", zap.Error(err))
	}

	// Stores shared across requests must be up before traffic is accepted.
	for name, check := range app.Checks() {
		err := retryWithBackoff(func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return check(pingCtx)
		}, 10, 2*time.Second, zapLog, name+" connection")
		if err != nil {
			zapLog.Fatal("dependency unavailable", zap.String("dependency", name), zap.Error(err))
		}
		zapLog.Info("dependency connected", zap.String("dependency", name))
	}

	var workers *camunda.Workers
	if cfg.Camunda.Enabled {
		workers = startWorkers(ctx, cfg, app, log)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.New(app.APIOptions()).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zapLog.Info("Shutdown signal received, draining requests...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown", zap.Error(err))
	}
	if workers != nil {
		workers.Close()
	}
	if err := app.Close(shutdownCtx); err != nil {
		zapLog.Error("Error closing clients", zap.Error(err))
	}

	zapLog.Info("Query server stopped gracefully")
}

func startWorkers(ctx context.Context, cfg *config.Config, app *bootstrap.App, log logger.Logger) *camunda.Workers {
	client, err := camunda.NewClient(ctx, camunda.ConfigFrom(cfg.Camunda), log)
	if err != nil {
		log.Error("camunda unavailable, workers not started", map[string]interface{}{"error": err.Error()})
		return nil
	}

	workers := camunda.NewWorkers(client.GetClient(), log)

	mongoHandler, err := mq.NewHandler(mq.HandlerOptions{AppConfig: cfg, Service: app.MongoPipeline, Logger: log})
	if err != nil {
		log.Error("mongo query worker not started", map[string]interface{}{"error": err.Error()})
	} else {
		workers.Start(mq.TaskType, config.GetWorkerConfig(cfg, mq.TaskType), mongoHandler)
	}

	if app.SQLPipeline != nil {
		sqlHandler, err := sq.NewHandler(sq.HandlerOptions{AppConfig: cfg, Service: app.SQLPipeline, Logger: log})
		if err != nil {
			log.Error("sql query worker not started", map[string]interface{}{"error": err.Error()})
		} else {
			workers.Start(sq.TaskType, config.GetWorkerConfig(cfg, sq.TaskType), sqlHandler)
		}
	}

	return workers
}
