// conveyor-api: HTTP API: workflow, запуски, webhook, расписания.
//
// API не выполняет узлы: запуск создаёт PENDING выполнение и публикует
// задание в RabbitMQ, откуда его забирает conveyor-worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/conveyor/internal/api"
	"github.com/shaiso/conveyor/internal/credentials"
	"github.com/shaiso/conveyor/internal/mq"
	"github.com/shaiso/conveyor/internal/nodes"
	"github.com/shaiso/conveyor/internal/orchestrator"
	"github.com/shaiso/conveyor/internal/repo"
	"github.com/shaiso/conveyor/internal/telemetry"
	"github.com/shaiso/conveyor/internal/trigger"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	stores := repo.NewPostgres(pool)
	registry := nodes.DefaultRegistry()

	mqConn, err := mq.Dial(os.Getenv("RABBITMQ_URL"), logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	triggers := trigger.NewService(trigger.Config{
		Workflows:  stores.Workflows,
		Executions: stores.Executions,
		Publisher:  mq.NewPublisher(mqConn, logger),
		IsTrigger:  registry.IsTrigger,
		Logger:     logger,
	})

	// Оркестратор нужен API только для отмены.
	engine := orchestrator.New(orchestrator.Config{
		Workflows:  stores.Workflows,
		Executions: stores.Executions,
		Steps:      stores.Steps,
		Registry:   registry,
		Logger:     logger,
	})

	cfg := api.Config{
		Stores:   stores,
		Triggers: triggers,
		Canceler: engine,
		Registry: registry,
		Logger:   logger,
	}
	if vault, err := newVault(); err != nil {
		logger.Warn("credential vault disabled", "error", err)
	} else {
		cfg.Sealer = credentials.NewResolver(stores.Credentials, vault, logger)
	}

	mux := http.NewServeMux()
	api.NewHandler(cfg).RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("conveyor-api stopped")
}

func newVault() (*credentials.Vault, error) {
	cfg, err := credentials.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return credentials.NewVault(cfg)
}
