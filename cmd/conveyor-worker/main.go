// conveyor-worker: исполнитель заданий.
//
// Worker:
//   - получает задания из очереди executions.pending
//   - выполняет workflow оркестратором с ограничением параллелизма и частоты
//   - откладывает повторы через executions.retry (2s, 4s, ...)
//   - после исчерпания попыток отправляет задание в dlq.executions
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shaiso/conveyor/internal/credentials"
	"github.com/shaiso/conveyor/internal/governance"
	"github.com/shaiso/conveyor/internal/mq"
	"github.com/shaiso/conveyor/internal/nodes"
	"github.com/shaiso/conveyor/internal/orchestrator"
	"github.com/shaiso/conveyor/internal/ratelimit"
	"github.com/shaiso/conveyor/internal/repo"
	"github.com/shaiso/conveyor/internal/telemetry"
	"github.com/shaiso/conveyor/internal/worker"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-worker")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	stores := repo.NewPostgres(pool)

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

	checker := governance.NewCachedChecker(governance.Config{
		Store:  stores.Policies,
		TTL:    envDuration("GOVERNANCE_CACHE_TTL", governance.DefaultTTL),
		Logger: logger,
	})
	checker.Start(ctx)
	defer checker.Stop()

	engineCfg := orchestrator.Config{
		Workflows:  stores.Workflows,
		Executions: stores.Executions,
		Steps:      stores.Steps,
		Registry:   nodes.DefaultRegistry(),
		Governance: checker,
		Logger:     logger,
	}
	if vault, err := newVault(); err != nil {
		logger.Warn("credential vault disabled, nodes with credentials will fail", "error", err)
	} else {
		engineCfg.Credentials = credentials.NewResolver(stores.Credentials, vault, logger)
	}

	orch := orchestrator.New(engineCfg)
	jobPool := worker.NewPool(worker.PoolConfig{
		Executor:    orch,
		Abandoner:   orch,
		Retrier:     mq.NewPublisher(mqConn, logger),
		Concurrency: envInt("WORKER_CONCURRENCY", worker.DefaultConcurrency),
		Limiter: ratelimit.New(ratelimit.Config{
			Limit:  envInt("WORKER_JOBS_PER_WINDOW", 50),
			Window: envDuration("WORKER_RATE_WINDOW", time.Minute),
		}),
		MaxAttempts: envInt("JOB_MAX_ATTEMPTS", worker.DefaultMaxAttempts),
		BackoffBase: envDuration("JOB_BACKOFF_BASE", worker.DefaultBackoffBase),
		Logger:      logger,
	})

	w := worker.New(worker.Config{
		Conn:   mqConn,
		Pool:   jobPool,
		Logger: logger,
	})
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", telemetry.HealthHandler)
	mux.Handle("GET /metrics", telemetry.Handler())

	port := ":8082"
	if v := os.Getenv("WORKER_PORT"); v != "" {
		port = ":" + v
	}
	server := &http.Server{Addr: port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("listening", "addr", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	// Незавершённые задания возвращаются в очередь.
	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	logger.Info("conveyor-worker stopped")
}

func newVault() (*credentials.Vault, error) {
	cfg, err := credentials.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return credentials.NewVault(cfg)
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
