// conveyor-scheduler: запуск workflow по расписаниям.
//
// Несколько экземпляров могут работать одновременно: тики выполняет
// только держатель advisory lock в PostgreSQL.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/conveyor/internal/mq"
	"github.com/shaiso/conveyor/internal/nodes"
	"github.com/shaiso/conveyor/internal/repo"
	"github.com/shaiso/conveyor/internal/scheduler"
	"github.com/shaiso/conveyor/internal/telemetry"
	"github.com/shaiso/conveyor/internal/trigger"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-scheduler")

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

	sched := scheduler.New(scheduler.Config{
		Schedules: stores.Schedules,
		Workflows: stores.Workflows,
		Enqueuer: trigger.NewService(trigger.Config{
			Workflows:  stores.Workflows,
			Executions: stores.Executions,
			Publisher:  mq.NewPublisher(mqConn, logger),
			IsTrigger:  registry.IsTrigger,
			Logger:     logger,
		}),
		Registry: registry,
		Elector:  scheduler.NewAdvisoryLock(pool, scheduler.LockKey),
		Logger:   logger,
	})
	sched.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", telemetry.HealthHandler)
	mux.Handle("GET /metrics", telemetry.Handler())

	port := ":8083"
	if v := os.Getenv("SCHED_PORT"); v != "" {
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

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	logger.Info("conveyor-scheduler stopped")
}
