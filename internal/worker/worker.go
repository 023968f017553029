package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shaiso/conveyor/internal/mq"
)

// Config: конфигурация Worker.
type Config struct {
	Conn *mq.Connection
	Pool *Pool

	Logger *slog.Logger
}

// Worker читает executions.pending и передаёт задания в Pool.
type Worker struct {
	conn     *mq.Connection
	pool     *Pool
	consumer *mq.Consumer

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		conn:   cfg.Conn,
		pool:   cfg.Pool,
		logger: logger.With("component", "worker"),
	}
}

// Start запускает consumer. Prefetch равен размеру пула.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.consumer = mq.NewConsumer(w.conn, mq.ConsumerConfig{
		Queue:    mq.QueuePending,
		Handler:  w.pool.Process,
		Prefetch: w.pool.Concurrency(),
		Logger:   w.logger,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("consumer stopped", "error", err)
		}
	}()

	w.logger.Info("worker started", "concurrency", w.pool.Concurrency())
	return nil
}

// Stop останавливает приём заданий и ждёт завершения активных.
// Прерванные задания возвращаются в очередь.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	if w.stopped {
		w.stoppedMu.Unlock()
		return
	}
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker", "active_jobs", w.pool.Active())
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}
