package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/mq"
	"github.com/shaiso/conveyor/internal/orchestrator"
	"github.com/shaiso/conveyor/internal/ratelimit"
	"github.com/shaiso/conveyor/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultConcurrency = 5
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 2 * time.Second

	maxBackoff = 5 * time.Minute
)

// Executor выполняет задание. Реализуется orchestrator.Engine.
type Executor interface {
	Execute(ctx context.Context, job *domain.ExecutionJob) (*orchestrator.Outcome, error)
}

// Retrier откладывает повтор задания. Реализуется mq.Publisher.
type Retrier interface {
	PublishRetry(ctx context.Context, job *domain.ExecutionJob, delay time.Duration) error
}

// Abandoner помечает выполнение FAILED, когда задание уходит в DLQ.
// Реализуется orchestrator.Engine.
type Abandoner interface {
	Abandon(ctx context.Context, executionID uuid.UUID, reason error) error
}

// PoolConfig: конфигурация Pool.
type PoolConfig struct {
	Executor Executor

	// Retrier: очередь повторов. Nil: повтор ждёт задержку внутри Process.
	Retrier Retrier

	// Abandoner: фиксирует FAILED при отправке в DLQ.
	// Nil: используется Executor, если он реализует Abandoner.
	Abandoner Abandoner

	// Concurrency: максимум одновременных заданий.
	Concurrency int

	// Limiter: ограничение частоты запусков. Nil: без ограничения.
	Limiter *ratelimit.Limiter

	// MaxAttempts: попыток на задание, включая первую.
	MaxAttempts int

	// BackoffBase: задержка перед второй попыткой, далее удваивается.
	BackoffBase time.Duration

	Logger *slog.Logger
}

// Pool выполняет задания с ограничением параллелизма.
type Pool struct {
	executor  Executor
	retrier   Retrier
	abandoner Abandoner
	sem      chan struct{}
	limiter  *ratelimit.Limiter
	backoff  *domain.RetryPolicy
	logger   *slog.Logger

	active atomic.Int64

	// sleep подменяется в тестах.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPool создаёт Pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Abandoner == nil {
		cfg.Abandoner, _ = cfg.Executor.(Abandoner)
	}

	return &Pool{
		executor:  cfg.Executor,
		retrier:   cfg.Retrier,
		abandoner: cfg.Abandoner,
		sem:      make(chan struct{}, cfg.Concurrency),
		limiter:  cfg.Limiter,
		backoff: &domain.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     "exponential",
			DelayMs:     int(cfg.BackoffBase.Milliseconds()),
			MaxDelayMs:  int(maxBackoff.Milliseconds()),
		},
		logger: cfg.Logger.With("component", "pool"),
		sleep:  sleepContext,
	}
}

// Concurrency возвращает размер пула.
func (p *Pool) Concurrency() int {
	return cap(p.sem)
}

// Active возвращает число выполняющихся заданий.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Backoff возвращает задержку после неудачной попытки attempt (с 1).
func (p *Pool) Backoff(attempt int) time.Duration {
	return p.backoff.Delay(attempt)
}

// Process выполняет задание.
//
// nil: задание завершено или отложено в очередь повторов.
// Ошибка с mq.ErrPermanent: задание нужно отправить в DLQ.
// Прочие ошибки (остановка, сбой публикации повтора): вернуть в очередь.
func (p *Pool) Process(ctx context.Context, job *domain.ExecutionJob) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	p.active.Add(1)
	defer p.active.Add(-1)

	logger := telemetry.WithExecutionID(p.logger, job.ExecutionID.String())
	attempt := max(job.Attempt, 1)

	for {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}

		out, err := p.executor.Execute(ctx, job)
		if err == nil {
			logger.Info("job finished", "status", out.Status, "attempt", attempt, "replayed", out.Replayed)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !orchestrator.IsRetryable(err) {
			telemetry.JobsDeadLettered.Inc()
			logger.Error("job rejected", "error", err)
			p.abandon(ctx, logger, job, err)
			return fmt.Errorf("%w: %w: %w", mq.ErrPermanent, ErrJobRejected, err)
		}

		if attempt >= p.backoff.Attempts() {
			telemetry.JobsDeadLettered.Inc()
			logger.Error("job attempts exhausted", "attempts", attempt, "error", err)
			p.abandon(ctx, logger, job, err)
			return fmt.Errorf("%w: %w: %w", mq.ErrPermanent, ErrRetryExhausted, err)
		}

		delay := p.Backoff(attempt)
		attempt++
		telemetry.JobsRetried.Inc()
		logger.Warn("job failed, retrying", "error", err, "next_attempt", attempt, "delay", delay)

		if p.retrier != nil {
			next := *job
			next.Attempt = attempt
			if err := p.retrier.PublishRetry(ctx, &next, delay); err != nil {
				return fmt.Errorf("publish retry: %w", err)
			}
			return nil
		}

		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
		job.Attempt = attempt
	}
}

// abandon переводит выполнение в FAILED перед отправкой задания в DLQ.
// Ошибка только логируется: сообщение уходит в DLQ в любом случае.
func (p *Pool) abandon(ctx context.Context, logger *slog.Logger, job *domain.ExecutionJob, reason error) {
	if p.abandoner == nil {
		return
	}
	if err := p.abandoner.Abandon(ctx, job.ExecutionID, reason); err != nil {
		logger.Warn("failed to mark dead-lettered execution as failed", "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
