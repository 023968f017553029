package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
	"github.com/shaiso/conveyor/internal/mq"
	"github.com/shaiso/conveyor/internal/orchestrator"
	"github.com/shaiso/conveyor/internal/ratelimit"
	"github.com/shaiso/conveyor/internal/repo"
)

// scriptedExecutor возвращает ошибки из errs по порядку, затем успех.
type scriptedExecutor struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (e *scriptedExecutor) Execute(_ context.Context, job *domain.ExecutionJob) (*orchestrator.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		return nil, err
	}
	return &orchestrator.Outcome{ExecutionID: job.ExecutionID, Status: domain.ExecutionStatusSuccess, Success: true}, nil
}

type executorFunc func(ctx context.Context, job *domain.ExecutionJob) (*orchestrator.Outcome, error)

func (f executorFunc) Execute(ctx context.Context, job *domain.ExecutionJob) (*orchestrator.Outcome, error) {
	return f(ctx, job)
}

type retryCall struct {
	attempt int
	delay   time.Duration
}

type recordingRetrier struct {
	calls []retryCall
}

func (r *recordingRetrier) PublishRetry(_ context.Context, job *domain.ExecutionJob, delay time.Duration) error {
	r.calls = append(r.calls, retryCall{attempt: job.Attempt, delay: delay})
	return nil
}

func infra() error {
	return &orchestrator.InfrastructureError{Op: "save step", Err: errors.New("connection refused")}
}

func newJob() *domain.ExecutionJob {
	return &domain.ExecutionJob{WorkflowID: uuid.New(), ExecutionID: uuid.New(), Attempt: 1}
}

func newTestPool(cfg PoolConfig) (*Pool, *[]time.Duration) {
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPool(cfg)
	var delays []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return p, &delays
}

func TestNewPool_Defaults(t *testing.T) {
	p := NewPool(PoolConfig{})

	assert.Equal(t, 5, p.Concurrency())
	assert.Equal(t, 3, p.backoff.Attempts())
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(3))
}

func TestPool_Success(t *testing.T) {
	exec := &scriptedExecutor{}
	p, delays := newTestPool(PoolConfig{Executor: exec})

	require.NoError(t, p.Process(context.Background(), newJob()))
	assert.Equal(t, 1, exec.calls)
	assert.Empty(t, *delays)
}

func TestPool_RetriesInProcessWithBackoff(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{infra(), infra()}}
	p, delays := newTestPool(PoolConfig{Executor: exec})

	require.NoError(t, p.Process(context.Background(), newJob()))
	assert.Equal(t, 3, exec.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *delays)
}

func TestPool_DeadLettersAfterMaxAttempts(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{infra(), infra(), infra(), infra()}}
	p, delays := newTestPool(PoolConfig{Executor: exec})

	err := p.Process(context.Background(), newJob())

	require.ErrorIs(t, err, mq.ErrPermanent)
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 3, exec.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *delays)
}

func TestPool_DeadLetterMarksExecutionFailed(t *testing.T) {
	ctx := context.Background()
	stores := repo.NewMemoryStore()
	orch := orchestrator.New(orchestrator.Config{
		Workflows:  stores.Workflows,
		Executions: stores.Executions,
		Steps:      stores.Steps,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	tests := []struct {
		name string
		errs []error
		want error
	}{
		{"attempts exhausted", []error{infra(), infra(), infra()}, ErrRetryExhausted},
		{"rejected", []error{errors.New("broken job")}, ErrJobRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newJob()
			require.NoError(t, stores.Executions.Create(ctx, &domain.Execution{
				ID:         job.ExecutionID,
				WorkflowID: job.WorkflowID,
				Status:     domain.ExecutionStatusPending,
				CreatedAt:  time.Now(),
			}))
			require.NoError(t, stores.Executions.Start(ctx, job.ExecutionID, time.Now()))

			exec := &scriptedExecutor{errs: tt.errs}
			p, _ := newTestPool(PoolConfig{Executor: exec, Abandoner: orch})

			err := p.Process(ctx, job)
			require.ErrorIs(t, err, mq.ErrPermanent)
			require.ErrorIs(t, err, tt.want)

			stored, err := stores.Executions.GetByID(ctx, job.ExecutionID)
			require.NoError(t, err)
			assert.Equal(t, domain.ExecutionStatusFailed, stored.Status)
			require.NotNil(t, stored.Error)
			assert.Contains(t, stored.Error.Message, tt.errs[len(tt.errs)-1].Error())
		})
	}
}

func TestPool_DeadLetterIgnoresFinishedExecution(t *testing.T) {
	ctx := context.Background()
	stores := repo.NewMemoryStore()
	orch := orchestrator.New(orchestrator.Config{
		Workflows:  stores.Workflows,
		Executions: stores.Executions,
		Steps:      stores.Steps,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	job := newJob()
	require.NoError(t, stores.Executions.Create(ctx, &domain.Execution{
		ID:         job.ExecutionID,
		WorkflowID: job.WorkflowID,
		Status:     domain.ExecutionStatusPending,
		CreatedAt:  time.Now(),
	}))
	require.NoError(t, stores.Executions.Cancel(ctx, job.ExecutionID, time.Now()))

	p, _ := newTestPool(PoolConfig{Executor: &scriptedExecutor{errs: []error{errors.New("broken job")}}, Abandoner: orch})
	require.ErrorIs(t, p.Process(ctx, job), mq.ErrPermanent)

	status, err := stores.Executions.GetStatus(ctx, job.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCanceled, status)
}

func TestPool_RetriesThroughQueue(t *testing.T) {
	retrier := &recordingRetrier{}
	exec := &scriptedExecutor{errs: []error{infra(), infra(), infra()}}
	p, delays := newTestPool(PoolConfig{Executor: exec, Retrier: retrier})
	job := newJob()

	require.NoError(t, p.Process(context.Background(), job))
	require.Len(t, retrier.calls, 1)
	assert.Equal(t, retryCall{attempt: 2, delay: 2 * time.Second}, retrier.calls[0])
	assert.Equal(t, 1, job.Attempt)

	job.Attempt = 2
	require.NoError(t, p.Process(context.Background(), job))
	require.Len(t, retrier.calls, 2)
	assert.Equal(t, retryCall{attempt: 3, delay: 4 * time.Second}, retrier.calls[1])

	job.Attempt = 3
	err := p.Process(context.Background(), job)
	assert.ErrorIs(t, err, mq.ErrPermanent)
	assert.Len(t, retrier.calls, 2)
	assert.Empty(t, *delays)
}

func TestPool_PermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation", engine.NewValidationError("Workflow must have at least one node")},
		{"workflow not found", orchestrator.ErrWorkflowNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &scriptedExecutor{errs: []error{tt.err}}
			p, _ := newTestPool(PoolConfig{Executor: exec})

			err := p.Process(context.Background(), newJob())

			assert.ErrorIs(t, err, mq.ErrPermanent)
			assert.ErrorIs(t, err, ErrJobRejected)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, exec.calls)
		})
	}
}

func TestPool_ShutdownRequeues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := executorFunc(func(ctx context.Context, _ *domain.ExecutionJob) (*orchestrator.Outcome, error) {
		cancel()
		return nil, ctx.Err()
	})
	p, _ := newTestPool(PoolConfig{Executor: exec})

	err := p.Process(ctx, newJob())

	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, mq.ErrPermanent)
}

func TestPool_ConcurrencyBound(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})

	exec := executorFunc(func(_ context.Context, job *domain.ExecutionJob) (*orchestrator.Outcome, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return &orchestrator.Outcome{ExecutionID: job.ExecutionID}, nil
	})
	p, _ := newTestPool(PoolConfig{Executor: exec, Concurrency: 2})

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Process(context.Background(), newJob()))
		}()
	}

	require.Eventually(t, func() bool { return p.Active() == 2 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), peak.Load())
	assert.Equal(t, 0, p.Active())
}

func TestPool_RateLimited(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{Limit: 1, Window: time.Hour})
	exec := &scriptedExecutor{}
	p, _ := newTestPool(PoolConfig{Executor: exec, Limiter: limiter})

	require.NoError(t, p.Process(context.Background(), newJob()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := p.Process(ctx, newJob())

	require.Error(t, err)
	assert.NotErrorIs(t, err, mq.ErrPermanent)
	assert.Equal(t, 1, exec.calls)
}
