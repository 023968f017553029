package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
	"github.com/shaiso/conveyor/internal/nodes"
	"github.com/shaiso/conveyor/internal/repo"
	"github.com/shaiso/conveyor/internal/trigger"
)

// Значения по умолчанию.
const (
	DefaultInterval  = time.Second
	DefaultBatchSize = 100
)

// Enqueuer ставит выполнение в очередь. Реализуется trigger.Service.
type Enqueuer interface {
	Enqueue(ctx context.Context, req trigger.Request) (*domain.Execution, error)
}

// Config: конфигурация Scheduler.
type Config struct {
	Schedules repo.ScheduleStore
	Workflows repo.WorkflowStore
	Enqueuer  Enqueuer

	// Registry формирует payload триггера (Poll). По умолчанию nodes.DefaultRegistry().
	Registry *nodes.Registry

	// Elector: выбор лидера. По умолчанию AlwaysLeader.
	Elector Elector

	Interval  time.Duration
	BatchSize int

	// Now: источник времени, по умолчанию time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Scheduler запускает workflow по расписаниям.
//
// Тик выполняет только лидер. Срабатывание идемпотентно: ID выполнения
// выводится из ключа "{schedule_id}_{next_due_unix}", поэтому повтор тика
// после сбоя не создаёт второе выполнение.
type Scheduler struct {
	schedules repo.ScheduleStore
	workflows repo.WorkflowStore
	enqueuer  Enqueuer
	registry  *nodes.Registry
	elector   Elector

	interval  time.Duration
	batchSize int
	now       func() time.Time
	logger    *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New создаёт Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Registry == nil {
		cfg.Registry = nodes.DefaultRegistry()
	}
	if cfg.Elector == nil {
		cfg.Elector = AlwaysLeader{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		schedules: cfg.Schedules,
		workflows: cfg.Workflows,
		enqueuer:  cfg.Enqueuer,
		registry:  cfg.Registry,
		elector:   cfg.Elector,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		now:       cfg.Now,
		logger:    cfg.Logger.With("component", "scheduler"),
	}
}

// Start запускает цикл тиков в фоне.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	s.logger.Info("scheduler started", "interval", s.interval)
}

// Stop останавливает цикл и снимает лидерство.
func (s *Scheduler) Stop() {
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.elector.Release(ctx); err != nil {
		s.logger.Warn("failed to release leadership", "error", err)
	}
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	leader := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ok, err := s.elector.TryAcquire(ctx)
		if err != nil {
			s.logger.Warn("leader election failed", "error", err)
			continue
		}
		if ok != leader {
			leader = ok
			s.logger.Info("leadership changed", "leader", leader)
		}
		if !leader {
			continue
		}

		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", "error", err)
		}
	}
}

// Tick обрабатывает расписания, время которых подошло.
// Ошибка одного расписания не мешает остальным.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	due, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	fired := 0
	for i := range due {
		sched := &due[i]
		ok, err := s.fire(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to fire schedule", "schedule_id", sched.ID, "error", err)
			continue
		}
		if ok {
			fired++
		}
	}

	s.logger.Info("scheduler tick completed", "due", len(due), "fired", fired)
	return nil
}

// fire ставит в очередь одно срабатывание и сдвигает next_due_at.
// Возвращает true, если выполнение поставлено в очередь.
func (s *Scheduler) fire(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	logger := s.logger.With("schedule_id", sched.ID, "workflow_id", sched.WorkflowID)
	firedAt := now
	if sched.NextDueAt != nil {
		firedAt = *sched.NextDueAt
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		// Расписание не сдвигается: его нужно исправить
		return false, fmt.Errorf("calculate next due: %w", err)
	}

	payload, err := s.payload(ctx, sched, firedAt)
	if errors.Is(err, repo.ErrNotFound) {
		logger.Warn("workflow not found for schedule, skipping")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	key := sched.IdempotencyKey()
	exec, err := s.enqueuer.Enqueue(ctx, trigger.Request{
		WorkflowID:  sched.WorkflowID,
		TriggerData: payload,
		Mode:        domain.ModeCron,
		TriggeredBy: "schedule:" + sched.ID.String(),
		ExecutionID: trigger.ExecutionIDFor(key),
	})

	var vErr *engine.ValidationError
	switch {
	case errors.Is(err, trigger.ErrWorkflowInactive), errors.As(err, &vErr):
		// Срабатывание пропускается, расписание идёт дальше
		logger.Warn("scheduled run skipped", "reason", err)
		return false, s.schedules.RecordRun(ctx, sched.ID, trigger.ExecutionIDFor(key), now, nextDue)
	case err != nil:
		// next_due_at не сдвигается: следующий тик повторит с тем же ключом
		return false, fmt.Errorf("enqueue: %w", err)
	}

	if err := s.schedules.RecordRun(ctx, sched.ID, exec.ID, now, nextDue); err != nil {
		return true, fmt.Errorf("record run: %w", err)
	}

	logger.Info("schedule fired",
		"execution_id", exec.ID,
		"idempotency_key", key,
		"next_due_at", nextDue,
	)
	return true, nil
}

// payload формирует данные триггера через Poll узла-триггера расписания.
func (s *Scheduler) payload(ctx context.Context, sched *domain.Schedule, firedAt time.Time) (map[string]any, error) {
	wf, err := s.workflows.GetByID(ctx, sched.WorkflowID)
	if err != nil {
		return nil, err
	}

	nodeType := nodes.TypeCronTrigger
	if node, ok := wf.FindNode(sched.NodeID); ok && s.registry.IsTrigger(node.Type) {
		nodeType = node.Type
	}

	trig, err := s.registry.Trigger(nodeType)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", nodeType, err)
	}

	payload, err := trig.Poll(ctx, map[string]any{
		"cron":     sched.CronExpr,
		"timezone": sched.Timezone,
		"data":     sched.TriggerData,
	}, firedAt)
	if errors.Is(err, nodes.ErrNotSupported) {
		trig, _ = s.registry.Trigger(nodes.TypeCronTrigger)
		payload, err = trig.Poll(ctx, map[string]any{"data": sched.TriggerData}, firedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("poll trigger: %w", err)
	}

	payload["schedule_id"] = sched.ID.String()
	return payload, nil
}
