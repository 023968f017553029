package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
	"github.com/shaiso/conveyor/internal/repo"
	"github.com/shaiso/conveyor/internal/telemetry"
)

// Publisher доставляет задание исполнителю.
type Publisher interface {
	PublishJob(ctx context.Context, job *domain.ExecutionJob) error
}

// PublisherFunc: адаптер функции к Publisher.
type PublisherFunc func(ctx context.Context, job *domain.ExecutionJob) error

// PublishJob вызывает f.
func (f PublisherFunc) PublishJob(ctx context.Context, job *domain.ExecutionJob) error {
	return f(ctx, job)
}

// Request: запрос на запуск workflow.
type Request struct {
	WorkflowID  uuid.UUID
	TriggerData map[string]any
	Mode        domain.ExecutionMode
	TriggeredBy string

	// ExecutionID: заранее известный ID (тик расписания). Nil: новый ID.
	ExecutionID uuid.UUID

	RetryOf    *uuid.UUID
	RetryCount int
}

// Config: конфигурация Service.
type Config struct {
	Workflows  repo.WorkflowStore
	Executions repo.ExecutionStore
	Publisher  Publisher

	// IsTrigger определяет узлы-триггеры при проверке графа.
	IsTrigger engine.TriggerFunc

	Logger *slog.Logger
}

// Service ставит выполнения в очередь.
type Service struct {
	workflows  repo.WorkflowStore
	executions repo.ExecutionStore
	publisher  Publisher
	validator  *engine.Validator
	logger     *slog.Logger
}

// NewService создаёт Service.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		workflows:  cfg.Workflows,
		executions: cfg.Executions,
		publisher:  cfg.Publisher,
		validator:  engine.NewValidator(cfg.IsTrigger),
		logger:     cfg.Logger.With("component", "trigger"),
	}
}

// Enqueue проверяет workflow, создаёт PENDING выполнение и публикует задание.
//
// Невалидный граф возвращает *engine.ValidationError без создания записи.
// Повторный вызов с тем же ExecutionID возвращает существующее выполнение.
// Если оно всё ещё PENDING, задание публикуется снова: прошлая публикация
// могла не дойти до брокера, а оркестратор идемпотентен по ID выполнения.
func (s *Service) Enqueue(ctx context.Context, req Request) (*domain.Execution, error) {
	wf, err := s.workflows.GetByID(ctx, req.WorkflowID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}

	if automatic(req.Mode) && !wf.IsActive {
		return nil, ErrWorkflowInactive
	}
	if err := s.validator.ValidateWorkflow(wf); err != nil {
		return nil, err
	}

	exec := s.newExecution(wf, req)
	err = s.executions.Create(ctx, exec)
	if errors.Is(err, repo.ErrAlreadyExists) {
		existing, err := s.executions.GetByID(ctx, exec.ID)
		if err != nil {
			return nil, fmt.Errorf("load execution: %w", err)
		}
		if existing.Status != domain.ExecutionStatusPending {
			s.logger.Debug("execution already enqueued", "execution_id", exec.ID, "status", existing.Status)
			return existing, nil
		}
		s.logger.Info("republishing pending execution", "execution_id", exec.ID)
		if err := s.publish(ctx, existing); err != nil {
			return existing, err
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	if err := s.publish(ctx, exec); err != nil {
		return exec, err
	}

	telemetry.WithExecutionID(s.logger, exec.ID.String()).Info("execution enqueued",
		"workflow_id", wf.ID,
		"mode", exec.Mode,
		"triggered_by", exec.TriggeredBy,
	)
	return exec, nil
}

func (s *Service) publish(ctx context.Context, exec *domain.Execution) error {
	job := &domain.ExecutionJob{
		WorkflowID:     exec.WorkflowID,
		ExecutionID:    exec.ID,
		OrganizationID: exec.OrganizationID,
		TriggerData:    exec.TriggerData,
		Mode:           exec.Mode,
	}
	if err := s.publisher.PublishJob(ctx, job); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Retry ставит в очередь новое выполнение с данными триггера исходного.
func (s *Service) Retry(ctx context.Context, executionID uuid.UUID, triggeredBy string) (*domain.Execution, error) {
	parent, err := s.executions.GetByID(ctx, executionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	if parent.Status != domain.ExecutionStatusFailed && parent.Status != domain.ExecutionStatusCanceled {
		return nil, ErrNotRetryable
	}

	retry := parent.NewRetry(triggeredBy)
	return s.Enqueue(ctx, Request{
		WorkflowID:  retry.WorkflowID,
		TriggerData: retry.TriggerData,
		Mode:        retry.Mode,
		TriggeredBy: retry.TriggeredBy,
		ExecutionID: retry.ID,
		RetryOf:     retry.RetryOf,
		RetryCount:  retry.RetryCount,
	})
}

func (s *Service) newExecution(wf *domain.Workflow, req Request) *domain.Execution {
	id := req.ExecutionID
	if id == uuid.Nil {
		id = uuid.New()
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.ModeManual
	}
	data := req.TriggerData
	if data == nil {
		data = make(map[string]any)
	}

	return &domain.Execution{
		ID:             id,
		WorkflowID:     wf.ID,
		OrganizationID: wf.OrganizationID,
		Status:         domain.ExecutionStatusPending,
		Mode:           mode,
		TriggeredBy:    req.TriggeredBy,
		TriggerData:    data,
		RetryOf:        req.RetryOf,
		RetryCount:     req.RetryCount,
		CreatedAt:      time.Now(),
	}
}

// automatic: режимы, которые не запускают неактивный workflow.
func automatic(mode domain.ExecutionMode) bool {
	switch mode {
	case domain.ModeWebhook, domain.ModeCron, domain.ModeEvent:
		return true
	default:
		return false
	}
}

// scheduleNamespace: пространство имён для ID выполнений по расписанию.
var scheduleNamespace = uuid.MustParse("6f1c2b9e-4d0a-5e7f-9a3b-8c2d1e0f4a5b")

// ExecutionIDFor выводит детерминированный ID выполнения из ключа
// идемпотентности. Повторный тик с тем же ключом даёт тот же ID.
func ExecutionIDFor(idempotencyKey string) uuid.UUID {
	return uuid.NewSHA1(scheduleNamespace, []byte(idempotencyKey))
}
