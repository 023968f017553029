package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
	"github.com/shaiso/conveyor/internal/governance"
	"github.com/shaiso/conveyor/internal/nodes"
	"github.com/shaiso/conveyor/internal/repo"
	"github.com/shaiso/conveyor/internal/telemetry"
)

// CredentialResolver расшифровывает credentials узла.
type CredentialResolver interface {
	Resolve(ctx context.Context, orgID, credentialID uuid.UUID) (map[string]any, error)
}

// Outcome: результат Execute.
type Outcome struct {
	ExecutionID uuid.UUID                    `json:"execution_id"`
	Status      domain.ExecutionStatus       `json:"status"`
	Success     bool                         `json:"success"`
	Results     map[string]domain.NodeResult `json:"results"`
	Errors      []engine.NodeErrorEntry      `json:"errors,omitempty"`

	// Replayed: выполнение уже было завершено, узлы не запускались.
	Replayed bool `json:"replayed,omitempty"`
}

// Config: конфигурация Engine.
type Config struct {
	Workflows  repo.WorkflowStore
	Executions repo.ExecutionStore
	Steps      repo.StepStore

	// Registry: реестр узлов. По умолчанию nodes.DefaultRegistry().
	Registry *nodes.Registry

	// Credentials: расшифровка credentials. Nil: узлы с credential_id падают
	// с ошибкой credential.
	Credentials CredentialResolver

	// Governance: проверка разрешения типов узлов. По умолчанию всё разрешено.
	Governance governance.Checker

	Logger *slog.Logger
}

// Engine выполняет workflow.
type Engine struct {
	workflows  repo.WorkflowStore
	executions repo.ExecutionStore
	steps      repo.StepStore

	registry    *nodes.Registry
	validator   *engine.Validator
	credentials CredentialResolver
	governance  governance.Checker

	logger *slog.Logger
}

// New создаёт Engine.
func New(cfg Config) *Engine {
	if cfg.Registry == nil {
		cfg.Registry = nodes.DefaultRegistry()
	}
	if cfg.Governance == nil {
		cfg.Governance = governance.AllowAll{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		workflows:   cfg.Workflows,
		executions:  cfg.Executions,
		steps:       cfg.Steps,
		registry:    cfg.Registry,
		validator:   engine.NewValidator(cfg.Registry.IsTrigger),
		credentials: cfg.Credentials,
		governance:  cfg.Governance,
		logger:      cfg.Logger.With("component", "orchestrator"),
	}
}

// Registry возвращает реестр узлов.
func (e *Engine) Registry() *nodes.Registry {
	return e.registry
}

// Validate проверяет граф workflow.
func (e *Engine) Validate(wf *domain.Workflow) engine.ValidationResult {
	return e.validator.Validate(wf.Nodes, wf.Edges)
}

// Execute выполняет задание.
//
// Ошибки узлов не возвращаются: они попадают в Outcome и журнал шагов.
// Возвращаемые ошибки: *engine.ValidationError, ErrWorkflowNotFound,
// *InfrastructureError, ошибка ctx при остановке.
func (e *Engine) Execute(ctx context.Context, job *domain.ExecutionJob) (*Outcome, error) {
	logger := telemetry.WithWorkflowID(e.logger, job.WorkflowID.String())

	wf, err := e.workflows.GetByID(ctx, job.WorkflowID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, infraError("load workflow", err)
	}

	if result := e.Validate(wf); !result.Valid {
		vErr := result.Err()
		logger.Warn("workflow validation failed", "errors", result.Errors)
		if err := e.Abandon(ctx, job.ExecutionID, vErr); err != nil {
			return nil, err
		}
		return nil, vErr
	}

	order, err := engine.TopologicalSort(wf.Nodes, wf.Edges)
	if err != nil {
		return nil, engine.NewValidationError(err.Error())
	}

	exec, replay, err := e.acquire(ctx, wf, job)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		logger.Info("execution already finished",
			"execution_id", exec.ID,
			"status", exec.Status,
		)
		return replay, nil
	}

	state := newRunState(wf, exec, telemetry.WithExecutionID(logger, exec.ID.String()))
	state.ectx.IsBranch = e.registry.IsBranch
	prior, err := e.steps.ListByExecution(ctx, exec.ID)
	if err != nil {
		return nil, infraError("load steps", err)
	}
	state.remember(prior)

	state.logger.Info("execution started", "nodes", len(order), "mode", exec.Mode, "resumed_steps", len(prior))

	canceled, err := e.run(ctx, state, order)
	if err != nil {
		return nil, err
	}
	if canceled {
		return e.canceledOutcome(state), nil
	}

	return e.finalize(ctx, state)
}

// acquire загружает или создаёт выполнение и переводит его в RUNNING.
// Для завершённого выполнения возвращает готовый Outcome.
func (e *Engine) acquire(ctx context.Context, wf *domain.Workflow, job *domain.ExecutionJob) (*domain.Execution, *Outcome, error) {
	if job.ExecutionID == uuid.Nil {
		job.ExecutionID = uuid.New()
	}

	exec, err := e.executions.GetByID(ctx, job.ExecutionID)
	if errors.Is(err, repo.ErrNotFound) {
		exec = &domain.Execution{
			ID:             job.ExecutionID,
			WorkflowID:     wf.ID,
			OrganizationID: wf.OrganizationID,
			Status:         domain.ExecutionStatusPending,
			Mode:           job.Mode,
			TriggerData:    job.TriggerData,
			CreatedAt:      time.Now(),
		}
		if exec.Mode == "" {
			exec.Mode = domain.ModeManual
		}
		err = e.executions.Create(ctx, exec)
		if errors.Is(err, repo.ErrAlreadyExists) {
			exec, err = e.executions.GetByID(ctx, job.ExecutionID)
		}
	}
	if err != nil {
		return nil, nil, infraError("load execution", err)
	}

	switch {
	case exec.IsFinished():
		return exec, replayOutcome(exec), nil

	case exec.Status == domain.ExecutionStatusPending:
		startedAt := time.Now()
		err := e.executions.Start(ctx, exec.ID, startedAt)
		if errors.Is(err, repo.ErrInvalidState) {
			// Статус изменился параллельно: отмена или другой воркер
			return e.reacquire(ctx, exec.ID)
		}
		if err != nil {
			return nil, nil, infraError("start execution", err)
		}
		exec.Status = domain.ExecutionStatusRunning
		exec.StartedAt = &startedAt
	}

	if exec.TriggerData == nil {
		exec.TriggerData = make(map[string]any)
	}
	return exec, nil, nil
}

func (e *Engine) reacquire(ctx context.Context, id uuid.UUID) (*domain.Execution, *Outcome, error) {
	exec, err := e.executions.GetByID(ctx, id)
	if err != nil {
		return nil, nil, infraError("reload execution", err)
	}
	if exec.IsFinished() {
		return exec, replayOutcome(exec), nil
	}
	return exec, nil, nil
}

// Abandon помечает незавершённое выполнение как FAILED с текстом reason.
//
// Используется, когда выполнение не будет продолжено: ошибка валидации
// или задание отправлено в DLQ. Завершённые и отсутствующие выполнения
// не изменяются.
func (e *Engine) Abandon(ctx context.Context, id uuid.UUID, reason error) error {
	if id == uuid.Nil {
		return nil
	}
	exec, err := e.executions.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return infraError("load execution", err)
	}
	if exec.IsFinished() {
		return nil
	}

	exec.MarkFailed(exec.NodeResults, &domain.ExecutionError{Message: reason.Error()})
	if err := e.executions.Finalize(ctx, exec); err != nil && !errors.Is(err, repo.ErrInvalidState) {
		return infraError("finalize execution", err)
	}
	telemetry.ExecutionsTotal.WithLabelValues(string(domain.ExecutionStatusFailed)).Inc()
	return nil
}

// finalize сохраняет итог выполнения.
func (e *Engine) finalize(ctx context.Context, state *runState) (*Outcome, error) {
	state.finish()
	exec := state.execution

	err := e.executions.Finalize(ctx, exec)
	if errors.Is(err, repo.ErrInvalidState) {
		// Отмена записана после последней проверки статуса
		return e.canceledOutcome(state), nil
	}
	if err != nil {
		return nil, infraError("finalize execution", err)
	}

	if err := e.workflows.RecordExecution(ctx, state.workflow.ID, *exec.StoppedAt); err != nil {
		state.logger.Warn("failed to record workflow stats", "error", err)
	}

	telemetry.ExecutionsTotal.WithLabelValues(string(exec.Status)).Inc()
	state.logger.Info("execution finished",
		"status", exec.Status,
		"duration_ms", exec.DurationMs,
		"errors", len(state.ectx.Errors()),
	)
	return state.outcome(), nil
}

func (e *Engine) canceledOutcome(state *runState) *Outcome {
	state.execution.Status = domain.ExecutionStatusCanceled
	state.logger.Info("execution canceled", "completed_nodes", len(state.ectx.AllResults()))
	out := state.outcome()
	out.Success = false
	return out
}

func replayOutcome(exec *domain.Execution) *Outcome {
	results := exec.NodeResults
	if results == nil {
		results = make(map[string]domain.NodeResult)
	}
	out := &Outcome{
		ExecutionID: exec.ID,
		Status:      exec.Status,
		Success:     exec.Status == domain.ExecutionStatusSuccess,
		Results:     results,
		Replayed:    true,
	}
	for id, r := range results {
		if !r.Success && r.Error != nil {
			out.Errors = append(out.Errors, engine.NodeErrorEntry{NodeID: id, Error: r.Error})
		}
	}
	return out
}

// Cancel отменяет PENDING или RUNNING выполнение.
// Выполняющийся узел не прерывается: оркестратор остановится на следующей границе узлов.
func (e *Engine) Cancel(ctx context.Context, executionID uuid.UUID) error {
	err := e.executions.Cancel(ctx, executionID, time.Now())
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return ErrExecutionNotFound
	case errors.Is(err, repo.ErrInvalidState):
		return ErrAlreadyFinished
	case err != nil:
		return infraError("cancel execution", err)
	}

	telemetry.ExecutionsTotal.WithLabelValues(string(domain.ExecutionStatusCanceled)).Inc()
	e.logger.Info("execution canceled", "execution_id", executionID)
	return nil
}
