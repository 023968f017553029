package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionMode: источник запуска выполнения.
type ExecutionMode string

const (
	ModeManual  ExecutionMode = "manual"
	ModeWebhook ExecutionMode = "webhook"
	ModeCron    ExecutionMode = "cron"
	ModeEvent   ExecutionMode = "event"
	ModeAPI     ExecutionMode = "api"
	ModeRetry   ExecutionMode = "retry"
)

// Execution: экземпляр выполнения workflow.
//
// Execution создаётся при постановке задания в очередь (статус PENDING)
// и обновляется оркестратором при выполнении.
// Повтор неуспешного выполнения создаёт новый Execution с RetryOf.
type Execution struct {
	ID             uuid.UUID `json:"id"`
	WorkflowID     uuid.UUID `json:"workflow_id"`
	OrganizationID uuid.UUID `json:"organization_id"`

	// Status: текущий статус выполнения.
	Status ExecutionStatus `json:"status"`

	// Mode: способ запуска (manual, webhook, cron, ...).
	Mode ExecutionMode `json:"mode"`

	// TriggeredBy: кто или что инициировало запуск (user id, schedule id).
	TriggeredBy string `json:"triggered_by,omitempty"`

	// TriggerData: payload триггера.
	TriggerData map[string]any `json:"trigger_data,omitempty"`

	// NodeResults: результаты выполненных узлов (nodeID → результат).
	// Пропущенные узлы сюда не попадают.
	NodeResults map[string]NodeResult `json:"node_results,omitempty"`

	// Error: первая ошибка выполнения (для FAILED).
	Error *ExecutionError `json:"error,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`

	// RetryOf: исходное выполнение, если это повтор.
	RetryOf    *uuid.UUID `json:"retry_of,omitempty"`
	RetryCount int        `json:"retry_count"`

	CreatedAt time.Time `json:"created_at"`
}

// ExecutionError: ошибка, завершившая выполнение.
type ExecutionError struct {
	Message string `json:"message"`
	NodeID  string `json:"node_id,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// IsFinished возвращает true, если выполнение завершено (в любом статусе).
func (e *Execution) IsFinished() bool {
	return e.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.StoppedAt == nil {
		return 0
	}
	return e.StoppedAt.Sub(*e.StartedAt)
}

// MarkRunning переводит выполнение в статус RUNNING.
func (e *Execution) MarkRunning() {
	now := time.Now()
	e.Status = ExecutionStatusRunning
	e.StartedAt = &now
}

// MarkSucceeded переводит выполнение в статус SUCCESS.
func (e *Execution) MarkSucceeded(results map[string]NodeResult) {
	e.NodeResults = results
	e.Error = nil
	e.stop(ExecutionStatusSuccess)
}

// MarkFailed переводит выполнение в статус FAILED.
func (e *Execution) MarkFailed(results map[string]NodeResult, execErr *ExecutionError) {
	e.NodeResults = results
	e.Error = execErr
	e.stop(ExecutionStatusFailed)
}

// MarkCanceled переводит выполнение в статус CANCELED.
func (e *Execution) MarkCanceled() {
	e.stop(ExecutionStatusCanceled)
}

func (e *Execution) stop(status ExecutionStatus) {
	now := time.Now()
	e.Status = status
	e.StoppedAt = &now
	if e.StartedAt != nil {
		e.DurationMs = now.Sub(*e.StartedAt).Milliseconds()
	}
}

// NewRetry создаёт PENDING выполнение, повторяющее e.
func (e *Execution) NewRetry(triggeredBy string) *Execution {
	parent := e.ID
	return &Execution{
		ID:             uuid.New(),
		WorkflowID:     e.WorkflowID,
		OrganizationID: e.OrganizationID,
		Status:         ExecutionStatusPending,
		Mode:           ModeRetry,
		TriggeredBy:    triggeredBy,
		TriggerData:    e.TriggerData,
		RetryOf:        &parent,
		RetryCount:     e.RetryCount + 1,
		CreatedAt:      time.Now(),
	}
}
