package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
)

const defaultListLimit = 50

// WorkflowStore: хранилище workflow.
type WorkflowStore interface {
	Create(ctx context.Context, wf *domain.Workflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	List(ctx context.Context, filter WorkflowFilter) ([]domain.Workflow, error)
	Update(ctx context.Context, wf *domain.Workflow) error

	// RecordExecution обновляет last_executed_at и увеличивает execution_count.
	RecordExecution(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ExecutionStore: хранилище выполнений.
//
// Переходы статусов выполняются условными обновлениями: Start только из
// PENDING, Finalize и Cancel только из PENDING/RUNNING. Если условие не
// выполнено, возвращается ErrInvalidState.
type ExecutionStore interface {
	// Create создаёт выполнение. Существующий ID даёт ErrAlreadyExists.
	Create(ctx context.Context, exec *domain.Execution) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error)
	List(ctx context.Context, filter ExecutionFilter) ([]domain.Execution, error)

	// GetStatus читает только статус (проверка отмены между узлами).
	GetStatus(ctx context.Context, id uuid.UUID) (domain.ExecutionStatus, error)

	// Start переводит PENDING → RUNNING.
	Start(ctx context.Context, id uuid.UUID, startedAt time.Time) error

	// Finalize сохраняет итог выполнения, если оно ещё не завершено.
	Finalize(ctx context.Context, exec *domain.Execution) error

	// Cancel переводит PENDING/RUNNING → CANCELED.
	Cancel(ctx context.Context, id uuid.UUID, at time.Time) error
}

// StepStore: журнал шагов. Одна строка на пару (execution_id, node_id).
type StepStore interface {
	// Upsert создаёт или обновляет шаг по (execution_id, node_id).
	Upsert(ctx context.Context, step *domain.StepResult) error
	ListByExecution(ctx context.Context, executionID uuid.UUID) ([]domain.StepResult, error)
}

// ScheduleStore: хранилище расписаний.
type ScheduleStore interface {
	Create(ctx context.Context, s *domain.Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	List(ctx context.Context, filter ScheduleFilter) ([]domain.Schedule, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	Update(ctx context.Context, s *domain.Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error

	// RecordRun фиксирует запуск и сдвигает next_due_at.
	RecordRun(ctx context.Context, id, executionID uuid.UUID, runAt, nextDue time.Time) error
}

// CredentialStore: хранилище зашифрованных credentials.
type CredentialStore interface {
	Create(ctx context.Context, c *domain.Credential) error
	GetCredential(ctx context.Context, orgID, id uuid.UUID) (*domain.Credential, error)
	List(ctx context.Context, orgID uuid.UUID) ([]domain.Credential, error)
	Delete(ctx context.Context, orgID, id uuid.UUID) error
}

// PolicyStore: политики включения типов узлов.
type PolicyStore interface {
	Set(ctx context.Context, p *domain.NodePolicy) error
	List(ctx context.Context, orgID uuid.UUID) ([]domain.NodePolicy, error)

	// IsNodeEnabled возвращает false только при явной записи enabled=false.
	IsNodeEnabled(ctx context.Context, orgID uuid.UUID, nodeType string) (bool, error)
}

// Stores: набор хранилищ одного бэкенда (PostgreSQL или память).
type Stores struct {
	Workflows   WorkflowStore
	Executions  ExecutionStore
	Steps       StepStore
	Schedules   ScheduleStore
	Credentials CredentialStore
	Policies    PolicyStore
}

// WorkflowFilter: параметры фильтрации workflow.
type WorkflowFilter struct {
	OrganizationID *uuid.UUID
	Active         *bool
	Limit          int
	Offset         int
}

// ExecutionFilter: параметры фильтрации выполнений.
type ExecutionFilter struct {
	WorkflowID *uuid.UUID
	Status     domain.ExecutionStatus
	Limit      int
	Offset     int
}

// ScheduleFilter: параметры фильтрации расписаний.
type ScheduleFilter struct {
	WorkflowID *uuid.UUID
	Enabled    *bool
	Limit      int
	Offset     int
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// rowScanner: общий интерфейс pgx.Row и pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}

// nullInt возвращает nil для нулевого int.
func nullInt(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
