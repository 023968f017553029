package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/conveyor/internal/domain"
)

const executionColumns = `id, workflow_id, organization_id, status, mode, triggered_by, trigger_data,
	node_results, error, started_at, stopped_at, duration_ms, retry_of, retry_count, created_at`

// ExecutionRepo: репозиторий выполнений.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo создаёт новый ExecutionRepo.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

// Create создаёт выполнение.
func (r *ExecutionRepo) Create(ctx context.Context, exec *domain.Execution) error {
	triggerJSON, err := json.Marshal(exec.TriggerData)
	if err != nil {
		return fmt.Errorf("marshal trigger data: %w", err)
	}

	query := `
		INSERT INTO executions (id, workflow_id, organization_id, status, mode, triggered_by,
		                        trigger_data, retry_of, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		exec.ID,
		exec.WorkflowID,
		exec.OrganizationID,
		exec.Status,
		exec.Mode,
		nullString(exec.TriggeredBy),
		triggerJSON,
		nullUUID(exec.RetryOf),
		exec.RetryCount,
		exec.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetByID возвращает выполнение по ID.
func (r *ExecutionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`
	return scanExecution(r.pool.QueryRow(ctx, query, id))
}

// GetStatus возвращает статус выполнения.
func (r *ExecutionRepo) GetStatus(ctx context.Context, id uuid.UUID) (domain.ExecutionStatus, error) {
	var status domain.ExecutionStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM executions WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get execution status: %w", err)
	}
	return status, nil
}

// List возвращает выполнения с фильтрацией, новые первыми.
func (r *ExecutionRepo) List(ctx context.Context, filter ExecutionFilter) ([]domain.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE ($1::uuid IS NULL OR workflow_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.WorkflowID),
		nullString(string(filter.Status)),
		limitOrDefault(filter.Limit),
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *exec)
	}
	return executions, rows.Err()
}

// Start переводит выполнение из PENDING в RUNNING.
func (r *ExecutionRepo) Start(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE executions SET status = 'RUNNING', started_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`, id, startedAt)
	if err != nil {
		return fmt.Errorf("start execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.missingOrInvalid(ctx, id)
	}
	return nil
}

// Finalize сохраняет итог выполнения. Условие по статусу гарантирует,
// что отмена, записанная параллельно, не будет перезаписана.
func (r *ExecutionRepo) Finalize(ctx context.Context, exec *domain.Execution) error {
	resultsJSON, err := json.Marshal(exec.NodeResults)
	if err != nil {
		return fmt.Errorf("marshal node results: %w", err)
	}
	var errorJSON []byte
	if exec.Error != nil {
		if errorJSON, err = json.Marshal(exec.Error); err != nil {
			return fmt.Errorf("marshal execution error: %w", err)
		}
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE executions
		SET status = $2, node_results = $3, error = $4, started_at = $5,
		    stopped_at = $6, duration_ms = $7
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`,
		exec.ID,
		exec.Status,
		resultsJSON,
		errorJSON,
		exec.StartedAt,
		exec.StoppedAt,
		exec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.missingOrInvalid(ctx, exec.ID)
	}
	return nil
}

// Cancel отменяет незавершённое выполнение.
func (r *ExecutionRepo) Cancel(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE executions
		SET status = 'CANCELED', stopped_at = $2,
		    duration_ms = CASE WHEN started_at IS NULL THEN 0
		                       ELSE (EXTRACT(EPOCH FROM ($2 - started_at)) * 1000)::BIGINT END
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`, id, at)
	if err != nil {
		return fmt.Errorf("cancel execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.missingOrInvalid(ctx, id)
	}
	return nil
}

// missingOrInvalid различает отсутствующую запись и неподходящий статус.
func (r *ExecutionRepo) missingOrInvalid(ctx context.Context, id uuid.UUID) error {
	if _, err := r.GetStatus(ctx, id); err != nil {
		return err
	}
	return ErrInvalidState
}

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var (
		exec        domain.Execution
		triggeredBy *string
		triggerJSON []byte
		resultsJSON []byte
		errorJSON   []byte
	)

	err := row.Scan(
		&exec.ID,
		&exec.WorkflowID,
		&exec.OrganizationID,
		&exec.Status,
		&exec.Mode,
		&triggeredBy,
		&triggerJSON,
		&resultsJSON,
		&errorJSON,
		&exec.StartedAt,
		&exec.StoppedAt,
		&exec.DurationMs,
		&exec.RetryOf,
		&exec.RetryCount,
		&exec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	exec.TriggeredBy = derefString(triggeredBy)
	if triggerJSON != nil {
		if err := json.Unmarshal(triggerJSON, &exec.TriggerData); err != nil {
			return nil, fmt.Errorf("unmarshal trigger data: %w", err)
		}
	}
	if resultsJSON != nil {
		if err := json.Unmarshal(resultsJSON, &exec.NodeResults); err != nil {
			return nil, fmt.Errorf("unmarshal node results: %w", err)
		}
	}
	if errorJSON != nil {
		exec.Error = &domain.ExecutionError{}
		if err := json.Unmarshal(errorJSON, exec.Error); err != nil {
			return nil, fmt.Errorf("unmarshal execution error: %w", err)
		}
	}
	return &exec, nil
}
