package repo

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/conveyor/internal/domain"
)

// StepRepo: журнал шагов выполнения.
type StepRepo struct {
	pool *pgxpool.Pool
}

// NewStepRepo создаёт новый StepRepo.
func NewStepRepo(pool *pgxpool.Pool) *StepRepo {
	return &StepRepo{pool: pool}
}

// Upsert создаёт шаг или обновляет существующий по (execution_id, node_id).
// При обновлении сохраняется исходный ID строки.
func (r *StepRepo) Upsert(ctx context.Context, step *domain.StepResult) error {
	inputJSON, err := json.Marshal(step.Input)
	if err != nil {
		return fmt.Errorf("marshal step input: %w", err)
	}
	outputJSON, err := json.Marshal(step.Output)
	if err != nil {
		return fmt.Errorf("marshal step output: %w", err)
	}

	query := `
		INSERT INTO step_results (id, execution_id, node_id, node_name, node_type, status,
		                          input, output, error, attempt, started_at, completed_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (execution_id, node_id) DO UPDATE
		SET status = EXCLUDED.status, input = EXCLUDED.input, output = EXCLUDED.output,
		    error = EXCLUDED.error, attempt = EXCLUDED.attempt, started_at = EXCLUDED.started_at,
		    completed_at = EXCLUDED.completed_at, duration_ms = EXCLUDED.duration_ms
		RETURNING id
	`
	err = r.pool.QueryRow(ctx, query,
		step.ID,
		step.ExecutionID,
		step.NodeID,
		nullString(step.NodeName),
		step.NodeType,
		step.Status,
		inputJSON,
		outputJSON,
		nullString(step.Error),
		step.Attempt,
		step.StartedAt,
		step.CompletedAt,
		step.DurationMs,
	).Scan(&step.ID)
	if err != nil {
		return fmt.Errorf("upsert step: %w", err)
	}
	return nil
}

// ListByExecution возвращает шаги выполнения в порядке создания.
func (r *StepRepo) ListByExecution(ctx context.Context, executionID uuid.UUID) ([]domain.StepResult, error) {
	query := `
		SELECT id, execution_id, node_id, node_name, node_type, status, input, output,
		       error, attempt, started_at, completed_at, duration_ms
		FROM step_results
		WHERE execution_id = $1
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.StepResult
	for rows.Next() {
		var (
			s          domain.StepResult
			nodeName   *string
			stepError  *string
			inputJSON  []byte
			outputJSON []byte
		)
		if err := rows.Scan(
			&s.ID,
			&s.ExecutionID,
			&s.NodeID,
			&nodeName,
			&s.NodeType,
			&s.Status,
			&inputJSON,
			&outputJSON,
			&stepError,
			&s.Attempt,
			&s.StartedAt,
			&s.CompletedAt,
			&s.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}

		s.NodeName = derefString(nodeName)
		s.Error = derefString(stepError)
		if inputJSON != nil {
			if err := json.Unmarshal(inputJSON, &s.Input); err != nil {
				return nil, fmt.Errorf("unmarshal step input: %w", err)
			}
		}
		if outputJSON != nil {
			if err := json.Unmarshal(outputJSON, &s.Output); err != nil {
				return nil, fmt.Errorf("unmarshal step output: %w", err)
			}
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}
