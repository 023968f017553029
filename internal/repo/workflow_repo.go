package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/conveyor/internal/domain"
)

const workflowColumns = `id, organization_id, name, description, nodes, edges, triggers, settings,
	is_active, last_executed_at, execution_count, created_at, updated_at`

// WorkflowRepo: репозиторий workflow.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

// Create создаёт workflow.
func (r *WorkflowRepo) Create(ctx context.Context, wf *domain.Workflow) error {
	doc, err := marshalGraph(wf)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflows (id, organization_id, name, description, nodes, edges, triggers,
		                       settings, is_active, execution_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.pool.Exec(ctx, query,
		wf.ID,
		wf.OrganizationID,
		wf.Name,
		nullString(wf.Description),
		doc.nodes,
		doc.edges,
		doc.triggers,
		doc.settings,
		wf.IsActive,
		wf.ExecutionCount,
		wf.CreatedAt,
		wf.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetByID возвращает workflow по ID.
func (r *WorkflowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`
	return scanWorkflow(r.pool.QueryRow(ctx, query, id))
}

// List возвращает workflow с фильтрацией.
func (r *WorkflowRepo) List(ctx context.Context, filter WorkflowFilter) ([]domain.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE ($1::uuid IS NULL OR organization_id = $1)
		  AND ($2::boolean IS NULL OR is_active = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.OrganizationID),
		filter.Active,
		limitOrDefault(filter.Limit),
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	return workflows, rows.Err()
}

// Update обновляет граф и настройки workflow.
func (r *WorkflowRepo) Update(ctx context.Context, wf *domain.Workflow) error {
	doc, err := marshalGraph(wf)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflows
		SET name = $2, description = $3, nodes = $4, edges = $5, triggers = $6,
		    settings = $7, is_active = $8, updated_at = $9
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		wf.ID,
		wf.Name,
		nullString(wf.Description),
		doc.nodes,
		doc.edges,
		doc.triggers,
		doc.settings,
		wf.IsActive,
		wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordExecution обновляет статистику запусков.
func (r *WorkflowRepo) RecordExecution(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE workflows
		SET last_executed_at = $2, execution_count = execution_count + 1
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("record workflow execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// graphJSON: JSONB колонки workflow.
type graphJSON struct {
	nodes, edges, triggers, settings []byte
}

func marshalGraph(wf *domain.Workflow) (*graphJSON, error) {
	var (
		doc graphJSON
		err error
	)
	nodes := wf.Nodes
	if nodes == nil {
		nodes = []domain.Node{}
	}
	if doc.nodes, err = json.Marshal(nodes); err != nil {
		return nil, fmt.Errorf("marshal nodes: %w", err)
	}
	edges := wf.Edges
	if edges == nil {
		edges = []domain.Edge{}
	}
	if doc.edges, err = json.Marshal(edges); err != nil {
		return nil, fmt.Errorf("marshal edges: %w", err)
	}
	triggers := wf.Triggers
	if triggers == nil {
		triggers = []string{}
	}
	if doc.triggers, err = json.Marshal(triggers); err != nil {
		return nil, fmt.Errorf("marshal triggers: %w", err)
	}
	if doc.settings, err = json.Marshal(wf.Settings); err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	return &doc, nil
}

func scanWorkflow(row rowScanner) (*domain.Workflow, error) {
	var (
		wf          domain.Workflow
		description *string
		doc         graphJSON
	)

	err := row.Scan(
		&wf.ID,
		&wf.OrganizationID,
		&wf.Name,
		&description,
		&doc.nodes,
		&doc.edges,
		&doc.triggers,
		&doc.settings,
		&wf.IsActive,
		&wf.LastExecutedAt,
		&wf.ExecutionCount,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	wf.Description = derefString(description)
	if err := json.Unmarshal(doc.nodes, &wf.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(doc.edges, &wf.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	if err := json.Unmarshal(doc.triggers, &wf.Triggers); err != nil {
		return nil, fmt.Errorf("unmarshal triggers: %w", err)
	}
	if err := json.Unmarshal(doc.settings, &wf.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	return &wf, nil
}

// isUniqueViolation проверяет код ошибки PostgreSQL 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
