package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/conveyor/internal/domain"
)

// PolicyRepo: репозиторий политик включения узлов.
type PolicyRepo struct {
	pool *pgxpool.Pool
}

// NewPolicyRepo создаёт новый PolicyRepo.
func NewPolicyRepo(pool *pgxpool.Pool) *PolicyRepo {
	return &PolicyRepo{pool: pool}
}

// Set создаёт или обновляет политику.
func (r *PolicyRepo) Set(ctx context.Context, p *domain.NodePolicy) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO node_policies (organization_id, node_type, enabled, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, node_type) DO UPDATE
		SET enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at
	`, p.OrganizationID, p.NodeType, p.Enabled, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set node policy: %w", err)
	}
	return nil
}

// List возвращает политики организации.
func (r *PolicyRepo) List(ctx context.Context, orgID uuid.UUID) ([]domain.NodePolicy, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT organization_id, node_type, enabled, updated_at
		FROM node_policies
		WHERE organization_id = $1
		ORDER BY node_type
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list node policies: %w", err)
	}
	defer rows.Close()

	var policies []domain.NodePolicy
	for rows.Next() {
		var p domain.NodePolicy
		if err := rows.Scan(&p.OrganizationID, &p.NodeType, &p.Enabled, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan node policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// IsNodeEnabled возвращает true, если явного запрета нет.
func (r *PolicyRepo) IsNodeEnabled(ctx context.Context, orgID uuid.UUID, nodeType string) (bool, error) {
	var enabled bool
	err := r.pool.QueryRow(ctx, `
		SELECT enabled FROM node_policies WHERE organization_id = $1 AND node_type = $2
	`, orgID, nodeType).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get node policy: %w", err)
	}
	return enabled, nil
}
