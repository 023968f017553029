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

// CredentialRepo: репозиторий зашифрованных credentials.
// Расшифровкой занимается пакет credentials.
type CredentialRepo struct {
	pool *pgxpool.Pool
}

// NewCredentialRepo создаёт новый CredentialRepo.
func NewCredentialRepo(pool *pgxpool.Pool) *CredentialRepo {
	return &CredentialRepo{pool: pool}
}

// Create сохраняет credentials. Data должен быть уже зашифрован.
func (r *CredentialRepo) Create(ctx context.Context, c *domain.Credential) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO credentials (id, organization_id, name, type, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.OrganizationID, c.Name, c.Type, c.Data, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetCredential возвращает credentials организации вместе с шифротекстом.
func (r *CredentialRepo) GetCredential(ctx context.Context, orgID, id uuid.UUID) (*domain.Credential, error) {
	var c domain.Credential
	err := r.pool.QueryRow(ctx, `
		SELECT id, organization_id, name, type, data, created_at, updated_at
		FROM credentials
		WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Type, &c.Data, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &c, nil
}

// List возвращает credentials организации без данных.
func (r *CredentialRepo) List(ctx context.Context, orgID uuid.UUID) ([]domain.Credential, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, name, type, created_at, updated_at
		FROM credentials
		WHERE organization_id = $1
		ORDER BY name
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []domain.Credential
	for rows.Next() {
		var c domain.Credential
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Type, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// Delete удаляет credentials организации.
func (r *CredentialRepo) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM credentials WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
