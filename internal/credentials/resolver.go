package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
)

// ErrNotFound: credentials не найдены или принадлежат другой организации.
var ErrNotFound = errors.New("credential not found")

// Store: источник зашифрованных credentials.
type Store interface {
	GetCredential(ctx context.Context, orgID, id uuid.UUID) (*domain.Credential, error)
}

// Resolver загружает и расшифровывает credentials узлов.
type Resolver struct {
	store  Store
	vault  *Vault
	logger *slog.Logger
}

// NewResolver создаёт Resolver.
func NewResolver(store Store, vault *Vault, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  store,
		vault:  vault,
		logger: logger.With("component", "credentials"),
	}
}

// Resolve возвращает расшифрованные данные credentials.
// Любая ошибка оборачивается в *CredentialError.
func (r *Resolver) Resolve(ctx context.Context, orgID, id uuid.UUID) (map[string]any, error) {
	cred, err := r.store.GetCredential(ctx, orgID, id)
	if err != nil {
		return nil, &CredentialError{CredentialID: id, Err: err}
	}
	if cred == nil || cred.OrganizationID != orgID {
		return nil, &CredentialError{CredentialID: id, Err: ErrNotFound}
	}

	plaintext, err := r.vault.Decrypt(cred.Data)
	if err != nil {
		r.logger.Warn("credential decrypt failed", "credential_id", id, "error", err)
		return nil, &CredentialError{CredentialID: id, Err: err}
	}

	var data map[string]any
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, &CredentialError{CredentialID: id, Err: fmt.Errorf("decode credential data: %w", err)}
	}
	if data == nil {
		data = make(map[string]any)
	}
	return data, nil
}

// Seal шифрует данные credentials для сохранения.
func (r *Resolver) Seal(data map[string]any) ([]byte, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode credential data: %w", err)
	}
	return r.vault.Encrypt(plaintext)
}
