package credentials

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNoKey: не задан ни мастер-ключ, ни пароль.
	ErrNoKey = errors.New("either master key or passphrase is required")

	// ErrInvalidKey: мастер-ключ неверной длины или формата.
	ErrInvalidKey = errors.New("invalid master key")

	// ErrCiphertext: шифротекст повреждён или зашифрован другим ключом.
	ErrCiphertext = errors.New("decrypt failed")
)

// CredentialError: ошибка получения credentials для узла.
type CredentialError struct {
	CredentialID uuid.UUID
	Err          error
}

// Error реализует интерфейс error.
func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential %s: %v", e.CredentialID, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *CredentialError) Unwrap() error {
	return e.Err
}
