package domain

import (
	"time"

	"github.com/google/uuid"
)

// Credential: зашифрованные секреты организации (API-ключи, токены).
//
// Data хранит шифротекст AES-256-GCM. Расшифровка выполняется
// пакетом credentials непосредственно перед выполнением узла.
type Credential struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`

	// Type: тип credentials ("httpHeaderAuth", "apiKey", ...).
	Type string `json:"type"`

	Data []byte `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NodePolicy: разрешение типа узла для организации.
type NodePolicy struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	NodeType       string    `json:"node_type"`
	Enabled        bool      `json:"enabled"`
	UpdatedAt      time.Time `json:"updated_at"`
}
