package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const (
	keySize           = 32
	defaultIterations = 100_000
)

// VaultConfig: параметры ключа шифрования.
// MasterKey имеет приоритет над Passphrase + Salt.
type VaultConfig struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int
}

// ConfigFromEnv читает CONVEYOR_MASTER_KEY или CONVEYOR_PASSPHRASE + CONVEYOR_SALT.
func ConfigFromEnv() (VaultConfig, error) {
	var cfg VaultConfig
	if raw := os.Getenv("CONVEYOR_MASTER_KEY"); raw != "" {
		key, err := decodeKey(raw)
		if err != nil {
			return cfg, err
		}
		cfg.MasterKey = key
		return cfg, nil
	}
	cfg.Passphrase = os.Getenv("CONVEYOR_PASSPHRASE")
	cfg.Salt = []byte(os.Getenv("CONVEYOR_SALT"))
	return cfg, nil
}

// decodeKey принимает 32-байтный ключ в hex или base64.
func decodeKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if key, err := hex.DecodeString(raw); err == nil && len(key) == keySize {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil && len(key) == keySize {
		return key, nil
	}
	return nil, fmt.Errorf("%w: expected 32 bytes in hex or base64", ErrInvalidKey)
}

// Vault шифрует и расшифровывает данные AES-256-GCM.
type Vault struct {
	aead cipher.AEAD
}

// NewVault создаёт Vault.
func NewVault(cfg VaultConfig) (*Vault, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

func deriveKey(cfg VaultConfig) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != keySize {
			return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidKey, keySize, len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, ErrNoKey
	}
	if len(cfg.Salt) == 0 {
		return nil, fmt.Errorf("%w: salt is required with passphrase", ErrInvalidKey)
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = defaultIterations
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, keySize)
}

// Encrypt возвращает nonce || ciphertext.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt расшифровывает результат Encrypt.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := v.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrCiphertext)
	}
	plaintext, err := v.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return plaintext, nil
}
