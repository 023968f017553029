// Package credentials хранит и расшифровывает секреты организаций.
//
// Секреты лежат в таблице credentials в виде шифротекста AES-256-GCM
// (nonce || ciphertext). Ключ задаётся напрямую (CONVEYOR_MASTER_KEY, 32 байта
// в hex или base64) или выводится из пароля и соли через PBKDF2.
//
// Resolver используется оркестратором перед выполнением узла с credential_id:
// расшифрованный JSON объект становится источником плейсхолдеров {{credentials.x}}.
package credentials
