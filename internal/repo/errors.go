package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound: запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists: запись с таким ID уже существует.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState: условное обновление не применилось: запись уже
	// в другом статусе (например, выполнение отменено или завершено).
	ErrInvalidState = errors.New("invalid state")
)
