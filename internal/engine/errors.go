package engine

import (
	"errors"
	"strings"
)

// Ошибки валидации workflow.
var (
	// ErrInvalidWorkflow: базовая ошибка для невалидного графа.
	ErrInvalidWorkflow = errors.New("invalid workflow")

	// ErrCycleDetected: в графе есть цикл, топологический порядок невозможен.
	ErrCycleDetected = errors.New("Workflow contains a cycle (circular dependency)")

	// ErrInvalidDocument: документ workflow не соответствует схеме.
	ErrInvalidDocument = errors.New("invalid workflow document")
)

// ValidationError: ошибка валидации графа со списком всех нарушений.
type ValidationError struct {
	Errors []string
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return ErrInvalidWorkflow.Error()
	}
	return "Workflow validation failed: " + strings.Join(e.Errors, "; ")
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidWorkflow
}

// NewValidationError создаёт ошибку валидации.
func NewValidationError(errs ...string) *ValidationError {
	return &ValidationError{Errors: errs}
}
