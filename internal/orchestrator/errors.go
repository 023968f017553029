package orchestrator

import (
	"errors"
	"fmt"
)

// Ошибки оркестратора.
var (
	// ErrWorkflowNotFound: workflow не найден. Повтор задания бесполезен.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound: выполнение не найдено.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrAlreadyFinished: выполнение уже завершено и не может быть отменено.
	ErrAlreadyFinished = errors.New("execution already finished")
)

// InfrastructureError: сбой хранилища или очереди во время выполнения.
// Worker повторяет такие задания с экспоненциальной задержкой.
type InfrastructureError struct {
	Op  string
	Err error
}

// Error реализует интерфейс error.
func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure error: %s: %v", e.Op, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

func infraError(op string, err error) error {
	return &InfrastructureError{Op: op, Err: err}
}

// IsRetryable возвращает true для ошибок, после которых задание стоит повторить.
func IsRetryable(err error) bool {
	var infra *InfrastructureError
	return errors.As(err, &infra)
}
