package trigger

import "errors"

var (
	// ErrWorkflowNotFound: workflow не существует.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowInactive: неактивный workflow не запускается автоматически.
	ErrWorkflowInactive = errors.New("workflow is not active")

	// ErrExecutionNotFound: повторяемое выполнение не найдено.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrNotRetryable: повторить можно только FAILED или CANCELED выполнение.
	ErrNotRetryable = errors.New("only failed or canceled executions can be retried")
)
