package worker

import "errors"

var (
	// ErrRetryExhausted: все попытки задания исчерпаны.
	ErrRetryExhausted = errors.New("job attempts exhausted")

	// ErrJobRejected: задание не может быть выполнено (невалидный workflow,
	// workflow не найден).
	ErrJobRejected = errors.New("job rejected")
)
