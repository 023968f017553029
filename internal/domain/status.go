package domain

// ExecutionStatus: статус выполнения workflow.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCESS
//	                  ↘ FAILED
//	          (или) → CANCELED (из PENDING или RUNNING)
//
// WAITING зарезервирован для пауз с ручным подтверждением и не используется движком.
type ExecutionStatus string

const (
	// ExecutionStatusPending: выполнение создано и ждёт воркера.
	ExecutionStatusPending ExecutionStatus = "PENDING"

	// ExecutionStatusRunning: оркестратор выполняет узлы.
	ExecutionStatusRunning ExecutionStatus = "RUNNING"

	// ExecutionStatusSuccess: все выполненные узлы завершились без ошибок.
	ExecutionStatusSuccess ExecutionStatus = "SUCCESS"

	// ExecutionStatusFailed: хотя бы один узел завершился с ошибкой.
	ExecutionStatusFailed ExecutionStatus = "FAILED"

	// ExecutionStatusCanceled: выполнение отменено пользователем.
	ExecutionStatusCanceled ExecutionStatus = "CANCELED"

	// ExecutionStatusWaiting: зарезервирован.
	ExecutionStatusWaiting ExecutionStatus = "WAITING"
)

// IsTerminal возвращает true, если статус финальный.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailed, ExecutionStatusCanceled:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус известен.
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusSuccess,
		ExecutionStatusFailed, ExecutionStatusCanceled, ExecutionStatusWaiting:
		return true
	default:
		return false
	}
}

// StepStatus: статус выполнения узла.
//
//	pending → running → success
//	                  ↘ failed
//	pending → skipped (все входящие ветки неактивны)
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSuccess, StepStatusFailed, StepStatusSkipped:
		return true
	default:
		return false
	}
}
