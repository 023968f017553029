package domain

import "github.com/google/uuid"

// ExecutionJob: сообщение очереди, запускающее выполнение workflow.
//
// Доставка at-least-once: оркестратор идемпотентен по ExecutionID.
type ExecutionJob struct {
	WorkflowID     uuid.UUID      `json:"workflow_id"`
	ExecutionID    uuid.UUID      `json:"execution_id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	TriggerData    map[string]any `json:"trigger_data,omitempty"`
	Mode           ExecutionMode  `json:"mode"`

	// Attempt: номер попытки обработки задания (начиная с 1).
	Attempt int `json:"attempt"`
}
