package domain

import (
	"time"

	"github.com/google/uuid"
)

// Виды ошибок узла.
const (
	ErrorKindExecution     = "node_execution"
	ErrorKindTimeout       = "timeout"
	ErrorKindCredential    = "credential"
	ErrorKindDisabled      = "disabled"
	ErrorKindUnknownType   = "unknown_type"
	ErrorKindInvalidParams = "invalid_params"
)

// NodeResult: результат выполнения одного узла.
type NodeResult struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   *NodeError     `json:"error,omitempty"`

	// Attempt: номер последней попытки (для узлов с внутренними повторами).
	Attempt int `json:"attempt,omitempty"`
}

// NodeError: ошибка узла.
type NodeError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Error реализует интерфейс error.
func (e *NodeError) Error() string {
	return e.Message
}

// Path возвращает выбранную ветку узла-условия ("true", "false", путь switch).
// Для узлов других категорий значение ветки не выбирает.
func (r NodeResult) Path() string {
	if r.Data == nil {
		return ""
	}
	p, _ := r.Data["path"].(string)
	return p
}

// Succeeded создаёт успешный результат.
func Succeeded(data map[string]any) NodeResult {
	if data == nil {
		data = make(map[string]any)
	}
	return NodeResult{Success: true, Data: data, Attempt: 1}
}

// Failed создаёт неуспешный результат.
func Failed(kind, message string) NodeResult {
	return NodeResult{Error: &NodeError{Kind: kind, Message: message}, Attempt: 1}
}

// StepResult: журнал выполнения узла (одна строка на пару execution/node).
type StepResult struct {
	ID          uuid.UUID      `json:"id"`
	ExecutionID uuid.UUID      `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	NodeName    string         `json:"node_name,omitempty"`
	NodeType    string         `json:"node_type"`
	Status      StepStatus     `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempt     int            `json:"attempt"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

// NewStepResult создаёт журнал для узла в статусе pending.
func NewStepResult(executionID uuid.UUID, node *Node) *StepResult {
	return &StepResult{
		ID:          uuid.New(),
		ExecutionID: executionID,
		NodeID:      node.ID,
		NodeName:    node.Name,
		NodeType:    node.Type,
		Status:      StepStatusPending,
	}
}

// MarkRunning переводит шаг в статус running.
func (s *StepResult) MarkRunning(input map[string]any) {
	now := time.Now()
	s.Status = StepStatusRunning
	s.Input = input
	s.StartedAt = &now
}

// MarkSkipped помечает шаг пропущенным (неактивная ветка).
func (s *StepResult) MarkSkipped() {
	now := time.Now()
	s.Status = StepStatusSkipped
	s.CompletedAt = &now
}

// Complete фиксирует результат узла.
func (s *StepResult) Complete(result NodeResult) {
	now := time.Now()
	s.CompletedAt = &now
	if s.StartedAt != nil {
		s.DurationMs = now.Sub(*s.StartedAt).Milliseconds()
	}
	s.Attempt = result.Attempt
	s.Output = result.Data
	if result.Success {
		s.Status = StepStatusSuccess
		return
	}
	s.Status = StepStatusFailed
	if result.Error != nil {
		s.Error = result.Error.Message
	}
}
