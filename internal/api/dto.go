package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// ExecuteRequest: запрос на ручной запуск workflow.
type ExecuteRequest struct {
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	TriggeredBy string         `json:"triggered_by,omitempty"`
}

// CreateWorkflowResponse: созданный workflow и результат проверки графа.
type CreateWorkflowResponse struct {
	Workflow   *domain.Workflow        `json:"workflow"`
	Validation engine.ValidationResult `json:"validation"`
}

// CreateScheduleRequest: запрос на создание расписания.
type CreateScheduleRequest struct {
	Name        string         `json:"name,omitempty"`
	NodeID      string         `json:"node_id,omitempty"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     *bool          `json:"enabled,omitempty"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

// ToDomain конвертирует запрос в domain.Schedule.
// Часовой пояс по умолчанию берётся из настроек workflow, затем UTC.
func (r CreateScheduleRequest) ToDomain(wf *domain.Workflow) *domain.Schedule {
	tz := r.Timezone
	if tz == "" {
		tz = wf.Settings.Timezone
	}
	if tz == "" {
		tz = "UTC"
	}
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	now := time.Now()
	return &domain.Schedule{
		ID:          uuid.New(),
		WorkflowID:  wf.ID,
		NodeID:      r.NodeID,
		Name:        r.Name,
		CronExpr:    r.CronExpr,
		IntervalSec: r.IntervalSec,
		Timezone:    tz,
		Enabled:     enabled,
		TriggerData: r.TriggerData,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetEnabledRequest: включение или выключение расписания.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// CreateCredentialRequest: запрос на сохранение credentials.
// Data шифруется до записи и в ответах не возвращается.
type CreateCredentialRequest struct {
	OrganizationID uuid.UUID      `json:"organization_id"`
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	Data           map[string]any `json:"data"`
}

// SetPolicyRequest: включение типа узла для организации.
type SetPolicyRequest struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	Enabled        bool      `json:"enabled"`
}

// StepsResponse: шаги выполнения.
type StepsResponse struct {
	ExecutionID uuid.UUID              `json:"execution_id"`
	Status      domain.ExecutionStatus `json:"status"`
	Steps       []domain.StepResult    `json:"steps"`
}
