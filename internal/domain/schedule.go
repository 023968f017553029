package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Schedule: расписание автоматического запуска workflow.
//
// Расписание привязано к узлу cron-trigger/schedule-trigger:
//   - по cron-выражению: "0 9 * * *" (каждый день в 9:00)
//   - по интервалу: каждые N секунд
//
// Scheduler проверяет next_due_at и ставит выполнение в очередь, когда время подошло.
type Schedule struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`

	// NodeID: узел-триггер, к которому относится расписание.
	NodeID string `json:"node_id,omitempty"`

	Name string `json:"name,omitempty"`

	// CronExpr: cron-выражение из пяти полей
	// ("минуты часы дни месяцы дни_недели").
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron_expr,omitempty"`

	// IntervalSec: интервал в секундах между запусками.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone: часовой пояс для вычисления времени. По умолчанию UTC.
	Timezone string `json:"timezone"`

	Enabled bool `json:"enabled"`

	// NextDueAt: время следующего запуска.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastExecutionID *uuid.UUID `json:"last_execution_id,omitempty"`

	// TriggerData: дополнительные данные, передаваемые в каждый запуск.
	TriggerData map[string]any `json:"trigger_data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCron возвращает true, если расписание использует cron-выражение.
func (s *Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval возвращает true, если расписание использует интервал.
func (s *Schedule) IsInterval() bool {
	return s.CronExpr == "" && s.IntervalSec > 0
}

// IsDue проверяет, пора ли запускать.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled || s.NextDueAt == nil {
		return false
	}
	return !now.Before(*s.NextDueAt)
}

// IdempotencyKey возвращает ключ текущего срабатывания: "{schedule_id}_{next_due_unix}".
// Один и тот же тик всегда даёт один и тот же ключ.
func (s *Schedule) IdempotencyKey() string {
	if s.NextDueAt == nil {
		return s.ID.String()
	}
	return fmt.Sprintf("%s_%d", s.ID, s.NextDueAt.Unix())
}

// RecordRun записывает информацию о запуске.
func (s *Schedule) RecordRun(executionID uuid.UUID, nextDue time.Time) {
	now := time.Now()
	s.LastRunAt = &now
	s.LastExecutionID = &executionID
	s.NextDueAt = &nextDue
	s.UpdatedAt = now
}
