package nodes

import (
	"context"
	"strings"
	"time"
)

// Типы триггеров.
const (
	TypeManualTrigger   = "manual-trigger"
	TypeWebhookTrigger  = "webhook-trigger"
	TypeCronTrigger     = "cron-trigger"
	TypeScheduleTrigger = "schedule-trigger"
	TypeEventTrigger    = "event-trigger"
)

// WebhookRequest: входящий HTTP запрос, запустивший workflow.
type WebhookRequest struct {
	Method  string
	Headers map[string]string
	Query   map[string]string
	Body    any
}

// Trigger: узел, производящий начальный payload выполнения.
type Trigger interface {
	Node

	// Manual формирует payload ручного запуска.
	Manual(ctx context.Context, data map[string]any) (map[string]any, error)

	// Webhook формирует payload из входящего запроса.
	Webhook(ctx context.Context, req WebhookRequest) (map[string]any, error)

	// Poll формирует payload запуска по расписанию.
	Poll(ctx context.Context, params map[string]any, now time.Time) (map[string]any, error)
}

// triggerMode: способы запуска, которые принимает триггер.
type triggerMode uint8

const (
	modeManual triggerMode = 1 << iota
	modeWebhook
	modePoll
)

// TriggerNode: узел-триггер.
//
// При выполнении в графе возвращает свой вход: для узла без входящих рёбер
// это payload триггера.
type TriggerNode struct {
	typ   string
	modes triggerMode
}

// newTriggerNode создаёт триггер. Ручной запуск разрешён всегда.
func newTriggerNode(typ string, modes triggerMode) *TriggerNode {
	return &TriggerNode{typ: typ, modes: modes | modeManual}
}

// Type возвращает тип узла.
func (t *TriggerNode) Type() string {
	return t.typ
}

// Execute возвращает payload триггера.
func (t *TriggerNode) Execute(_ context.Context, req *Request) (*Response, error) {
	data := make(map[string]any, len(req.Input))
	for k, v := range req.Input {
		data[k] = v
	}
	return NewResponse(data), nil
}

// Manual возвращает данные ручного запуска без изменений.
func (t *TriggerNode) Manual(_ context.Context, data map[string]any) (map[string]any, error) {
	if data == nil {
		data = make(map[string]any)
	}
	return data, nil
}

// Webhook формирует payload {method, headers, query, body}.
func (t *TriggerNode) Webhook(_ context.Context, req WebhookRequest) (map[string]any, error) {
	if t.modes&modeWebhook == 0 {
		return nil, ErrNotSupported
	}

	headers := make(map[string]any, len(req.Headers))
	for k, v := range req.Headers {
		headers[strings.ToLower(k)] = v
	}
	query := make(map[string]any, len(req.Query))
	for k, v := range req.Query {
		query[k] = v
	}

	return map[string]any{
		"method":  req.Method,
		"headers": headers,
		"query":   query,
		"body":    req.Body,
	}, nil
}

// Poll формирует payload запуска по расписанию:
// {trigger, cron, timezone, triggered_at}.
func (t *TriggerNode) Poll(_ context.Context, params map[string]any, now time.Time) (map[string]any, error) {
	if t.modes&modePoll == 0 {
		return nil, ErrNotSupported
	}

	payload := map[string]any{
		"trigger":      "schedule",
		"triggered_at": now.UTC().Format(time.RFC3339),
	}
	if cron := GetString(params, "cron"); cron != "" {
		payload["cron"] = cron
	}
	if tz := GetString(params, "timezone"); tz != "" {
		payload["timezone"] = tz
	}
	for k, v := range GetMap(params, "data") {
		payload[k] = v
	}
	return payload, nil
}

var _ Trigger = (*TriggerNode)(nil)
