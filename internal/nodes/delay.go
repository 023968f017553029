package nodes

import (
	"context"
	"fmt"
	"time"
)

const (
	// TypeDelay: тип узла задержки.
	TypeDelay = "delay"

	defaultDelaySeconds = 5
)

// DelayNode: узел задержки.
//
// Приостанавливает выполнение на указанное время с учётом отмены контекста.
//
// Параметры:
//
//	{"duration": 10}        // секунды, по умолчанию 5
//	{"duration_ms": 1500}   // миллисекунды, имеет приоритет
//
// Результат: {"waited": 10, "unit": "seconds"}.
type DelayNode struct{}

// NewDelayNode создаёт узел задержки.
func NewDelayNode() *DelayNode {
	return &DelayNode{}
}

// Type возвращает тип узла.
func (n *DelayNode) Type() string {
	return TypeDelay
}

// Execute выполняет задержку.
func (n *DelayNode) Execute(ctx context.Context, req *Request) (*Response, error) {
	duration, out := parseDelay(req.Params)

	if err := sleepContext(ctx, duration); err != nil {
		return nil, fmt.Errorf("delay interrupted: %w", err)
	}
	return NewResponse(out), nil
}

func parseDelay(params map[string]any) (time.Duration, map[string]any) {
	if ms := GetInt(params, "duration_ms"); ms > 0 {
		return time.Duration(ms) * time.Millisecond, map[string]any{"waited": ms, "unit": "milliseconds"}
	}

	sec, ok := GetFloat(params, "duration")
	if !ok || sec < 0 {
		sec = defaultDelaySeconds
	}
	return time.Duration(sec * float64(time.Second)), map[string]any{"waited": sec, "unit": "seconds"}
}
