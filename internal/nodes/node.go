package nodes

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
)

// Ошибки узлов.
var (
	// ErrUnknownType: тип узла не найден в реестре.
	ErrUnknownType = errors.New("Unknown node type")

	// ErrInvalidParams: параметры узла не прошли проверку.
	ErrInvalidParams = errors.New("invalid node parameters")

	// ErrTimeout: узел превысил таймаут.
	ErrTimeout = errors.New("node execution timeout")

	// ErrNotSupported: триггер не поддерживает данный способ запуска.
	ErrNotSupported = errors.New("trigger mode not supported")
)

// Node: реализация типа узла.
//
// Узел получает уже подставленные параметры и возвращает данные результата.
// Ошибка узла никогда не выходит за пределы реестра: Registry.Execute
// превращает её в неуспешный domain.NodeResult.
type Node interface {
	// Type возвращает ключ типа в реестре.
	Type() string

	// Execute выполняет узел. Узел должен проверять ctx.Done().
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request: входные данные для выполнения узла.
type Request struct {
	// NodeID: идентификатор узла в workflow.
	NodeID string

	// Params: параметры узла после подстановки переменных.
	Params map[string]any

	// Input: вход узла (выход источника первого входящего ребра).
	Input map[string]any

	// Trigger: payload триггера выполнения.
	Trigger map[string]any

	// Nodes: выходы ранее выполненных узлов (nodeID → data).
	Nodes map[string]map[string]any

	// Completed: ID выполненных узлов в порядке выполнения.
	Completed []string

	// Credentials: расшифрованные credentials узла, если заданы.
	Credentials map[string]any

	// Settings: настройки выполнения узла.
	Settings *domain.NodeSettings

	// Timeout: таймаут одной попытки. 0 означает значение по умолчанию узла.
	Timeout time.Duration
}

// Response: результат выполнения узла.
type Response struct {
	// Data: выходные данные. Доступны следующим узлам через {{$node.id.path}}.
	Data map[string]any

	// Attempt: номер последней попытки. 0 трактуется как 1.
	Attempt int
}

// NewResponse создаёт Response с данными.
func NewResponse(data map[string]any) *Response {
	if data == nil {
		data = make(map[string]any)
	}
	return &Response{Data: data}
}

// Param извлекает строковый параметр.
func (r *Request) Param(key string) string {
	return GetString(r.Params, key)
}

// Scope возвращает данные, доступные выражениям узлов: input, trigger, nodes.
func (r *Request) Scope() map[string]any {
	nodes := make(map[string]any, len(r.Nodes))
	for id, data := range r.Nodes {
		nodes[id] = data
	}
	input := r.Input
	if input == nil {
		input = map[string]any{}
	}
	trigger := r.Trigger
	if trigger == nil {
		trigger = map[string]any{}
	}
	return map[string]any{
		"input":   input,
		"trigger": trigger,
		"nodes":   nodes,
	}
}

// GetString извлекает строковое значение.
func GetString(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetInt извлекает числовое значение.
func GetInt(params map[string]any, key string) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		case string:
			if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				return i
			}
		}
	}
	return 0
}

// GetFloat извлекает числовое значение с дробной частью.
func GetFloat(params map[string]any, key string) (float64, bool) {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case float64:
			return n, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// GetBool извлекает булево значение.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetMap извлекает вложенный объект.
func GetMap(params map[string]any, key string) map[string]any {
	if v, ok := params[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// GetStringMap извлекает map[string]string.
func GetStringMap(params map[string]any, key string) map[string]string {
	if v, ok := params[key]; ok {
		switch m := v.(type) {
		case map[string]string:
			return m
		case map[string]any:
			result := make(map[string]string, len(m))
			for k, val := range m {
				if s, ok := val.(string); ok {
					result[k] = s
				}
			}
			return result
		}
	}
	return nil
}

// GetSlice извлекает массив.
func GetSlice(params map[string]any, key string) []any {
	if v, ok := params[key]; ok {
		switch s := v.(type) {
		case []any:
			return s
		case []string:
			out := make([]any, len(s))
			for i, item := range s {
				out[i] = item
			}
			return out
		}
	}
	return nil
}
