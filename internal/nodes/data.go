package nodes

import (
	"context"
	"fmt"
	"sync"

	"dario.cat/mergo"
	json "github.com/goccy/go-json"
	"github.com/itchyny/gojq"
)

// Типы узлов работы с данными.
const (
	TypeSetData    = "set-data"
	TypeTransform  = "transform"
	TypeJSONParser = "json-parser"
)

// SetDataNode: узел установки значений.
//
// Параметры:
//
//	{"values": {"status": "done", "user": {"id": "{{input.id}}"}}, "mode": "merge"}
//
// По умолчанию возвращает только values. mode=merge сливает values
// поверх входа узла (значения values побеждают).
type SetDataNode struct{}

// NewSetDataNode создаёт узел set-data.
func NewSetDataNode() *SetDataNode {
	return &SetDataNode{}
}

// Type возвращает тип узла.
func (n *SetDataNode) Type() string {
	return TypeSetData
}

// Execute формирует выходные данные.
func (n *SetDataNode) Execute(_ context.Context, req *Request) (*Response, error) {
	values := GetMap(req.Params, "values")
	if values == nil {
		values = map[string]any{}
	}

	if GetString(req.Params, "mode") != "merge" {
		return NewResponse(deepCopyMap(values)), nil
	}

	out := deepCopyMap(req.Input)
	if err := mergo.Merge(&out, deepCopyMap(values), mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge values: %w", err)
	}
	return NewResponse(out), nil
}

// TransformNode: узел преобразования данных запросом jq.
//
// Параметры: {"query": ".input.items | map(.id)"}.
// Запрос выполняется над {input, trigger, nodes}. Результат: {"result": ...}.
// Если результат является объектом и as_object=true, он возвращается как есть.
type TransformNode struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewTransformNode создаёт узел transform.
func NewTransformNode() *TransformNode {
	return &TransformNode{cache: make(map[string]*gojq.Code)}
}

// Type возвращает тип узла.
func (n *TransformNode) Type() string {
	return TypeTransform
}

// Execute выполняет jq запрос.
func (n *TransformNode) Execute(ctx context.Context, req *Request) (*Response, error) {
	query := req.Param("query")
	if query == "" {
		return nil, fmt.Errorf("%w: %s: query is required", ErrInvalidParams, TypeTransform)
	}

	code, err := n.compile(query)
	if err != nil {
		return nil, err
	}

	scope, ok := normalizeJSON(req.Scope()).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("transform scope is not an object")
	}

	iter := code.RunWithContext(ctx, scope)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq evaluation failed: %w", err)
		}
		results = append(results, v)
	}

	var result any
	switch len(results) {
	case 0:
		result = nil
	case 1:
		result = results[0]
	default:
		result = results
	}

	if m, ok := result.(map[string]any); ok && GetBool(req.Params, "as_object", false) {
		return NewResponse(m), nil
	}
	return NewResponse(map[string]any{"result": result}), nil
}

func (n *TransformNode) compile(query string) (*gojq.Code, error) {
	n.mu.RLock()
	if code, ok := n.cache[query]; ok {
		n.mu.RUnlock()
		return code, nil
	}
	n.mu.RUnlock()

	n.mu.Lock()
	defer n.mu.Unlock()

	if code, ok := n.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("%w: jq parse error: %v", ErrInvalidParams, err)
	}
	code, err := gojq.Compile(parsed,
		// $ENV недоступен
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: jq compile error: %v", ErrInvalidParams, err)
	}

	n.cache[query] = code
	return code, nil
}

// JSONParserNode: узел разбора JSON строки.
//
// Параметры:
//
//	{"json": "{\"a\": 1}"}   // строка для разбора
//	{"field": "body"}        // или поле входа узла
//
// Результат: {"data": <разобранное значение>}. Объект также
// раскрывается в верхний уровень, если flatten=true.
type JSONParserNode struct{}

// NewJSONParserNode создаёт узел json-parser.
func NewJSONParserNode() *JSONParserNode {
	return &JSONParserNode{}
}

// Type возвращает тип узла.
func (n *JSONParserNode) Type() string {
	return TypeJSONParser
}

// Execute разбирает JSON.
func (n *JSONParserNode) Execute(_ context.Context, req *Request) (*Response, error) {
	raw, ok := req.Params["json"].(string)
	if !ok {
		field := req.Param("field")
		if field == "" {
			return nil, fmt.Errorf("%w: %s: json or field is required", ErrInvalidParams, TypeJSONParser)
		}
		raw, ok = req.Input[field].(string)
		if !ok {
			return nil, fmt.Errorf("input field %q is not a string", field)
		}
	}

	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	if m, isMap := parsed.(map[string]any); isMap && GetBool(req.Params, "flatten", false) {
		return NewResponse(m), nil
	}
	return NewResponse(map[string]any{"data": parsed}), nil
}

// deepCopyMap копирует вложенные map и slice.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return deepCopy(m).(map[string]any)
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

// normalizeJSON приводит числа к float64, как ожидают jq и expr.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeJSON(item)
		}
		return out
	case map[string]map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeJSON(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}
