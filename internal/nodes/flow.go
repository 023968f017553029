package nodes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"dario.cat/mergo"
	"github.com/google/cel-go/cel"

	"github.com/shaiso/conveyor/internal/engine"
)

// Типы узлов управления потоком.
const (
	TypeIfCondition = "if-condition"
	TypeSwitch      = "switch"
	TypeSplit       = "split"
	TypeMerge       = "merge"
	TypeLoop        = "loop"

	defaultSplitBranches = 2
	switchDefaultPath    = "default"
)

// IfNode: узел условия.
//
// Параметр condition: булево значение, строка "true"/"false" или выражение CEL
// над переменными input, trigger, nodes:
//
//	{"condition": "input.status_code == 200 && size(input.body.items) > 0"}
//
// Результат: вход узла с добавленными {"condition": true, "path": "true"}.
// Рёбра с source_handle, не совпадающим с path, становятся неактивными.
type IfNode struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewIfNode создаёт узел if-condition.
func NewIfNode() (*IfNode, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	env, err := cel.NewEnv(
		cel.Variable("input", mapType),
		cel.Variable("trigger", mapType),
		cel.Variable("nodes", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &IfNode{env: env, cache: make(map[string]cel.Program)}, nil
}

// Type возвращает тип узла.
func (n *IfNode) Type() string {
	return TypeIfCondition
}

// Execute вычисляет условие.
func (n *IfNode) Execute(_ context.Context, req *Request) (*Response, error) {
	result, err := n.evaluate(req.Params["condition"], req.Scope())
	if err != nil {
		return nil, err
	}

	path := "false"
	if result {
		path = "true"
	}
	return NewResponse(passThrough(req.Input, map[string]any{"condition": result, "path": path})), nil
}

func (n *IfNode) evaluate(condition any, scope map[string]any) (bool, error) {
	switch c := condition.(type) {
	case nil:
		return false, nil
	case bool:
		return c, nil
	case string:
		expr := strings.TrimSpace(c)
		if expr == "" {
			return false, nil
		}
		if b, err := strconv.ParseBool(expr); err == nil {
			return b, nil
		}
		return n.eval(expr, scope)
	default:
		return false, fmt.Errorf("%w: condition must be a boolean or expression, got %T", ErrInvalidParams, condition)
	}
}

func (n *IfNode) eval(expr string, scope map[string]any) (bool, error) {
	prg, err := n.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(scope)
	if err != nil {
		return false, fmt.Errorf("condition evaluation failed for %q: %w", expr, err)
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q returned %T, expected bool", expr, out.Value())
	}
	return b, nil
}

func (n *IfNode) program(expr string) (cel.Program, error) {
	n.mu.RLock()
	if prg, ok := n.cache[expr]; ok {
		n.mu.RUnlock()
		return prg, nil
	}
	n.mu.RUnlock()

	n.mu.Lock()
	defer n.mu.Unlock()

	if prg, ok := n.cache[expr]; ok {
		return prg, nil
	}

	ast, issues := n.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: condition compile error in %q: %v", ErrInvalidParams, expr, issues.Err())
	}
	prg, err := n.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: condition program error for %q: %v", ErrInvalidParams, expr, err)
	}

	n.cache[expr] = prg
	return prg, nil
}

// SwitchNode: узел выбора ветки.
//
// Параметры:
//
//	{"value": "{{input.kind}}", "cases": [{"value": "a", "path": "route-a"}]}
//
// Выбирается первый case, строковое представление которого совпадает с value.
// Без совпадений path = "default". Вход узла передаётся дальше вместе с value и path.
type SwitchNode struct{}

// NewSwitchNode создаёт узел switch.
func NewSwitchNode() *SwitchNode {
	return &SwitchNode{}
}

// Type возвращает тип узла.
func (n *SwitchNode) Type() string {
	return TypeSwitch
}

// Execute выбирает ветку.
func (n *SwitchNode) Execute(_ context.Context, req *Request) (*Response, error) {
	value := req.Params["value"]
	if value == nil {
		value = ""
	}
	want := engine.Stringify(value)

	path := switchDefaultPath
	for i, raw := range GetSlice(req.Params, "cases") {
		c, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: case %d must be an object", ErrInvalidParams, i)
		}
		if engine.Stringify(c["value"]) == want {
			if p := GetString(c, "path"); p != "" {
				path = p
			} else {
				path = want
			}
			break
		}
	}

	return NewResponse(passThrough(req.Input, map[string]any{"value": value, "path": path})), nil
}

// SplitNode: узел разделения на ветки.
// Результат: {"type": "split", "branches": N}, N по умолчанию 2.
type SplitNode struct{}

// NewSplitNode создаёт узел split.
func NewSplitNode() *SplitNode {
	return &SplitNode{}
}

// Type возвращает тип узла.
func (n *SplitNode) Type() string {
	return TypeSplit
}

// Execute возвращает описание разделения.
func (n *SplitNode) Execute(_ context.Context, req *Request) (*Response, error) {
	branches := GetInt(req.Params, "branches")
	if branches <= 0 {
		branches = defaultSplitBranches
	}
	return NewResponse(map[string]any{"type": "split", "branches": branches}), nil
}

// MergeNode: узел объединения веток.
//
// Параметры:
//
//	{"branches": ["a", "b"]}   // узлы для объединения, по умолчанию все выполненные
//	{"mode": "combine"}        // слить объекты в один вместо сбора по ID
//
// Результат: вход узла с добавленными {"type": "merge", "merged": {"a": {...}, "b": {...}}}.
type MergeNode struct{}

// NewMergeNode создаёт узел merge.
func NewMergeNode() *MergeNode {
	return &MergeNode{}
}

// Type возвращает тип узла.
func (n *MergeNode) Type() string {
	return TypeMerge
}

// Execute собирает выходы веток.
func (n *MergeNode) Execute(_ context.Context, req *Request) (*Response, error) {
	ids := req.Completed
	if branches := GetSlice(req.Params, "branches"); len(branches) > 0 {
		ids = make([]string, 0, len(branches))
		for _, b := range branches {
			ids = append(ids, engine.Stringify(b))
		}
	}

	if GetString(req.Params, "mode") == "combine" {
		combined := map[string]any{}
		for _, id := range ids {
			data, ok := req.Nodes[id]
			if !ok {
				continue
			}
			if err := mergo.Merge(&combined, deepCopyMap(data), mergo.WithOverride, mergo.WithAppendSlice); err != nil {
				return nil, fmt.Errorf("combine %s: %w", id, err)
			}
		}
		return NewResponse(passThrough(req.Input, map[string]any{"type": "merge", "merged": combined})), nil
	}

	merged := make(map[string]any, len(ids))
	for _, id := range ids {
		if data, ok := req.Nodes[id]; ok {
			merged[id] = data
		}
	}
	return NewResponse(passThrough(req.Input, map[string]any{"type": "merge", "merged": merged})), nil
}

// LoopNode: узел перебора элементов.
//
// Параметры: {"items": [...]} или {"field": "rows"} (поле входа узла).
// Результат: вход узла с добавленными {"type": "loop", "results": [...], "count": N}.
type LoopNode struct{}

// NewLoopNode создаёт узел loop.
func NewLoopNode() *LoopNode {
	return &LoopNode{}
}

// Type возвращает тип узла.
func (n *LoopNode) Type() string {
	return TypeLoop
}

// Execute перебирает элементы.
func (n *LoopNode) Execute(_ context.Context, req *Request) (*Response, error) {
	items := GetSlice(req.Params, "items")
	if items == nil {
		if field := req.Param("field"); field != "" {
			items = GetSlice(req.Input, field)
		}
	}

	results := make([]any, 0, len(items))
	results = append(results, items...)

	return NewResponse(passThrough(req.Input, map[string]any{
		"type":    "loop",
		"results": results,
		"count":   len(results),
	})), nil
}

// passThrough копирует вход узла и накладывает поля узла поверх.
func passThrough(input, fields map[string]any) map[string]any {
	out := deepCopyMap(input)
	for k, v := range fields {
		out[k] = v
	}
	return out
}
