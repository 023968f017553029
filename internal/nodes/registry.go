package nodes

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

type entry struct {
	def  domain.NodeDefinition
	node Node
}

// Registry: реестр типов узлов.
//
// Связывает ключ типа с определением (категория, схема параметров) и реализацией.
// Потокобезопасен.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	schemas *engine.SchemaValidator
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
		schemas: engine.NewSchemaValidator(),
	}
}

// Register регистрирует тип узла.
// Если тип уже существует, он будет перезаписан.
func (r *Registry) Register(def domain.NodeDefinition, node Node) {
	if def.Type == "" {
		def.Type = node.Type()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Type] = entry{def: def, node: node}
}

// Get возвращает реализацию узла по типу.
func (r *Registry) Get(nodeType string) (Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, nodeType)
	}
	return e.node, nil
}

// Definition возвращает определение типа.
func (r *Registry) Definition(nodeType string) (domain.NodeDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[nodeType]
	return e.def, ok
}

// Definitions возвращает все определения, отсортированные по типу.
func (r *Registry) Definitions() []domain.NodeDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.NodeDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Type < defs[j].Type })
	return defs
}

// Has проверяет, зарегистрирован ли тип.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[nodeType]
	return ok
}

// IsTrigger возвращает true для типов категории trigger.
// Для незарегистрированных типов используется engine.DefaultIsTrigger.
func (r *Registry) IsTrigger(nodeType string) bool {
	if def, ok := r.Definition(nodeType); ok {
		return def.IsTrigger()
	}
	return engine.DefaultIsTrigger(nodeType)
}

// IsBranch возвращает true для типов категории condition.
func (r *Registry) IsBranch(nodeType string) bool {
	if def, ok := r.Definition(nodeType); ok {
		return def.IsBranch()
	}
	return engine.DefaultIsBranch(nodeType)
}

// Trigger возвращает реализацию триггера.
func (r *Registry) Trigger(nodeType string) (Trigger, error) {
	node, err := r.Get(nodeType)
	if err != nil {
		return nil, err
	}
	t, ok := node.(Trigger)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a trigger", ErrNotSupported, nodeType)
	}
	return t, nil
}

// Validate проверяет параметры по схеме типа.
func (r *Registry) Validate(nodeType string, params map[string]any) error {
	def, ok := r.Definition(nodeType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, nodeType)
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := r.schemas.Validate(nodeType, def.ParameterSchema, params); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// Execute выполняет узел и возвращает результат.
//
// Не возвращает ошибок: неизвестный тип, ошибка или паника узла превращаются
// в неуспешный NodeResult с соответствующим Kind.
func (r *Registry) Execute(ctx context.Context, nodeType string, req *Request) (result domain.NodeResult) {
	node, err := r.Get(nodeType)
	if err != nil {
		return domain.Failed(domain.ErrorKindUnknownType, err.Error())
	}

	defer func() {
		if p := recover(); p != nil {
			result = domain.NodeResult{
				Attempt: 1,
				Error: &domain.NodeError{
					Kind:    domain.ErrorKindExecution,
					Message: fmt.Sprintf("node panicked: %v", p),
					Stack:   string(debug.Stack()),
				},
			}
		}
	}()

	resp, err := node.Execute(ctx, req)
	attempt := 1
	if resp != nil && resp.Attempt > 0 {
		attempt = resp.Attempt
	}

	if err != nil {
		res := domain.Failed(errorKind(err), err.Error())
		res.Attempt = attempt
		if resp != nil {
			res.Data = resp.Data
		}
		return res
	}

	if resp == nil {
		resp = NewResponse(nil)
	}
	res := domain.Succeeded(resp.Data)
	res.Attempt = attempt
	return res
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorKindTimeout
	case errors.Is(err, ErrInvalidParams):
		return domain.ErrorKindInvalidParams
	case errors.Is(err, ErrUnknownType):
		return domain.ErrorKindUnknownType
	default:
		return domain.ErrorKindExecution
	}
}
