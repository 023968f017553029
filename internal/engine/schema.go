package engine

import (
	"fmt"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaValidator проверяет данные по JSON Schema.
// Скомпилированные схемы кэшируются по ключу. Безопасен для конкурентного использования.
type SchemaValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewSchemaValidator создаёт валидатор с пустым кэшем.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{cache: make(map[string]*jsonschema.Schema)}
}

// Validate проверяет value по схеме. Пустая схема пропускает любые данные.
// key идентифицирует схему в кэше (например, тип узла).
func (v *SchemaValidator) Validate(key string, schema map[string]any, value any) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := v.compile(key, schema)
	if err != nil {
		return err
	}

	doc, err := toJSONValue(value)
	if err != nil {
		return fmt.Errorf("serialize value: %w", err)
	}

	if err := compiled.Validate(doc); err != nil {
		return schemaError(err)
	}
	return nil
}

func (v *SchemaValidator) compile(key string, schema map[string]any) (*jsonschema.Schema, error) {
	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := toJSONValue(schema)
	if err != nil {
		return nil, fmt.Errorf("serialize schema: %w", err)
	}

	url := "conveyor://schemas/" + key + ".json"
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", key, err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue прогоняет значение через JSON, чтобы числа стали json.Number,
// как того требует jsonschema.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// schemaError собирает листовые нарушения в одно сообщение.
func schemaError(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}
	violations := collectViolations(verr)
	if len(violations) == 0 {
		return verr
	}
	return fmt.Errorf("%s", strings.Join(violations, "; "))
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
