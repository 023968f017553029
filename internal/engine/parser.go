package engine

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/shaiso/conveyor/internal/domain"
)

// workflowDocumentSchema: структура JSON-документа workflow.
// Графовые инварианты (триггеры, рёбра, циклы) проверяет Validator.
var workflowDocumentSchema = map[string]any{
	"type":     "object",
	"required": []any{"nodes"},
	"properties": map[string]any{
		"name": map[string]any{"type": "string"},
		"nodes": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "type"},
				"properties": map[string]any{
					"id":   map[string]any{"type": "string", "minLength": 1},
					"type": map[string]any{"type": "string", "minLength": 1},
					"name": map[string]any{"type": "string"},
					"data": map[string]any{"type": "object"},
					"settings": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"timeout_sec":      map[string]any{"type": "integer", "minimum": 0},
							"continue_on_fail": map[string]any{"type": "boolean"},
							"retries": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"max_attempts": map[string]any{"type": "integer", "minimum": 1},
									"backoff":      map[string]any{"enum": []any{"fixed", "exponential"}},
									"delay_ms":     map[string]any{"type": "integer", "minimum": 0},
									"max_delay_ms": map[string]any{"type": "integer", "minimum": 0},
								},
							},
						},
					},
				},
			},
		},
		"edges": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"source", "target"},
				"properties": map[string]any{
					"source":        map[string]any{"type": "string"},
					"target":        map[string]any{"type": "string"},
					"source_handle": map[string]any{"type": "string"},
				},
			},
		},
	},
}

var documentValidator = NewSchemaValidator()

// ParseWorkflow разбирает JSON-документ workflow.
//
// Документ проверяется по схеме, но не по графовым инвариантам:
// для этого используется Validator.
func ParseWorkflow(data []byte) (*domain.Workflow, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := documentValidator.Validate("workflow-document", workflowDocumentSchema, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var wf domain.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if wf.Edges == nil {
		wf.Edges = []domain.Edge{}
	}
	return &wf, nil
}

// MarshalWorkflow сериализует workflow в JSON с отступами.
func MarshalWorkflow(wf *domain.Workflow) ([]byte, error) {
	return json.MarshalIndent(wf, "", "  ")
}
