package nodes

import "github.com/shaiso/conveyor/internal/domain"

// DefaultRegistry создаёт реестр со всеми встроенными узлами.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	for _, t := range []struct {
		typ, name, desc string
		modes           triggerMode
		schema          map[string]any
	}{
		{TypeManualTrigger, "Manual Trigger", "Starts the workflow on demand", 0, nil},
		{TypeWebhookTrigger, "Webhook Trigger", "Starts the workflow on an incoming HTTP request", modeWebhook, nil},
		{TypeCronTrigger, "Cron Trigger", "Starts the workflow on a cron schedule", modePoll, cronSchema},
		{TypeScheduleTrigger, "Schedule Trigger", "Starts the workflow on a schedule", modePoll, cronSchema},
		{TypeEventTrigger, "Event Trigger", "Starts the workflow on an external event", modeWebhook, nil},
	} {
		r.Register(domain.NodeDefinition{
			Type:            t.typ,
			Name:            t.name,
			Category:        domain.CategoryTrigger,
			Description:     t.desc,
			ParameterSchema: t.schema,
		}, newTriggerNode(t.typ, t.modes))
	}

	r.Register(domain.NodeDefinition{
		Name:        "HTTP Request",
		Category:    domain.CategoryAction,
		Description: "Sends an HTTP request and returns the response",
		ParameterSchema: object(map[string]any{
			"method":         map[string]any{"enum": []any{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS", "get", "post", "put", "patch", "delete", "head", "options"}},
			"url":            map[string]any{"type": "string", "minLength": 1},
			"headers":        map[string]any{"type": "object"},
			"query":          map[string]any{"type": "object"},
			"validate_ssl":   map[string]any{"type": "boolean"},
			"max_attempts":   map[string]any{"type": []any{"integer", "string"}},
			"retry_delay_ms": map[string]any{"type": []any{"integer", "string"}},
			"backoff":        map[string]any{"enum": []any{"fixed", "exponential"}},
		}, "url"),
		Credentials: []string{"httpHeaderAuth", "httpBasicAuth", "apiKey"},
		Settings:    &domain.NodeSettings{TimeoutSec: 30},
	}, NewHTTPNode())

	r.Register(domain.NodeDefinition{
		Name:        "Delay",
		Category:    domain.CategoryUtility,
		Description: "Waits for a number of seconds",
		ParameterSchema: object(map[string]any{
			"duration":    map[string]any{"type": []any{"number", "string"}},
			"duration_ms": map[string]any{"type": []any{"integer", "string"}},
		}),
	}, NewDelayNode())

	r.Register(domain.NodeDefinition{
		Name:        "Set Data",
		Category:    domain.CategoryUtility,
		Description: "Sets fields on the data passed to the next node",
		ParameterSchema: object(map[string]any{
			"values": map[string]any{"type": "object"},
			"mode":   map[string]any{"enum": []any{"merge", "replace"}},
		}),
	}, NewSetDataNode())

	r.Register(domain.NodeDefinition{
		Name:        "Transform",
		Category:    domain.CategoryUtility,
		Description: "Reshapes data with a jq query",
		ParameterSchema: object(map[string]any{
			"query":     map[string]any{"type": "string", "minLength": 1},
			"as_object": map[string]any{"type": "boolean"},
		}, "query"),
	}, NewTransformNode())

	r.Register(domain.NodeDefinition{
		Name:        "JSON Parser",
		Category:    domain.CategoryUtility,
		Description: "Parses a JSON string",
		ParameterSchema: object(map[string]any{
			"json":    map[string]any{"type": "string"},
			"field":   map[string]any{"type": "string"},
			"flatten": map[string]any{"type": "boolean"},
		}),
	}, NewJSONParserNode())

	r.Register(domain.NodeDefinition{
		Name:        "IF",
		Category:    domain.CategoryCondition,
		Description: "Routes execution to the true or false branch",
		ParameterSchema: object(map[string]any{
			"condition": map[string]any{"type": []any{"string", "boolean"}},
		}),
	}, mustIfNode())

	r.Register(domain.NodeDefinition{
		Name:        "Switch",
		Category:    domain.CategoryCondition,
		Description: "Routes execution to the branch of the first matching case",
		ParameterSchema: object(map[string]any{
			"cases": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []any{"value"},
					"properties": map[string]any{
						"path": map[string]any{"type": "string"},
					},
				},
			},
		}),
	}, NewSwitchNode())

	r.Register(domain.NodeDefinition{
		Name:        "Split",
		Category:    domain.CategoryUtility,
		Description: "Declares parallel branches",
		ParameterSchema: object(map[string]any{
			"branches": map[string]any{"type": []any{"integer", "string"}},
		}),
	}, NewSplitNode())

	r.Register(domain.NodeDefinition{
		Name:        "Merge",
		Category:    domain.CategoryUtility,
		Description: "Collects the outputs of previous nodes",
		ParameterSchema: object(map[string]any{
			"branches": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"mode":     map[string]any{"enum": []any{"collect", "combine"}},
		}),
	}, NewMergeNode())

	r.Register(domain.NodeDefinition{
		Name:        "Loop",
		Category:    domain.CategoryUtility,
		Description: "Iterates over a list of items",
		ParameterSchema: object(map[string]any{
			"items": map[string]any{"type": "array"},
			"field": map[string]any{"type": "string"},
		}),
	}, NewLoopNode())

	r.Register(domain.NodeDefinition{
		Name:        "Code",
		Category:    domain.CategoryUtility,
		Description: "Runs a sandboxed expression over the execution data",
		ParameterSchema: object(map[string]any{
			"code": map[string]any{"type": "string", "minLength": 1},
		}, "code"),
		Settings: &domain.NodeSettings{TimeoutSec: 10},
	}, NewCodeNode())

	return r
}

var cronSchema = object(map[string]any{
	"cron":     map[string]any{"type": "string"},
	"timezone": map[string]any{"type": "string"},
	"data":     map[string]any{"type": "object"},
})

func object(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}

func mustIfNode() *IfNode {
	n, err := NewIfNode()
	if err != nil {
		panic(err)
	}
	return n
}
