package engine

import (
	"errors"
	"testing"
)

func TestParseWorkflow_Valid(t *testing.T) {
	data := []byte(`{
		"name": "notify",
		"nodes": [
			{"id": "t", "type": "manual-trigger"},
			{"id": "h", "type": "http-request", "data": {"url": "https://example.com"},
			 "settings": {"timeout_sec": 5, "continue_on_fail": true,
			              "retries": {"max_attempts": 3, "backoff": "exponential", "delay_ms": 100}}}
		],
		"edges": [{"source": "t", "target": "h"}]
	}`)

	wf, err := ParseWorkflow(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if wf.Name != "notify" || len(wf.Nodes) != 2 || len(wf.Edges) != 1 {
		t.Fatalf("unexpected workflow: %+v", wf)
	}

	h := wf.Nodes[1]
	if h.Settings == nil || h.Settings.TimeoutSec != 5 {
		t.Fatalf("settings not parsed: %+v", h.Settings)
	}
	if h.Settings.Retries.MaxAttempts != 3 || h.Settings.Retries.Backoff != "exponential" {
		t.Errorf("retries not parsed: %+v", h.Settings.Retries)
	}
	if !wf.ContinueOnFail(&h) {
		t.Error("node continue_on_fail should be true")
	}
	if h.Data["url"] != "https://example.com" {
		t.Errorf("data not parsed: %v", h.Data)
	}
}

func TestParseWorkflow_NoEdges(t *testing.T) {
	wf, err := ParseWorkflow([]byte(`{"nodes": [{"id": "t", "type": "manual-trigger"}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wf.Edges == nil {
		t.Error("edges should default to empty slice")
	}
}

func TestParseWorkflow_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{nodes:`},
		{"missing nodes", `{"name": "x"}`},
		{"node without type", `{"nodes": [{"id": "a"}]}`},
		{"empty id", `{"nodes": [{"id": "", "type": "delay"}]}`},
		{"bad backoff", `{"nodes": [{"id": "a", "type": "delay", "settings": {"retries": {"backoff": "linear"}}}]}`},
		{"edge without target", `{"nodes": [{"id": "a", "type": "delay"}], "edges": [{"source": "a"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWorkflow([]byte(tt.data))
			if !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("expected ErrInvalidDocument, got %v", err)
			}
		})
	}
}

func TestMarshalWorkflow_RoundTrip(t *testing.T) {
	wf, err := ParseWorkflow([]byte(`{"nodes": [{"id": "t", "type": "manual-trigger"}], "edges": []}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := MarshalWorkflow(wf)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	again, err := ParseWorkflow(data)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if again.Nodes[0].ID != "t" {
		t.Errorf("unexpected node after round trip: %+v", again.Nodes[0])
	}
}
