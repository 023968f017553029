package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIfNode(t *testing.T) {
	n, err := NewIfNode()
	require.NoError(t, err)

	tests := []struct {
		name      string
		condition any
		input     map[string]any
		want      bool
	}{
		{"bool true", true, nil, true},
		{"bool false", false, nil, false},
		{"string true", "true", nil, true},
		{"string false", " false ", nil, false},
		{"empty", "", nil, false},
		{"missing", nil, nil, false},
		{"expression", "input.status_code == 200", map[string]any{"status_code": float64(200)}, true},
		{"expression false", "input.count > 10", map[string]any{"count": float64(3)}, false},
		{"size", "size(input.items) == 2", map[string]any{"items": []any{"a", "b"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := n.Execute(context.Background(), &Request{
				Params: map[string]any{"condition": tt.condition},
				Input:  tt.input,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.want, resp.Data["condition"])
			if tt.want {
				assert.Equal(t, "true", resp.Data["path"])
			} else {
				assert.Equal(t, "false", resp.Data["path"])
			}
		})
	}
}

func TestIfNode_Errors(t *testing.T) {
	n, err := NewIfNode()
	require.NoError(t, err)

	_, err = n.Execute(context.Background(), &Request{Params: map[string]any{"condition": "input. =="}})
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = n.Execute(context.Background(), &Request{Params: map[string]any{"condition": "1 + 2"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected bool")

	_, err = n.Execute(context.Background(), &Request{Params: map[string]any{"condition": 42}})
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestSwitchNode(t *testing.T) {
	cases := []any{
		map[string]any{"value": "open", "path": "opened"},
		map[string]any{"value": float64(2)},
	}

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"match with path", "open", "opened"},
		{"numeric match uses value", "2", "2"},
		{"no match", "closed", "default"},
		{"nil value", nil, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := NewSwitchNode().Execute(context.Background(), &Request{
				Params: map[string]any{"value": tt.value, "cases": cases},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Data["path"])
		})
	}

	_, err := NewSwitchNode().Execute(context.Background(), &Request{
		Params: map[string]any{"value": "x", "cases": []any{"bad"}},
	})
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestSplitNode(t *testing.T) {
	resp, err := NewSplitNode().Execute(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"type": "split", "branches": 2}, resp.Data)

	resp, err = NewSplitNode().Execute(context.Background(), &Request{Params: map[string]any{"branches": float64(4)}})
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Data["branches"])
}

func TestMergeNode(t *testing.T) {
	nodes := map[string]map[string]any{
		"trigger": {"id": "t"},
		"a":       {"x": float64(1), "tags": []any{"a"}},
		"b":       {"y": float64(2), "tags": []any{"b"}},
	}

	t.Run("all completed", func(t *testing.T) {
		resp, err := NewMergeNode().Execute(context.Background(), &Request{
			Nodes:     nodes,
			Completed: []string{"trigger", "a", "b"},
		})
		require.NoError(t, err)

		merged := resp.Data["merged"].(map[string]any)
		assert.Equal(t, "merge", resp.Data["type"])
		assert.Len(t, merged, 3)
		assert.Equal(t, nodes["a"], merged["a"])
	})

	t.Run("selected branches", func(t *testing.T) {
		resp, err := NewMergeNode().Execute(context.Background(), &Request{
			Params:    map[string]any{"branches": []any{"a", "missing"}},
			Nodes:     nodes,
			Completed: []string{"trigger", "a", "b"},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": nodes["a"]}, resp.Data["merged"])
	})

	t.Run("combine", func(t *testing.T) {
		resp, err := NewMergeNode().Execute(context.Background(), &Request{
			Params: map[string]any{"mode": "combine", "branches": []any{"a", "b"}},
			Nodes:  nodes,
		})
		require.NoError(t, err)

		merged := resp.Data["merged"].(map[string]any)
		assert.Equal(t, float64(1), merged["x"])
		assert.Equal(t, float64(2), merged["y"])
		assert.Equal(t, []any{"a", "b"}, merged["tags"])
		// Исходные данные не изменены
		assert.Equal(t, []any{"a"}, nodes["a"]["tags"])
	})
}

func TestLoopNode(t *testing.T) {
	resp, err := NewLoopNode().Execute(context.Background(), &Request{
		Params: map[string]any{"items": []any{"a", "b", "c"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "loop", resp.Data["type"])
	assert.Equal(t, []any{"a", "b", "c"}, resp.Data["results"])
	assert.Equal(t, 3, resp.Data["count"])

	resp, err = NewLoopNode().Execute(context.Background(), &Request{
		Params: map[string]any{"field": "rows"},
		Input:  map[string]any{"rows": []any{float64(1)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Data["count"])

	resp, err = NewLoopNode().Execute(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, []any{}, resp.Data["results"])
}

func TestFlowNodes_PassInputThrough(t *testing.T) {
	ifNode, err := NewIfNode()
	require.NoError(t, err)

	input := map[string]any{"email": "ada@example.com", "path": "/upstream"}

	tests := []struct {
		name   string
		node   Node
		params map[string]any
		path   string
	}{
		{"if", ifNode, map[string]any{"condition": true}, "true"},
		{"switch", NewSwitchNode(), map[string]any{"value": "x"}, "default"},
		{"loop", NewLoopNode(), map[string]any{"items": []any{"a"}}, "/upstream"},
		{"merge", NewMergeNode(), nil, "/upstream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.node.Execute(context.Background(), &Request{Params: tt.params, Input: input})
			require.NoError(t, err)

			assert.Equal(t, "ada@example.com", resp.Data["email"])
			assert.Equal(t, tt.path, resp.Data["path"])
		})
	}
	assert.Equal(t, "/upstream", input["path"])
}
