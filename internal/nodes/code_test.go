package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/expr-lang/expr/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeNode_ObjectResult(t *testing.T) {
	resp, err := NewCodeNode().Execute(context.Background(), &Request{
		Params:  map[string]any{"code": `{total: input.a + input.b, user: trigger.user}`},
		Input:   map[string]any{"a": 2, "b": 3},
		Trigger: map[string]any{"user": "ada"},
	})
	require.NoError(t, err)

	assert.Equal(t, float64(5), resp.Data["total"])
	assert.Equal(t, "ada", resp.Data["user"])
}

func TestCodeNode_ScalarResult(t *testing.T) {
	resp, err := NewCodeNode().Execute(context.Background(), &Request{
		Params: map[string]any{"code": `len(nodes.fetch.items)`},
		Nodes:  map[string]map[string]any{"fetch": {"items": []any{1, 2, 3}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Data["result"])
}

func TestCodeNode_SnapshotIsolation(t *testing.T) {
	upstream := map[string]any{"items": []any{"a"}}

	n := NewCodeNode()
	n.run = func(program *vm.Program, env any) (any, error) {
		scope := env.(map[string]any)
		nodes := scope["nodes"].(map[string]any)
		nodes["fetch"].(map[string]any)["items"] = nil
		return nil, nil
	}

	_, err := n.Execute(context.Background(), &Request{
		Params: map[string]any{"code": "1"},
		Nodes:  map[string]map[string]any{"fetch": upstream},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, upstream["items"])
}

func TestCodeNode_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	n := NewCodeNode()
	n.timeout = 20 * time.Millisecond
	n.run = func(*vm.Program, any) (any, error) {
		<-release
		return nil, nil
	}

	_, err := n.Execute(context.Background(), &Request{Params: map[string]any{"code": "1"}})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestCodeNode_RuntimeError(t *testing.T) {
	n := NewCodeNode()
	n.run = func(*vm.Program, any) (any, error) {
		return nil, errors.New("division by zero")
	}

	_, err := n.Execute(context.Background(), &Request{Params: map[string]any{"code": "1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Code execution error")
}

func TestCodeNode_Panic(t *testing.T) {
	n := NewCodeNode()
	n.run = func(*vm.Program, any) (any, error) {
		panic("bad")
	}

	_, err := n.Execute(context.Background(), &Request{Params: map[string]any{"code": "1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code panicked")
}

func TestCodeNode_CompileError(t *testing.T) {
	_, err := NewCodeNode().Execute(context.Background(), &Request{Params: map[string]any{"code": "1 +"}})
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewCodeNode().Execute(context.Background(), &Request{})
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestCodeNode_MemoryBudget(t *testing.T) {
	start := time.Now()
	_, err := NewCodeNode().Execute(context.Background(), &Request{
		Params: map[string]any{"code": `len(map(1..input.n, # * 2))`},
		Input:  map[string]any{"n": 50000000},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory budget exceeded")
	assert.Less(t, time.Since(start), time.Second)
}
