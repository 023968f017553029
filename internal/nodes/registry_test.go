package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/conveyor/internal/domain"
)

type stubNode struct {
	typ  string
	exec func(ctx context.Context, req *Request) (*Response, error)
}

func (s *stubNode) Type() string { return s.typ }

func (s *stubNode) Execute(ctx context.Context, req *Request) (*Response, error) {
	return s.exec(ctx, req)
}

func TestDefaultRegistry_Types(t *testing.T) {
	r := DefaultRegistry()

	for _, typ := range []string{
		TypeManualTrigger, TypeWebhookTrigger, TypeCronTrigger, TypeScheduleTrigger, TypeEventTrigger,
		TypeHTTPRequest, TypeDelay, TypeSetData, TypeTransform, TypeJSONParser,
		TypeIfCondition, TypeSwitch, TypeSplit, TypeMerge, TypeLoop, TypeCode,
	} {
		assert.True(t, r.Has(typ), "type %s should be registered", typ)
	}

	defs := r.Definitions()
	require.NotEmpty(t, defs)
	for i := 1; i < len(defs); i++ {
		assert.Less(t, defs[i-1].Type, defs[i].Type, "definitions should be sorted")
	}
}

func TestRegistry_IsTrigger(t *testing.T) {
	r := DefaultRegistry()

	assert.True(t, r.IsTrigger(TypeManualTrigger))
	assert.True(t, r.IsTrigger(TypeCronTrigger))
	assert.False(t, r.IsTrigger(TypeHTTPRequest))
	// Незарегистрированный тип определяется по имени
	assert.True(t, r.IsTrigger("github-trigger"))
	assert.False(t, r.IsTrigger("slack-message"))
}

func TestRegistry_UnknownType(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("nope")
	require.ErrorIs(t, err, ErrUnknownType)

	res := r.Execute(context.Background(), "nope", &Request{})
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, domain.ErrorKindUnknownType, res.Error.Kind)
	assert.Equal(t, "Unknown node type: nope", res.Error.Message)
}

func TestRegistry_ExecuteErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"plain", errors.New("boom"), domain.ErrorKindExecution},
		{"timeout", ErrTimeout, domain.ErrorKindTimeout},
		{"deadline", context.DeadlineExceeded, domain.ErrorKindTimeout},
		{"params", ErrInvalidParams, domain.ErrorKindInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.Register(domain.NodeDefinition{Category: domain.CategoryAction}, &stubNode{
				typ: "stub",
				exec: func(context.Context, *Request) (*Response, error) {
					return nil, tt.err
				},
			})

			res := r.Execute(context.Background(), "stub", &Request{})
			assert.False(t, res.Success)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.kind, res.Error.Kind)
			assert.Equal(t, 1, res.Attempt)
		})
	}
}

func TestRegistry_ExecuteRecoversPanic(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.NodeDefinition{}, &stubNode{
		typ: "panicky",
		exec: func(context.Context, *Request) (*Response, error) {
			panic("kaboom")
		},
	})

	res := r.Execute(context.Background(), "panicky", &Request{})

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, domain.ErrorKindExecution, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "kaboom")
	assert.NotEmpty(t, res.Error.Stack)
}

func TestRegistry_ExecuteNilResponse(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.NodeDefinition{}, &stubNode{
		typ: "quiet",
		exec: func(context.Context, *Request) (*Response, error) {
			return nil, nil
		},
	})

	res := r.Execute(context.Background(), "quiet", &Request{})
	assert.True(t, res.Success)
	assert.NotNil(t, res.Data)
}

func TestRegistry_Validate(t *testing.T) {
	r := DefaultRegistry()

	require.NoError(t, r.Validate(TypeHTTPRequest, map[string]any{"url": "https://example.com", "method": "POST"}))

	err := r.Validate(TypeHTTPRequest, map[string]any{"method": "POST"})
	require.ErrorIs(t, err, ErrInvalidParams)

	err = r.Validate(TypeHTTPRequest, map[string]any{"url": "https://example.com", "method": "FETCH"})
	require.ErrorIs(t, err, ErrInvalidParams)

	require.NoError(t, r.Validate(TypeDelay, nil))
	require.ErrorIs(t, r.Validate("nope", nil), ErrUnknownType)
}

func TestRegistry_Trigger(t *testing.T) {
	r := DefaultRegistry()

	tr, err := r.Trigger(TypeWebhookTrigger)
	require.NoError(t, err)
	assert.Equal(t, TypeWebhookTrigger, tr.Type())

	_, err = r.Trigger(TypeDelay)
	require.ErrorIs(t, err, ErrNotSupported)
}
