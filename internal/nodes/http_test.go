package nodes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/conveyor/internal/domain"
)

// newTestHTTPNode возвращает узел, записывающий задержки вместо ожидания.
func newTestHTTPNode(delays *[]time.Duration) *HTTPNode {
	return &HTTPNode{sleep: func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}}
}

func TestHTTPNode_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", "req-1")
		_, _ = w.Write([]byte(`{"items":[1,2]}`))
	}))
	defer srv.Close()

	var delays []time.Duration
	resp, err := newTestHTTPNode(&delays).Execute(context.Background(), &Request{
		Params: map[string]any{
			"url":     srv.URL,
			"query":   map[string]any{"page": "2"},
			"headers": map[string]any{"Authorization": "Bearer secret"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Attempt)
	assert.Equal(t, http.StatusOK, resp.Data["status_code"])
	assert.Equal(t, "req-1", resp.Data["headers"].(map[string]any)["x-request-id"])
	assert.Equal(t, map[string]any{"items": []any{float64(1), float64(2)}}, resp.Data["body"])
	assert.Empty(t, delays)
}

func TestHTTPNode_PostSendsInputWhenBodyEmpty(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var delays []time.Duration
	resp, err := newTestHTTPNode(&delays).Execute(context.Background(), &Request{
		Params: map[string]any{"url": srv.URL, "method": "post"},
		Input:  map[string]any{"name": "ada"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"name": "ada"}, got)
	assert.Equal(t, "ok", resp.Data["body"])
}

func TestHTTPNode_RetriesWithBackoff(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("done"))
	}))
	defer srv.Close()

	var delays []time.Duration
	resp, err := newTestHTTPNode(&delays).Execute(context.Background(), &Request{
		Params: map[string]any{"url": srv.URL},
		Settings: &domain.NodeSettings{Retries: &domain.RetryPolicy{
			MaxAttempts: 3,
			Backoff:     "exponential",
			DelayMs:     100,
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Attempt)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestHTTPNode_ExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var delays []time.Duration
	resp, err := newTestHTTPNode(&delays).Execute(context.Background(), &Request{
		Params: map[string]any{"url": srv.URL, "max_attempts": "2", "retry_delay_ms": 50},
	})
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, 2, resp.Attempt)
	assert.Equal(t, http.StatusInternalServerError, resp.Data["status_code"])
	assert.Equal(t, []time.Duration{50 * time.Millisecond}, delays)
}

func TestHTTPNode_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	var delays []time.Duration
	_, err := newTestHTTPNode(&delays).Execute(context.Background(), &Request{
		Params:  map[string]any{"url": srv.URL},
		Timeout: 50 * time.Millisecond,
	})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, domain.ErrorKindTimeout, errorKind(err))
}

func TestHTTPNode_MissingURL(t *testing.T) {
	_, err := NewHTTPNode().Execute(context.Background(), &Request{Params: map[string]any{}})
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestDelayNode(t *testing.T) {
	t.Run("milliseconds", func(t *testing.T) {
		resp, err := NewDelayNode().Execute(context.Background(), &Request{
			Params: map[string]any{"duration_ms": 5},
		})
		require.NoError(t, err)
		assert.Equal(t, 5, resp.Data["waited"])
		assert.Equal(t, "milliseconds", resp.Data["unit"])
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewDelayNode().Execute(ctx, &Request{Params: map[string]any{"duration": 30}})
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("default", func(t *testing.T) {
		d, out := parseDelay(nil)
		assert.Equal(t, 5*time.Second, d)
		assert.Equal(t, float64(5), out["waited"])
	})

	t.Run("string seconds", func(t *testing.T) {
		d, _ := parseDelay(map[string]any{"duration": "1.5"})
		assert.Equal(t, 1500*time.Millisecond, d)
	})
}
