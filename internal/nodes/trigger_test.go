package nodes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerNode_ExecuteEchoesInput(t *testing.T) {
	n := newTriggerNode(TypeManualTrigger, 0)
	input := map[string]any{"user": "ada"}

	resp, err := n.Execute(context.Background(), &Request{Input: input})
	require.NoError(t, err)
	assert.Equal(t, input, resp.Data)

	// Результат: копия
	resp.Data["user"] = "bob"
	assert.Equal(t, "ada", input["user"])
}

func TestTriggerNode_Manual(t *testing.T) {
	n := newTriggerNode(TypeManualTrigger, 0)

	data, err := n.Manual(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, data)
}

func TestTriggerNode_Webhook(t *testing.T) {
	n := newTriggerNode(TypeWebhookTrigger, modeWebhook)

	data, err := n.Webhook(context.Background(), WebhookRequest{
		Method:  "POST",
		Headers: map[string]string{"X-Signature": "abc"},
		Query:   map[string]string{"ref": "main"},
		Body:    map[string]any{"id": float64(1)},
	})
	require.NoError(t, err)

	assert.Equal(t, "POST", data["method"])
	assert.Equal(t, "abc", data["headers"].(map[string]any)["x-signature"])
	assert.Equal(t, "main", data["query"].(map[string]any)["ref"])
	assert.Equal(t, map[string]any{"id": float64(1)}, data["body"])

	_, err = newTriggerNode(TypeManualTrigger, 0).Webhook(context.Background(), WebhookRequest{})
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestTriggerNode_Poll(t *testing.T) {
	n := newTriggerNode(TypeCronTrigger, modePoll)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	data, err := n.Poll(context.Background(), map[string]any{
		"cron":     "0 9 * * *",
		"timezone": "UTC",
		"data":     map[string]any{"report": "daily"},
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "schedule", data["trigger"])
	assert.Equal(t, "0 9 * * *", data["cron"])
	assert.Equal(t, "2026-03-01T09:00:00Z", data["triggered_at"])
	assert.Equal(t, "daily", data["report"])

	_, err = newTriggerNode(TypeWebhookTrigger, modeWebhook).Poll(context.Background(), nil, now)
	assert.ErrorIs(t, err, ErrNotSupported)
}
