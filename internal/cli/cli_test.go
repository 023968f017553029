package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/conveyor/internal/api"
	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
	"github.com/shaiso/conveyor/internal/orchestrator"
	"github.com/shaiso/conveyor/internal/repo"
	"github.com/shaiso/conveyor/internal/trigger"
)

const greetDocument = `{
	"name": "greet",
	"nodes": [
		{"id": "start", "type": "manual-trigger"},
		{"id": "check", "type": "if-condition", "data": {"condition": "{{input.vip}}"}},
		{"id": "vip", "type": "set-data", "data": {"values": {"greeting": "welcome back {{trigger.name}}"}}},
		{"id": "guest", "type": "set-data", "data": {"values": {"greeting": "hello {{trigger.name}}"}}}
	],
	"edges": [
		{"source": "start", "target": "check"},
		{"source": "check", "target": "vip", "source_handle": "true"},
		{"source": "check", "target": "guest", "source_handle": "false"}
	]
}`

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunLocal(t *testing.T) {
	outcome, err := RunLocal(context.Background(), []byte(greetDocument),
		map[string]any{"name": "ada", "vip": "true"}, discard())
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionStatusSuccess, outcome.Status)
	assert.Equal(t, "welcome back ada", outcome.Results["vip"].Data["greeting"])
	assert.NotContains(t, outcome.Results, "guest")
}

func TestRunLocal_Invalid(t *testing.T) {
	_, err := RunLocal(context.Background(),
		[]byte(`{"nodes": [{"id": "a", "type": "set-data"}]}`), nil, discard())

	var vErr *engine.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Errors, "Workflow must have at least one trigger node")

	_, err = RunLocal(context.Background(), []byte(`{"nodes": 1}`), nil, discard())
	assert.ErrorIs(t, err, engine.ErrInvalidDocument)
}

func TestLocalCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.json")
	require.NoError(t, os.WriteFile(path, []byte(greetDocument), 0o600))

	var stdout, stderr bytes.Buffer
	cmd := NewLocalCmd(
		func() *Output { return NewOutputTo(&stdout, &stderr, false) },
		discard,
	)
	cmd.SetArgs([]string{"-f", path, "--input", "name=grace", "--input", "vip=false"})
	cmd.SetOut(io.Discard)
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Contains(t, stdout.String(), "guest")
	assert.Contains(t, stderr.String(), "SUCCESS")
}

func TestTriggerData(t *testing.T) {
	data, err := triggerData(`{"a": 1, "b": "x"}`, []string{"b=y", "c=z=1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1), "b": "y", "c": "z=1"}, data)

	data, err = triggerData("", nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	_, err = triggerData("", []string{"novalue"})
	assert.Error(t, err)

	_, err = triggerData("{", nil)
	assert.Error(t, err)
}

// apiServer поднимает настоящий API на хранилище в памяти.
func apiServer(t *testing.T) (*Client, *repo.Stores) {
	t.Helper()
	stores := repo.NewMemoryStore()
	eng := orchestrator.New(orchestrator.Config{
		Workflows:  stores.Workflows,
		Executions: stores.Executions,
		Steps:      stores.Steps,
		Logger:     discard(),
	})
	triggers := trigger.NewService(trigger.Config{
		Workflows:  stores.Workflows,
		Executions: stores.Executions,
		Publisher: trigger.PublisherFunc(func(ctx context.Context, job *domain.ExecutionJob) error {
			_, err := eng.Execute(ctx, job)
			return err
		}),
		Logger: discard(),
	})

	mux := http.NewServeMux()
	api.NewHandler(api.Config{
		Stores:   stores,
		Triggers: triggers,
		Canceler: eng,
		Logger:   discard(),
	}).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL), stores
}

func run(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func TestCommandsAgainstAPI(t *testing.T) {
	client, _ := apiServer(t)
	var stdout, stderr bytes.Buffer
	clientFn := func() *Client { return client }
	jsonOut := func() *Output { return NewOutputTo(&stdout, &stderr, true) }

	path := filepath.Join(t.TempDir(), "wf.json")
	require.NoError(t, os.WriteFile(path, []byte(greetDocument), 0o600))

	err := run(t, NewWorkflowCmd(clientFn, jsonOut), "create", "-f", path)
	require.NoError(t, err, stderr.String())

	var created CreateWorkflowResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &created))
	assert.True(t, created.Validation.Valid)
	wfID := created.Workflow.ID.String()

	stdout.Reset()
	err = run(t, NewExecutionCmd(clientFn, jsonOut), "start", wfID, "--input", "name=ada", "--input", "vip=true")
	require.NoError(t, err)

	var exec domain.Execution
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &exec))

	finished, err := client.GetExecution(exec.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusSuccess, finished.Status)

	steps, err := client.ListSteps(exec.ID.String())
	require.NoError(t, err)
	assert.Len(t, steps.Steps, 4)

	stdout.Reset()
	err = run(t, NewScheduleCmd(clientFn, jsonOut), "create", wfID, "--interval", "60")
	require.NoError(t, err)

	var sched domain.Schedule
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &sched))
	assert.Equal(t, 60, sched.IntervalSec)

	err = run(t, NewScheduleCmd(clientFn, jsonOut), "disable", sched.ID.String())
	require.NoError(t, err)

	schedules, err := client.ListSchedules(wfID)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.False(t, schedules[0].Enabled)
}

func TestClientErrors(t *testing.T) {
	client, _ := apiServer(t)

	_, err := client.GetWorkflow("00000000-0000-0000-0000-000000000001")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)

	_, err = client.CreateWorkflow([]byte(`{"nodes": [{"id": "a", "type": "set-data"}]}`))
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Contains(t, validationDetails(err).Error(), "at least one trigger node")
}
