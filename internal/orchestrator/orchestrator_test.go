package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
	"github.com/shaiso/conveyor/internal/governance"
	"github.com/shaiso/conveyor/internal/nodes"
	"github.com/shaiso/conveyor/internal/repo"
)

type resolverFunc func(ctx context.Context, orgID, id uuid.UUID) (map[string]any, error)

func (f resolverFunc) Resolve(ctx context.Context, orgID, id uuid.UUID) (map[string]any, error) {
	return f(ctx, orgID, id)
}

type harness struct {
	engine *Engine
	stores *repo.Stores
	orgID  uuid.UUID
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	stores := repo.NewMemoryStore()
	cfg := Config{
		Workflows:  stores.Workflows,
		Executions: stores.Executions,
		Steps:      stores.Steps,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return &harness{engine: New(cfg), stores: stores, orgID: uuid.New()}
}

func (h *harness) workflow(t *testing.T, nodeList []domain.Node, edges []domain.Edge) *domain.Workflow {
	t.Helper()

	wf := &domain.Workflow{
		ID:             uuid.New(),
		OrganizationID: h.orgID,
		Name:           t.Name(),
		Nodes:          nodeList,
		Edges:          edges,
		IsActive:       true,
	}
	require.NoError(t, h.stores.Workflows.Create(context.Background(), wf))
	return wf
}

func (h *harness) execute(t *testing.T, wf *domain.Workflow, trigger map[string]any) *Outcome {
	t.Helper()

	out, err := h.engine.Execute(context.Background(), &domain.ExecutionJob{
		WorkflowID:  wf.ID,
		ExecutionID: uuid.New(),
		TriggerData: trigger,
		Mode:        domain.ModeManual,
	})
	require.NoError(t, err)
	return out
}

func (h *harness) steps(t *testing.T, executionID uuid.UUID) map[string]domain.StepResult {
	t.Helper()

	list, err := h.stores.Steps.ListByExecution(context.Background(), executionID)
	require.NoError(t, err)
	out := make(map[string]domain.StepResult, len(list))
	for _, s := range list {
		out[s.NodeID] = s
	}
	return out
}

func trigger(id string) domain.Node {
	return domain.Node{ID: id, Type: nodes.TypeManualTrigger}
}

func setData(id string, values map[string]any) domain.Node {
	return domain.Node{ID: id, Type: nodes.TypeSetData, Data: map[string]any{"values": values}}
}

func passThrough(id string) domain.Node {
	return domain.Node{ID: id, Type: nodes.TypeSetData, Data: map[string]any{"mode": "merge"}}
}

func brokenParser(id string) domain.Node {
	return domain.Node{ID: id, Type: nodes.TypeJSONParser, Data: map[string]any{"json": "{broken"}}
}

func edge(source, target string) domain.Edge {
	return domain.Edge{Source: source, Target: target}
}

func TestExecute_LinearSuccess(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow(t,
		[]domain.Node{
			trigger("start"),
			setData("greet", map[string]any{"message": "hello {{trigger.name}}"}),
			setData("echo", map[string]any{"copy": "{{$node.greet.message}}", "from_input": "{{input.message}}"}),
		},
		[]domain.Edge{edge("start", "greet"), edge("greet", "echo")},
	)

	out := h.execute(t, wf, map[string]any{"name": "Ada"})

	assert.True(t, out.Success)
	assert.Equal(t, domain.ExecutionStatusSuccess, out.Status)
	assert.Empty(t, out.Errors)
	assert.Equal(t, map[string]any{"name": "Ada"}, out.Results["start"].Data)
	assert.Equal(t, "hello Ada", out.Results["greet"].Data["message"])
	assert.Equal(t, "hello Ada", out.Results["echo"].Data["copy"])
	assert.Equal(t, "hello Ada", out.Results["echo"].Data["from_input"])

	exec, err := h.stores.Executions.GetByID(context.Background(), out.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusSuccess, exec.Status)
	assert.NotNil(t, exec.StartedAt)
	assert.NotNil(t, exec.StoppedAt)
	assert.Len(t, exec.NodeResults, 3)

	steps := h.steps(t, out.ExecutionID)
	require.Len(t, steps, 3)
	for _, id := range []string{"start", "greet", "echo"} {
		assert.Equal(t, domain.StepStatusSuccess, steps[id].Status, id)
	}
	assert.Equal(t, map[string]any{"message": "hello Ada"}, steps["echo"].Input)

	stored, err := h.stores.Workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ExecutionCount)
	assert.NotNil(t, stored.LastExecutedAt)
}

func TestExecute_InputComesFromFirstIncomingEdge(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow(t,
		[]domain.Node{
			trigger("start"),
			setData("a", map[string]any{"from": "a"}),
			setData("b", map[string]any{"from": "b"}),
			passThrough("join"),
		},
		[]domain.Edge{edge("start", "a"), edge("start", "b"), edge("a", "join"), edge("b", "join")},
	)

	out := h.execute(t, wf, nil)

	require.True(t, out.Success)
	assert.Equal(t, map[string]any{"from": "a"}, out.Results["join"].Data)
}

func TestExecute_InactiveBranchIsSkipped(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow(t,
		[]domain.Node{
			trigger("start"),
			{ID: "check", Type: nodes.TypeIfCondition, Data: map[string]any{"condition": "{{trigger.approved}}"}},
			setData("approved", map[string]any{"result": "yes"}),
			setData("rejected", map[string]any{"result": "no"}),
			passThrough("notify"),
		},
		[]domain.Edge{
			edge("start", "check"),
			{Source: "check", Target: "approved", SourceHandle: "true"},
			{Source: "check", Target: "rejected", SourceHandle: "false"},
			edge("rejected", "notify"),
		},
	)

	out := h.execute(t, wf, map[string]any{"approved": true})

	require.True(t, out.Success)
	assert.Equal(t, "true", out.Results["check"].Path())
	assert.Contains(t, out.Results, "approved")
	assert.NotContains(t, out.Results, "rejected")
	assert.NotContains(t, out.Results, "notify")

	steps := h.steps(t, out.ExecutionID)
	assert.Equal(t, domain.StepStatusSkipped, steps["rejected"].Status)
	assert.Equal(t, domain.StepStatusSkipped, steps["notify"].Status)
	assert.Equal(t, domain.StepStatusSuccess, steps["approved"].Status)
}

func TestExecute_ConditionPassesInputThrough(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow(t,
		[]domain.Node{
			trigger("start"),
			{ID: "check", Type: nodes.TypeIfCondition, Data: map[string]any{"condition": "input.email != ''"}},
			setData("mail", map[string]any{"to": "{{input.email}}"}),
		},
		[]domain.Edge{
			edge("start", "check"),
			{Source: "check", Target: "mail", SourceHandle: "true"},
		},
	)

	out := h.execute(t, wf, map[string]any{"email": "ada@example.com"})

	require.True(t, out.Success)
	assert.Equal(t, "ada@example.com", out.Results["check"].Data["email"])
	assert.Equal(t, true, out.Results["check"].Data["condition"])
	assert.Equal(t, "ada@example.com", out.Results["mail"].Data["to"])
}

func TestExecute_PathOfNonConditionNodeIgnored(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow(t,
		[]domain.Node{
			trigger("start"),
			setData("route", map[string]any{"path": "/users"}),
			setData("after", map[string]any{"ok": true}),
		},
		[]domain.Edge{
			edge("start", "route"),
			{Source: "route", Target: "after", SourceHandle: "true"},
		},
	)

	out := h.execute(t, wf, nil)

	require.True(t, out.Success)
	assert.Contains(t, out.Results, "after")
	assert.Equal(t, domain.StepStatusSuccess, h.steps(t, out.ExecutionID)["after"].Status)
}

func TestExecute_NodeWithAnyActiveEdgeRuns(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow(t,
		[]domain.Node{
			trigger("start"),
			{ID: "check", Type: nodes.TypeIfCondition, Data: map[string]any{"condition": false}},
			setData("yes", map[string]any{"v": 1}),
			passThrough("after"),
		},
		[]domain.Edge{
			edge("start", "check"),
			{Source: "check", Target: "yes", SourceHandle: "true"},
			edge("yes", "after"),
			edge("start", "after"),
		},
	)

	out := h.execute(t, wf, map[string]any{"k": "v"})

	require.True(t, out.Success)
	assert.NotContains(t, out.Results, "yes")
	require.Contains(t, out.Results, "after")
	// Первое входящее ребро ведёт от пропущенного узла: вход пустой
	assert.Empty(t, out.Results["after"].Data)
}

func TestExecute_StopsOnFailure(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow(t,
		[]domain.Node{trigger("start"), brokenParser("parse"), passThrough("after")},
		[]domain.Edge{edge("start", "parse"), edge("parse", "after")},
	)

	out := h.execute(t, wf, nil)

	assert.False(t, out.Success)
	assert.Equal(t, domain.ExecutionStatusFailed, out.Status)
	assert.NotContains(t, out.Results, "after")
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "parse", out.Errors[0].NodeID)
	assert.Equal(t, domain.ErrorKindExecution, out.Errors[0].Error.Kind)

	exec, err := h.stores.Executions.GetByID(context.Background(), out.ExecutionID)
	require.NoError(t, err)
	require.NotNil(t, exec.Error)
	assert.Equal(t, "parse", exec.Error.NodeID)
	assert.Contains(t, exec.Error.Message, "parse json")

	steps := h.steps(t, out.ExecutionID)
	assert.Equal(t, domain.StepStatusFailed, steps["parse"].Status)
	assert.NotContains(t, steps, "after")
}

func TestExecute_ContinueOnFail(t *testing.T) {
	h := newHarness(t)
	parser := brokenParser("parse")
	cont := true
	parser.Settings = &domain.NodeSettings{ContinueOnFail: &cont}

	wf := h.workflow(t,
		[]domain.Node{trigger("start"), parser, setData("after", map[string]any{"ran": true})},
		[]domain.Edge{edge("start", "parse"), edge("parse", "after")},
	)

	out := h.execute(t, wf, nil)

	assert.False(t, out.Success)
	assert.Equal(t, domain.ExecutionStatusFailed, out.Status)
	assert.False(t, out.Results["parse"].Success)
	require.Contains(t, out.Results, "after")
	assert.Equal(t, true, out.Results["after"].Data["ran"])
}

func TestExecute_WorkflowLevelContinueOnFail(t *testing.T) {
	h := newHarness(t)
	wf := &domain.Workflow{
		ID:             uuid.New(),
		OrganizationID: h.orgID,
		Nodes:          []domain.Node{trigger("start"), brokenParser("a"), brokenParser("b")},
		Edges:          []domain.Edge{edge("start", "a"), edge("a", "b")},
		Settings:       domain.WorkflowSettings{ContinueOnFail: true},
	}
	require.NoError(t, h.stores.Workflows.Create(context.Background(), wf))

	out := h.execute(t, wf, nil)

	require.Len(t, out.Errors, 2)
	assert.Equal(t, "a", out.Errors[0].NodeID)
	assert.Equal(t, "b", out.Errors[1].NodeID)
}

func TestExecute_Credentials(t *testing.T) {
	credID := uuid.New()
	var gotOrg uuid.UUID

	h := newHarness(t, func(cfg *Config) {
		cfg.Credentials = resolverFunc(func(_ context.Context, orgID, id uuid.UUID) (map[string]any, error) {
			gotOrg = orgID
			if id != credID {
				return nil, errors.New("credential not found")
			}
			return map[string]any{"token": "s3cret"}, nil
		})
	})

	node := setData("auth", map[string]any{"header": "Bearer {{credentials.token}}"})
	node.CredentialID = &credID
	wf := h.workflow(t, []domain.Node{trigger("start"), node}, []domain.Edge{edge("start", "auth")})

	out := h.execute(t, wf, nil)

	require.True(t, out.Success)
	assert.Equal(t, h.orgID, gotOrg)
	assert.Equal(t, "Bearer s3cret", out.Results["auth"].Data["header"])
}

func TestExecute_CredentialFailure(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Credentials = resolverFunc(func(context.Context, uuid.UUID, uuid.UUID) (map[string]any, error) {
			return nil, errors.New("credential not found")
		})
	})

	missing := uuid.New()
	node := setData("auth", map[string]any{"header": "{{credentials.token}}"})
	node.CredentialID = &missing
	wf := h.workflow(t, []domain.Node{trigger("start"), node}, []domain.Edge{edge("start", "auth")})

	out := h.execute(t, wf, nil)

	assert.False(t, out.Success)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, domain.ErrorKindCredential, out.Errors[0].Error.Kind)
}

func TestExecute_DisabledNodeType(t *testing.T) {
	h := newHarness(t)
	checker := governance.NewCachedChecker(governance.Config{Store: h.stores.Policies})
	h.engine = New(Config{
		Workflows:  h.stores.Workflows,
		Executions: h.stores.Executions,
		Steps:      h.stores.Steps,
		Governance: checker,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	require.NoError(t, h.stores.Policies.Set(context.Background(), &domain.NodePolicy{
		OrganizationID: h.orgID,
		NodeType:       nodes.TypeSetData,
		Enabled:        false,
	}))

	wf := h.workflow(t,
		[]domain.Node{trigger("start"), setData("blocked", map[string]any{"x": 1})},
		[]domain.Edge{edge("start", "blocked")},
	)

	out := h.execute(t, wf, nil)

	assert.False(t, out.Success)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, domain.ErrorKindDisabled, out.Errors[0].Error.Kind)
	assert.Equal(t, governance.ErrActionDisabled.Error()+": set-data", out.Errors[0].Error.Message)
}

func TestExecute_UnknownNodeType(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow(t,
		[]domain.Node{trigger("start"), {ID: "mystery", Type: "teleport"}},
		[]domain.Edge{edge("start", "mystery")},
	)

	out := h.execute(t, wf, nil)

	assert.False(t, out.Success)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, domain.ErrorKindUnknownType, out.Errors[0].Error.Kind)
	assert.Contains(t, out.Errors[0].Error.Message, "teleport")
}

func TestExecute_InvalidParams(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow(t,
		[]domain.Node{trigger("start"), {ID: "call", Type: nodes.TypeHTTPRequest, Data: map[string]any{"method": "GET"}}},
		[]domain.Edge{edge("start", "call")},
	)

	out := h.execute(t, wf, nil)

	require.Len(t, out.Errors, 1)
	assert.Equal(t, domain.ErrorKindInvalidParams, out.Errors[0].Error.Kind)
}

func TestExecute_ValidationFailureMarksExecutionFailed(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow(t,
		[]domain.Node{setData("only", nil)},
		nil,
	)

	exec := &domain.Execution{
		ID:         uuid.New(),
		WorkflowID: wf.ID,
		Status:     domain.ExecutionStatusPending,
		Mode:       domain.ModeManual,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, h.stores.Executions.Create(context.Background(), exec))

	_, err := h.engine.Execute(context.Background(), &domain.ExecutionJob{WorkflowID: wf.ID, ExecutionID: exec.ID})

	var vErr *engine.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Errors, "Workflow must have at least one trigger node")
	assert.False(t, IsRetryable(err))

	stored, err := h.stores.Executions.GetByID(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Contains(t, stored.Error.Message, "trigger node")
}

func TestExecute_CycleIsRejected(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow(t,
		[]domain.Node{trigger("start"), passThrough("a"), passThrough("b")},
		[]domain.Edge{edge("start", "a"), edge("a", "b"), edge("b", "a")},
	)

	_, err := h.engine.Execute(context.Background(), &domain.ExecutionJob{WorkflowID: wf.ID})

	require.ErrorIs(t, err, engine.ErrInvalidWorkflow)
	assert.Contains(t, err.Error(), "cycle")
}

func TestExecute_WorkflowNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Execute(context.Background(), &domain.ExecutionJob{WorkflowID: uuid.New()})

	require.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.False(t, IsRetryable(err))
}

func TestExecute_FinishedExecutionIsReplayed(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow(t,
		[]domain.Node{trigger("start"), setData("a", map[string]any{"n": 1})},
		[]domain.Edge{edge("start", "a")},
	)
	job := &domain.ExecutionJob{WorkflowID: wf.ID, ExecutionID: uuid.New()}

	first, err := h.engine.Execute(context.Background(), job)
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := h.engine.Execute(context.Background(), job)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.True(t, second.Success)
	assert.Equal(t, first.ExecutionID, second.ExecutionID)
	assert.Equal(t, first.Results["a"].Data, second.Results["a"].Data)

	stored, err := h.stores.Workflows.GetByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ExecutionCount)
}

func TestExecute_ResumeSkipsCompletedSteps(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wf := h.workflow(t,
		[]domain.Node{trigger("start"), setData("fetch", map[string]any{"v": "fresh"}), passThrough("use")},
		[]domain.Edge{edge("start", "fetch"), edge("fetch", "use")},
	)

	exec := &domain.Execution{
		ID:          uuid.New(),
		WorkflowID:  wf.ID,
		Status:      domain.ExecutionStatusPending,
		Mode:        domain.ModeManual,
		TriggerData: map[string]any{},
		CreatedAt:   time.Now(),
	}
	require.NoError(t, h.stores.Executions.Create(ctx, exec))
	require.NoError(t, h.stores.Executions.Start(ctx, exec.ID, time.Now()))

	for _, n := range wf.Nodes[:2] {
		step := domain.NewStepResult(exec.ID, &n)
		step.MarkRunning(nil)
		output := map[string]any{}
		if n.ID == "fetch" {
			output["v"] = "stored"
		}
		step.Complete(domain.Succeeded(output))
		require.NoError(t, h.stores.Steps.Upsert(ctx, step))
	}

	out, err := h.engine.Execute(ctx, &domain.ExecutionJob{WorkflowID: wf.ID, ExecutionID: exec.ID})
	require.NoError(t, err)

	require.True(t, out.Success)
	assert.Equal(t, "stored", out.Results["fetch"].Data["v"])
	assert.Equal(t, "stored", out.Results["use"].Data["v"])
}

func TestExecute_CancelBetweenNodes(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow(t,
		[]domain.Node{
			trigger("start"),
			{ID: "wait", Type: nodes.TypeDelay, Data: map[string]any{"duration_ms": 300}},
			setData("after", map[string]any{"ran": true}),
		},
		[]domain.Edge{edge("start", "wait"), edge("wait", "after")},
	)
	job := &domain.ExecutionJob{WorkflowID: wf.ID, ExecutionID: uuid.New()}

	type result struct {
		out *Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := h.engine.Execute(context.Background(), job)
		done <- result{out, err}
	}()

	require.Eventually(t, func() bool {
		steps, err := h.stores.Steps.ListByExecution(context.Background(), job.ExecutionID)
		if err != nil {
			return false
		}
		for _, s := range steps {
			if s.NodeID == "wait" && s.Status == domain.StepStatusRunning {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.engine.Cancel(context.Background(), job.ExecutionID))

	var res result
	select {
	case res = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("execute did not return after cancel")
	}

	require.NoError(t, res.err)
	assert.Equal(t, domain.ExecutionStatusCanceled, res.out.Status)
	assert.False(t, res.out.Success)
	assert.Contains(t, res.out.Results, "wait")
	assert.NotContains(t, res.out.Results, "after")

	status, err := h.stores.Executions.GetStatus(context.Background(), job.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCanceled, status)
}

func TestExecute_ContextCanceled(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow(t,
		[]domain.Node{trigger("start"), {ID: "wait", Type: nodes.TypeDelay, Data: map[string]any{"duration_ms": 5000}}},
		[]domain.Edge{edge("start", "wait")},
	)
	job := &domain.ExecutionJob{WorkflowID: wf.ID, ExecutionID: uuid.New()}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.engine.Execute(ctx, job)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	exec, err := h.stores.Executions.GetByID(context.Background(), job.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusRunning, exec.Status)

	steps := h.steps(t, job.ExecutionID)
	assert.Equal(t, domain.StepStatusRunning, steps["wait"].Status)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	err := h.engine.Cancel(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrExecutionNotFound)

	exec := &domain.Execution{ID: uuid.New(), WorkflowID: uuid.New(), Status: domain.ExecutionStatusPending, CreatedAt: time.Now()}
	require.NoError(t, h.stores.Executions.Create(ctx, exec))

	require.NoError(t, h.engine.Cancel(ctx, exec.ID))
	assert.ErrorIs(t, h.engine.Cancel(ctx, exec.ID), ErrAlreadyFinished)
}

type failingStatusStore struct {
	repo.ExecutionStore
}

func (failingStatusStore) GetStatus(context.Context, uuid.UUID) (domain.ExecutionStatus, error) {
	return "", errors.New("connection reset")
}

func TestExecute_StorageFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.engine = New(Config{
		Workflows:  h.stores.Workflows,
		Executions: failingStatusStore{h.stores.Executions},
		Steps:      h.stores.Steps,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	wf := h.workflow(t, []domain.Node{trigger("start")}, nil)

	_, err := h.engine.Execute(context.Background(), &domain.ExecutionJob{WorkflowID: wf.ID})

	var infra *InfrastructureError
	require.ErrorAs(t, err, &infra)
	assert.Equal(t, "check execution status", infra.Op)
	assert.True(t, IsRetryable(err))
}
