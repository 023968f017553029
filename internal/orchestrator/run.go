package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
	"github.com/shaiso/conveyor/internal/governance"
	"github.com/shaiso/conveyor/internal/nodes"
	"github.com/shaiso/conveyor/internal/telemetry"
)

// run выполняет узлы в топологическом порядке.
// Возвращает true, если выполнение было отменено.
func (e *Engine) run(ctx context.Context, state *runState, order []string) (bool, error) {
	for _, nodeID := range order {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		status, err := e.executions.GetStatus(ctx, state.execution.ID)
		if err != nil {
			return false, infraError("check execution status", err)
		}
		if status == domain.ExecutionStatusCanceled {
			return true, nil
		}

		if state.restore(nodeID) {
			continue
		}

		node, _ := state.workflow.FindNode(nodeID)

		if !state.isActive(nodeID) {
			if err := e.skip(ctx, state, node); err != nil {
				return false, err
			}
			continue
		}

		result, err := e.executeNode(ctx, state, node)
		if err != nil {
			return false, err
		}

		if !result.Success && !state.workflow.ContinueOnFail(node) {
			state.logger.Info("stopping after node failure", "node_id", node.ID)
			break
		}
	}
	return false, nil
}

// skip записывает пропущенный узел неактивной ветки.
func (e *Engine) skip(ctx context.Context, state *runState, node *domain.Node) error {
	state.ectx.MarkSkipped(node.ID)

	step := domain.NewStepResult(state.execution.ID, node)
	step.MarkSkipped()
	if err := e.steps.Upsert(ctx, step); err != nil {
		return infraError("save skipped step", err)
	}

	telemetry.NodeExecutionsTotal.WithLabelValues(node.Type, string(domain.StepStatusSkipped)).Inc()
	telemetry.WithNodeID(state.logger, node.ID, node.Type).Debug("node skipped")
	return nil
}

// executeNode выполняет один узел и сохраняет его шаг.
func (e *Engine) executeNode(ctx context.Context, state *runState, node *domain.Node) (domain.NodeResult, error) {
	logger := telemetry.WithNodeID(state.logger, node.ID, node.Type)
	isTrigger := e.registry.IsTrigger(node.Type)
	input := state.ectx.ResolveInput(node, isTrigger)

	step := domain.NewStepResult(state.execution.ID, node)
	step.MarkRunning(input)
	if err := e.steps.Upsert(ctx, step); err != nil {
		return domain.NodeResult{}, infraError("save running step", err)
	}
	logger.Debug("node started", "status", step.Status)

	result, err := e.dispatch(ctx, state, node, input)
	if err != nil {
		return domain.NodeResult{}, err
	}

	// Остановка воркера: шаг останется running и будет повторён при возобновлении
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.NodeResult{}, ctxErr
	}

	step.Complete(result)
	if err := e.steps.Upsert(ctx, step); err != nil {
		return domain.NodeResult{}, infraError("save completed step", err)
	}

	state.ectx.SetNodeResult(node.ID, result)
	if !result.Success {
		state.ectx.AddError(node.ID, result.Error)
	}

	duration := time.Duration(step.DurationMs) * time.Millisecond
	telemetry.NodeExecutionsTotal.WithLabelValues(node.Type, string(step.Status)).Inc()
	telemetry.NodeDuration.WithLabelValues(node.Type).Observe(duration.Seconds())

	if result.Success {
		logger.Info("node finished", "status", step.Status, "duration", duration, "attempt", result.Attempt)
	} else {
		logger.Warn("node failed",
			"status", step.Status,
			"duration", duration,
			"kind", result.Error.Kind,
			"error", result.Error.Message,
		)
	}
	return result, nil
}

// dispatch проверяет разрешение узла, получает credentials, подставляет
// переменные, проверяет параметры и вызывает реестр.
// Ошибка возвращается только для сбоев инфраструктуры.
func (e *Engine) dispatch(ctx context.Context, state *runState, node *domain.Node, input map[string]any) (domain.NodeResult, error) {
	if !e.registry.Has(node.Type) {
		return domain.Failed(domain.ErrorKindUnknownType, fmt.Sprintf("%s: %s", nodes.ErrUnknownType, node.Type)), nil
	}

	orgID := state.workflow.OrganizationID
	enabled, err := e.governance.Enabled(ctx, orgID, node.Type)
	if err != nil {
		return domain.NodeResult{}, infraError("check node policy", err)
	}
	if !enabled {
		return domain.Failed(domain.ErrorKindDisabled, fmt.Sprintf("%v: %s", governance.ErrActionDisabled, node.Type)), nil
	}

	var creds map[string]any
	if node.CredentialID != nil {
		if e.credentials == nil {
			return domain.Failed(domain.ErrorKindCredential, "credentials are not configured"), nil
		}
		creds, err = e.credentials.Resolve(ctx, orgID, *node.CredentialID)
		if err != nil {
			return domain.Failed(domain.ErrorKindCredential, err.Error()), nil
		}
	}

	outputs := state.ectx.Outputs()
	params := engine.SubstituteParams(node.Data, engine.Sources{
		Input:       input,
		Credentials: creds,
		Trigger:     state.ectx.TriggerData,
		Nodes:       outputs,
	})

	if err := e.registry.Validate(node.Type, params); err != nil {
		kind := domain.ErrorKindInvalidParams
		if errors.Is(err, nodes.ErrUnknownType) {
			kind = domain.ErrorKindUnknownType
		}
		return domain.Failed(kind, err.Error()), nil
	}

	return e.registry.Execute(ctx, node.Type, &nodes.Request{
		NodeID:      node.ID,
		Params:      params,
		Input:       input,
		Trigger:     state.ectx.TriggerData,
		Nodes:       outputs,
		Completed:   state.ectx.AllResults(),
		Credentials: creds,
		Settings:    node.Settings,
		Timeout:     e.nodeTimeout(node),
	}), nil
}

// nodeTimeout берёт таймаут из настроек узла, затем из определения типа.
func (e *Engine) nodeTimeout(node *domain.Node) time.Duration {
	if node.Settings != nil && node.Settings.TimeoutSec > 0 {
		return time.Duration(node.Settings.TimeoutSec) * time.Second
	}
	if def, ok := e.registry.Definition(node.Type); ok && def.Settings != nil && def.Settings.TimeoutSec > 0 {
		return time.Duration(def.Settings.TimeoutSec) * time.Second
	}
	return 0
}
