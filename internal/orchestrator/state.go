package orchestrator

import (
	"log/slog"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// runState: состояние одного выполнения в памяти оркестратора.
//
// Создаётся на время Execute. При возобновлении содержит шаги,
// сохранённые предыдущей попыткой.
type runState struct {
	workflow  *domain.Workflow
	execution *domain.Execution
	ectx      *engine.ExecutionContext
	logger    *slog.Logger

	// prior: шаги предыдущей попытки (nodeID → шаг).
	prior map[string]domain.StepResult
}

func newRunState(wf *domain.Workflow, exec *domain.Execution, logger *slog.Logger) *runState {
	return &runState{
		workflow:  wf,
		execution: exec,
		ectx:      engine.NewExecutionContext(wf, exec, exec.TriggerData),
		logger:    logger,
		prior:     make(map[string]domain.StepResult),
	}
}

// remember сохраняет шаги предыдущей попытки.
func (s *runState) remember(steps []domain.StepResult) {
	for _, step := range steps {
		s.prior[step.NodeID] = step
	}
}

// restore переносит завершённый шаг предыдущей попытки в контекст.
// Возвращает true, если узел повторно выполнять не нужно.
func (s *runState) restore(nodeID string) bool {
	step, ok := s.prior[nodeID]
	if !ok {
		return false
	}
	switch step.Status {
	case domain.StepStatusSuccess:
		attempt := step.Attempt
		if attempt == 0 {
			attempt = 1
		}
		data := step.Output
		if data == nil {
			data = make(map[string]any)
		}
		s.ectx.SetNodeResult(nodeID, domain.NodeResult{Success: true, Data: data, Attempt: attempt})
		return true
	case domain.StepStatusSkipped:
		s.ectx.MarkSkipped(nodeID)
		return true
	default:
		return false
	}
}

// isActive проверяет, есть ли у узла активное входящее ребро.
// Узел без входящих рёбер всегда активен.
func (s *runState) isActive(nodeID string) bool {
	incoming := s.workflow.IncomingEdges(nodeID)
	if len(incoming) == 0 {
		return true
	}
	for _, e := range incoming {
		if s.ectx.IsEdgeActive(e) {
			return true
		}
	}
	return false
}

// finish переводит выполнение в итоговый статус по накопленным ошибкам.
func (s *runState) finish() {
	results := s.ectx.Results()
	errs := s.ectx.Errors()
	if len(errs) == 0 {
		s.execution.MarkSucceeded(results)
		return
	}

	first := errs[0]
	execErr := &domain.ExecutionError{NodeID: first.NodeID}
	if first.Error != nil {
		execErr.Message = first.Error.Message
		execErr.Stack = first.Error.Stack
	}
	s.execution.MarkFailed(results, execErr)
}

// outcome формирует результат Execute.
func (s *runState) outcome() *Outcome {
	return &Outcome{
		ExecutionID: s.execution.ID,
		Status:      s.execution.Status,
		Success:     s.execution.Status == domain.ExecutionStatusSuccess,
		Results:     s.ectx.Results(),
		Errors:      s.ectx.Errors(),
	}
}
