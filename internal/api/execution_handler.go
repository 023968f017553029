package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/repo"
)

// ListExecutions возвращает список выполнений.
// GET /api/v1/executions?workflow_id=...&status=...&limit=...&offset=...
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	var filter repo.ExecutionFilter
	q := r.URL.Query()

	if s := q.Get("workflow_id"); s != "" {
		wfID, err := uuid.Parse(s)
		if err != nil {
			BadRequest(w, "invalid workflow_id")
			return
		}
		filter.WorkflowID = &wfID
	}
	if s := q.Get("status"); s != "" {
		status := domain.ExecutionStatus(s)
		if !status.IsValid() {
			BadRequest(w, "invalid status")
			return
		}
		filter.Status = status
	}
	filter.Limit, filter.Offset = pagination(r)

	execs, err := h.stores.Executions.List(r.Context(), filter)
	if HandleError(w, h.logger, err, "") {
		return
	}
	List(w, execs, len(execs))
}

// GetExecution возвращает выполнение с результатами узлов.
// GET /api/v1/executions/{id}
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	exec, err := h.stores.Executions.GetByID(r.Context(), id)
	if HandleError(w, h.logger, err, "execution not found") {
		return
	}
	Success(w, exec)
}

// ListSteps возвращает журнал шагов выполнения.
// GET /api/v1/executions/{id}/steps
func (h *Handler) ListSteps(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	exec, err := h.stores.Executions.GetByID(r.Context(), id)
	if HandleError(w, h.logger, err, "execution not found") {
		return
	}

	steps, err := h.stores.Steps.ListByExecution(r.Context(), id)
	if HandleError(w, h.logger, err, "") {
		return
	}
	if steps == nil {
		steps = []domain.StepResult{}
	}
	Success(w, StepsResponse{ExecutionID: exec.ID, Status: exec.Status, Steps: steps})
}

// CancelExecution отменяет выполнение.
// POST /api/v1/executions/{id}/cancel
//
// Выполнение в работе останавливается на границе следующего узла.
func (h *Handler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if HandleError(w, h.logger, h.canceler.Cancel(r.Context(), id), "execution not found") {
		return
	}

	exec, err := h.stores.Executions.GetByID(r.Context(), id)
	if HandleError(w, h.logger, err, "execution not found") {
		return
	}
	Success(w, exec)
}

// RetryExecution запускает новое выполнение с данными триггера исходного.
// POST /api/v1/executions/{id}/retry
func (h *Handler) RetryExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	exec, err := h.triggers.Retry(r.Context(), id, "api:retry")
	if HandleError(w, h.logger, err, "execution not found") {
		return
	}
	Accepted(w, exec)
}
