package api

import (
	"net/http"
	"time"

	"github.com/shaiso/conveyor/internal/repo"
	"github.com/shaiso/conveyor/internal/scheduler"
)

// ListSchedules возвращает расписания workflow.
// GET /api/v1/workflows/{id}/schedules?enabled=...
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	wfID, ok := pathID(w, r)
	if !ok {
		return
	}

	filter := repo.ScheduleFilter{WorkflowID: &wfID}
	if s := r.URL.Query().Get("enabled"); s != "" {
		enabled := s == "true"
		filter.Enabled = &enabled
	}
	filter.Limit, filter.Offset = pagination(r)

	schedules, err := h.stores.Schedules.List(r.Context(), filter)
	if HandleError(w, h.logger, err, "") {
		return
	}
	List(w, schedules, len(schedules))
}

// CreateSchedule создаёт расписание workflow.
// POST /api/v1/workflows/{id}/schedules
//
// Нужен cron_expr или interval_sec. Первый запуск вычисляется сразу.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	wfID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req CreateScheduleRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if req.CronExpr == "" && req.IntervalSec <= 0 {
		BadRequest(w, "cron_expr or interval_sec is required")
		return
	}
	if req.CronExpr != "" && req.IntervalSec > 0 {
		BadRequest(w, "cron_expr and interval_sec are mutually exclusive")
		return
	}

	wf, err := h.stores.Workflows.GetByID(r.Context(), wfID)
	if HandleError(w, h.logger, err, "workflow not found") {
		return
	}

	sched := req.ToDomain(wf)
	if sched.NodeID != "" {
		if _, ok := wf.FindNode(sched.NodeID); !ok {
			BadRequest(w, "node_id not found in workflow")
			return
		}
	}
	if err := scheduler.Prepare(sched, time.Now()); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if HandleError(w, h.logger, h.stores.Schedules.Create(r.Context(), sched), "") {
		return
	}

	h.logger.Info("schedule created",
		"schedule_id", sched.ID,
		"workflow_id", wf.ID,
		"next_due_at", sched.NextDueAt,
	)
	Created(w, sched)
}

// SetScheduleEnabled включает или выключает расписание.
// PUT /api/v1/schedules/{id}/enabled
//
// При включении next_due_at пересчитывается от текущего момента,
// пропущенные за время простоя запуски не догоняются.
func (h *Handler) SetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req SetEnabledRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}

	sched, err := h.stores.Schedules.GetByID(r.Context(), id)
	if HandleError(w, h.logger, err, "schedule not found") {
		return
	}

	if req.Enabled && !sched.Enabled {
		if err := scheduler.Prepare(sched, time.Now()); err != nil {
			BadRequest(w, err.Error())
			return
		}
	}
	sched.Enabled = req.Enabled
	sched.UpdatedAt = time.Now()

	if HandleError(w, h.logger, h.stores.Schedules.Update(r.Context(), sched), "schedule not found") {
		return
	}
	Success(w, sched)
}
