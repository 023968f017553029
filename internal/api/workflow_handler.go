package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
	"github.com/shaiso/conveyor/internal/nodes"
	"github.com/shaiso/conveyor/internal/repo"
	"github.com/shaiso/conveyor/internal/trigger"
)

// maxBodySize: ограничение тела запроса (документ workflow, webhook).
const maxBodySize = 4 << 20

// ListWorkflows возвращает список workflow.
// GET /api/v1/workflows?organization_id=...&active=...&limit=...&offset=...
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	var filter repo.WorkflowFilter
	q := r.URL.Query()

	if s := q.Get("organization_id"); s != "" {
		orgID, err := uuid.Parse(s)
		if err != nil {
			BadRequest(w, "invalid organization_id")
			return
		}
		filter.OrganizationID = &orgID
	}
	if s := q.Get("active"); s != "" {
		active := s == "true"
		filter.Active = &active
	}
	filter.Limit, filter.Offset = pagination(r)

	workflows, err := h.stores.Workflows.List(r.Context(), filter)
	if HandleError(w, h.logger, err, "") {
		return
	}
	List(w, workflows, len(workflows))
}

// CreateWorkflow сохраняет документ workflow.
// POST /api/v1/workflows
//
// Документ проверяется по схеме (400) и графовым правилам (422).
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		BadRequest(w, "failed to read body")
		return
	}

	wf, err := engine.ParseWorkflow(body)
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := h.validator.Validate(wf.Nodes, wf.Edges)
	if HandleError(w, h.logger, result.Err(), "") {
		return
	}

	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}
	now := time.Now()
	wf.CreatedAt, wf.UpdatedAt = now, now

	if HandleError(w, h.logger, h.stores.Workflows.Create(r.Context(), wf), "") {
		return
	}

	h.logger.Info("workflow created", "workflow_id", wf.ID, "name", wf.Name)
	Created(w, CreateWorkflowResponse{Workflow: wf, Validation: result})
}

// GetWorkflow возвращает workflow по ID.
// GET /api/v1/workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	wf, err := h.stores.Workflows.GetByID(r.Context(), id)
	if HandleError(w, h.logger, err, "workflow not found") {
		return
	}
	Success(w, wf)
}

// ExecuteWorkflow ставит ручной запуск в очередь.
// POST /api/v1/workflows/{id}/execute
func (h *Handler) ExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req ExecuteRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "api"
	}

	exec, err := h.triggers.Enqueue(r.Context(), trigger.Request{
		WorkflowID:  id,
		TriggerData: req.TriggerData,
		Mode:        domain.ModeManual,
		TriggeredBy: triggeredBy,
	})
	if HandleError(w, h.logger, err, "workflow not found") {
		return
	}
	Accepted(w, exec)
}

// Webhook запускает workflow входящим HTTP запросом.
// POST /api/v1/webhooks/{id}
//
// Payload строится webhook-триггером workflow. Неактивный workflow даёт 409.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	wf, err := h.stores.Workflows.GetByID(r.Context(), id)
	if HandleError(w, h.logger, err, "workflow not found") {
		return
	}

	trig, ok := h.webhookTrigger(wf)
	if !ok {
		Error(w, http.StatusNotFound, ErrCodeNotFound, "workflow has no webhook trigger")
		return
	}

	req, err := webhookRequest(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	payload, err := trig.Webhook(r.Context(), req)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	exec, err := h.triggers.Enqueue(r.Context(), trigger.Request{
		WorkflowID:  wf.ID,
		TriggerData: payload,
		Mode:        domain.ModeWebhook,
		TriggeredBy: "webhook",
	})
	if HandleError(w, h.logger, err, "workflow not found") {
		return
	}
	Accepted(w, exec)
}

// webhookRequest переводит HTTP запрос в nodes.WebhookRequest.
// JSON тело разбирается, остальное передаётся строкой.
func webhookRequest(r *http.Request) (nodes.WebhookRequest, error) {
	req := nodes.WebhookRequest{
		Method:  r.Method,
		Headers: make(map[string]string, len(r.Header)),
		Query:   make(map[string]string),
	}
	for key := range r.Header {
		req.Headers[strings.ToLower(key)] = r.Header.Get(key)
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			req.Query[key] = values[0]
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return req, err
	}
	if len(body) == 0 {
		return req, nil
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var v any
		if err := unmarshal(body, &v); err != nil {
			return req, err
		}
		req.Body = v
		return req, nil
	}
	req.Body = string(body)
	return req, nil
}

// pathID читает {id} из пути. При ошибке отвечает 400.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
