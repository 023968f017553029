package api

import (
	"net/http"

	"github.com/shaiso/conveyor/internal/telemetry"
)

// RegisterRoutes регистрирует маршруты API, /healthz и /metrics.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		RequestID(),
		Logging(h.logger),
	)
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, chain(fn))
	}

	// Workflows
	handle("GET /api/v1/workflows", h.ListWorkflows)
	handle("POST /api/v1/workflows", h.CreateWorkflow)
	handle("GET /api/v1/workflows/{id}", h.GetWorkflow)
	handle("POST /api/v1/workflows/{id}/execute", h.ExecuteWorkflow)
	handle("POST /api/v1/webhooks/{id}", h.Webhook)

	// Executions
	handle("GET /api/v1/executions", h.ListExecutions)
	handle("GET /api/v1/executions/{id}", h.GetExecution)
	handle("GET /api/v1/executions/{id}/steps", h.ListSteps)
	handle("POST /api/v1/executions/{id}/cancel", h.CancelExecution)
	handle("POST /api/v1/executions/{id}/retry", h.RetryExecution)

	// Nodes
	handle("GET /api/v1/nodes", h.ListNodes)

	// Schedules
	handle("GET /api/v1/workflows/{id}/schedules", h.ListSchedules)
	handle("POST /api/v1/workflows/{id}/schedules", h.CreateSchedule)
	handle("PUT /api/v1/schedules/{id}/enabled", h.SetScheduleEnabled)

	// Credentials and node policies
	handle("GET /api/v1/credentials", h.ListCredentials)
	handle("POST /api/v1/credentials", h.CreateCredential)
	handle("GET /api/v1/policies", h.ListPolicies)
	handle("PUT /api/v1/policies/{type}", h.SetPolicy)

	mux.HandleFunc("GET /healthz", telemetry.HealthHandler)
	mux.Handle("GET /metrics", telemetry.Handler())
}
