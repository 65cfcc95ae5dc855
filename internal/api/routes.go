package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Workflows
	mux.Handle("GET /api/v1/workflows", chain(http.HandlerFunc(h.ListWorkflows)))
	mux.Handle("POST /api/v1/workflows", chain(http.HandlerFunc(h.RegisterWorkflow)))
	mux.Handle("GET /api/v1/workflows/{id}", chain(http.HandlerFunc(h.GetWorkflow)))
	mux.Handle("DELETE /api/v1/workflows/{id}", chain(http.HandlerFunc(h.DeleteWorkflow)))

	// Executions
	mux.Handle("POST /api/v1/workflows/{id}/executions", chain(http.HandlerFunc(h.StartExecution)))
	mux.Handle("GET /api/v1/executions", chain(http.HandlerFunc(h.ListExecutions)))
	mux.Handle("GET /api/v1/executions/{id}", chain(http.HandlerFunc(h.GetExecution)))
	mux.Handle("POST /api/v1/executions/{id}/resume", chain(http.HandlerFunc(h.ResumeExecution)))
	mux.Handle("POST /api/v1/executions/{id}/fail", chain(http.HandlerFunc(h.FailExecution)))

	// Approvals
	mux.Handle("GET /api/v1/approvals", chain(http.HandlerFunc(h.ListApprovals)))
	mux.Handle("GET /api/v1/approvals/{id}", chain(http.HandlerFunc(h.GetApproval)))
	mux.Handle("POST /api/v1/approvals/{id}/response", chain(http.HandlerFunc(h.SubmitApprovalResponse)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("POST /api/v1/workflows/{id}/schedules", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}", chain(http.HandlerFunc(h.UpdateSchedule)))
	mux.Handle("DELETE /api/v1/schedules/{id}", chain(http.HandlerFunc(h.DeleteSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}/enabled", chain(http.HandlerFunc(h.SetScheduleEnabled)))
}
