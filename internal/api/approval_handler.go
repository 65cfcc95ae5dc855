package api

import (
	"encoding/json"
	"net/http"

	"github.com/shaiso/conveyor/internal/domain"
)

// ListApprovals возвращает ожидающие запросы на согласование.
// Параметр ?approver= оставляет только запросы, адресованные
// конкретному согласующему.
// GET /api/v1/approvals?approver=...
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	if h.approvals == nil {
		List(w, []ApprovalRequestResponse{}, 0)
		return
	}

	pending := h.approvals.Pending(r.URL.Query().Get("approver"))

	result := make([]ApprovalRequestResponse, len(pending))
	for i, req := range pending {
		result[i] = ApprovalFromDomain(req)
	}

	List(w, result, len(result))
}

// GetApproval возвращает запрос на согласование по ID.
// GET /api/v1/approvals/{id}
func (h *Handler) GetApproval(w http.ResponseWriter, r *http.Request) {
	if h.approvals == nil {
		NotFound(w, "approval not found")
		return
	}

	req, err := h.approvals.Get(r.PathValue("id"))
	if HandleApprovalError(w, h.logger, err) {
		return
	}

	Success(w, ApprovalFromDomain(req))
}

// SubmitApprovalResponse принимает ответ согласующего. Приостановленное
// выполнение возобновляется автоматически, когда политика согласования
// набирает решение.
// POST /api/v1/approvals/{id}/response
func (h *Handler) SubmitApprovalResponse(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if h.approvals == nil {
		NotFound(w, "approval not found")
		return
	}

	var req ApprovalDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.ApproverID == "" {
		BadRequest(w, "approver_id is required")
		return
	}

	decision := domain.Decision(req.Decision)
	if decision != domain.DecisionApprove && decision != domain.DecisionReject {
		BadRequest(w, "decision must be approve or reject")
		return
	}

	status, err := h.approvals.RecordResponse(id, req.ApproverID, decision, req.Comment)
	if HandleApprovalError(w, h.logger, err) {
		return
	}

	h.logger.Info("approval response recorded",
		"approval_id", id,
		"approver_id", req.ApproverID,
		"decision", req.Decision,
		"status", status,
	)
	Success(w, DecisionResultResponse{ApprovalID: id, Status: string(status)})
}
