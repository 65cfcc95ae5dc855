package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/orchestrator"
	"github.com/shaiso/conveyor/internal/repo"
)

// StartExecution запускает выполнение workflow в фоне и сразу
// возвращает созданную запись. Пустое тело — запуск без входов.
// POST /api/v1/workflows/{id}/executions
func (h *Handler) StartExecution(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")

	var req StartExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	exec, err := h.engine.Start(r.Context(), workflowID, req.Inputs)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	h.logger.Info("execution started",
		"execution_id", exec.ID,
		"workflow_id", workflowID,
	)
	Created(w, ExecutionFromDomain(exec))
}

// ListExecutions возвращает список выполнений с фильтрацией.
// Читает из БД, если она подключена, иначе из памяти оркестратора.
// GET /api/v1/executions?workflow_id=...&status=...&limit=...&offset=...
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := repo.ExecutionFilter{
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Status:     domain.ExecutionStatus(r.URL.Query().Get("status")),
		Limit:      50,
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		filter.Limit = int(mustParseInt(limitStr, 50))
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		filter.Offset = int(mustParseInt(offsetStr, 0))
	}

	if h.executions == nil {
		h.listExecutionsFromEngine(w, filter)
		return
	}

	execs, err := h.executions.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ExecutionResponse, len(execs))
	for i := range execs {
		result[i] = ExecutionFromDomain(&execs[i])
	}

	List(w, result, len(result))
}

// listExecutionsFromEngine фильтрует выполнения из памяти оркестратора.
func (h *Handler) listExecutionsFromEngine(w http.ResponseWriter, filter repo.ExecutionFilter) {
	var result []ExecutionResponse
	skipped := 0
	for _, exec := range h.engine.List() {
		if filter.WorkflowID != "" && exec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && exec.Status != filter.Status {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
		result = append(result, ExecutionFromDomain(exec))
	}

	List(w, result, len(result))
}

// GetExecution возвращает выполнение. Активные и недавние берутся из
// памяти оркестратора, остальные — из БД.
// GET /api/v1/executions/{id}
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	exec, err := h.engine.Get(id)
	if err == nil {
		Success(w, ExecutionFromDomain(exec))
		return
	}
	if h.executions == nil || !errors.Is(err, orchestrator.ErrExecutionNotFound) {
		HandleEngineError(w, h.logger, err)
		return
	}

	// Нет в памяти: выполнение могло завершиться до рестарта сервера,
	// его запись осталась в зеркале БД.
	stored, err := h.executions.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "execution not found") {
		return
	}

	Success(w, ExecutionFromDomain(stored))
}

// ResumeExecution возобновляет приостановленное выполнение после
// решения по согласованию.
// POST /api/v1/executions/{id}/resume
func (h *Handler) ResumeExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	exec, err := h.engine.Resume(r.Context(), id)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	h.logger.Info("execution resumed", "execution_id", id)
	Success(w, ExecutionFromDomain(exec))
}

// FailExecution принудительно завершает выполнение с ошибкой.
// POST /api/v1/executions/{id}/fail
func (h *Handler) FailExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req FailExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "failed via api"
	}

	if err := h.engine.Fail(r.Context(), id, req.Reason); HandleEngineError(w, h.logger, err) {
		return
	}

	h.logger.Info("execution failed manually",
		"execution_id", id,
		"reason", req.Reason,
	)

	exec, err := h.engine.Get(id)
	if HandleEngineError(w, h.logger, err) {
		return
	}
	Success(w, ExecutionFromDomain(exec))
}

// mustParseInt парсит строку в int с дефолтным значением.
func mustParseInt(s string, defaultVal int64) int64 {
	if n, err := json.Number(s).Int64(); err == nil {
		return n
	}
	return defaultVal
}
