package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// ListWorkflows возвращает список зарегистрированных workflow.
// GET /api/v1/workflows
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	defs, err := h.workflows.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]WorkflowResponse, len(defs))
	for i := range defs {
		result[i] = WorkflowFromDomain(&defs[i])
	}

	List(w, result, len(result))
}

// RegisterWorkflow регистрирует определение workflow. Тело запроса —
// JSON определения целиком. Повторная регистрация того же ID делает
// присланную версию текущей.
// POST /api/v1/workflows
func (h *Handler) RegisterWorkflow(w http.ResponseWriter, r *http.Request) {
	var def domain.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if def.ID == "" {
		BadRequest(w, "workflow id is required")
		return
	}

	if err := engine.Validate(&def); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if def.Version == 0 {
		def.Version = 1
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}

	if err := h.workflows.Save(r.Context(), &def); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.logger.Info("workflow registered",
		"workflow_id", def.ID,
		"version", def.Version,
	)
	Created(w, WorkflowFromDomain(&def))
}

// GetWorkflow возвращает определение workflow. Параметр ?version=
// выбирает версию из истории, без него отдаётся текущая.
// GET /api/v1/workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var (
		def *domain.WorkflowDefinition
		err error
	)
	if v := r.URL.Query().Get("version"); v != "" {
		version, convErr := strconv.Atoi(v)
		if convErr != nil || version < 1 {
			BadRequest(w, "invalid version number")
			return
		}
		def, err = h.workflows.GetVersion(r.Context(), id, version)
	} else {
		def, err = h.workflows.GetDefinition(r.Context(), id)
	}
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	Success(w, def)
}

// DeleteWorkflow удаляет workflow вместе с историей версий и
// расписаниями.
// DELETE /api/v1/workflows/{id}
func (h *Handler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.workflows.Delete(r.Context(), id); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	h.logger.Info("workflow deleted", "workflow_id", id)
	NoContent(w)
}
