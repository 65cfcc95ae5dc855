package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/repo"
	"github.com/shaiso/conveyor/internal/scheduler"
)

// ListSchedules возвращает список расписаний с фильтрацией.
// GET /api/v1/schedules?workflow_id=...&enabled=...&limit=...&offset=...
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	filter := repo.ScheduleFilter{
		WorkflowID: r.URL.Query().Get("workflow_id"),
	}

	if enabledStr := r.URL.Query().Get("enabled"); enabledStr != "" {
		enabled := enabledStr == "true"
		filter.Enabled = &enabled
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		filter.Limit = int(mustParseInt(limitStr, 50))
	} else {
		filter.Limit = 50
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		filter.Offset = int(mustParseInt(offsetStr, 0))
	}

	schedules, err := h.schedules.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ScheduleResponse, len(schedules))
	for i := range schedules {
		result[i] = ScheduleFromDomain(&schedules[i])
	}

	List(w, result, len(result))
}

// CreateSchedule создаёт расписание для workflow.
// POST /api/v1/workflows/{id}/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")

	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	// Валидация
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	if req.CronExpr == "" && req.IntervalSec <= 0 {
		BadRequest(w, "either cron_expr or interval_sec is required")
		return
	}

	if req.CronExpr != "" {
		if err := scheduler.ValidateCronExpr(req.CronExpr); err != nil {
			BadRequest(w, err.Error())
			return
		}
	}

	// Проверяем, что workflow существует
	_, err := h.workflows.GetDefinition(r.Context(), workflowID)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	now := time.Now().UTC()
	schedule := &domain.Schedule{
		ID:          uuid.New(),
		WorkflowID:  workflowID,
		Name:        req.Name,
		CronExpr:    req.CronExpr,
		IntervalSec: req.IntervalSec,
		Timezone:    timezone,
		Enabled:     req.Enabled,
		Inputs:      req.Inputs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	next, err := scheduler.CalculateInitialNextDue(schedule)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	schedule.NextDueAt = &next

	if err := h.schedules.Create(r.Context(), schedule); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.logger.Info("schedule created",
		"schedule_id", schedule.ID,
		"workflow_id", workflowID,
	)
	Created(w, ScheduleFromDomain(schedule))
}

// GetSchedule возвращает расписание по ID.
// GET /api/v1/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	schedule, err := h.schedules.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// UpdateSchedule обновляет расписание. После смены выражения, интервала
// или часового пояса время следующего запуска пересчитывается.
// PUT /api/v1/schedules/{id}
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	schedule, err := h.schedules.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	timingChanged := false
	if req.Name != nil {
		schedule.Name = *req.Name
	}
	if req.CronExpr != nil {
		if *req.CronExpr != "" {
			if err := scheduler.ValidateCronExpr(*req.CronExpr); err != nil {
				BadRequest(w, err.Error())
				return
			}
		}
		schedule.CronExpr = *req.CronExpr
		timingChanged = true
	}
	if req.IntervalSec != nil {
		schedule.IntervalSec = *req.IntervalSec
		timingChanged = true
	}
	if req.Timezone != nil {
		schedule.Timezone = *req.Timezone
		timingChanged = true
	}
	if req.Inputs != nil {
		schedule.Inputs = *req.Inputs
	}

	if schedule.CronExpr == "" && schedule.IntervalSec <= 0 {
		BadRequest(w, "either cron_expr or interval_sec is required")
		return
	}

	if timingChanged {
		next, err := scheduler.CalculateInitialNextDue(schedule)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		schedule.NextDueAt = &next
	}
	schedule.UpdatedAt = time.Now().UTC()

	if err := h.schedules.Update(r.Context(), schedule); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// DeleteSchedule удаляет расписание.
// DELETE /api/v1/schedules/{id}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	if err := h.schedules.Delete(r.Context(), id); HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	h.logger.Info("schedule deleted", "schedule_id", id)
	NoContent(w)
}

// SetScheduleEnabled включает или выключает расписание.
// PUT /api/v1/schedules/{id}/enabled
func (h *Handler) SetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	schedule, err := h.schedules.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	if req.Enabled && !schedule.Enabled {
		// При включении следующий запуск считается от текущего момента:
		// расписание не навёрстывает пропущенные за время простоя тики.
		next, err := scheduler.CalculateInitialNextDue(schedule)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		schedule.Enabled = true
		schedule.NextDueAt = &next
		schedule.UpdatedAt = time.Now().UTC()

		if err := h.schedules.Update(r.Context(), schedule); err != nil {
			InternalError(w, h.logger, err)
			return
		}

		Success(w, ScheduleFromDomain(schedule))
		return
	}

	if err := h.schedules.SetEnabled(r.Context(), id, req.Enabled); HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	schedule.Enabled = req.Enabled
	Success(w, ScheduleFromDomain(schedule))
}
