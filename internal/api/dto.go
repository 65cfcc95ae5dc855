package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
)

// Workflow DTOs

// WorkflowResponse — краткая карточка workflow для списков.
// Полное определение отдаёт GET /workflows/{id}.
type WorkflowResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Version     int       `json:"version,omitempty"`
	Description string    `json:"description,omitempty"`
	Steps       int       `json:"steps"`
	CreatedAt   time.Time `json:"created_at"`
}

// WorkflowFromDomain конвертирует domain.WorkflowDefinition в WorkflowResponse.
func WorkflowFromDomain(def *domain.WorkflowDefinition) WorkflowResponse {
	return WorkflowResponse{
		ID:          def.ID,
		Name:        def.Name,
		Version:     def.Version,
		Description: def.Description,
		Steps:       len(def.Steps),
		CreatedAt:   def.CreatedAt,
	}
}

// Execution DTOs

// StartExecutionRequest — запрос на запуск выполнения.
type StartExecutionRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`
}

// FailExecutionRequest — запрос на остановку выполнения.
type FailExecutionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// StepResponse — результат шага в ответе API.
type StepResponse struct {
	StepID     string     `json:"step_id"`
	Status     string     `json:"status"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	Attempts   int        `json:"attempts,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ExecutionResponse — ответ с выполнением.
type ExecutionResponse struct {
	ID                string                  `json:"id"`
	WorkflowID        string                  `json:"workflow_id"`
	WorkflowVersion   int                     `json:"workflow_version,omitempty"`
	Status            string                  `json:"status"`
	Inputs            map[string]any          `json:"inputs,omitempty"`
	Outputs           map[string]any          `json:"outputs,omitempty"`
	Error             string                  `json:"error,omitempty"`
	FailedStepID      string                  `json:"failed_step_id,omitempty"`
	PendingApprovalID string                  `json:"pending_approval_id,omitempty"`
	Steps             map[string]StepResponse `json:"steps,omitempty"`
	StartedAt         *time.Time              `json:"started_at,omitempty"`
	FinishedAt        *time.Time              `json:"finished_at,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
}

// ExecutionFromDomain конвертирует domain.Execution в ExecutionResponse.
func ExecutionFromDomain(e *domain.Execution) ExecutionResponse {
	resp := ExecutionResponse{
		ID:                e.ID,
		WorkflowID:        e.WorkflowID,
		WorkflowVersion:   e.WorkflowVersion,
		Status:            string(e.Status),
		Inputs:            e.Inputs,
		Outputs:           e.Outputs,
		Error:             e.Error,
		FailedStepID:      e.FailedStepID,
		PendingApprovalID: e.PendingApprovalID,
		StartedAt:         e.StartedAt,
		FinishedAt:        e.FinishedAt,
		CreatedAt:         e.CreatedAt,
	}
	if len(e.Steps) > 0 {
		resp.Steps = make(map[string]StepResponse, len(e.Steps))
		for id, sr := range e.Steps {
			resp.Steps[id] = StepFromDomain(sr)
		}
	}
	return resp
}

// StepFromDomain конвертирует domain.StepResult в StepResponse.
func StepFromDomain(r *domain.StepResult) StepResponse {
	return StepResponse{
		StepID:     r.StepID,
		Status:     string(r.Status),
		Output:     r.Output,
		Error:      r.Error,
		Attempts:   r.Attempts,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// Approval DTOs

// ApprovalDecisionRequest — ответ согласующего на запрос.
type ApprovalDecisionRequest struct {
	ApproverID string `json:"approver_id"`
	Decision   string `json:"decision"`
	Comment    string `json:"comment,omitempty"`
}

// DecisionResultResponse — итог приёма ответа согласующего.
type DecisionResultResponse struct {
	ApprovalID string `json:"approval_id"`
	Status     string `json:"status"`
}

// ApprovalAnswer — один ответ согласующего в ответе API.
type ApprovalAnswer struct {
	ApproverID  string    `json:"approver_id"`
	Decision    string    `json:"decision"`
	Comment     string    `json:"comment,omitempty"`
	RespondedAt time.Time `json:"responded_at"`
}

// ApprovalRequestResponse — запрос на согласование в ответе API.
type ApprovalRequestResponse struct {
	ID             string           `json:"id"`
	ExecutionID    string           `json:"execution_id"`
	StepID         string           `json:"step_id"`
	Status         string           `json:"status"`
	Approvers      []string         `json:"approvers"`
	ApprovalType   string           `json:"approval_type"`
	Title          string           `json:"title,omitempty"`
	Message        string           `json:"message,omitempty"`
	Payload        map[string]any   `json:"payload,omitempty"`
	RequireComment bool             `json:"require_comment,omitempty"`
	Escalated      bool             `json:"escalated,omitempty"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
	Responses      []ApprovalAnswer `json:"responses,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	DecidedAt      *time.Time       `json:"decided_at,omitempty"`
}

// ApprovalFromDomain конвертирует domain.ApprovalRequest в
// ApprovalRequestResponse.
func ApprovalFromDomain(req *domain.ApprovalRequest) ApprovalRequestResponse {
	resp := ApprovalRequestResponse{
		ID:             req.ID,
		ExecutionID:    req.ExecutionID,
		StepID:         req.StepID,
		Status:         string(req.Status),
		Approvers:      req.Approvers,
		ApprovalType:   string(req.ApprovalType),
		Title:          req.Title,
		Message:        req.Message,
		Payload:        req.Payload,
		RequireComment: req.RequireComment,
		Escalated:      req.Escalated,
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      req.CreatedAt,
		DecidedAt:      req.DecidedAt,
	}
	for _, r := range req.Responses {
		resp.Responses = append(resp.Responses, ApprovalAnswer{
			ApproverID:  r.ApproverID,
			Decision:    string(r.Decision),
			Comment:     r.Comment,
			RespondedAt: r.RespondedAt,
		})
	}
	return resp
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	Inputs      map[string]any `json:"inputs,omitempty"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string         `json:"name,omitempty"`
	CronExpr    *string         `json:"cron_expr,omitempty"`
	IntervalSec *int            `json:"interval_sec,omitempty"`
	Timezone    *string         `json:"timezone,omitempty"`
	Inputs      *map[string]any `json:"inputs,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ со schedule.
type ScheduleResponse struct {
	ID              uuid.UUID      `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	Name            string         `json:"name,omitempty"`
	CronExpr        string         `json:"cron_expr,omitempty"`
	IntervalSec     int            `json:"interval_sec,omitempty"`
	Timezone        string         `json:"timezone"`
	Enabled         bool           `json:"enabled"`
	NextDueAt       *time.Time     `json:"next_due_at,omitempty"`
	LastRunAt       *time.Time     `json:"last_run_at,omitempty"`
	LastExecutionID string         `json:"last_execution_id,omitempty"`
	Inputs          map[string]any `json:"inputs,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:              s.ID,
		WorkflowID:      s.WorkflowID,
		Name:            s.Name,
		CronExpr:        s.CronExpr,
		IntervalSec:     s.IntervalSec,
		Timezone:        s.Timezone,
		Enabled:         s.Enabled,
		NextDueAt:       s.NextDueAt,
		LastRunAt:       s.LastRunAt,
		LastExecutionID: s.LastExecutionID,
		Inputs:          s.Inputs,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}
