package domain

import (
	"time"

	"github.com/google/uuid"
)

// Decision — ответ согласующего.
type Decision string

const (
	// DecisionApprove — одобрить.
	DecisionApprove Decision = "approve"

	// DecisionReject — отклонить.
	DecisionReject Decision = "reject"
)

// ApprovalRequest — запрос на согласование, созданный шагом
// human_approval.
//
// Запрос живёт отдельно от выполнения: выполнение приостанавливается
// (paused), а запрос собирает ответы согласующих до принятия решения
// по правилу консенсуса или истечения срока.
type ApprovalRequest struct {
	// ID — уникальный идентификатор запроса.
	ID string `json:"id"`

	// ExecutionID — выполнение, которое ждёт решения.
	ExecutionID string `json:"execution_id"`

	// StepID — шаг human_approval, создавший запрос.
	StepID string `json:"step_id"`

	// Approvers — текущий круг согласующих. При эскалации заменяется
	// на escalate_to.
	Approvers []string `json:"approvers"`

	// ApprovalType — правило принятия решения.
	ApprovalType ApprovalPolicy `json:"approval_type"`

	// Status — текущий статус запроса.
	Status ApprovalStatus `json:"status"`

	// Title — заголовок запроса.
	Title string `json:"title,omitempty"`

	// Message — текст запроса (после подстановки ссылок).
	Message string `json:"message,omitempty"`

	// Payload — данные контекста для согласующих (например, выходы
	// шагов, на основании которых принимается решение).
	Payload map[string]any `json:"payload,omitempty"`

	// Channels — каналы уведомлений.
	Channels []string `json:"channels,omitempty"`

	// RequireComment — требовать комментарий в каждом ответе.
	RequireComment bool `json:"require_comment,omitempty"`

	// TimeoutSec — исходный срок ожидания в секундах (0 — без срока).
	// Используется повторно при эскалации для нового срока.
	TimeoutSec int `json:"timeout_sec,omitempty"`

	// OnTimeout — действие при истечении срока.
	OnTimeout TimeoutAction `json:"on_timeout,omitempty"`

	// EscalateTo — согласующие второго круга.
	EscalateTo []string `json:"escalate_to,omitempty"`

	// Escalated — запрос уже эскалировался. Повторное истечение срока
	// после эскалации отклоняет запрос.
	Escalated bool `json:"escalated,omitempty"`

	// ExpiresAt — момент истечения срока. Nil — без срока.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Responses — все полученные ответы, включая ответы согласующих,
	// выбывших при эскалации.
	Responses []ApprovalResponse `json:"responses,omitempty"`

	// CreatedAt — время создания запроса.
	CreatedAt time.Time `json:"created_at"`

	// DecidedAt — время принятия решения (терминального статуса).
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

// ApprovalResponse — один ответ согласующего.
// Уникален в рамках пары (approval_id, approver_id).
type ApprovalResponse struct {
	// ApprovalID — запрос, к которому относится ответ.
	ApprovalID string `json:"approval_id"`

	// ApproverID — кто ответил.
	ApproverID string `json:"approver_id"`

	// Decision — approve или reject.
	Decision Decision `json:"decision"`

	// Comment — комментарий к решению.
	Comment string `json:"comment,omitempty"`

	// RespondedAt — время ответа.
	RespondedAt time.Time `json:"responded_at"`
}

// NewApprovalID генерирует идентификатор запроса.
func NewApprovalID() string {
	return "apr-" + uuid.NewString()
}

// NewApprovalRequest создаёт запрос в статусе pending по конфигурации шага.
func NewApprovalRequest(executionID, stepID string, cfg *ApprovalConfig, message string, now time.Time) *ApprovalRequest {
	r := &ApprovalRequest{
		ID:             NewApprovalID(),
		ExecutionID:    executionID,
		StepID:         stepID,
		Approvers:      append([]string(nil), cfg.Approvers...),
		ApprovalType:   cfg.Policy(),
		Status:         ApprovalPending,
		Title:          cfg.Title,
		Message:        message,
		Channels:       append([]string(nil), cfg.Channels...),
		RequireComment: cfg.RequireComment,
		TimeoutSec:     cfg.TimeoutSec,
		OnTimeout:      cfg.Action(),
		EscalateTo:     append([]string(nil), cfg.EscalateTo...),
		CreatedAt:      now,
	}
	if cfg.TimeoutSec > 0 {
		exp := now.Add(time.Duration(cfg.TimeoutSec) * time.Second)
		r.ExpiresAt = &exp
	}
	return r
}

// IsApprover возвращает true, если id входит в текущий круг согласующих.
func (r *ApprovalRequest) IsApprover(id string) bool {
	for _, a := range r.Approvers {
		if a == id {
			return true
		}
	}
	return false
}

// HasResponded возвращает true, если согласующий уже отвечал.
func (r *ApprovalRequest) HasResponded(id string) bool {
	for _, resp := range r.Responses {
		if resp.ApproverID == id {
			return true
		}
	}
	return false
}

// IsExpired возвращает true, если срок запроса истёк к моменту now.
func (r *ApprovalRequest) IsExpired(now time.Time) bool {
	if r.ExpiresAt == nil {
		return false
	}
	return !now.Before(*r.ExpiresAt)
}

// Counts считает одобрения и отклонения от текущего круга согласующих.
// Ответы выбывших при эскалации не учитываются.
func (r *ApprovalRequest) Counts() (approvals, rejections int) {
	for _, resp := range r.Responses {
		if !r.IsApprover(resp.ApproverID) {
			continue
		}
		switch resp.Decision {
		case DecisionApprove:
			approvals++
		case DecisionReject:
			rejections++
		}
	}
	return approvals, rejections
}

// First возвращает самый ранний ответ текущего круга (для approval_type=any).
// Nil, если ответов нет.
func (r *ApprovalRequest) First() *ApprovalResponse {
	var first *ApprovalResponse
	for i := range r.Responses {
		resp := &r.Responses[i]
		if !r.IsApprover(resp.ApproverID) {
			continue
		}
		if first == nil || resp.RespondedAt.Before(first.RespondedAt) {
			first = resp
		}
	}
	return first
}

// MarkApproved переводит запрос в approved.
func (r *ApprovalRequest) MarkApproved(now time.Time) {
	r.Status = ApprovalApproved
	r.DecidedAt = &now
}

// MarkRejected переводит запрос в rejected.
func (r *ApprovalRequest) MarkRejected(now time.Time) {
	r.Status = ApprovalRejected
	r.DecidedAt = &now
}

// MarkTimeout переводит запрос в timeout.
func (r *ApprovalRequest) MarkTimeout(now time.Time) {
	r.Status = ApprovalTimeout
	r.DecidedAt = &now
}

// Escalate заменяет круг согласующих на escalate_to и продлевает срок
// на исходный timeout от момента now. Статус становится escalated
// (не терминальный): ожидание продолжается.
func (r *ApprovalRequest) Escalate(now time.Time) {
	r.Approvers = append([]string(nil), r.EscalateTo...)
	r.Escalated = true
	r.Status = ApprovalEscalated
	if r.TimeoutSec > 0 {
		exp := now.Add(time.Duration(r.TimeoutSec) * time.Second)
		r.ExpiresAt = &exp
	}
}

// DecisionRecord — итог согласования, записываемый в выход шага.
type DecisionRecord struct {
	// ApprovalID — ID запроса.
	ApprovalID string `json:"approval_id"`

	// Status — итоговый статус запроса.
	Status ApprovalStatus `json:"status"`

	// Escalated — был ли запрос эскалирован.
	Escalated bool `json:"escalated,omitempty"`

	// Responses — все полученные ответы.
	Responses []ApprovalResponse `json:"responses,omitempty"`

	// DecidedBy — кто принял решение (для approval_type=any).
	DecidedBy string `json:"decided_by,omitempty"`

	// DecidedAt — время принятия решения.
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

// Record собирает итог согласования для выхода шага human_approval.
func (r *ApprovalRequest) Record() DecisionRecord {
	rec := DecisionRecord{
		ApprovalID: r.ID,
		Status:     r.Status,
		Escalated:  r.Escalated,
		Responses:  append([]ApprovalResponse(nil), r.Responses...),
		DecidedAt:  r.DecidedAt,
	}
	if r.ApprovalType == ApprovalAny {
		if first := r.First(); first != nil {
			rec.DecidedBy = first.ApproverID
		}
	}
	return rec
}
