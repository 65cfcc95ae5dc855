package approval

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
)

// defaultPollInterval — период опроса в Wait.
const defaultPollInterval = 5 * time.Second

// Notifier — диспетчер уведомлений согласующим. Вызывается при
// создании запроса и при эскалации, fire-and-forget: ошибки
// логируются и никогда не проваливают шаг.
type Notifier interface {
	NotifyApproval(ctx context.Context, req *domain.ApprovalRequest) error
}

// Store — необязательное зеркало запросов в долговременном хранилище.
// Ошибки записи логируются, состояние трекера остаётся источником
// истины для активных запросов.
type Store interface {
	SaveApproval(ctx context.Context, req *domain.ApprovalRequest) error
}

// Config — конфигурация Tracker.
type Config struct {
	// Interval — период опроса Wait (default: 5s).
	Interval time.Duration

	// Clock — источник времени (default: системные часы).
	Clock Clock

	// Notifier — уведомления согласующим (опционально).
	Notifier Notifier

	// Store — долговременное зеркало запросов (опционально).
	Store Store

	// Logger — логгер (default: slog.Default()).
	Logger *slog.Logger
}

// Tracker управляет жизненным циклом запросов на согласование:
// создание, приём ответов, консенсус, сроки и эскалация.
//
// Wait блокирует только владеющий шаг human_approval; остальное
// выполнение приостановлено оркестратором отдельно.
type Tracker struct {
	mu       sync.RWMutex
	requests map[string]*domain.ApprovalRequest

	interval time.Duration
	clock    Clock
	notifier Notifier
	store    Store
	logger   *slog.Logger
}

// NewTracker создаёт Tracker.
func NewTracker(cfg Config) *Tracker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		requests: make(map[string]*domain.ApprovalRequest),
		interval: interval,
		clock:    clock,
		notifier: cfg.Notifier,
		store:    cfg.Store,
		logger:   logger,
	}
}

// CreateRequest создаёт запрос в статусе pending и уведомляет
// согласующих. Текст message приходит уже с разрешёнными ссылками.
func (t *Tracker) CreateRequest(executionID, stepID string, cfg *domain.ApprovalConfig, message string, payload map[string]any) *domain.ApprovalRequest {
	now := t.clock.Now()
	req := domain.NewApprovalRequest(executionID, stepID, cfg, message, now)
	if payload != nil {
		req.Payload = maps.Clone(payload)
	}

	t.mu.Lock()
	t.requests[req.ID] = req
	snap := snapshot(req)
	t.mu.Unlock()

	t.persist(snap)
	t.notify(snap)

	t.logger.Info("approval request created",
		"approval_id", req.ID,
		"execution_id", executionID,
		"step_id", stepID,
		"approvers", len(cfg.Approvers),
		"policy", cfg.Policy(),
	)
	return snap
}

// RecordResponse записывает ответ согласующего и пересчитывает статус
// по правилу консенсуса. Возвращает статус запроса после пересчёта.
func (t *Tracker) RecordResponse(approvalID, approverID string, decision domain.Decision, comment string) (domain.ApprovalStatus, error) {
	t.mu.Lock()

	req, ok := t.requests[approvalID]
	if !ok {
		t.mu.Unlock()
		return "", ErrApprovalNotFound
	}

	// 1. Решение уже принято
	if req.Status.IsTerminal() {
		status := req.Status
		t.mu.Unlock()
		return status, ErrApprovalFinished
	}
	// 2. Отвечающий не из текущего круга
	if !req.IsApprover(approverID) {
		status := req.Status
		t.mu.Unlock()
		return status, ErrNotApprover
	}
	// 3. Повторный ответ не меняет статус
	if req.HasResponded(approverID) {
		status := req.Status
		t.mu.Unlock()
		return status, ErrDuplicateResponse
	}
	// 4. Обязательный комментарий
	if req.RequireComment && comment == "" {
		status := req.Status
		t.mu.Unlock()
		return status, ErrCommentRequired
	}

	now := t.clock.Now()
	req.Responses = append(req.Responses, domain.ApprovalResponse{
		ApprovalID:  approvalID,
		ApproverID:  approverID,
		Decision:    decision,
		Comment:     comment,
		RespondedAt: now,
	})
	resolveConsensus(req, now)

	status := req.Status
	snap := snapshot(req)
	t.mu.Unlock()

	t.persist(snap)

	t.logger.Info("approval response recorded",
		"approval_id", approvalID,
		"approver_id", approverID,
		"decision", decision,
		"status", status,
	)
	return status, nil
}

// Cancel принудительно отклоняет нерешённый запрос (внешняя остановка
// выполнения). Причина записывается в комментарий системного ответа.
// Отмена уже решённого запроса — no-op.
func (t *Tracker) Cancel(approvalID, reason string) error {
	t.mu.Lock()

	req, ok := t.requests[approvalID]
	if !ok {
		t.mu.Unlock()
		return ErrApprovalNotFound
	}
	if req.Status.IsTerminal() {
		t.mu.Unlock()
		return nil
	}

	now := t.clock.Now()
	req.Responses = append(req.Responses, domain.ApprovalResponse{
		ApprovalID:  approvalID,
		ApproverID:  "system",
		Decision:    domain.DecisionReject,
		Comment:     reason,
		RespondedAt: now,
	})
	req.MarkRejected(now)

	snap := snapshot(req)
	t.mu.Unlock()

	t.persist(snap)

	t.logger.Info("approval request cancelled",
		"approval_id", approvalID,
		"reason", reason,
	)
	return nil
}

// Wait блокирует до терминального статуса запроса, периодически
// проверяя статус и срок. На истечении срока применяется действие
// on_timeout; эскалация продлевает ожидание с новым кругом.
func (t *Tracker) Wait(ctx context.Context, approvalID string) (*domain.DecisionRecord, error) {
	for {
		rec, done, err := t.poll(approvalID)
		if err != nil {
			return nil, err
		}
		if done {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.clock.After(t.interval):
		}
	}
}

// Get возвращает копию запроса.
func (t *Tracker) Get(approvalID string) (*domain.ApprovalRequest, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	req, ok := t.requests[approvalID]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	return snapshot(req), nil
}

// Pending возвращает копии нерешённых запросов. Непустой approver
// сужает список до его текущих запросов.
func (t *Tracker) Pending(approver string) []*domain.ApprovalRequest {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*domain.ApprovalRequest
	for _, req := range t.requests {
		if req.Status.IsTerminal() {
			continue
		}
		if approver != "" && !req.IsApprover(approver) {
			continue
		}
		out = append(out, snapshot(req))
	}
	return out
}

// poll однократно проверяет статус и срок запроса.
func (t *Tracker) poll(approvalID string) (*domain.DecisionRecord, bool, error) {
	t.mu.Lock()

	req, ok := t.requests[approvalID]
	if !ok {
		t.mu.Unlock()
		return nil, false, ErrApprovalNotFound
	}

	if req.Status.IsTerminal() {
		rec := req.Record()
		t.mu.Unlock()
		return &rec, true, nil
	}

	now := t.clock.Now()
	if !req.IsExpired(now) {
		t.mu.Unlock()
		return nil, false, nil
	}

	escalated := t.expire(req, now)
	terminal := req.Status.IsTerminal()

	var rec domain.DecisionRecord
	if terminal {
		rec = req.Record()
	}
	snap := snapshot(req)
	t.mu.Unlock()

	t.persist(snap)
	if escalated {
		t.notify(snap)
	}

	if terminal {
		return &rec, true, nil
	}
	return nil, false, nil
}

// expire применяет действие on_timeout. Возвращает true, если запрос
// эскалирован (нужно уведомить новый круг).
func (t *Tracker) expire(req *domain.ApprovalRequest, now time.Time) bool {
	switch req.OnTimeout {
	case domain.TimeoutApprove:
		req.MarkApproved(now)

	case domain.TimeoutEscalate:
		// Повторное истечение после эскалации решает как reject
		if req.Escalated {
			req.MarkTimeout(now)
			break
		}
		req.Escalate(now)
		// Сохранённые ответы пересчитываются против нового круга
		resolveConsensus(req, now)
		t.logger.Info("approval escalated",
			"approval_id", req.ID,
			"approvers", len(req.Approvers),
			"status", req.Status,
		)
		return !req.Status.IsTerminal()

	default:
		req.MarkTimeout(now)
	}

	t.logger.Info("approval expired",
		"approval_id", req.ID,
		"action", req.OnTimeout,
		"status", req.Status,
	)
	return false
}

// notify отправляет уведомление не блокируя вызывающего.
func (t *Tracker) notify(req *domain.ApprovalRequest) {
	if t.notifier == nil {
		return
	}
	go func() {
		if err := t.notifier.NotifyApproval(context.Background(), req); err != nil {
			t.logger.Warn("approval notification failed",
				"approval_id", req.ID,
				"error", err,
			)
		}
	}()
}

// persist зеркалирует запрос в хранилище.
func (t *Tracker) persist(req *domain.ApprovalRequest) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveApproval(context.Background(), req); err != nil {
		t.logger.Warn("approval persistence failed",
			"approval_id", req.ID,
			"error", err,
		)
	}
}

// snapshot делает копию запроса для потребителей вне мьютекса трекера.
func snapshot(r *domain.ApprovalRequest) *domain.ApprovalRequest {
	cp := *r
	cp.Approvers = append([]string(nil), r.Approvers...)
	cp.EscalateTo = append([]string(nil), r.EscalateTo...)
	cp.Channels = append([]string(nil), r.Channels...)
	cp.Responses = append([]domain.ApprovalResponse(nil), r.Responses...)
	if r.Payload != nil {
		cp.Payload = maps.Clone(r.Payload)
	}
	if r.ExpiresAt != nil {
		exp := *r.ExpiresAt
		cp.ExpiresAt = &exp
	}
	if r.DecidedAt != nil {
		d := *r.DecidedAt
		cp.DecidedAt = &d
	}
	return &cp
}
