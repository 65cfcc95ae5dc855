package state

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// Progress — продвижение планирования, дополняющее контекст в снимке.
//
// Контекст хранит входы, результаты шагов и переменные; Progress
// несёт то, что знает только оркестратор: множества завершённых,
// упавших и пропущенных шагов, границу планирования и ожидаемый
// approval.
type Progress struct {
	// Completed — успешно завершённые шаги.
	Completed []string

	// Failed — упавшие шаги.
	Failed []string

	// Skipped — пропущенные шаги.
	Skipped []string

	// Position — граница планирования: шаги, готовые к запуску.
	Position []string

	// PendingApprovalID — approval, которого ждёт выполнение.
	PendingApprovalID string
}

// Manager — менеджер состояния выполнения.
//
// Checkpoint снимает состояние после каждого терминального перехода
// шага и при каждой паузе/возобновлении; Resume восстанавливает
// контекст и границу планирования из последнего снимка. Снимок
// пишется строго после состояния, которое описывает, и идемпотентен:
// повторная запись того же состояния безвредна.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager создаёт менеджер поверх хранилища снимков.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger.With("component", "state"),
	}
}

// Checkpoint снимает и сохраняет состояние выполнения.
func (m *Manager) Checkpoint(ctx context.Context, ec *engine.ExecutionContext, prog Progress) error {
	now := time.Now().UTC()
	cp := &domain.Checkpoint{
		ExecutionID:       ec.ExecutionID,
		WorkflowID:        ec.WorkflowID,
		Status:            ec.Status(),
		Inputs:            ec.Inputs(),
		StepOutputs:       ec.OutputSnapshot(),
		Variables:         ec.Variables(),
		Completed:         sortedCopy(prog.Completed),
		Failed:            sortedCopy(prog.Failed),
		Skipped:           sortedCopy(prog.Skipped),
		Position:          sortedCopy(prog.Position),
		PendingApprovalID: prog.PendingApprovalID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", ec.ExecutionID, err)
	}

	m.logger.Debug("checkpoint written",
		"execution_id", ec.ExecutionID,
		"status", cp.Status,
		"completed", len(cp.Completed),
		"pending_approval_id", cp.PendingApprovalID,
	)
	return nil
}

// Resume восстанавливает контекст выполнения из последнего снимка.
//
// Возвращает восстановленный контекст и сам снимок: множества шагов,
// границу планирования и pendingApprovalId оркестратор читает из
// снимка напрямую.
func (m *Manager) Resume(ctx context.Context, executionID string, def *domain.WorkflowDefinition) (*engine.ExecutionContext, *domain.Checkpoint, error) {
	cp, err := m.store.LoadCheckpoint(ctx, executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load checkpoint for %s: %w", executionID, err)
	}

	if def != nil && cp.WorkflowID != def.ID {
		return nil, nil, fmt.Errorf("%w: checkpoint of %s is for workflow %s, not %s",
			ErrWorkflowMismatch, executionID, cp.WorkflowID, def.ID)
	}

	ec := engine.RestoreContext(executionID, def, cp)

	m.logger.Info("execution state restored",
		"execution_id", executionID,
		"workflow_id", cp.WorkflowID,
		"status", cp.Status,
		"completed", len(cp.Completed),
		"pending_approval_id", cp.PendingApprovalID,
	)
	return ec, cp, nil
}

// Load возвращает снимок без восстановления контекста
// (запросы статуса по ID выполнения).
func (m *Manager) Load(ctx context.Context, executionID string) (*domain.Checkpoint, error) {
	return m.store.LoadCheckpoint(ctx, executionID)
}

// Discard удаляет снимок завершённого выполнения.
func (m *Manager) Discard(ctx context.Context, executionID string) error {
	if err := m.store.DeleteCheckpoint(ctx, executionID); err != nil {
		return fmt.Errorf("delete checkpoint for %s: %w", executionID, err)
	}
	return nil
}

// sortedCopy возвращает отсортированную копию списка шагов.
// Снимок детерминирован независимо от порядка обхода map.
func sortedCopy(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
