package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/conveyor/internal/domain"
)

// ExecutionRepo — репозиторий записей выполнений.
//
// Оркестратор зеркалирует сюда каждое изменение выполнения, поэтому
// запись делается как UPSERT. Чтение служит истории и аудиту: для
// активных выполнений источник истины — память оркестратора.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo создаёт новый ExecutionRepo.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

// SaveExecution вставляет или перезаписывает запись выполнения.
func (r *ExecutionRepo) SaveExecution(ctx context.Context, exec *domain.Execution) error {
	inputsJSON, err := json.Marshal(exec.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	outputsJSON, err := json.Marshal(exec.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	stepsJSON, err := json.Marshal(exec.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	query := `
		INSERT INTO executions (id, workflow_id, workflow_version, status, inputs, outputs,
		                        error, failed_step_id, pending_approval_id, steps,
		                        started_at, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    outputs = EXCLUDED.outputs,
		    error = EXCLUDED.error,
		    failed_step_id = EXCLUDED.failed_step_id,
		    pending_approval_id = EXCLUDED.pending_approval_id,
		    steps = EXCLUDED.steps,
		    started_at = EXCLUDED.started_at,
		    finished_at = EXCLUDED.finished_at
	`
	_, err = r.pool.Exec(ctx, query,
		exec.ID,
		exec.WorkflowID,
		exec.WorkflowVersion,
		exec.Status,
		inputsJSON,
		outputsJSON,
		nullString(exec.Error),
		nullString(exec.FailedStepID),
		nullString(exec.PendingApprovalID),
		stepsJSON,
		exec.StartedAt,
		exec.FinishedAt,
		exec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert execution: %w", err)
	}
	return nil
}

// GetByID возвращает выполнение по ID.
func (r *ExecutionRepo) GetByID(ctx context.Context, id string) (*domain.Execution, error) {
	query := `
		SELECT id, workflow_id, workflow_version, status, inputs, outputs,
		       error, failed_step_id, pending_approval_id, steps,
		       started_at, finished_at, created_at
		FROM executions
		WHERE id = $1
	`
	return r.scanExecution(r.pool.QueryRow(ctx, query, id))
}

// List возвращает выполнения с фильтрацией, новые первыми.
func (r *ExecutionRepo) List(ctx context.Context, filter ExecutionFilter) ([]domain.Execution, error) {
	query := `
		SELECT id, workflow_id, workflow_version, status, inputs, outputs,
		       error, failed_step_id, pending_approval_id, steps,
		       started_at, finished_at, created_at
		FROM executions
		WHERE ($1::text IS NULL OR workflow_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.WorkflowID),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []domain.Execution
	for rows.Next() {
		exec, err := r.scanExecutionFromRows(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *exec)
	}
	return executions, rows.Err()
}

// --- Helpers ---

// ExecutionFilter — параметры фильтрации выполнений.
type ExecutionFilter struct {
	WorkflowID string
	Status     domain.ExecutionStatus
	Limit      int
	Offset     int
}

func (r *ExecutionRepo) scanExecution(row pgx.Row) (*domain.Execution, error) {
	var e domain.Execution
	var inputsJSON, outputsJSON, stepsJSON []byte
	var execError, failedStepID, pendingApprovalID *string

	err := row.Scan(
		&e.ID,
		&e.WorkflowID,
		&e.WorkflowVersion,
		&e.Status,
		&inputsJSON,
		&outputsJSON,
		&execError,
		&failedStepID,
		&pendingApprovalID,
		&stepsJSON,
		&e.StartedAt,
		&e.FinishedAt,
		&e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	if inputsJSON != nil {
		if err := json.Unmarshal(inputsJSON, &e.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	if outputsJSON != nil {
		if err := json.Unmarshal(outputsJSON, &e.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
	}
	if stepsJSON != nil {
		if err := json.Unmarshal(stepsJSON, &e.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	if execError != nil {
		e.Error = *execError
	}
	if failedStepID != nil {
		e.FailedStepID = *failedStepID
	}
	if pendingApprovalID != nil {
		e.PendingApprovalID = *pendingApprovalID
	}

	return &e, nil
}

func (r *ExecutionRepo) scanExecutionFromRows(rows pgx.Rows) (*domain.Execution, error) {
	var e domain.Execution
	var inputsJSON, outputsJSON, stepsJSON []byte
	var execError, failedStepID, pendingApprovalID *string

	err := rows.Scan(
		&e.ID,
		&e.WorkflowID,
		&e.WorkflowVersion,
		&e.Status,
		&inputsJSON,
		&outputsJSON,
		&execError,
		&failedStepID,
		&pendingApprovalID,
		&stepsJSON,
		&e.StartedAt,
		&e.FinishedAt,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	if inputsJSON != nil {
		if err := json.Unmarshal(inputsJSON, &e.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	if outputsJSON != nil {
		if err := json.Unmarshal(outputsJSON, &e.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
	}
	if stepsJSON != nil {
		if err := json.Unmarshal(stepsJSON, &e.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	if execError != nil {
		e.Error = *execError
	}
	if failedStepID != nil {
		e.FailedStepID = *failedStepID
	}
	if pendingApprovalID != nil {
		e.PendingApprovalID = *pendingApprovalID
	}

	return &e, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
