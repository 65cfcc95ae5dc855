package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/state"
)

// CheckpointRepo — хранилище снимков состояния в Postgres.
//
// Реализует state.Store: на одно выполнение хранится ровно одна
// строка, повторный Save перезаписывает её на месте. created_at
// первой записи переживает перезаписи.
type CheckpointRepo struct {
	pool *pgxpool.Pool
}

// NewCheckpointRepo создаёт новый CheckpointRepo.
func NewCheckpointRepo(pool *pgxpool.Pool) *CheckpointRepo {
	return &CheckpointRepo{pool: pool}
}

// SaveCheckpoint вставляет или перезаписывает снимок выполнения.
func (r *CheckpointRepo) SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	stateJSON, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	query := `
		INSERT INTO checkpoints (execution_id, workflow_id, status, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (execution_id) DO UPDATE
		SET workflow_id = EXCLUDED.workflow_id,
		    status = EXCLUDED.status,
		    state = EXCLUDED.state,
		    updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		cp.ExecutionID,
		cp.WorkflowID,
		cp.Status,
		stateJSON,
		cp.CreatedAt,
		cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint возвращает снимок выполнения.
// created_at строки замещает created_at в снимке: время первого
// снимка сохраняется при перезаписях.
func (r *CheckpointRepo) LoadCheckpoint(ctx context.Context, executionID string) (*domain.Checkpoint, error) {
	query := `
		SELECT state, created_at, updated_at
		FROM checkpoints
		WHERE execution_id = $1
	`
	var stateJSON []byte
	var createdAt, updatedAt time.Time
	err := r.pool.QueryRow(ctx, query, executionID).Scan(&stateJSON, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", state.ErrCheckpointNotFound, executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(stateJSON, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	cp.CreatedAt = createdAt
	cp.UpdatedAt = updatedAt
	return &cp, nil
}

// DeleteCheckpoint удаляет снимок выполнения.
// Отсутствие строки не является ошибкой.
func (r *CheckpointRepo) DeleteCheckpoint(ctx context.Context, executionID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM checkpoints WHERE execution_id = $1`, executionID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
