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
)

// WorkflowRepo — репозиторий зарегистрированных определений workflow.
//
// Определение хранится целиком в jsonb. Таблица workflow_versions
// ведёт историю: каждая регистрация записывает свою версию, текущей
// считается последняя зарегистрированная. GetDefinition отдаёт
// текущее определение и служит источником workflow для оркестратора.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

// Save регистрирует определение: перезаписывает текущее и записывает
// версию в историю.
func (r *WorkflowRepo) Save(ctx context.Context, def *domain.WorkflowDefinition) error {
	defJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	createdAt := def.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO workflows (id, name, version, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    version = EXCLUDED.version,
		    definition = EXCLUDED.definition,
		    updated_at = NOW()
	`, def.ID, def.Name, def.Version, defJSON, createdAt)
	if err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_versions (workflow_id, version, definition, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workflow_id, version) DO UPDATE
		SET definition = EXCLUDED.definition
	`, def.ID, def.Version, defJSON, createdAt)
	if err != nil {
		return fmt.Errorf("insert workflow version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetDefinition возвращает текущее определение workflow.
func (r *WorkflowRepo) GetDefinition(ctx context.Context, workflowID string) (*domain.WorkflowDefinition, error) {
	var defJSON []byte
	err := r.pool.QueryRow(ctx, `
		SELECT definition FROM workflows WHERE id = $1
	`, workflowID).Scan(&defJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	var def domain.WorkflowDefinition
	if err := json.Unmarshal(defJSON, &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return &def, nil
}

// GetVersion возвращает конкретную версию определения из истории.
func (r *WorkflowRepo) GetVersion(ctx context.Context, workflowID string, version int) (*domain.WorkflowDefinition, error) {
	var defJSON []byte
	err := r.pool.QueryRow(ctx, `
		SELECT definition FROM workflow_versions WHERE workflow_id = $1 AND version = $2
	`, workflowID, version).Scan(&defJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow version: %w", err)
	}

	var def domain.WorkflowDefinition
	if err := json.Unmarshal(defJSON, &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return &def, nil
}

// List возвращает все текущие определения, новые первыми.
func (r *WorkflowRepo) List(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT definition FROM workflows ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var defs []domain.WorkflowDefinition
	for rows.Next() {
		var defJSON []byte
		if err := rows.Scan(&defJSON); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		var def domain.WorkflowDefinition
		if err := json.Unmarshal(defJSON, &def); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Delete удаляет workflow (каскадно удалит историю версий и schedules).
func (r *WorkflowRepo) Delete(ctx context.Context, workflowID string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
