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

// ApprovalRepo — репозиторий approval-запросов и ответов.
//
// Трекер зеркалирует сюда полное состояние запроса после каждого
// изменения. Ответы хранятся отдельной таблицей с уникальностью
// (approval_id, approver_id): повторный ответ одного согласующего
// не порождает вторую строку.
type ApprovalRepo struct {
	pool *pgxpool.Pool
}

// NewApprovalRepo создаёт новый ApprovalRepo.
func NewApprovalRepo(pool *pgxpool.Pool) *ApprovalRepo {
	return &ApprovalRepo{pool: pool}
}

// SaveApproval вставляет или перезаписывает запрос вместе с ответами.
func (r *ApprovalRepo) SaveApproval(ctx context.Context, req *domain.ApprovalRequest) error {
	approversJSON, err := json.Marshal(req.Approvers)
	if err != nil {
		return fmt.Errorf("marshal approvers: %w", err)
	}
	payloadJSON, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	channelsJSON, err := json.Marshal(req.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}
	escalateToJSON, err := json.Marshal(req.EscalateTo)
	if err != nil {
		return fmt.Errorf("marshal escalate_to: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO approvals (id, execution_id, step_id, approvers, approval_type, status,
		                       title, message, payload, channels, require_comment,
		                       timeout_sec, on_timeout, escalate_to, escalated,
		                       expires_at, created_at, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE
		SET approvers = EXCLUDED.approvers,
		    status = EXCLUDED.status,
		    escalated = EXCLUDED.escalated,
		    expires_at = EXCLUDED.expires_at,
		    decided_at = EXCLUDED.decided_at
	`
	_, err = tx.Exec(ctx, query,
		req.ID,
		req.ExecutionID,
		req.StepID,
		approversJSON,
		req.ApprovalType,
		req.Status,
		nullString(req.Title),
		nullString(req.Message),
		payloadJSON,
		channelsJSON,
		req.RequireComment,
		req.TimeoutSec,
		req.OnTimeout,
		escalateToJSON,
		req.Escalated,
		req.ExpiresAt,
		req.CreatedAt,
		req.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert approval: %w", err)
	}

	for i := range req.Responses {
		resp := &req.Responses[i]
		_, err = tx.Exec(ctx, `
			INSERT INTO approval_responses (approval_id, approver_id, decision, comment, responded_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (approval_id, approver_id) DO NOTHING
		`,
			resp.ApprovalID,
			resp.ApproverID,
			resp.Decision,
			nullString(resp.Comment),
			resp.RespondedAt,
		)
		if err != nil {
			return fmt.Errorf("insert approval response: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID возвращает запрос вместе со всеми ответами.
func (r *ApprovalRepo) GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	query := `
		SELECT id, execution_id, step_id, approvers, approval_type, status,
		       title, message, payload, channels, require_comment,
		       timeout_sec, on_timeout, escalate_to, escalated,
		       expires_at, created_at, decided_at
		FROM approvals
		WHERE id = $1
	`
	req, err := r.scanApproval(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadResponses(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// ListByExecutionID возвращает запросы выполнения, старые первыми.
func (r *ApprovalRepo) ListByExecutionID(ctx context.Context, executionID string) ([]domain.ApprovalRequest, error) {
	query := `
		SELECT id, execution_id, step_id, approvers, approval_type, status,
		       title, message, payload, channels, require_comment,
		       timeout_sec, on_timeout, escalate_to, escalated,
		       expires_at, created_at, decided_at
		FROM approvals
		WHERE execution_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}

	var requests []domain.ApprovalRequest
	for rows.Next() {
		req, err := r.scanApprovalFromRows(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		requests = append(requests, *req)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range requests {
		if err := r.loadResponses(ctx, &requests[i]); err != nil {
			return nil, err
		}
	}
	return requests, nil
}

// --- Helpers ---

func (r *ApprovalRepo) scanApproval(row pgx.Row) (*domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	var approversJSON, payloadJSON, channelsJSON, escalateToJSON []byte
	var title, message *string

	err := row.Scan(
		&req.ID,
		&req.ExecutionID,
		&req.StepID,
		&approversJSON,
		&req.ApprovalType,
		&req.Status,
		&title,
		&message,
		&payloadJSON,
		&channelsJSON,
		&req.RequireComment,
		&req.TimeoutSec,
		&req.OnTimeout,
		&escalateToJSON,
		&req.Escalated,
		&req.ExpiresAt,
		&req.CreatedAt,
		&req.DecidedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan approval: %w", err)
	}

	if err := unmarshalApproval(&req, approversJSON, payloadJSON, channelsJSON, escalateToJSON); err != nil {
		return nil, err
	}
	if title != nil {
		req.Title = *title
	}
	if message != nil {
		req.Message = *message
	}

	return &req, nil
}

func (r *ApprovalRepo) scanApprovalFromRows(rows pgx.Rows) (*domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	var approversJSON, payloadJSON, channelsJSON, escalateToJSON []byte
	var title, message *string

	err := rows.Scan(
		&req.ID,
		&req.ExecutionID,
		&req.StepID,
		&approversJSON,
		&req.ApprovalType,
		&req.Status,
		&title,
		&message,
		&payloadJSON,
		&channelsJSON,
		&req.RequireComment,
		&req.TimeoutSec,
		&req.OnTimeout,
		&escalateToJSON,
		&req.Escalated,
		&req.ExpiresAt,
		&req.CreatedAt,
		&req.DecidedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan approval: %w", err)
	}

	if err := unmarshalApproval(&req, approversJSON, payloadJSON, channelsJSON, escalateToJSON); err != nil {
		return nil, err
	}
	if title != nil {
		req.Title = *title
	}
	if message != nil {
		req.Message = *message
	}

	return &req, nil
}

func unmarshalApproval(req *domain.ApprovalRequest, approversJSON, payloadJSON, channelsJSON, escalateToJSON []byte) error {
	if approversJSON != nil {
		if err := json.Unmarshal(approversJSON, &req.Approvers); err != nil {
			return fmt.Errorf("unmarshal approvers: %w", err)
		}
	}
	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &req.Payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if channelsJSON != nil {
		if err := json.Unmarshal(channelsJSON, &req.Channels); err != nil {
			return fmt.Errorf("unmarshal channels: %w", err)
		}
	}
	if escalateToJSON != nil {
		if err := json.Unmarshal(escalateToJSON, &req.EscalateTo); err != nil {
			return fmt.Errorf("unmarshal escalate_to: %w", err)
		}
	}
	return nil
}

func (r *ApprovalRepo) loadResponses(ctx context.Context, req *domain.ApprovalRequest) error {
	rows, err := r.pool.Query(ctx, `
		SELECT approval_id, approver_id, decision, comment, responded_at
		FROM approval_responses
		WHERE approval_id = $1
		ORDER BY responded_at ASC
	`, req.ID)
	if err != nil {
		return fmt.Errorf("list approval responses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var resp domain.ApprovalResponse
		var comment *string
		if err := rows.Scan(
			&resp.ApprovalID,
			&resp.ApproverID,
			&resp.Decision,
			&comment,
			&resp.RespondedAt,
		); err != nil {
			return fmt.Errorf("scan approval response: %w", err)
		}
		if comment != nil {
			resp.Comment = *comment
		}
		req.Responses = append(req.Responses, resp)
	}
	return rows.Err()
}
