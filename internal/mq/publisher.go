package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/conveyor/internal/domain"
)

// MessageType — тип события в шине.
type MessageType string

// Типы событий.
const (
	MessageTypeApprovalRequested MessageType = "approval.requested"
	MessageTypeApprovalEscalated MessageType = "approval.escalated"
	MessageTypeExecutionFinished MessageType = "execution.finished"
)

// Publisher публикует события Conveyor в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger.With("component", "mq.publisher"),
	}
}

// Message — конверт события.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип события.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"ts"`
}

// ApprovalRequestedPayload — payload события о новом согласовании.
type ApprovalRequestedPayload struct {
	ApprovalID  string     `json:"approval_id"`
	ExecutionID string     `json:"execution_id"`
	StepID      string     `json:"step_id"`
	Approvers   []string   `json:"approvers"`
	Title       string     `json:"title,omitempty"`
	Message     string     `json:"message,omitempty"`
	Channels    []string   `json:"channels,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ApprovalEscalatedPayload — payload события об эскалации согласования
// на второй круг согласующих.
type ApprovalEscalatedPayload struct {
	ApprovalID  string     `json:"approval_id"`
	ExecutionID string     `json:"execution_id"`
	StepID      string     `json:"step_id"`
	Approvers   []string   `json:"approvers"`
	Message     string     `json:"message,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ExecutionFinishedPayload — payload события о терминальном статусе
// выполнения.
type ExecutionFinishedPayload struct {
	ExecutionID  string                 `json:"execution_id"`
	WorkflowID   string                 `json:"workflow_id"`
	Status       domain.ExecutionStatus `json:"status"`
	Error        string                 `json:"error,omitempty"`
	FailedStepID string                 `json:"failed_step_id,omitempty"`
	Outputs      map[string]any         `json:"outputs,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishExecutionFinished публикует событие о завершении выполнения.
// Вызывается оркестратором на каждом терминальном переходе.
func (p *Publisher) PublishExecutionFinished(ctx context.Context, exec *domain.Execution) error {
	payload := ExecutionFinishedPayload{
		ExecutionID:  exec.ID,
		WorkflowID:   exec.WorkflowID,
		Status:       exec.Status,
		Error:        exec.Error,
		FailedStepID: exec.FailedStepID,
		Outputs:      exec.Outputs,
	}
	return p.PublishJSON(ctx, ExchangeEvents, RoutingKeyExecutionFinished, MessageTypeExecutionFinished, payload)
}

// PublishJSON публикует произвольный payload в конверте Message.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, exchange, routingKey, msg)
}
