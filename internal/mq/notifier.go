package mq

import (
	"context"

	"github.com/shaiso/conveyor/internal/domain"
)

// Notifier доставляет уведомления о согласованиях через RabbitMQ.
// Внешние потребители (шлюзы в Slack, email и т.п.) читают их из
// очередей approval.requested и approval.escalated.
type Notifier struct {
	pub *Publisher
}

// NewNotifier создаёт Notifier поверх Publisher.
func NewNotifier(pub *Publisher) *Notifier {
	return &Notifier{pub: pub}
}

// NotifyApproval публикует событие о запросе согласования. Для
// эскалированного запроса публикуется approval.escalated с новым
// кругом согласующих, иначе approval.requested.
func (n *Notifier) NotifyApproval(ctx context.Context, req *domain.ApprovalRequest) error {
	msgType, key, payload := approvalEvent(req)
	return n.pub.PublishJSON(ctx, ExchangeEvents, key, msgType, payload)
}

func approvalEvent(req *domain.ApprovalRequest) (MessageType, RoutingKey, any) {
	if req.Escalated {
		return MessageTypeApprovalEscalated, RoutingKeyApprovalEscalated, ApprovalEscalatedPayload{
			ApprovalID:  req.ID,
			ExecutionID: req.ExecutionID,
			StepID:      req.StepID,
			Approvers:   req.Approvers,
			Message:     req.Message,
			ExpiresAt:   req.ExpiresAt,
		}
	}
	return MessageTypeApprovalRequested, RoutingKeyApprovalRequested, ApprovalRequestedPayload{
		ApprovalID:  req.ID,
		ExecutionID: req.ExecutionID,
		StepID:      req.StepID,
		Approvers:   req.Approvers,
		Title:       req.Title,
		Message:     req.Message,
		Channels:    req.Channels,
		ExpiresAt:   req.ExpiresAt,
	}
}
