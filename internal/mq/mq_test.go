package mq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/conveyor/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAcknowledger записывает ack/nack вместо общения с брокером.
type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(_ uint64, _ bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func TestConsumer_HandleDelivery(t *testing.T) {
	validBody, err := json.Marshal(&Message{
		ID:        "msg-1",
		Type:      MessageTypeExecutionFinished,
		Payload:   map[string]any{"execution_id": "exec-1"},
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}

	tests := []struct {
		name        string
		body        []byte
		handlerErr  error
		wantHandled bool
		wantAck     bool
		wantNack    bool
		wantRequeue bool
	}{
		{
			name:        "ack on success",
			body:        validBody,
			wantHandled: true,
			wantAck:     true,
		},
		{
			name:        "requeue on handler error",
			body:        validBody,
			handlerErr:  errors.New("temporary failure"),
			wantHandled: true,
			wantNack:    true,
			wantRequeue: true,
		},
		{
			name:     "malformed body goes to dlq",
			body:     []byte("{not json"),
			wantNack: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAcknowledger{}
			handled := false
			c := &Consumer{
				logger: testLogger(),
				queue:  string(QueueExecutionFinished),
				handler: func(_ context.Context, d *Delivery) error {
					handled = true
					if d.Message.ID != "msg-1" {
						t.Errorf("Message.ID = %q, want msg-1", d.Message.ID)
					}
					return tt.handlerErr
				},
			}

			c.handleDelivery(context.Background(), amqp.Delivery{
				Acknowledger: ack,
				Body:         tt.body,
			})

			if handled != tt.wantHandled {
				t.Errorf("handler called = %v, want %v", handled, tt.wantHandled)
			}
			if ack.acked != tt.wantAck {
				t.Errorf("acked = %v, want %v", ack.acked, tt.wantAck)
			}
			if ack.nacked != tt.wantNack {
				t.Errorf("nacked = %v, want %v", ack.nacked, tt.wantNack)
			}
			if tt.wantNack && ack.requeue != tt.wantRequeue {
				t.Errorf("requeue = %v, want %v", ack.requeue, tt.wantRequeue)
			}
		})
	}
}

func TestMessage_EnvelopeShape(t *testing.T) {
	msg := &Message{
		ID:        "msg-1",
		Type:      MessageTypeApprovalRequested,
		Payload:   ApprovalRequestedPayload{ApprovalID: "apr-1"},
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, key := range []string{"id", "type", "payload", "ts"} {
		if _, ok := envelope[key]; !ok {
			t.Errorf("envelope missing %q field", key)
		}
	}
	if len(envelope) != 4 {
		t.Errorf("envelope has %d fields, want 4", len(envelope))
	}
}

func TestApprovalEvent_RoutesByEscalation(t *testing.T) {
	exp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	req := &domain.ApprovalRequest{
		ID:          "apr-1",
		ExecutionID: "exec-1",
		StepID:      "approve",
		Approvers:   []string{"alice", "bob"},
		Title:       "Deploy v2",
		Message:     "Release build 42 to production?",
		Channels:    []string{"slack"},
		TimeoutSec:  3600,
		EscalateTo:  []string{"carol"},
		ExpiresAt:   &exp,
	}

	msgType, key, payload := approvalEvent(req)
	if msgType != MessageTypeApprovalRequested {
		t.Errorf("type = %q, want %q", msgType, MessageTypeApprovalRequested)
	}
	if key != RoutingKeyApprovalRequested {
		t.Errorf("routing key = %q, want %q", key, RoutingKeyApprovalRequested)
	}
	requested, ok := payload.(ApprovalRequestedPayload)
	if !ok {
		t.Fatalf("payload type = %T, want ApprovalRequestedPayload", payload)
	}
	if requested.ApprovalID != "apr-1" || requested.Title != "Deploy v2" {
		t.Errorf("unexpected payload: %+v", requested)
	}
	if len(requested.Approvers) != 2 {
		t.Errorf("approvers = %v, want original ring", requested.Approvers)
	}

	req.Escalate(exp)

	msgType, key, payload = approvalEvent(req)
	if msgType != MessageTypeApprovalEscalated {
		t.Errorf("type = %q, want %q", msgType, MessageTypeApprovalEscalated)
	}
	if key != RoutingKeyApprovalEscalated {
		t.Errorf("routing key = %q, want %q", key, RoutingKeyApprovalEscalated)
	}
	escalated, ok := payload.(ApprovalEscalatedPayload)
	if !ok {
		t.Fatalf("payload type = %T, want ApprovalEscalatedPayload", payload)
	}
	if len(escalated.Approvers) != 1 || escalated.Approvers[0] != "carol" {
		t.Errorf("approvers = %v, want escalation ring", escalated.Approvers)
	}
}

func TestParsePayload_ExecutionFinished(t *testing.T) {
	orig := ExecutionFinishedPayload{
		ExecutionID:  "exec-1",
		WorkflowID:   "deploy",
		Status:       domain.ExecutionFailed,
		Error:        "step build failed",
		FailedStepID: "build",
		Outputs:      map[string]any{"attempts": float64(2)},
	}
	msg := &Message{
		ID:        "msg-1",
		Type:      MessageTypeExecutionFinished,
		Payload:   orig,
		Timestamp: time.Now(),
	}

	// После прохода через брокер payload становится map[string]any
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got, err := ParsePayload[ExecutionFinishedPayload](&decoded)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if got.ExecutionID != orig.ExecutionID || got.Status != orig.Status {
		t.Errorf("payload = %+v, want %+v", got, orig)
	}
	if got.FailedStepID != "build" {
		t.Errorf("FailedStepID = %q, want build", got.FailedStepID)
	}
}
