package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	// ExchangeEvents — topic-обменник событий Conveyor.
	ExchangeEvents Exchange = "conveyor.events"

	// ExchangeDLQ — dead letter exchange для отклонённых сообщений.
	ExchangeDLQ Exchange = "conveyor.dlq"
)

// Queues — имена очередей.
const (
	QueueApprovalRequested Queue = "approval.requested"
	QueueApprovalEscalated Queue = "approval.escalated"
	QueueExecutionFinished Queue = "execution.finished"
	QueueDLQEvents         Queue = "dlq.events"
)

// Routing keys. Ключ события совпадает с его типом, поэтому
// внешние потребители могут подписываться и по маске (approval.*).
const (
	RoutingKeyApprovalRequested RoutingKey = "approval.requested"
	RoutingKeyApprovalEscalated RoutingKey = "approval.escalated"
	RoutingKeyExecutionFinished RoutingKey = "execution.finished"
	RoutingKeyDLQEvents         RoutingKey = "events"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeEvents, "topic"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Отклонённые события уходят в DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQEvents),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		{QueueApprovalRequested, dlqArgs},
		{QueueApprovalEscalated, dlqArgs},
		{QueueExecutionFinished, dlqArgs},

		// dlq.events — сама DLQ очередь
		{QueueDLQEvents, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueApprovalRequested, RoutingKeyApprovalRequested, ExchangeEvents},
		{QueueApprovalEscalated, RoutingKeyApprovalEscalated, ExchangeEvents},
		{QueueExecutionFinished, RoutingKeyExecutionFinished, ExchangeEvents},
		{QueueDLQEvents, RoutingKeyDLQEvents, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Conveyor RabbitMQ Topology:

    conveyor.events (topic)
    ├── approval.requested [routing: approval.requested]
    │       Consumer: notification workers
    ├── approval.escalated [routing: approval.escalated]
    │       Consumer: notification workers
    └── execution.finished [routing: execution.finished]
            Consumer: downstream integrations

    conveyor.dlq (direct)
    └── dlq.events [routing: events]
            Manual processing
  `
}
