// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация событий
//   - notifier.go   — уведомления о согласованиях поверх publisher
//   - consumer.go   — потребление событий из очередей
//
// Типы событий:
//   - approval.requested — создан запрос на согласование
//   - approval.escalated — запрос эскалирован на второй круг
//   - execution.finished — выполнение достигло терминального статуса
//
// Exchanges:
//   - conveyor.events — события оркестратора
//   - conveyor.dlq    — dead letter queue
package mq
