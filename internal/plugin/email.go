package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Имя и операции коннектора email.
const (
	emailConnectorName = "email"
	emailOpSend        = "send"
	emailOpFetch       = "fetch"

	// maxOutbox — предел очереди писем; старые вытесняются.
	maxOutbox = 100
)

// EmailConnector — dev-коннектор почты.
//
// Письма не отправляются наружу: send записывает письмо в очередь и
// лог, fetch возвращает накопленную очередь. Продакшен подключает
// собственный коннектор с тем же именем поверх реального транспорта.
type EmailConnector struct {
	logger *slog.Logger

	mu     sync.Mutex
	outbox []map[string]any
}

// NewEmailConnector создаёт dev-коннектор email.
func NewEmailConnector(logger *slog.Logger) *EmailConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailConnector{
		logger: logger.With("component", "plugin.email"),
	}
}

// Name возвращает имя плагина.
func (c *EmailConnector) Name() string {
	return emailConnectorName
}

// Operations возвращает операции плагина.
func (c *EmailConnector) Operations() map[string]Operation {
	return map[string]Operation{
		emailOpSend:  c.send,
		emailOpFetch: c.fetch,
	}
}

func (c *EmailConnector) send(ctx context.Context, params map[string]any) (map[string]any, error) {
	to := GetString(params, "to")
	if to == "" {
		return nil, fmt.Errorf("%w: email.send: to is required", ErrInvalidParams)
	}
	subject := GetString(params, "subject")
	body := GetString(params, "body")

	msg := map[string]any{
		"to":        to,
		"subject":   subject,
		"body":      body,
		"queued_at": time.Now().UTC().Format(time.RFC3339),
	}

	c.mu.Lock()
	c.outbox = append(c.outbox, msg)
	if len(c.outbox) > maxOutbox {
		c.outbox = c.outbox[len(c.outbox)-maxOutbox:]
	}
	queued := len(c.outbox)
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "email queued",
		"to", to,
		"subject", subject,
		"outbox", queued,
	)

	return map[string]any{
		"sent":     true,
		"to":       to,
		"subject":  subject,
		"body_len": len(body),
	}, nil
}

func (c *EmailConnector) fetch(_ context.Context, _ map[string]any) (map[string]any, error) {
	c.mu.Lock()
	messages := make([]any, len(c.outbox))
	for i, msg := range c.outbox {
		messages[i] = msg
	}
	c.mu.Unlock()

	return map[string]any{
		"messages": messages,
		"count":    len(messages),
	}, nil
}
