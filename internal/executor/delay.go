package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// DelayExecutor выполняет шаг delay: приостанавливает только этот шаг
// на разрешённую длительность. Остальные шаги волны не ждут.
type DelayExecutor struct{}

func (e *DelayExecutor) Execute(ctx context.Context, step *domain.Step, ec *engine.ExecutionContext) (any, error) {
	cfg := step.Delay

	ms, err := resolveDurationMs(ec, cfg.DurationMs)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return map[string]any{"duration_ms": ms}, nil
}

// resolveDurationMs приводит duration_ms к числу миллисекунд.
// Строковые значения сначала проходят разрешение ссылок.
func resolveDurationMs(ec *engine.ExecutionContext, v any) (int64, error) {
	if s, ok := v.(string); ok && engine.HasReference(s) {
		resolved, err := ec.Interpolate(s)
		if err != nil {
			return 0, err
		}
		v = resolved
	}

	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("duration_ms: %w", err)
		}
		return int64(f), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("duration_ms %q is not a number", n)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("duration_ms has unsupported type %T", v)
	}
}
