package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// ParallelGroupExecutor выполняет шаг parallel_group: вложенные шаги
// идут одновременно в ОБЩЕМ контексте выполнения, чтобы последующие
// шаги могли ссылаться на их результаты напрямую. Уникальность ID
// гарантирует валидация.
//
// Результат: {"results": {stepID: data}, "count": n} по успешным
// шагам. Неперехваченная ошибка любого шага проваливает группу и
// отменяет остальных.
type ParallelGroupExecutor struct {
	runner *Runner
}

func (e *ParallelGroupExecutor) Execute(ctx context.Context, step *domain.Step, ec *engine.ExecutionContext) (any, error) {
	cfg := step.ParallelGroup

	bound := cfg.MaxConcurrency
	if bound <= 0 {
		bound = e.runner.maxConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bound)

	var mu sync.Mutex
	results := make(map[string]any, len(cfg.Steps))

	for i := range cfg.Steps {
		nested := &cfg.Steps[i]
		g.Go(func() error {
			if nested.Condition != "" {
				ok, err := ec.EvalCondition(nested.Condition)
				if err != nil {
					return wrapStepError(nested, err)
				}
				if !ok {
					return nil
				}
			}

			out, _, err := e.runner.run(gctx, nested, ec)
			ec.SetStepOutput(nested.ID, out)
			if err != nil {
				if nested.ContinueOnError {
					return nil
				}
				return err
			}

			mu.Lock()
			results[nested.ID] = out.Data
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return map[string]any{"results": results, "count": len(results)}, nil
}
