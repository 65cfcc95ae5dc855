package executor

import (
	"context"
	"fmt"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// LoopExecutor выполняет шаг loop: последовательный проход по массиву.
//
// Каждая итерация работает в клоне контекста с привязанным элементом;
// итерации видят результаты родителя, но не друг друга. Результат
// итерации — данные последнего шага её последовательности.
//
// Результат: {"items": [результаты итераций], "count": n}.
// Первая же неперехваченная ошибка итерации проваливает шаг.
type LoopExecutor struct {
	runner *Runner
}

func (e *LoopExecutor) Execute(ctx context.Context, step *domain.Step, ec *engine.ExecutionContext) (any, error) {
	cfg := step.Loop

	items, err := resolveArray(ec, cfg.Items)
	if err != nil {
		return nil, err
	}

	results := make([]any, 0, len(items))
	for i, item := range items {
		clone := ec.Clone()
		clone.BindItem(cfg.ItemVariable, item, i)

		result, err := runSequence(ctx, e.runner, cfg.Steps, clone)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}
		results = append(results, result)
	}

	return map[string]any{"items": results, "count": len(results)}, nil
}

// runSequence выполняет вложенные шаги по порядку в переданном
// контексте. Результат последовательности — данные последнего
// выполненного шага.
//
// Условие шага (condition) пропускает шаг без записи результата;
// continue_on_error записывает ошибку и идёт дальше.
func runSequence(ctx context.Context, r *Runner, steps []domain.Step, ec *engine.ExecutionContext) (any, error) {
	var last any
	for i := range steps {
		step := &steps[i]

		if step.Condition != "" {
			ok, err := ec.EvalCondition(step.Condition)
			if err != nil {
				return nil, wrapStepError(step, err)
			}
			if !ok {
				continue
			}
		}

		out, _, err := r.run(ctx, step, ec)
		ec.SetStepOutput(step.ID, out)
		if err != nil {
			if step.ContinueOnError {
				continue
			}
			return nil, err
		}
		last = out.Data
	}
	return last, nil
}
