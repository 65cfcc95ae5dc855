package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// ScatterGatherExecutor выполняет шаг scatter_gather: fan-out шагов
// по элементам массива с ограниченной одновременностью, затем fan-in
// агрегация результатов.
//
// Каждый элемент работает в клоне контекста: элемент видит результаты
// родителя, но не соседей. Ошибки элементов ловятся локально и никогда
// не прерывают партию; шаг проваливается, только если провалились ВСЕ
// элементы. Результат шага — голое агрегированное значение.
type ScatterGatherExecutor struct {
	runner *Runner
}

// itemResult — исход обработки одного элемента.
type itemResult struct {
	value any
	err   error
}

func (e *ScatterGatherExecutor) Execute(ctx context.Context, step *domain.Step, ec *engine.ExecutionContext) (any, error) {
	cfg := step.ScatterGather

	items, err := resolveArray(ec, cfg.Scatter.Input)
	if err != nil {
		return nil, err
	}

	bound := cfg.Scatter.MaxConcurrency
	if bound <= 0 {
		bound = e.runner.maxConcurrency
	}

	// Чанки обрабатываются последовательно, элементы внутри чанка
	// одновременно: в полёте не бывает больше bound элементов.
	results := make([]itemResult, len(items))
	for start := 0; start < len(items); start += bound {
		end := min(start+bound, len(items))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				clone := ec.Clone()
				clone.BindItem(cfg.Scatter.ItemVariable, items[i], i)
				value, err := runSequence(ctx, e.runner, cfg.Scatter.Steps, clone)
				results[i] = itemResult{value: value, err: err}
			}()
		}
		wg.Wait()
	}

	if len(items) > 0 {
		failed := 0
		for _, r := range results {
			if r.err != nil {
				failed++
			}
		}
		if failed == len(items) {
			return nil, fmt.Errorf("%w: all %d items failed, first error: %v",
				ErrAllItemsFailed, failed, results[0].err)
		}
	}

	return gatherResults(ec, cfg.Gather, results)
}

// gatherResults агрегирует результаты элементов по операции fan-in.
func gatherResults(ec *engine.ExecutionContext, cfg domain.GatherConfig, results []itemResult) (any, error) {
	switch cfg.Op() {
	case domain.GatherCollect:
		return gatherCollect(results), nil
	case domain.GatherMerge:
		return gatherMerge(results)
	case domain.GatherReduce:
		return gatherReduce(ec, cfg.ReduceExpression, results)
	default:
		return nil, fmt.Errorf("unknown gather operation %q", cfg.Operation)
	}
}

// gatherCollect строит массив в порядке входных элементов независимо
// от порядка завершения. Провалившийся элемент превращается в маркер
// {"error": ..., "index": i, "success": false}.
func gatherCollect(results []itemResult) []any {
	out := make([]any, len(results))
	for i, r := range results {
		if r.err != nil {
			out[i] = map[string]any{
				"error":   r.err.Error(),
				"index":   i,
				"success": false,
			}
			continue
		}
		out[i] = r.value
	}
	return out
}

// gatherMerge поверхностно сливает результаты-объекты успешных
// элементов; поздние перекрывают ранние. Пустые результаты
// пропускаются, не-объекты — ошибка.
func gatherMerge(results []itemResult) (any, error) {
	merged := make(map[string]any)
	for i, r := range results {
		if r.err != nil || r.value == nil {
			continue
		}
		obj, ok := engine.Normalize(r.value).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("gather merge: item %d result is %T, not an object", i, r.value)
		}
		for k, v := range obj {
			merged[k] = v
		}
	}
	return merged, nil
}

// gatherReduce сворачивает успешные результаты: выражением с {{acc}}
// и {{item}}, а без выражения — по типу первого результата (числа
// суммируются, массивы конкатенируются, объекты сливаются).
func gatherReduce(ec *engine.ExecutionContext, expr string, results []itemResult) (any, error) {
	values := successValues(results)
	if len(values) == 0 {
		return nil, nil
	}

	if expr != "" {
		acc := values[0]
		tc := ec.Clone()
		for i := 1; i < len(values); i++ {
			tc.BindItem("item", values[i], i)
			tc.SetVar("acc", acc)
			v, err := tc.Eval(expr)
			if err != nil {
				return nil, fmt.Errorf("gather reduce item %d: %w", i, err)
			}
			acc = engine.Normalize(v)
		}
		return acc, nil
	}

	return inferredReduce(values)
}

// inferredReduce — свёртка по типу результатов. Смесь типов — ошибка.
func inferredReduce(values []any) (any, error) {
	switch engine.Normalize(values[0]).(type) {
	case float64:
		sum := 0.0
		for i, v := range values {
			n, ok := engine.Normalize(v).(float64)
			if !ok {
				return nil, fmt.Errorf("gather reduce: item %d is %T, expected number", i, v)
			}
			sum += n
		}
		return sum, nil
	case []any:
		var concat []any
		for i, v := range values {
			arr, ok := engine.Normalize(v).([]any)
			if !ok {
				return nil, fmt.Errorf("gather reduce: item %d is %T, expected array", i, v)
			}
			concat = append(concat, arr...)
		}
		return concat, nil
	case map[string]any:
		merged := make(map[string]any)
		for i, v := range values {
			obj, ok := engine.Normalize(v).(map[string]any)
			if !ok {
				return nil, fmt.Errorf("gather reduce: item %d is %T, expected object", i, v)
			}
			for k, val := range obj {
				merged[k] = val
			}
		}
		return merged, nil
	default:
		return nil, fmt.Errorf("gather reduce: unsupported result type %T", values[0])
	}
}

// successValues возвращает результаты успешных элементов по порядку.
func successValues(results []itemResult) []any {
	values := make([]any, 0, len(results))
	for _, r := range results {
		if r.err == nil {
			values = append(values, r.value)
		}
	}
	return values
}
