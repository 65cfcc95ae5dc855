package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// TransformExecutor выполняет шаг transform: чистые операции над
// массивом данных.
//
// Каждая операция имеет документированную форму результата:
//
//	map    → {"items": [...], "count": n}
//	filter → {"items": [...], "count": n, "removed": k}
//	sort   → {"items": [...], "count": n}
//	group  → {"groups": {key: [...]}, "count": число групп}
//	reduce → {"result": значение}
//	dedupe → {"items": [...], "count": n, "removed": k}
//
// Ссылки вниз по workflow должны указывать на конкретное поле
// ("{{stepN.data.items}}"), а не на выход целиком.
type TransformExecutor struct{}

func (e *TransformExecutor) Execute(_ context.Context, step *domain.Step, ec *engine.ExecutionContext) (any, error) {
	cfg := step.Transform

	items, err := resolveArray(ec, cfg.Input)
	if err != nil {
		return nil, err
	}

	switch cfg.Operation {
	case domain.TransformMap:
		return transformMap(ec, cfg, items)
	case domain.TransformFilter:
		return transformFilter(ec, cfg, items)
	case domain.TransformSort:
		return transformSort(ec, cfg, items)
	case domain.TransformGroup:
		return transformGroup(cfg, items)
	case domain.TransformReduce:
		return transformReduce(ec, cfg, items)
	case domain.TransformDedupe:
		return transformDedupe(cfg, items)
	default:
		return nil, engine.NewConfigurationError(step.ID, "transform.operation",
			fmt.Sprintf("unknown transform operation %q", cfg.Operation), engine.ErrMissingConfig)
	}
}

// resolveArray разрешает ссылку на вход и требует массив.
func resolveArray(ec *engine.ExecutionContext, ref string) ([]any, error) {
	v, err := ec.Interpolate(ref)
	if err != nil {
		return nil, err
	}
	arr, ok := engine.Normalize(v).([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q resolved to %T", ErrNotArray, ref, v)
	}
	return arr, nil
}

// transformMap применяет выражение к каждому элементу.
func transformMap(ec *engine.ExecutionContext, cfg *domain.TransformConfig, items []any) (any, error) {
	tc := ec.Clone()
	out := make([]any, 0, len(items))
	for i, item := range items {
		tc.BindItem("item", item, i)
		v, err := tc.Eval(cfg.Expression)
		if err != nil {
			return nil, fmt.Errorf("map item %d: %w", i, err)
		}
		out = append(out, engine.Normalize(v))
	}
	return map[string]any{"items": out, "count": len(out)}, nil
}

// transformFilter оставляет элементы с истинным выражением.
func transformFilter(ec *engine.ExecutionContext, cfg *domain.TransformConfig, items []any) (any, error) {
	tc := ec.Clone()
	out := make([]any, 0, len(items))
	for i, item := range items {
		tc.BindItem("item", item, i)
		keep, err := tc.EvalCondition(cfg.Expression)
		if err != nil {
			return nil, fmt.Errorf("filter item %d: %w", i, err)
		}
		if keep {
			out = append(out, item)
		}
	}
	return map[string]any{
		"items":   out,
		"count":   len(out),
		"removed": len(items) - len(out),
	}, nil
}

// transformSort сортирует по полю или по выражению-ключу.
// Числовые ключи сравниваются как числа, остальные — как строки.
// Сортировка устойчивая: равные ключи сохраняют исходный порядок.
func transformSort(ec *engine.ExecutionContext, cfg *domain.TransformConfig, items []any) (any, error) {
	type keyed struct {
		key  any
		item any
	}

	keys := make([]keyed, len(items))
	if cfg.Field != "" {
		for i, item := range items {
			keys[i] = keyed{key: fieldValue(item, cfg.Field), item: item}
		}
	} else {
		tc := ec.Clone()
		for i, item := range items {
			tc.BindItem("item", item, i)
			k, err := tc.Eval(cfg.Expression)
			if err != nil {
				return nil, fmt.Errorf("sort item %d: %w", i, err)
			}
			keys[i] = keyed{key: k, item: item}
		}
	}

	desc := cfg.Order == "desc"
	sort.SliceStable(keys, func(i, j int) bool {
		c := compareKeys(keys[i].key, keys[j].key)
		if desc {
			return c > 0
		}
		return c < 0
	})

	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k.item
	}
	return map[string]any{"items": out, "count": len(out)}, nil
}

// transformGroup раскладывает элементы по значению поля.
// Ключ группы — строковое представление значения; элементы без
// поля попадают в группу с пустым ключом.
func transformGroup(cfg *domain.TransformConfig, items []any) (any, error) {
	groups := make(map[string]any)
	for _, item := range items {
		key := engine.Stringify(fieldValue(item, cfg.Field))
		bucket, _ := groups[key].([]any)
		groups[key] = append(bucket, item)
	}
	return map[string]any{"groups": groups, "count": len(groups)}, nil
}

// transformReduce сворачивает массив выражением с аккумулятором.
// Начальное значение — Initial; без него аккумулятором становится
// первый элемент, а свёртка начинается со второго.
func transformReduce(ec *engine.ExecutionContext, cfg *domain.TransformConfig, items []any) (any, error) {
	var acc any
	start := 0
	if cfg.Initial != nil {
		acc = engine.Normalize(cfg.Initial)
	} else {
		if len(items) == 0 {
			return map[string]any{"result": nil}, nil
		}
		acc = items[0]
		start = 1
	}

	tc := ec.Clone()
	for i := start; i < len(items); i++ {
		tc.BindItem("item", items[i], i)
		tc.SetVar("acc", acc)
		v, err := tc.Eval(cfg.Expression)
		if err != nil {
			return nil, fmt.Errorf("reduce item %d: %w", i, err)
		}
		acc = engine.Normalize(v)
	}
	return map[string]any{"result": acc}, nil
}

// transformDedupe удаляет дубликаты: по полю, если оно задано,
// иначе по каноничному представлению элемента целиком.
func transformDedupe(cfg *domain.TransformConfig, items []any) (any, error) {
	seen := make(map[string]bool, len(items))
	out := make([]any, 0, len(items))
	for _, item := range items {
		subject := item
		if cfg.Field != "" {
			subject = fieldValue(item, cfg.Field)
		}
		key := canonicalKey(subject)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return map[string]any{
		"items":   out,
		"count":   len(out),
		"removed": len(items) - len(out),
	}, nil
}

// fieldValue достаёт поле элемента; отсутствующее поле — nil.
func fieldValue(item any, field string) any {
	v, err := engine.Lookup(item, field)
	if err != nil {
		return nil
	}
	return v
}

// compareKeys сравнивает ключи сортировки: -1, 0 или 1.
func compareKeys(a, b any) int {
	fa, aok := numericKey(a)
	fb, bok := numericKey(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(engine.Stringify(a), engine.Stringify(b))
}

func numericKey(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// canonicalKey приводит значение к каноничной строке для сравнения
// на равенство (dedupe).
func canonicalKey(v any) string {
	b, err := json.Marshal(engine.Normalize(v))
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
