package executor

import (
	"context"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// Маршрутизирующие шаги не запускают ветки сами: они только решают,
// какие шаги пойдут дальше, и публикуют список в поле "routed".
// Запуск выбранных и пропуск невыбранных — забота оркестратора.

// ConditionalExecutor выполняет шаг conditional: вычисляет булево
// условие и выбирает true_branch или false_branch.
//
// Результат: {"matched": bool, "routed": [id, ...]}.
type ConditionalExecutor struct{}

func (e *ConditionalExecutor) Execute(_ context.Context, step *domain.Step, ec *engine.ExecutionContext) (any, error) {
	cfg := step.Conditional

	matched, err := ec.EvalCondition(cfg.Condition)
	if err != nil {
		return nil, err
	}

	routed := cfg.TrueBranch
	if !matched {
		routed = cfg.FalseBranch
	}
	return map[string]any{
		"matched": matched,
		"routed":  routedList(routed),
	}, nil
}

// SwitchExecutor выполняет шаг switch: приводит значение выражения к
// строке и ищет точное совпадение среди ключей cases.
//
// Результат: {"matched": key, "routed": [id, ...]}; без совпадения
// matched — пустая строка, routed — ветка default (возможно пустая).
type SwitchExecutor struct{}

func (e *SwitchExecutor) Execute(_ context.Context, step *domain.Step, ec *engine.ExecutionContext) (any, error) {
	cfg := step.Switch

	value, err := routingValue(ec, cfg.Expression)
	if err != nil {
		return nil, err
	}

	key := engine.Stringify(value)
	if routed, ok := cfg.Cases[key]; ok {
		return map[string]any{
			"matched": key,
			"routed":  routedList(routed),
		}, nil
	}
	return map[string]any{
		"matched": "",
		"routed":  routedList(cfg.Default),
	}, nil
}

// DecisionExecutor выполняет шаг decision: разрешает prompt, передаёт
// его провайдеру вместе со списком вариантов и маршрутизирует выбор
// через routes как switch.
//
// Результат: {"choice": вариант, "matched": key, "routed": [id, ...]};
// выбор вне routes уходит в default с matched="".
type DecisionExecutor struct {
	Provider DecisionProvider
}

func (e *DecisionExecutor) Execute(ctx context.Context, step *domain.Step, ec *engine.ExecutionContext) (any, error) {
	if e.Provider == nil {
		return nil, ErrNoDecisionProvider
	}
	cfg := step.Decision

	prompt := cfg.Prompt
	if engine.HasReference(prompt) {
		v, err := ec.Interpolate(prompt)
		if err != nil {
			return nil, err
		}
		prompt = engine.Stringify(v)
	}

	choice, err := e.Provider.Decide(ctx, prompt, cfg.Options)
	if err != nil {
		return nil, err
	}
	if cfg.OutputVar != "" {
		ec.SetVar(cfg.OutputVar, choice)
	}

	matched := ""
	routed := cfg.Default
	if ids, ok := cfg.Routes[choice]; ok {
		matched = choice
		routed = ids
	}
	return map[string]any{
		"choice":  choice,
		"matched": matched,
		"routed":  routedList(routed),
	}, nil
}

// routingValue вычисляет выражение маршрутизации: строки со ссылками
// идут через интерполяцию, остальное — через вычислитель выражений.
func routingValue(ec *engine.ExecutionContext, expr string) (any, error) {
	if engine.HasReference(expr) {
		return ec.Interpolate(expr)
	}
	return ec.Eval(expr)
}

// routedList приводит ветку к непустому слайсу, чтобы в выходе шага
// всегда лежал массив, а не null.
func routedList(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
