// Package decision содержит провайдер решений для шагов decision.
//
// Provider выбирает один из предложенных вариантов по текстовому
// prompt. RuleProvider — встроенная реализация на правилах с
// ключевыми словами: продакшен подключает провайдера поверх внешней
// модели через тот же интерфейс.
package decision

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ErrNoOptions — шаг decision без вариантов выбора.
var ErrNoOptions = errors.New("decision has no options")

// Provider — провайдер решений.
type Provider interface {
	// Decide выбирает один из options по prompt.
	Decide(ctx context.Context, prompt string, options []string) (string, error)
}

// Rule — правило выбора: ключевые слова → вариант.
// Правило срабатывает, когда prompt содержит любое из слов.
type Rule struct {
	Keywords []string
	Choice   string
}

// RuleProvider — детерминированный провайдер решений на правилах.
//
// Порядок выбора:
//  1. первое правило, чьё слово встречается в prompt и чей вариант
//     входит в options;
//  2. первый вариант, чьё имя встречается в prompt;
//  3. первый вариант.
//
// Сравнение без учёта регистра.
type RuleProvider struct {
	rules  []Rule
	logger *slog.Logger
}

// NewRuleProvider создаёт провайдер с набором правил.
func NewRuleProvider(rules []Rule, logger *slog.Logger) *RuleProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleProvider{
		rules:  rules,
		logger: logger.With("component", "decision"),
	}
}

// Decide выбирает вариант по правилам.
func (p *RuleProvider) Decide(_ context.Context, prompt string, options []string) (string, error) {
	if len(options) == 0 {
		return "", ErrNoOptions
	}

	lower := strings.ToLower(prompt)

	for _, rule := range p.rules {
		if !rule.matches(lower) {
			continue
		}
		if !containsChoice(options, rule.Choice) {
			continue
		}
		p.logger.Debug("decision matched rule",
			"choice", rule.Choice,
			"keywords", strings.Join(rule.Keywords, ","),
		)
		return rule.Choice, nil
	}

	for _, opt := range options {
		if opt != "" && strings.Contains(lower, strings.ToLower(opt)) {
			p.logger.Debug("decision matched option name", "choice", opt)
			return opt, nil
		}
	}

	p.logger.Debug("decision fell back to first option", "choice", options[0])
	return options[0], nil
}

// matches проверяет, встречается ли любое слово правила в prompt.
func (r *Rule) matches(lowerPrompt string) bool {
	for _, kw := range r.Keywords {
		if kw != "" && strings.Contains(lowerPrompt, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// containsChoice проверяет вхождение варианта в options.
func containsChoice(options []string, choice string) bool {
	for _, opt := range options {
		if opt == choice {
			return true
		}
	}
	return false
}
