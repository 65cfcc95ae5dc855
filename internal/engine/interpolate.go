package engine

import (
	"encoding/json"
	"regexp"
	"strings"
)

// refPattern находит ссылки "{{...}}" внутри строковых литералов.
var refPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// HasReference возвращает true, если строка содержит ссылку "{{...}}".
func HasReference(s string) bool {
	return refPattern.MatchString(s)
}

// Interpolate разрешает ссылки внутри строки.
//
// Три случая:
//  1. строка без "{{...}}" проходит без изменений;
//  2. строка целиком из одной ссылки возвращает значение в родном
//     типе ("{{step1.data.items}}" -> массив, не строка);
//  3. ссылки внутри большего литерала ('["{{a.b}}"]') подставляются
//     с учётом кавычек JSON, результат разбирается как структура;
//     при неудаче разбора строка вычисляется как выражение, затем
//     остаётся текстовой подстановкой.
//
// Третий случай существует из-за компонентов, которые легально
// порождают составные литералы с одиночными ссылками внутри: читать
// их как непрозрачные строки значит ломать массивы и объекты ниже
// по workflow.
func (c *ExecutionContext) Interpolate(s string) (any, error) {
	if !HasReference(s) {
		return s, nil
	}

	if inner, ok := wholeReference(strings.TrimSpace(s)); ok {
		if isPathRef(inner) {
			return c.Resolve(inner)
		}
		return c.Eval(inner)
	}

	// Подстановка с учётом кавычек: внутри строкового литерала JSON
	// вставляется экранированное содержимое, снаружи — кодировка JSON.
	substituted, err := c.substituteRefs(s, true)
	if err != nil {
		return nil, err
	}
	var parsed any
	if jsonErr := json.Unmarshal([]byte(substituted), &parsed); jsonErr == nil {
		return parsed, nil
	}

	if v, evalErr := c.Eval(s); evalErr == nil {
		return v, nil
	}

	return c.substituteRefs(s, false)
}

// substituteRefs заменяет каждую ссылку "{{...}}" её значением.
// При jsonMode значения кодируются для позиции в JSON-документе,
// иначе вставляются как текст.
func (c *ExecutionContext) substituteRefs(s string, jsonMode bool) (string, error) {
	var b strings.Builder
	last := 0
	var firstErr error
	for _, loc := range refPattern.FindAllStringSubmatchIndex(s, -1) {
		start, end := loc[0], loc[1]
		inner := strings.TrimSpace(s[loc[2]:loc[3]])
		b.WriteString(s[last:start])

		v, err := c.resolveInner(inner)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			b.WriteString(s[start:end])
			last = end
			continue
		}

		if jsonMode {
			if insideJSONQuotes(s, start) {
				b.WriteString(escapedStringContent(v))
			} else {
				b.WriteString(jsonEncode(v))
			}
		} else {
			b.WriteString(rawText(v))
		}
		last = end
	}
	b.WriteString(s[last:])
	if firstErr != nil {
		return "", firstErr
	}
	return b.String(), nil
}

// resolveInner разрешает внутренность ссылки: путь или выражение.
func (c *ExecutionContext) resolveInner(inner string) (any, error) {
	if isPathRef(inner) {
		return c.Resolve(inner)
	}
	return c.Eval(inner)
}

// isPathRef возвращает true для чистого пути без операторов
// ("a.b[0].c"), false для выражения ("a + b", "x == 1").
func isPathRef(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '.' || r == '[' || r == ']' || r == '-':
		default:
			return false
		}
	}
	// "-" без пробелов допустим в идентификаторах шагов, но ведущий
	// знак — это унарный минус выражения
	return s[0] != '-'
}

// insideJSONQuotes возвращает true, если позиция pos находится внутри
// строкового литерала JSON (нечётное число неэкранированных кавычек
// слева).
func insideJSONQuotes(s string, pos int) bool {
	inQuotes := false
	for i := 0; i < pos && i < len(s); i++ {
		if s[i] != '"' {
			continue
		}
		// кавычка экранирована при нечётном числе обратных слэшей
		backslashes := 0
		for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
			backslashes++
		}
		if backslashes%2 == 0 {
			inQuotes = !inQuotes
		}
	}
	return inQuotes
}

// escapedStringContent кодирует значение для вставки внутрь
// строкового литерала JSON: содержимое строки с её экранированием,
// но без внешних кавычек.
func escapedStringContent(v any) string {
	if s, ok := v.(string); ok {
		return trimQuotes(jsonEncode(s))
	}
	text := jsonEncode(v)
	if strings.ContainsAny(text, `"\`) {
		return trimQuotes(jsonEncode(text))
	}
	return text
}

// jsonEncode возвращает компактную кодировку JSON значения.
func jsonEncode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// trimQuotes снимает внешние кавычки с кодировки строки.
func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// rawText возвращает текстовое представление значения для чистой
// подстановки: строки как есть, остальное — JSON.
func rawText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return jsonEncode(v)
}

// ResolveValue рекурсивно разрешает ссылки внутри значения:
// строки интерполируются, map и массивы обходятся вглубь.
func (c *ExecutionContext) ResolveValue(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return c.Interpolate(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			resolved, err := c.ResolveValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			resolved, err := c.ResolveValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveParams разрешает ссылки в параметрах шага.
func (c *ExecutionContext) ResolveParams(params map[string]any) (map[string]any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	resolved, err := c.ResolveValue(params)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}
