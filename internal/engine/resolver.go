package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Resolve разрешает одиночную ссылку вида "{{root.path[0].field}}"
// или голый путь "root.path" в значение контекста.
//
// Порядок разрешения корня:
//  1. идентификатор шага: записанный результат (ошибка UnresolvedStep,
//     если шаг известен, но ещё не выполнялся);
//  2. "input": входные параметры выполнения;
//  3. "var" / "loop": именованные переменные и активная привязка цикла;
//  4. "current" / "item": элемент активной привязки scatter/loop;
//  5. имя существующей переменной (привязка "email" для
//     item_variable="email").
//
// Неизвестный корень — UnknownVariableRoot, отсутствующий сегмент
// пути — UnresolvedPath.
func (c *ExecutionContext) Resolve(ref string) (any, error) {
	path := strings.TrimSpace(ref)
	if inner, ok := wholeReference(path); ok {
		path = inner
	}
	segments, err := splitPath(path)
	if err != nil {
		return nil, &UnresolvedPathError{Ref: ref, Segment: path, Reason: err.Error()}
	}
	if len(segments) == 0 {
		return nil, &UnresolvedPathError{Ref: ref, Segment: "", Reason: "empty reference"}
	}
	root, rest := segments[0], segments[1:]

	c.mu.RLock()
	isStep := c.stepIDs[root]
	out, hasOut := c.outputs[root]
	c.mu.RUnlock()

	// 1. Результат шага.
	if isStep {
		if !hasOut {
			return nil, &UnresolvedStepError{Ref: ref, StepID: root}
		}
		return drill(out.AsMap(), rest, ref)
	}

	// 2. Входные параметры.
	if root == "input" {
		c.mu.RLock()
		var base any = c.inputs
		c.mu.RUnlock()
		return drill(base, rest, ref)
	}

	// 3. Пространства var и loop.
	if root == "var" {
		if len(rest) == 0 {
			return nil, &UnresolvedPathError{Ref: ref, Segment: "var", Reason: "variable name required"}
		}
		v, ok := c.Var(rest[0])
		if !ok {
			return nil, &UnresolvedPathError{Ref: ref, Segment: rest[0], Reason: "variable not set"}
		}
		return drill(v, rest[1:], ref)
	}
	if root == "loop" {
		item, index, ok := c.Item()
		if !ok {
			return nil, &UnresolvedPathError{Ref: ref, Segment: "loop", Reason: "no active loop binding"}
		}
		if len(rest) == 0 {
			return item, nil
		}
		switch rest[0] {
		case "item":
			return drill(item, rest[1:], ref)
		case "index":
			return float64(index), nil
		default:
			return drill(item, rest, ref)
		}
	}

	// 4. Активная привязка scatter/loop.
	if root == "current" || root == "item" {
		if item, _, ok := c.Item(); ok {
			return drill(item, rest, ref)
		}
	}

	// 5. Именованная переменная.
	if v, ok := c.Var(root); ok {
		return drill(v, rest, ref)
	}

	return nil, &UnknownVariableRootError{Ref: ref, Root: root}
}

// Lookup извлекает значение по точечному пути внутри произвольного
// значения ("user.address.city", "tags[0]"). Используется операциями
// transform для доступа к полям элементов.
func Lookup(v any, path string) (any, error) {
	if path == "" {
		return v, nil
	}
	segments, err := splitPath(path)
	if err != nil {
		return nil, &UnresolvedPathError{Ref: path, Segment: path, Reason: err.Error()}
	}
	return drill(v, segments, path)
}

// drill спускается по сегментам пути внутрь значения.
func drill(base any, segments []string, ref string) (any, error) {
	cur := base
	for _, seg := range segments {
		switch t := cur.(type) {
		case map[string]any:
			v, ok := t[seg]
			if !ok {
				return nil, &UnresolvedPathError{Ref: ref, Segment: seg, Reason: "key not found"}
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, &UnresolvedPathError{Ref: ref, Segment: seg, Reason: "array index expected"}
			}
			if idx < 0 || idx >= len(t) {
				return nil, &UnresolvedPathError{Ref: ref, Segment: seg, Reason: fmt.Sprintf("index out of range (len %d)", len(t))}
			}
			cur = t[idx]
		case nil:
			return nil, &UnresolvedPathError{Ref: ref, Segment: seg, Reason: "nil value"}
		default:
			// структурные значения вне форм JSON нормализуем один раз
			norm := Normalize(cur)
			if _, same := norm.(map[string]any); !same {
				if _, arr := norm.([]any); !arr {
					return nil, &UnresolvedPathError{Ref: ref, Segment: seg, Reason: "not an object or array"}
				}
			}
			var err error
			cur, err = drill(norm, []string{seg}, ref)
			if err != nil {
				return nil, err
			}
		}
	}
	return cur, nil
}

// wholeReference возвращает внутренний путь, если строка целиком
// состоит из одной ссылки "{{...}}".
func wholeReference(s string) (string, bool) {
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}
	inner := s[2 : len(s)-2]
	if strings.Contains(inner, "{{") || strings.Contains(inner, "}}") {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// splitPath разбирает "a.b[0].c" в сегменты ["a","b","0","c"].
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	var segments []string
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("empty path segment")
		}
		for {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				segments = append(segments, part)
				break
			}
			closing := strings.IndexByte(part, ']')
			if closing < open {
				return nil, fmt.Errorf("unbalanced bracket in %q", part)
			}
			if open > 0 {
				segments = append(segments, part[:open])
			}
			idx := part[open+1 : closing]
			if idx == "" {
				return nil, fmt.Errorf("empty index in %q", part)
			}
			segments = append(segments, idx)
			part = part[closing+1:]
			if part == "" {
				break
			}
			if part[0] != '[' {
				return nil, fmt.Errorf("unexpected text after index in %q", part)
			}
		}
	}
	return segments, nil
}
