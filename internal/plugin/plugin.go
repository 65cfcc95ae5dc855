package plugin

import (
	"context"
	"errors"
)

// Ошибки плагинов.
var (
	// ErrPluginNotFound — плагин не зарегистрирован.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrUnknownOperation — операция не объявлена плагином.
	ErrUnknownOperation = errors.New("unknown plugin operation")

	// ErrInvalidParams — невалидные параметры операции.
	ErrInvalidParams = errors.New("invalid operation params")
)

// Operation — одна именованная операция коннектора.
//
// Параметры приходят с уже разрешёнными ссылками: движок подставляет
// значения контекста до вызова. Возвращённые данные становятся
// выходом шага action.
type Operation func(ctx context.Context, params map[string]any) (map[string]any, error)

// Connector — подключаемый плагин: именованный набор операций.
//
// Шаг action адресует операцию парой plugin + operation. Retry и
// continue_on_error применяются движком снаружи: коннектор просто
// возвращает ошибку.
type Connector interface {
	// Name возвращает имя плагина.
	Name() string

	// Operations возвращает операции плагина по имени.
	Operations() map[string]Operation
}

// GetString извлекает строковый параметр.
func GetString(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetInt извлекает числовой параметр.
func GetInt(params map[string]any, key string) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

// GetBool извлекает булев параметр.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetStringMap извлекает параметр map[string]string.
func GetStringMap(params map[string]any, key string) map[string]string {
	if v, ok := params[key]; ok {
		switch m := v.(type) {
		case map[string]string:
			return m
		case map[string]any:
			result := make(map[string]string)
			for k, val := range m {
				if s, ok := val.(string); ok {
					result[k] = s
				}
			}
			return result
		}
	}
	return nil
}
