package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry — реестр коннекторов.
//
// Реализует executor.PluginInvoker: шаги action адресуют операции
// через Invoke(plugin, operation, params). Потокобезопасен.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
	}
}

// DefaultRegistry создаёт реестр со встроенными коннекторами.
func DefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry()

	r.Register(NewLogConnector(logger))
	r.Register(NewEmailConnector(logger))
	r.Register(NewHTTPConnector())

	return r
}

// Register регистрирует коннектор.
// Коннектор с тем же именем перезаписывается.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Name()] = c
}

// Get возвращает коннектор по имени.
// Возвращает ErrPluginNotFound, если коннектор не найден.
func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.connectors[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}

	return c, nil
}

// Has проверяет, зарегистрирован ли коннектор.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.connectors[name]
	return exists
}

// Names возвращает имена всех зарегистрированных коннекторов.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke вызывает операцию плагина.
func (r *Registry) Invoke(ctx context.Context, plugin, operation string, params map[string]any) (any, error) {
	c, err := r.Get(plugin)
	if err != nil {
		return nil, err
	}

	op, exists := c.Operations()[operation]
	if !exists {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownOperation, plugin, operation)
	}

	if params == nil {
		params = make(map[string]any)
	}

	data, err := op(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", plugin, operation, err)
	}
	return data, nil
}
