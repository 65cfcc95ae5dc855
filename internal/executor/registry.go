package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// Executor — интерфейс выполнения одного типа шага.
//
// Execute возвращает данные результата или ошибку; обёртку в запись
// StepOutput (успех, текст ошибки, длительность) делает Runner.
// Выполнение обязано уважать ctx.Done().
type Executor interface {
	Execute(ctx context.Context, step *domain.Step, ec *engine.ExecutionContext) (any, error)
}

// Registry — реестр executor'ов по типу шага.
//
// Потокобезопасен. human_approval в реестре отсутствует: паузой
// выполнения управляет оркестратор, а не executor.
type Registry struct {
	mu        sync.RWMutex
	executors map[domain.StepType]Executor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[domain.StepType]Executor),
	}
}

// Register добавляет executor для типа шага.
// Существующий executor того же типа перезаписывается.
func (r *Registry) Register(stepType domain.StepType, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[stepType] = e
}

// Get возвращает executor для типа шага.
func (r *Registry) Get(stepType domain.StepType) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.executors[stepType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrExecutorNotFound, stepType)
	}
	return e, nil
}

// Has проверяет, зарегистрирован ли executor.
func (r *Registry) Has(stepType domain.StepType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.executors[stepType]
	return exists
}

// Types возвращает отсортированный список зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, string(t))
	}
	sort.Strings(types)
	return types
}

// Count возвращает количество зарегистрированных executor'ов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}
