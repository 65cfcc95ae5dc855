package executor

import (
	"errors"
	"fmt"

	"github.com/shaiso/conveyor/internal/domain"
)

// Ошибки выполнения шагов.
var (
	// ErrExecutorNotFound — нет executor'а для данного типа шага.
	ErrExecutorNotFound = errors.New("no executor registered for step type")

	// ErrStepTimeout — шаг превысил таймаут.
	ErrStepTimeout = errors.New("step execution timeout")

	// ErrNotArray — вход scatter/transform не является массивом.
	ErrNotArray = errors.New("input does not resolve to an array")

	// ErrAllItemsFailed — все элементы scatter завершились ошибкой.
	ErrAllItemsFailed = errors.New("every scatter item failed")

	// ErrSubflowDepth — превышена глубина вложенности sub_workflow.
	ErrSubflowDepth = errors.New("sub_workflow nesting too deep")

	// ErrNoPluginInvoker — не подключён исполнитель плагинов.
	ErrNoPluginInvoker = errors.New("plugin invoker is not configured")

	// ErrNoDecisionProvider — не подключён провайдер решений.
	ErrNoDecisionProvider = errors.New("decision provider is not configured")

	// ErrNoSubflowRunner — не подключён запуск дочерних workflow.
	ErrNoSubflowRunner = errors.New("sub-workflow runner is not configured")
)

// StepExecutionError — ошибка выполнения шага.
//
// Оборачивает причину (ошибка плагина, трансформации, дочернего
// workflow); текст записывается в StepOutput.Error записи шага.
type StepExecutionError struct {
	// StepID — идентификатор шага.
	StepID string

	// StepType — тип шага.
	StepType domain.StepType

	// Err — первопричина.
	Err error
}

// Error возвращает текстовое описание ошибки.
func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s (%s) failed: %v", e.StepID, e.StepType, e.Err)
}

// Unwrap возвращает первопричину.
func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// NewStepExecutionError создаёт StepExecutionError.
func NewStepExecutionError(stepID string, stepType domain.StepType, err error) *StepExecutionError {
	return &StepExecutionError{StepID: stepID, StepType: stepType, Err: err}
}
