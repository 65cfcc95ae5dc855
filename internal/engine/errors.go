package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки разрешения ссылок "{{path}}".
var (
	// ErrVariableResolution — базовая ошибка разрешения ссылки.
	// Все типизированные ошибки резолвера разворачиваются в неё.
	ErrVariableResolution = errors.New("variable resolution failed")
)

// UnresolvedStepError — ссылка на шаг, который ещё не выполнился.
type UnresolvedStepError struct {
	Ref    string // исходная ссылка
	StepID string // шаг без записанного результата
}

// Error реализует интерфейс error.
func (e *UnresolvedStepError) Error() string {
	return fmt.Sprintf("unresolved step %q in reference %q: no output recorded", e.StepID, e.Ref)
}

// Unwrap возвращает базовую ошибку резолвера.
func (e *UnresolvedStepError) Unwrap() error { return ErrVariableResolution }

// UnknownVariableRootError — корень ссылки не совпал ни с шагом,
// ни со встроенным корнем, ни с именем переменной.
type UnknownVariableRootError struct {
	Ref  string // исходная ссылка
	Root string // нераспознанный корень
}

// Error реализует интерфейс error.
func (e *UnknownVariableRootError) Error() string {
	return fmt.Sprintf("unknown variable root %q in reference %q", e.Root, e.Ref)
}

// Unwrap возвращает базовую ошибку резолвера.
func (e *UnknownVariableRootError) Unwrap() error { return ErrVariableResolution }

// UnresolvedPathError — промежуточный сегмент пути отсутствует
// в значении (нет ключа, индекс вне границ, не контейнер).
type UnresolvedPathError struct {
	Ref     string // исходная ссылка
	Segment string // сегмент, на котором остановилось разрешение
	Reason  string // причина
}

// Error реализует интерфейс error.
func (e *UnresolvedPathError) Error() string {
	return fmt.Sprintf("unresolved path segment %q in reference %q: %s", e.Segment, e.Ref, e.Reason)
}

// Unwrap возвращает базовую ошибку резолвера.
func (e *UnresolvedPathError) Unwrap() error { return ErrVariableResolution }

// Ошибки выражений.
var (
	// ErrExpression — выражение не разобрано или не вычислено.
	ErrExpression = errors.New("expression evaluation failed")

	// ErrNotBoolean — условие вычислилось не в булево значение.
	ErrNotBoolean = errors.New("condition is not boolean")
)

// Ошибки валидации определения workflow.
var (
	// ErrEmptySteps — workflow не содержит шагов.
	ErrEmptySteps = errors.New("workflow has no steps")

	// ErrEmptyStepID — шаг не имеет ID.
	ErrEmptyStepID = errors.New("step has empty ID")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrUnknownStepType — неизвестный тип шага.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrMissingConfig — у шага нет конфигурации, соответствующей типу.
	ErrMissingConfig = errors.New("step config missing or mismatched")

	// ErrMissingDependency — шаг зависит от несуществующего шага.
	ErrMissingDependency = errors.New("step depends on unknown step")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrSelfDependency — шаг зависит от самого себя.
	ErrSelfDependency = errors.New("step depends on itself")

	// ErrUnknownBranchTarget — ветка ссылается на несуществующий шаг.
	ErrUnknownBranchTarget = errors.New("branch references unknown step")

	// ErrNestedApproval — human_approval внутри вложенных шагов.
	// Модель паузы плоская: одно ожидание на выполнение.
	ErrNestedApproval = errors.New("human_approval is not allowed inside nested steps")
)

// ConfigurationError — ошибка конфигурации шага с контекстом.
// Ловится на валидации определения, до старта выполнения.
type ConfigurationError struct {
	StepID  string // ID шага, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ConfigurationError) Error() string {
	if e.StepID != "" {
		return "step " + e.StepID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError создаёт новую ошибку конфигурации.
func NewConfigurationError(stepID, field, message string, err error) *ConfigurationError {
	return &ConfigurationError{
		StepID:  stepID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// ValidationErrors — список ошибок валидации определения.
// Валидация собирает все ошибки сразу, а не останавливается на первой.
type ValidationErrors []*ConfigurationError

// Error реализует интерфейс error.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "workflow validation failed"
	}
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "workflow validation failed: " + strings.Join(msgs, "; ")
}
