package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// Default configuration values.
const (
	defaultMaxConcurrency = 5
	defaultInitialDelay   = time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultBackoffFactor  = 2.0

	// maxSubflowDepth — предел вложенности sub_workflow.
	maxSubflowDepth = 10
)

// PluginInvoker — внешний исполнитель действий плагинов.
//
// Вызов непрозрачен для движка: retry и continue_on_error
// применяются снаружи, в Runner.
type PluginInvoker interface {
	Invoke(ctx context.Context, plugin, operation string, params map[string]any) (any, error)
}

// DecisionProvider — внешний провайдер решений для шагов decision.
type DecisionProvider interface {
	Decide(ctx context.Context, prompt string, options []string) (string, error)
}

// SubflowRunner — запуск дочернего workflow шага sub_workflow.
// Реализуется оркестратором.
type SubflowRunner interface {
	RunChild(ctx context.Context, def *domain.WorkflowDefinition, inputs map[string]any, depth int) (map[string]any, error)
}

// WorkflowLoader — загрузка определения по идентификатору
// (sub_workflow со ссылкой workflow_id вместо встроенного определения).
type WorkflowLoader interface {
	GetDefinition(ctx context.Context, workflowID string) (*domain.WorkflowDefinition, error)
}

// Config — конфигурация Runner.
type Config struct {
	// Plugins — исполнитель действий (обязателен для шагов action).
	Plugins PluginInvoker

	// Decider — провайдер решений (обязателен для шагов decision).
	Decider DecisionProvider

	// Subflows — запуск дочерних workflow (шаги sub_workflow).
	Subflows SubflowRunner

	// Workflows — загрузка определений по workflow_id (опционально).
	Workflows WorkflowLoader

	// MaxConcurrency — глобальный потолок одновременных элементов
	// scatter, когда шаг не задаёт свой (default: 5).
	MaxConcurrency int

	// Registry — реестр executor'ов (опционально; если nil —
	// собирается стандартный набор).
	Registry *Registry

	// Logger — логгер (default: slog.Default()).
	Logger *slog.Logger
}

// Runner выполняет шаги workflow.
//
// Runner выбирает executor по типу шага, применяет таймаут и политику
// retry, оборачивает результат в запись StepOutput и записывает
// output_var. Ошибка после исчерпания попыток не решение о судьбе
// выполнения: это делает оркестратор (continue_on_error, failed).
type Runner struct {
	registry       *Registry
	maxConcurrency int
	logger         *slog.Logger
}

// NewRunner создаёт Runner со стандартным набором executor'ов.
func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}

	r := &Runner{
		maxConcurrency: maxConcurrency,
		logger:         logger,
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
		registry.Register(domain.StepTypeAction, &ActionExecutor{Plugins: cfg.Plugins})
		registry.Register(domain.StepTypeConditional, &ConditionalExecutor{})
		registry.Register(domain.StepTypeSwitch, &SwitchExecutor{})
		registry.Register(domain.StepTypeDecision, &DecisionExecutor{Provider: cfg.Decider})
		registry.Register(domain.StepTypeTransform, &TransformExecutor{})
		registry.Register(domain.StepTypeDelay, &DelayExecutor{})
		registry.Register(domain.StepTypeLoop, &LoopExecutor{runner: r})
		registry.Register(domain.StepTypeParallelGroup, &ParallelGroupExecutor{runner: r})
		registry.Register(domain.StepTypeScatterGather, &ScatterGatherExecutor{runner: r})
		registry.Register(domain.StepTypeSubWorkflow, &SubWorkflowExecutor{
			Subflows:  cfg.Subflows,
			Workflows: cfg.Workflows,
		})
	}
	r.registry = registry

	return r
}

// Registry возвращает реестр executor'ов.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run выполняет шаг и возвращает запись результата вместе с числом
// сделанных попыток.
//
// Ошибки выполнения не возвращаются наружу: они записываются в
// StepOutput.Error с Success=false. Запись всегда non-nil.
func (r *Runner) Run(ctx context.Context, step *domain.Step, ec *engine.ExecutionContext) (*engine.StepOutput, int) {
	out, attempts, _ := r.run(ctx, step, ec)
	return out, attempts
}

// run — внутренний вариант Run, дополнительно возвращающий
// типизированную ошибку. Нужен вложенным последовательностям
// (loop, scatter, parallel_group), чтобы не терять цепочку errors.Is.
func (r *Runner) run(ctx context.Context, step *domain.Step, ec *engine.ExecutionContext) (*engine.StepOutput, int, error) {
	start := time.Now()

	exec, err := r.registry.Get(step.Type)
	if err != nil {
		err = wrapStepError(step, err)
		return failedOutput(err, start), 1, err
	}

	policy := effectiveRetry(step, ec.Defaults())
	maxAttempts := 1
	if policy != nil && policy.MaxAttempts > 0 {
		maxAttempts = policy.MaxAttempts
	}

	var data any
	var lastErr error
	attempt := 1
	for ; ; attempt++ {
		data, lastErr = r.runAttempt(ctx, exec, step, ec)
		if lastErr == nil {
			break
		}
		if attempt >= maxAttempts || !retryable(lastErr) {
			break
		}

		delay := backoffDelay(attempt, policy)
		r.logger.Debug("retrying step",
			"execution_id", ec.ExecutionID,
			"step_id", step.ID,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err = wrapStepError(step, ctx.Err())
			return failedOutput(err, start), attempt, err
		}
	}

	if lastErr != nil {
		err = wrapStepError(step, lastErr)
		return failedOutput(err, start), attempt, err
	}

	out := &engine.StepOutput{
		Data:            engine.Normalize(data),
		Success:         true,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
	if name := outputVar(step); name != "" {
		ec.SetVar(name, out.Data)
	}
	return out, attempt, nil
}

// runAttempt выполняет одну попытку с таймаутом шага.
func (r *Runner) runAttempt(ctx context.Context, exec Executor, step *domain.Step, ec *engine.ExecutionContext) (any, error) {
	timeout := stepTimeout(step, ec.Defaults())
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	data, err := exec.Execute(ctx, step, ec)
	if err != nil && timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
		// срабатывание таймаута — обычная ошибка шага,
		// retry и continue_on_error применимы
		return nil, NewStepExecutionError(step.ID, step.Type, ErrStepTimeout)
	}
	return data, err
}

// wrapStepError оборачивает ошибку в StepExecutionError, если она
// ещё не обёрнута.
func wrapStepError(step *domain.Step, err error) error {
	var stepErr *StepExecutionError
	if errors.As(err, &stepErr) {
		return err
	}
	return NewStepExecutionError(step.ID, step.Type, err)
}

// failedOutput оборачивает ошибку в запись результата.
func failedOutput(err error, start time.Time) *engine.StepOutput {
	return &engine.StepOutput{
		Success:         false,
		Error:           err.Error(),
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
}

// effectiveRetry возвращает политику retry шага с учётом умолчаний.
func effectiveRetry(step *domain.Step, defaults *domain.StepDefaults) *domain.RetryPolicy {
	if step.Retry != nil {
		return step.Retry
	}
	if defaults != nil {
		return defaults.Retry
	}
	return nil
}

// stepTimeout возвращает таймаут шага с учётом умолчаний.
func stepTimeout(step *domain.Step, defaults *domain.StepDefaults) time.Duration {
	if step.TimeoutSec > 0 {
		return step.Timeout()
	}
	if defaults != nil && defaults.TimeoutSec > 0 {
		return time.Duration(defaults.TimeoutSec) * time.Second
	}
	return 0
}

// retryable сообщает, имеет ли смысл повторять попытку.
// Детерминированные ошибки (неразрешимая ссылка, кривая конфигурация)
// и отмена контекста не повторяются.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, engine.ErrVariableResolution) {
		return false
	}
	var cfgErr *engine.ConfigurationError
	if errors.As(err, &cfgErr) {
		return false
	}
	if errors.Is(err, ErrSubflowDepth) || errors.Is(err, ErrNotArray) {
		return false
	}
	return true
}

// backoffDelay вычисляет задержку перед повторной попыткой.
func backoffDelay(attempt int, policy *domain.RetryPolicy) time.Duration {
	if policy == nil {
		return defaultInitialDelay
	}

	initial := time.Duration(policy.InitialDelayMs) * time.Millisecond
	if initial <= 0 {
		initial = defaultInitialDelay
	}
	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		factor := policy.Multiplier
		if factor <= 1 {
			factor = defaultBackoffFactor
		}
		delay = initial
		for i := 1; i < attempt; i++ {
			delay = time.Duration(float64(delay) * factor)
			if delay > maxDelay {
				delay = maxDelay
				break
			}
		}
	default:
		// fixed или неизвестный backoff
		delay = initial
	}

	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// outputVar возвращает имя переменной, в которую шаг публикует
// свой результат (пусто, если шаг её не задаёт). Шаг decision
// записывает свою переменную сам: туда идёт выбранный вариант,
// а не маршрутизирующий выход целиком.
func outputVar(step *domain.Step) string {
	switch step.Type {
	case domain.StepTypeAction:
		if step.Action != nil {
			return step.Action.OutputVar
		}
	case domain.StepTypeSubWorkflow:
		if step.SubWorkflow != nil {
			return step.SubWorkflow.OutputVar
		}
	}
	return ""
}
