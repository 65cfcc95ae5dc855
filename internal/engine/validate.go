package engine

import (
	"errors"
	"fmt"

	"github.com/shaiso/conveyor/internal/domain"
)

// Допустимые типы шагов.
var validStepTypes = map[domain.StepType]bool{
	domain.StepTypeAction:        true,
	domain.StepTypeConditional:   true,
	domain.StepTypeSwitch:        true,
	domain.StepTypeLoop:          true,
	domain.StepTypeTransform:     true,
	domain.StepTypeDelay:         true,
	domain.StepTypeParallelGroup: true,
	domain.StepTypeScatterGather: true,
	domain.StepTypeHumanApproval: true,
	domain.StepTypeSubWorkflow:   true,
	domain.StepTypeDecision:      true,
}

// Validate выполняет полную валидацию определения workflow.
//
// Проверяет:
//   - наличие шагов;
//   - уникальность ID (включая вложенные шаги);
//   - корректность типов и наличие блока конфигурации по типу;
//   - обязательные поля конфигурации каждого типа;
//   - валидность depends_on и целей ветвления;
//   - отсутствие циклов (делегируется графу);
//   - отсутствие human_approval во вложенных шагах.
//
// Ошибки не прерывают проверку, а собираются в список: автор
// workflow получает все проблемы за один проход.
func Validate(def *domain.WorkflowDefinition) error {
	v := &validator{ids: make(map[string]bool)}

	if def == nil || len(def.Steps) == 0 {
		v.add("", "steps", "workflow has no steps", ErrEmptySteps)
		return v.result()
	}

	// Первый проход: ID и конфигурация каждого шага
	for i := range def.Steps {
		v.validateStep(&def.Steps[i], false)
	}

	// Второй проход: зависимости и цели ветвления указывают на
	// существующие шаги верхнего уровня
	topLevel := make(map[string]bool, len(def.Steps))
	for i := range def.Steps {
		topLevel[def.Steps[i].ID] = true
	}
	for i := range def.Steps {
		step := &def.Steps[i]
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				v.add(step.ID, "depends_on", "step depends on itself", ErrSelfDependency)
				continue
			}
			if !topLevel[dep] {
				v.add(step.ID, "depends_on",
					fmt.Sprintf("depends on unknown step: %s", dep), ErrMissingDependency)
			}
		}
		if step.IsRouting() {
			for _, target := range step.BranchTargets() {
				if !topLevel[target] {
					v.add(step.ID, "branches",
						fmt.Sprintf("branch target is not a top-level step: %s", target), ErrUnknownBranchTarget)
				}
			}
		}
	}

	// Третий проход: циклы
	if len(v.errs) == 0 {
		if _, err := BuildGraph(def.Steps); err != nil {
			if errors.Is(err, ErrCyclicDependency) {
				v.add("", "depends_on", "dependency cycle detected", ErrCyclicDependency)
			} else {
				var cfgErr *ConfigurationError
				if errors.As(err, &cfgErr) {
					v.errs = append(v.errs, cfgErr)
				} else {
					v.add("", "steps", err.Error(), err)
				}
			}
		}
	}

	return v.result()
}

// ValidateInputs проверяет входные параметры запуска против
// объявленных в определении. Отсутствие обязательного параметра
// без значения по умолчанию — ошибка конфигурации.
func ValidateInputs(def *domain.WorkflowDefinition, inputs map[string]any) error {
	v := &validator{ids: make(map[string]bool)}
	for name, decl := range def.Inputs {
		if !decl.Required {
			continue
		}
		if _, ok := inputs[name]; ok {
			continue
		}
		if decl.Default != nil {
			continue
		}
		v.add("", "inputs", fmt.Sprintf("required input %q is missing", name), ErrMissingConfig)
	}
	return v.result()
}

// validator накапливает ошибки валидации.
type validator struct {
	errs ValidationErrors
	ids  map[string]bool
}

func (v *validator) add(stepID, field, message string, sentinel error) {
	v.errs = append(v.errs, NewConfigurationError(stepID, field, message, sentinel))
}

func (v *validator) result() error {
	if len(v.errs) == 0 {
		return nil
	}
	return v.errs
}

// validateStep валидирует один шаг.
// nested=true для шагов внутри loop, scatter, parallel_group и
// sub_workflow: там запрещён human_approval (пауза выполнения
// работает только на верхнем уровне).
func (v *validator) validateStep(step *domain.Step, nested bool) {
	// Проверка ID
	if step.ID == "" {
		v.add("", "id", "step has empty id", ErrEmptyStepID)
		return
	}

	// Проверка уникальности ID
	if v.ids[step.ID] {
		v.add(step.ID, "id", fmt.Sprintf("duplicate step id: %s", step.ID), ErrDuplicateStepID)
		return
	}
	v.ids[step.ID] = true

	// Проверка типа
	if step.Type == "" {
		v.add(step.ID, "type", "step has empty type", ErrUnknownStepType)
		return
	}
	if !validStepTypes[step.Type] {
		v.add(step.ID, "type", fmt.Sprintf("unknown step type: %s", step.Type), ErrUnknownStepType)
		return
	}

	if nested && step.Type == domain.StepTypeHumanApproval {
		v.add(step.ID, "type", "human_approval is not allowed inside nested steps", ErrNestedApproval)
		return
	}

	// Блок конфигурации обязан соответствовать типу
	if step.Config() == nil {
		v.add(step.ID, "config",
			fmt.Sprintf("step type %s requires its config block", step.Type), ErrMissingConfig)
		return
	}

	v.validateConfig(step)
}

// validateConfig проверяет обязательные поля конфигурации по типу.
func (v *validator) validateConfig(step *domain.Step) {
	switch step.Type {
	case domain.StepTypeAction:
		cfg := step.Action
		if cfg.Plugin == "" {
			v.add(step.ID, "action.plugin", "plugin is required", ErrMissingConfig)
		}
		if cfg.Operation == "" {
			v.add(step.ID, "action.operation", "operation is required", ErrMissingConfig)
		}

	case domain.StepTypeConditional:
		if step.Conditional.Condition == "" {
			v.add(step.ID, "conditional.condition", "condition is required", ErrMissingConfig)
		}

	case domain.StepTypeSwitch:
		cfg := step.Switch
		if cfg.Expression == "" {
			v.add(step.ID, "switch.expression", "expression is required", ErrMissingConfig)
		}
		if len(cfg.Cases) == 0 && len(cfg.Default) == 0 {
			v.add(step.ID, "switch.cases", "switch routes nothing: no cases and no default", ErrMissingConfig)
		}

	case domain.StepTypeLoop:
		cfg := step.Loop
		if cfg.Items == "" {
			v.add(step.ID, "loop.items", "items reference is required", ErrMissingConfig)
		}
		v.validateNestedSteps(step.ID, "loop.steps", cfg.Steps)

	case domain.StepTypeTransform:
		v.validateTransform(step)

	case domain.StepTypeDelay:
		if step.Delay.DurationMs == nil {
			v.add(step.ID, "delay.duration_ms", "duration is required", ErrMissingConfig)
		}

	case domain.StepTypeParallelGroup:
		v.validateNestedSteps(step.ID, "parallel_group.steps", step.ParallelGroup.Steps)

	case domain.StepTypeScatterGather:
		v.validateScatterGather(step)

	case domain.StepTypeHumanApproval:
		v.validateApproval(step)

	case domain.StepTypeSubWorkflow:
		cfg := step.SubWorkflow
		if cfg.Definition == nil && cfg.WorkflowID == "" {
			v.add(step.ID, "sub_workflow", "embedded definition or workflow_id is required", ErrMissingConfig)
		}
		if cfg.Definition != nil {
			for i := range cfg.Definition.Steps {
				v.validateStep(&cfg.Definition.Steps[i], true)
			}
		}

	case domain.StepTypeDecision:
		if step.Decision.Prompt == "" {
			v.add(step.ID, "decision.prompt", "prompt is required", ErrMissingConfig)
		}
	}
}

// validateTransform проверяет операцию transform и её обязательные поля.
func (v *validator) validateTransform(step *domain.Step) {
	cfg := step.Transform
	if cfg.Input == "" {
		v.add(step.ID, "transform.input", "input reference is required", ErrMissingConfig)
	}
	switch cfg.Operation {
	case domain.TransformMap, domain.TransformFilter, domain.TransformReduce:
		if cfg.Expression == "" {
			v.add(step.ID, "transform.expression",
				fmt.Sprintf("operation %s requires an expression", cfg.Operation), ErrMissingConfig)
		}
	case domain.TransformSort, domain.TransformGroup:
		if cfg.Field == "" {
			v.add(step.ID, "transform.field",
				fmt.Sprintf("operation %s requires a field", cfg.Operation), ErrMissingConfig)
		}
	case domain.TransformDedupe:
		// поле опционально: без него сравниваются элементы целиком
	case "":
		v.add(step.ID, "transform.operation", "operation is required", ErrMissingConfig)
	default:
		v.add(step.ID, "transform.operation",
			fmt.Sprintf("unknown transform operation: %s", cfg.Operation), ErrMissingConfig)
	}
}

// validateScatterGather проверяет блоки scatter и gather.
func (v *validator) validateScatterGather(step *domain.Step) {
	cfg := step.ScatterGather
	if cfg.Scatter.Input == "" {
		v.add(step.ID, "scatter.input", "input reference is required", ErrMissingConfig)
	}
	v.validateNestedSteps(step.ID, "scatter.steps", cfg.Scatter.Steps)
	if cfg.Scatter.MaxConcurrency < 0 {
		v.add(step.ID, "scatter.max_concurrency", "max_concurrency must not be negative", ErrMissingConfig)
	}
	switch cfg.Gather.Op() {
	case domain.GatherCollect, domain.GatherMerge, domain.GatherReduce:
	default:
		v.add(step.ID, "gather.operation",
			fmt.Sprintf("unknown gather operation: %s", cfg.Gather.Operation), ErrMissingConfig)
	}
}

// validateApproval проверяет конфигурацию human_approval.
func (v *validator) validateApproval(step *domain.Step) {
	cfg := step.HumanApproval
	if len(cfg.Approvers) == 0 {
		v.add(step.ID, "approval.approvers", "at least one approver is required", ErrMissingConfig)
	}
	switch cfg.Policy() {
	case domain.ApprovalAny, domain.ApprovalAll, domain.ApprovalMajority:
	default:
		v.add(step.ID, "approval.approval_type",
			fmt.Sprintf("unknown approval type: %s", cfg.ApprovalType), ErrMissingConfig)
	}
	switch cfg.Action() {
	case domain.TimeoutApprove, domain.TimeoutReject:
	case domain.TimeoutEscalate:
		if len(cfg.EscalateTo) == 0 {
			v.add(step.ID, "approval.escalate_to",
				"escalate timeout action requires escalate_to approvers", ErrMissingConfig)
		}
	default:
		v.add(step.ID, "approval.on_timeout",
			fmt.Sprintf("unknown timeout action: %s", cfg.OnTimeout), ErrMissingConfig)
	}
}

// validateNestedSteps валидирует список вложенных шагов.
func (v *validator) validateNestedSteps(stepID, field string, steps []domain.Step) {
	if len(steps) == 0 {
		v.add(stepID, field, "at least one nested step is required", ErrEmptySteps)
		return
	}
	for i := range steps {
		v.validateStep(&steps[i], true)
	}
}

// IsValidStepType проверяет, является ли тип шага допустимым.
func IsValidStepType(t domain.StepType) bool {
	return validStepTypes[t]
}
