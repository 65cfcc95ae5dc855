package domain

import "time"

// WorkflowDefinition — определение рабочего процесса.
//
// Definition — это "программа" для Conveyor: декларативное описание
// шагов, их зависимостей и правил сборки итогового результата.
// Определение неизменяемо во время выполнения: вся изменяемая часть
// живёт в ExecutionContext. Каждое выполнение (Execution) ссылается
// на конкретное определение.
type WorkflowDefinition struct {
	// ID — уникальный идентификатор workflow (задаётся автором,
	// например "order-fulfillment").
	ID string `json:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty"`

	// Version — номер версии определения.
	Version int `json:"version,omitempty"`

	// Description — описание назначения workflow.
	Description string `json:"description,omitempty"`

	// Inputs — входные параметры. Ключ — имя параметра.
	Inputs map[string]InputDef `json:"inputs,omitempty"`

	// Defaults — настройки по умолчанию для всех шагов.
	Defaults *StepDefaults `json:"defaults,omitempty"`

	// Steps — шаги workflow. Порядок объявления не задаёт порядок
	// выполнения: порядок определяется depends_on.
	Steps []Step `json:"steps"`

	// Outputs — итоговые значения workflow.
	// Ключ — имя, значение — ссылка вида "{{path}}".
	Outputs map[string]string `json:"outputs,omitempty"`

	// OnFailure — шаг-обработчик, выполняемый при падении выполнения
	// (best-effort, его собственная ошибка игнорируется).
	OnFailure *Step `json:"on_failure,omitempty"`

	// CreatedAt — время регистрации определения.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Step возвращает шаг по ID или nil, если такого шага нет.
func (w *WorkflowDefinition) Step(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// StepIndex строит map id → шаг для быстрого доступа.
func (w *WorkflowDefinition) StepIndex() map[string]*Step {
	idx := make(map[string]*Step, len(w.Steps))
	for i := range w.Steps {
		idx[w.Steps[i].ID] = &w.Steps[i]
	}
	return idx
}

// InputDef — определение входного параметра.
type InputDef struct {
	// Type — тип параметра: "string", "number", "boolean", "object", "array".
	Type string `json:"type"`

	// Required — обязательный ли параметр.
	Required bool `json:"required,omitempty"`

	// Default — значение по умолчанию (для необязательных).
	Default any `json:"default,omitempty"`

	// Description — описание параметра.
	Description string `json:"description,omitempty"`
}

// StepDefaults — настройки по умолчанию для шагов.
type StepDefaults struct {
	// Retry — политика повторных попыток.
	Retry *RetryPolicy `json:"retry,omitempty"`

	// TimeoutSec — таймаут выполнения в секундах.
	TimeoutSec int `json:"timeout_sec,omitempty"`
}

// StepType — тип шага (дискриминатор размеченного объединения).
type StepType string

const (
	// StepTypeAction — вызов операции плагина (внешний коннектор).
	StepTypeAction StepType = "action"

	// StepTypeConditional — булево ветвление true/false.
	StepTypeConditional StepType = "conditional"

	// StepTypeSwitch — маршрутизация по точному совпадению значения.
	StepTypeSwitch StepType = "switch"

	// StepTypeLoop — последовательный проход по элементам массива.
	StepTypeLoop StepType = "loop"

	// StepTypeTransform — чистая операция над массивом
	// (map/filter/sort/group/reduce/dedupe).
	StepTypeTransform StepType = "transform"

	// StepTypeDelay — пауза этого шага на заданное время.
	StepTypeDelay StepType = "delay"

	// StepTypeParallelGroup — одновременное выполнение вложенных шагов.
	StepTypeParallelGroup StepType = "parallel_group"

	// StepTypeScatterGather — fan-out по элементам массива с
	// ограниченным параллелизмом и fan-in агрегацией.
	StepTypeScatterGather StepType = "scatter_gather"

	// StepTypeHumanApproval — ожидание решения людей-согласующих.
	StepTypeHumanApproval StepType = "human_approval"

	// StepTypeSubWorkflow — запуск вложенного workflow.
	StepTypeSubWorkflow StepType = "sub_workflow"

	// StepTypeDecision — выбор варианта через AI-провайдер
	// с маршрутизацией как у switch.
	StepTypeDecision StepType = "decision"
)

// Step — шаг workflow: общий конверт плюс ровно одна заполненная
// конфигурация, соответствующая Type.
//
// Размеченное объединение: дискриминатор Type указывает, какое из
// config-полей заполнено. Исполнитель делает исчерпывающий switch по
// Type; несоответствие Type и конфигурации отлавливается валидацией.
type Step struct {
	// ID — уникальный идентификатор шага в рамках workflow.
	// Используется в depends_on и как корень ссылок "{{stepID.data...}}".
	ID string `json:"id"`

	// Name — человекочитаемое имя шага.
	Name string `json:"name,omitempty"`

	// Type — тип шага.
	Type StepType `json:"type"`

	// DependsOn — список ID шагов, которые должны завершиться раньше.
	// Шаг планируется только когда у каждой зависимости записан
	// результат (успех или пойманная ошибка при continue_on_error).
	DependsOn []string `json:"depends_on,omitempty"`

	// Condition — условие выполнения (выражение над контекстом).
	// false → шаг пропускается (skipped).
	Condition string `json:"condition,omitempty"`

	// ContinueOnError — записать ошибку и позволить зависимым шагам
	// продолжить вместо завершения выполнения с failed.
	ContinueOnError bool `json:"continue_on_error,omitempty"`

	// Retry — политика повторных попыток. Переопределяет defaults.retry.
	Retry *RetryPolicy `json:"retry,omitempty"`

	// TimeoutSec — таймаут шага в секундах. Переопределяет
	// defaults.timeout_sec. 0 — без таймаута. Срабатывание таймаута —
	// обычная ошибка шага (retry/continue_on_error применяются).
	TimeoutSec int `json:"timeout_sec,omitempty"`

	// --- Конфигурации вариантов (заполнена ровно одна) ---

	Action        *ActionConfig        `json:"action,omitempty"`
	Conditional   *ConditionalConfig   `json:"conditional,omitempty"`
	Switch        *SwitchConfig        `json:"switch,omitempty"`
	Loop          *LoopConfig          `json:"loop,omitempty"`
	Transform     *TransformConfig     `json:"transform,omitempty"`
	Delay         *DelayConfig         `json:"delay,omitempty"`
	ParallelGroup *ParallelGroupConfig `json:"parallel_group,omitempty"`
	ScatterGather *ScatterGatherConfig `json:"scatter_gather,omitempty"`
	HumanApproval *ApprovalConfig      `json:"human_approval,omitempty"`
	SubWorkflow   *SubWorkflowConfig   `json:"sub_workflow,omitempty"`
	Decision      *DecisionConfig      `json:"decision,omitempty"`
}

// Config возвращает заполненную конфигурацию варианта, соответствующую
// Type, или nil при несоответствии.
func (s *Step) Config() any {
	switch s.Type {
	case StepTypeAction:
		if s.Action != nil {
			return s.Action
		}
	case StepTypeConditional:
		if s.Conditional != nil {
			return s.Conditional
		}
	case StepTypeSwitch:
		if s.Switch != nil {
			return s.Switch
		}
	case StepTypeLoop:
		if s.Loop != nil {
			return s.Loop
		}
	case StepTypeTransform:
		if s.Transform != nil {
			return s.Transform
		}
	case StepTypeDelay:
		if s.Delay != nil {
			return s.Delay
		}
	case StepTypeParallelGroup:
		if s.ParallelGroup != nil {
			return s.ParallelGroup
		}
	case StepTypeScatterGather:
		if s.ScatterGather != nil {
			return s.ScatterGather
		}
	case StepTypeHumanApproval:
		if s.HumanApproval != nil {
			return s.HumanApproval
		}
	case StepTypeSubWorkflow:
		if s.SubWorkflow != nil {
			return s.SubWorkflow
		}
	case StepTypeDecision:
		if s.Decision != nil {
			return s.Decision
		}
	}
	return nil
}

// IsRouting возвращает true для шагов, управляющих выбором веток.
// Такие шаги всегда выполняются строго последовательно.
func (s *Step) IsRouting() bool {
	switch s.Type {
	case StepTypeConditional, StepTypeSwitch, StepTypeDecision:
		return true
	default:
		return false
	}
}

// BranchTargets возвращает ID шагов, которыми шаг управляет как
// ветками (все возможные маршруты conditional/switch/decision).
func (s *Step) BranchTargets() []string {
	var targets []string
	switch s.Type {
	case StepTypeConditional:
		if s.Conditional != nil {
			targets = append(targets, s.Conditional.TrueBranch...)
			targets = append(targets, s.Conditional.FalseBranch...)
		}
	case StepTypeSwitch:
		if s.Switch != nil {
			for _, ids := range s.Switch.Cases {
				targets = append(targets, ids...)
			}
			targets = append(targets, s.Switch.Default...)
		}
	case StepTypeDecision:
		if s.Decision != nil {
			for _, ids := range s.Decision.Routes {
				targets = append(targets, ids...)
			}
			targets = append(targets, s.Decision.Default...)
		}
	}
	return targets
}

// Timeout возвращает таймаут шага как Duration (0 — без таймаута).
func (s *Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// ActionConfig — конфигурация шага action.
type ActionConfig struct {
	// Plugin — имя плагина (коннектора), например "http", "email".
	Plugin string `json:"plugin"`

	// Operation — имя операции внутри плагина, например "get", "send".
	Operation string `json:"operation"`

	// Params — параметры операции. Строковые значения могут содержать
	// ссылки "{{path}}", разрешаемые перед вызовом.
	Params map[string]any `json:"params,omitempty"`

	// OutputVar — имя переменной, в которую дополнительно записываются
	// данные результата (помимо выхода шага).
	OutputVar string `json:"output_var,omitempty"`
}

// ConditionalConfig — конфигурация шага conditional.
type ConditionalConfig struct {
	// Condition — булево выражение над контекстом.
	Condition string `json:"condition"`

	// TrueBranch — ID шагов, запускаемых при истинном условии.
	TrueBranch []string `json:"true_branch,omitempty"`

	// FalseBranch — ID шагов, запускаемых при ложном условии.
	FalseBranch []string `json:"false_branch,omitempty"`
}

// SwitchConfig — конфигурация шага switch.
type SwitchConfig struct {
	// Expression — выражение, значение которого приводится к строке
	// и сравнивается с ключами Cases на точное совпадение.
	Expression string `json:"expression"`

	// Cases — map значение → ID шагов ветки.
	Cases map[string][]string `json:"cases"`

	// Default — ветка, когда ни один case не совпал.
	// Пустой default без совпадений — пустая маршрутизация.
	Default []string `json:"default,omitempty"`
}

// LoopConfig — конфигурация шага loop.
type LoopConfig struct {
	// Items — ссылка "{{path}}" на массив элементов.
	Items string `json:"items"`

	// ItemVariable — имя переменной элемента внутри Steps.
	// Пусто → "item".
	ItemVariable string `json:"item_variable,omitempty"`

	// Steps — шаги, выполняемые последовательно для каждого элемента.
	Steps []Step `json:"steps"`
}

// TransformOp — операция шага transform.
type TransformOp string

const (
	// TransformMap — применить выражение к каждому элементу.
	TransformMap TransformOp = "map"

	// TransformFilter — оставить элементы с истинным выражением.
	TransformFilter TransformOp = "filter"

	// TransformSort — отсортировать по полю или выражению.
	TransformSort TransformOp = "sort"

	// TransformGroup — сгруппировать по значению ключа.
	TransformGroup TransformOp = "group"

	// TransformReduce — свернуть выражением с аккумулятором.
	TransformReduce TransformOp = "reduce"

	// TransformDedupe — удалить дубликаты (целиком или по полю).
	TransformDedupe TransformOp = "dedupe"
)

// TransformConfig — конфигурация шага transform.
//
// Каждая операция имеет документированную форму результата; ссылки
// вниз по workflow должны указывать на конкретное поле
// ("{{stepN.data.items}}"), а не на выход целиком:
//
//	map    → {items, count}
//	filter → {items, count, removed}
//	sort   → {items, count}
//	group  → {groups, count}
//	reduce → {result}
//	dedupe → {items, count, removed}
type TransformConfig struct {
	// Operation — одна из операций TransformOp.
	Operation TransformOp `json:"operation"`

	// Input — ссылка "{{path}}" на входной массив.
	Input string `json:"input"`

	// Expression — выражение операции: map (item → значение),
	// filter (item → bool), sort (item → ключ, если Field пуст),
	// reduce (acc, item → значение).
	Expression string `json:"expression,omitempty"`

	// Field — имя поля элемента для sort/group/dedupe.
	Field string `json:"field,omitempty"`

	// Order — порядок сортировки: "asc" (по умолчанию) или "desc".
	Order string `json:"order,omitempty"`

	// Initial — начальное значение аккумулятора для reduce.
	Initial any `json:"initial,omitempty"`
}

// DelayConfig — конфигурация шага delay.
type DelayConfig struct {
	// DurationMs — длительность паузы в миллисекундах: число или
	// строка со ссылкой "{{path}}", разрешаемая в число.
	DurationMs any `json:"duration_ms"`
}

// ParallelGroupConfig — конфигурация шага parallel_group.
type ParallelGroupConfig struct {
	// Steps — вложенные шаги, выполняемые одновременно.
	Steps []Step `json:"steps"`

	// MaxConcurrency — предел одновременных шагов. 0 → глобальный
	// потолок из конфигурации движка.
	MaxConcurrency int `json:"max_concurrency,omitempty"`
}

// GatherOp — операция fan-in агрегации scatter_gather.
type GatherOp string

const (
	// GatherCollect — массив результатов в порядке входных элементов.
	GatherCollect GatherOp = "collect"

	// GatherMerge — поверхностное слияние результатов-объектов.
	GatherMerge GatherOp = "merge"

	// GatherReduce — свёртка выражением или по типу результатов.
	GatherReduce GatherOp = "reduce"
)

// ScatterConfig — fan-out часть scatter_gather.
type ScatterConfig struct {
	// Input — ссылка "{{path}}" на массив элементов.
	Input string `json:"input"`

	// Steps — шаги, выполняемые для каждого элемента по порядку.
	// Результат элемента — данные последнего шага.
	Steps []Step `json:"steps"`

	// ItemVariable — имя переменной элемента. Пусто → "item".
	ItemVariable string `json:"item_variable,omitempty"`

	// MaxConcurrency — предел одновременных элементов. 0 → глобальный
	// потолок из конфигурации движка.
	MaxConcurrency int `json:"max_concurrency,omitempty"`
}

// GatherConfig — fan-in часть scatter_gather.
type GatherConfig struct {
	// Operation — способ сборки. Пусто → collect.
	Operation GatherOp `json:"operation,omitempty"`

	// ReduceExpression — выражение свёртки для operation=reduce
	// (доступны ссылки {{acc}} и {{item}}). Пусто → свёртка по типу:
	// числа суммируются, массивы конкатенируются, объекты сливаются.
	ReduceExpression string `json:"reduce_expression,omitempty"`
}

// Op возвращает действующую операцию сборки.
func (g *GatherConfig) Op() GatherOp {
	if g == nil || g.Operation == "" {
		return GatherCollect
	}
	return g.Operation
}

// ScatterGatherConfig — конфигурация шага scatter_gather.
type ScatterGatherConfig struct {
	// Scatter — fan-out: что и как раздавать.
	Scatter ScatterConfig `json:"scatter"`

	// Gather — fan-in: как собирать результаты.
	Gather GatherConfig `json:"gather,omitempty"`
}

// ApprovalPolicy — правило принятия решения по human_approval.
type ApprovalPolicy string

const (
	// ApprovalAny — решает первый ответивший (любым решением).
	ApprovalAny ApprovalPolicy = "any"

	// ApprovalAll — одобрение требует согласия всех; одно отклонение
	// отклоняет запрос.
	ApprovalAll ApprovalPolicy = "all"

	// ApprovalMajority — одобрение, когда одобрений больше половины;
	// отклонение, когда большинство стало недостижимо.
	ApprovalMajority ApprovalPolicy = "majority"
)

// TimeoutAction — действие при истечении срока approval.
type TimeoutAction string

const (
	// TimeoutApprove — считать одобренным.
	TimeoutApprove TimeoutAction = "approve"

	// TimeoutReject — считать отклонённым (статус timeout).
	TimeoutReject TimeoutAction = "reject"

	// TimeoutEscalate — передать запрос согласующим escalate_to
	// с новым сроком.
	TimeoutEscalate TimeoutAction = "escalate"
)

// ApprovalConfig — конфигурация шага human_approval.
type ApprovalConfig struct {
	// Approvers — идентификаторы согласующих.
	Approvers []string `json:"approvers"`

	// ApprovalType — правило принятия решения. Пусто → any.
	ApprovalType ApprovalPolicy `json:"approval_type,omitempty"`

	// Title — заголовок запроса.
	Title string `json:"title,omitempty"`

	// Message — текст запроса; может содержать ссылки "{{path}}".
	Message string `json:"message,omitempty"`

	// TimeoutSec — срок ожидания решения в секундах. 0 — без срока.
	TimeoutSec int `json:"timeout_sec,omitempty"`

	// OnTimeout — действие при истечении срока. Пусто → reject.
	OnTimeout TimeoutAction `json:"on_timeout,omitempty"`

	// EscalateTo — согласующие второго круга (для on_timeout=escalate).
	EscalateTo []string `json:"escalate_to,omitempty"`

	// Channels — каналы уведомлений (передаются диспетчеру уведомлений).
	Channels []string `json:"channels,omitempty"`

	// RequireComment — требовать комментарий в каждом ответе.
	RequireComment bool `json:"require_comment,omitempty"`
}

// Policy возвращает действующее правило консенсуса.
func (c *ApprovalConfig) Policy() ApprovalPolicy {
	if c.ApprovalType == "" {
		return ApprovalAny
	}
	return c.ApprovalType
}

// Action возвращает действующее действие по таймауту.
func (c *ApprovalConfig) Action() TimeoutAction {
	if c.OnTimeout == "" {
		return TimeoutReject
	}
	return c.OnTimeout
}

// SubWorkflowConfig — конфигурация шага sub_workflow.
type SubWorkflowConfig struct {
	// Definition — встроенное определение вложенного workflow.
	Definition *WorkflowDefinition `json:"definition,omitempty"`

	// WorkflowID — альтернатива Definition: ID зарегистрированного
	// workflow. Заполняется ровно одно из двух.
	WorkflowID string `json:"workflow_id,omitempty"`

	// Inputs — отображение входов вложенного workflow. Строковые
	// значения могут содержать ссылки "{{path}}", разрешаемые
	// в родительском контексте.
	Inputs map[string]any `json:"inputs,omitempty"`

	// OutputVar — имя переменной для результатов вложенного workflow.
	OutputVar string `json:"output_var,omitempty"`
}

// DecisionConfig — конфигурация шага decision.
type DecisionConfig struct {
	// Prompt — вопрос провайдеру; может содержать ссылки "{{path}}".
	Prompt string `json:"prompt"`

	// Options — допустимые варианты ответа.
	Options []string `json:"options"`

	// Routes — map вариант → ID шагов ветки (маршрутизация как у switch).
	Routes map[string][]string `json:"routes,omitempty"`

	// Default — ветка для ответа вне Routes.
	Default []string `json:"default,omitempty"`

	// OutputVar — имя переменной для выбранного варианта.
	OutputVar string `json:"output_var,omitempty"`
}

// RetryPolicy — политика повторных попыток шага.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Backoff — стратегия задержки: "fixed", "exponential".
	Backoff string `json:"backoff,omitempty"`

	// InitialDelayMs — начальная задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty"`

	// Multiplier — множитель экспоненциальной задержки. 0 → 2.
	Multiplier float64 `json:"multiplier,omitempty"`
}
