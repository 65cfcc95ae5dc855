package engine

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/shaiso/conveyor/internal/domain"
)

// StepOutput — записанный результат шага.
//
// Ссылки вниз по workflow указывают на поля записи:
// "{{stepN.data.items}}", "{{stepN.success}}". Ошибка, пойманная при
// continue_on_error, записывается как Success=false с текстом Error:
// зависимые шаги при этом планируются.
type StepOutput struct {
	// Data — данные результата.
	Data any `json:"data,omitempty"`

	// Success — завершился ли шаг успешно.
	Success bool `json:"success"`

	// Error — текст ошибки (для Success=false).
	Error string `json:"error,omitempty"`

	// ExecutionTimeMs — длительность выполнения шага в миллисекундах.
	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

// AsMap возвращает запись в виде map для разрешения путей.
func (o *StepOutput) AsMap() map[string]any {
	return map[string]any{
		"data":              o.Data,
		"success":           o.Success,
		"error":             o.Error,
		"execution_time_ms": o.ExecutionTimeMs,
	}
}

// Scope — слоистая область именованных переменных.
//
// Каждый слой — map поверх родительского слоя, разделяемого по ссылке.
// Чтение идёт от верхнего слоя вниз по цепочке; запись всегда в верхний
// слой. Clone создаёт новый пустой слой над текущим, поэтому записи
// клона (scatter/loop привязки) никогда не протекают в родителя.
type Scope struct {
	parent *Scope
	vars   map[string]any
}

// NewScope создаёт корневую область.
func NewScope() *Scope {
	return &Scope{vars: make(map[string]any)}
}

// Get возвращает значение переменной, поднимаясь по цепочке слоёв.
func (s *Scope) Get(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set записывает значение в верхний слой.
func (s *Scope) Set(name string, value any) {
	s.vars[name] = value
}

// Has возвращает true, если переменная видна из этой области.
func (s *Scope) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Clone создаёт новый пустой слой над текущим.
// Родительские значения разделяются по ссылке, не копируются.
func (s *Scope) Clone() *Scope {
	return &Scope{parent: s, vars: make(map[string]any)}
}

// Flatten собирает видимые переменные в один map (верхние слои
// перекрывают нижние). Используется для снимков состояния.
func (s *Scope) Flatten() map[string]any {
	var chain []*Scope
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	out := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].vars {
			out[k] = v
		}
	}
	return out
}

// ExecutionContext — изменяемое состояние одного выполнения workflow.
//
// Контекст хранит входы, записанные результаты шагов и переменные;
// безопасен для одновременного доступа (независимые шаги волны и
// элементы scatter работают параллельно).
//
// Clone создаёт контекст элемента scatter/loop: входы разделяются,
// результаты шагов копируются на уровне map (записи клона не видны
// родителю), переменные получают новый слой Scope.
type ExecutionContext struct {
	mu sync.RWMutex

	// ExecutionID — идентификатор выполнения.
	ExecutionID string

	// WorkflowID — идентификатор workflow.
	WorkflowID string

	inputs  map[string]any
	outputs map[string]*StepOutput
	scope   *Scope
	status  domain.ExecutionStatus

	// допустимые корни-шаги для резолвера
	stepIDs map[string]bool

	// defaults — умолчания retry/timeout из определения
	defaults *domain.StepDefaults

	// depth — глубина вложенности sub_workflow (0 для корня)
	depth int

	// активная привязка scatter/loop
	item    any
	index   int
	hasItem bool
}

// NewContext создаёт контекст выполнения.
// stepIDs заполняется шагами верхнего уровня определения.
func NewContext(executionID string, def *domain.WorkflowDefinition, inputs map[string]any) *ExecutionContext {
	ctx := &ExecutionContext{
		ExecutionID: executionID,
		inputs:      inputs,
		outputs:     make(map[string]*StepOutput),
		scope:       NewScope(),
		status:      domain.ExecutionRunning,
		stepIDs:     make(map[string]bool),
	}
	if inputs == nil {
		ctx.inputs = make(map[string]any)
	}
	if def != nil {
		ctx.WorkflowID = def.ID
		ctx.defaults = def.Defaults
		for i := range def.Steps {
			ctx.stepIDs[def.Steps[i].ID] = true
		}
	}
	return ctx
}

// RestoreContext восстанавливает контекст из снимка состояния.
func RestoreContext(executionID string, def *domain.WorkflowDefinition, cp *domain.Checkpoint) *ExecutionContext {
	ctx := NewContext(executionID, def, cp.Inputs)
	ctx.status = cp.Status
	for id, raw := range cp.StepOutputs {
		ctx.outputs[id] = outputFromSnapshot(raw)
	}
	for name, v := range cp.Variables {
		ctx.scope.Set(name, v)
	}
	return ctx
}

// outputFromSnapshot восстанавливает StepOutput из значения снимка.
func outputFromSnapshot(raw any) *StepOutput {
	out := &StepOutput{}
	m, ok := raw.(map[string]any)
	if !ok {
		out.Data = raw
		out.Success = true
		return out
	}
	out.Data = m["data"]
	if s, ok := m["success"].(bool); ok {
		out.Success = s
	}
	if e, ok := m["error"].(string); ok {
		out.Error = e
	}
	if t, ok := toFloat(m["execution_time_ms"]); ok {
		out.ExecutionTimeMs = int64(t)
	}
	return out
}

// Defaults возвращает умолчания retry/timeout определения (или nil).
func (c *ExecutionContext) Defaults() *domain.StepDefaults {
	return c.defaults
}

// Depth возвращает глубину вложенности sub_workflow.
func (c *ExecutionContext) Depth() int {
	return c.depth
}

// SetDepth устанавливает глубину вложенности (дочерний контекст
// sub_workflow получает глубину родителя плюс один).
func (c *ExecutionContext) SetDepth(d int) {
	c.depth = d
}

// Status возвращает текущий статус выполнения.
func (c *ExecutionContext) Status() domain.ExecutionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SetStatus устанавливает статус выполнения.
func (c *ExecutionContext) SetStatus(s domain.ExecutionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

// Inputs возвращает копию входных параметров.
func (c *ExecutionContext) Inputs() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.inputs))
	for k, v := range c.inputs {
		out[k] = v
	}
	return out
}

// SetStepOutput записывает результат шага и регистрирует его ID
// как допустимый корень ссылок.
func (c *ExecutionContext) SetStepOutput(id string, out *StepOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[id] = out
	c.stepIDs[id] = true
}

// StepOutput возвращает записанный результат шага.
func (c *ExecutionContext) StepOutput(id string) (*StepOutput, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.outputs[id]
	return out, ok
}

// Outputs возвращает копию map результатов шагов.
func (c *ExecutionContext) Outputs() map[string]*StepOutput {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*StepOutput, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v
	}
	return out
}

// OutputSnapshot возвращает результаты шагов в виде map для снимка.
func (c *ExecutionContext) OutputSnapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v.AsMap()
	}
	return out
}

// SetVar записывает именованную переменную.
func (c *ExecutionContext) SetVar(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scope.Set(name, value)
}

// Var возвращает именованную переменную.
func (c *ExecutionContext) Var(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scope.Get(name)
}

// Variables возвращает снимок видимых переменных.
func (c *ExecutionContext) Variables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scope.Flatten()
}

// RegisterStep регистрирует дополнительный допустимый корень-шаг
// (вложенные шаги scatter/loop в контексте элемента).
func (c *ExecutionContext) RegisterStep(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepIDs[id] = true
}

// isStep возвращает true, если id — известный шаг.
func (c *ExecutionContext) isStep(id string) bool {
	return c.stepIDs[id]
}

// Clone создаёт независимый контекст элемента scatter/loop.
//
// Входы разделяются по ссылке (только чтение), map результатов шагов
// копируется (записи клона не протекают в родителя), переменные
// получают новый слой поверх родительской цепочки.
func (c *ExecutionContext) Clone() *ExecutionContext {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &ExecutionContext{
		ExecutionID: c.ExecutionID,
		WorkflowID:  c.WorkflowID,
		inputs:      c.inputs,
		outputs:     make(map[string]*StepOutput, len(c.outputs)),
		scope:       c.scope.Clone(),
		status:      c.status,
		stepIDs:     make(map[string]bool, len(c.stepIDs)),
		defaults:    c.defaults,
		depth:       c.depth,
		item:        c.item,
		index:       c.index,
		hasItem:     c.hasItem,
	}
	for k, v := range c.outputs {
		clone.outputs[k] = v
	}
	for k := range c.stepIDs {
		clone.stepIDs[k] = true
	}
	return clone
}

// BindItem привязывает элемент scatter/loop к контексту.
// itemVariable дополнительно делает элемент доступным по имени
// (ссылка "{{email}}" для item_variable="email").
func (c *ExecutionContext) BindItem(itemVariable string, item any, index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.item = item
	c.index = index
	c.hasItem = true
	if itemVariable != "" {
		c.scope.Set(itemVariable, item)
	}
}

// Item возвращает активную привязку scatter/loop.
func (c *ExecutionContext) Item() (item any, index int, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.item, c.index, c.hasItem
}

// Normalize приводит значение к формам JSON (map[string]any, []any,
// float64, string, bool, nil) через сериализацию. Используется перед
// записью структурных результатов, чтобы пути разрешались единообразно.
func Normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// Stringify приводит значение к строке для точного сравнения
// (ключи switch). Числа без дробной части — без точки.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// toFloat приводит числовые типы к float64.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
