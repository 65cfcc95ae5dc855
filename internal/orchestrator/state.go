package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
	"github.com/shaiso/conveyor/internal/state"
)

// execState — состояние одного выполнения в памяти оркестратора.
//
// Создаётся при запуске (или восстановлении из снимка) и живёт до
// терминального статуса. Содержит:
//   - запись Execution и определение workflow;
//   - граф зависимостей и контекст выполнения;
//   - множества планирования (recorded/done/running/failed/skipped);
//   - решения маршрутизаторов (gated/routed).
//
// Все изменения идут под mu; контекст (ec) защищён собственным
// мьютексом и может читаться без mu.
type execState struct {
	exec  *domain.Execution
	def   *domain.WorkflowDefinition
	graph *engine.Graph
	ec    *engine.ExecutionContext

	mu sync.Mutex

	// cancel останавливает цикл планирования (внешний Fail, Stop).
	cancel  context.CancelFunc
	stopMsg string

	// transient — дочернее выполнение sub_workflow: без снимков,
	// метрик и зеркала в хранилище.
	transient bool

	// recorded — шаги с записанным результатом (успех или пойманная
	// ошибка при continue_on_error). Именно это множество открывает
	// зависимые шаги.
	recorded map[string]bool

	// done — шаги в терминальном статусе (recorded ∪ skipped).
	done map[string]bool

	// running — шаги в процессе выполнения.
	running map[string]bool

	// failed — упавшие шаги (включая пойманные ошибки).
	failed map[string]bool

	// skipped — пропущенные шаги (ветка не выбрана, условие ложно,
	// каскад от пропущенной зависимости).
	skipped map[string]bool

	// gated — шаг назван веткой хотя бы одного маршрутизатора.
	gated map[string]bool

	// routed — шаг выбран записанным маршрутизатором.
	routed map[string]bool
}

// newExecState создаёт состояние свежего выполнения.
func newExecState(exec *domain.Execution, def *domain.WorkflowDefinition, graph *engine.Graph, ec *engine.ExecutionContext) *execState {
	s := &execState{
		exec:     exec,
		def:      def,
		graph:    graph,
		ec:       ec,
		recorded: make(map[string]bool),
		done:     make(map[string]bool),
		running:  make(map[string]bool),
		failed:   make(map[string]bool),
		skipped:  make(map[string]bool),
		gated:    make(map[string]bool),
		routed:   make(map[string]bool),
	}
	s.indexBranchTargets()
	return s
}

// restoredExecState создаёт состояние из снимка: множества планирования
// берутся из снимка, решения маршрутизаторов — из восстановленных
// результатов шагов.
func restoredExecState(exec *domain.Execution, def *domain.WorkflowDefinition, graph *engine.Graph, ec *engine.ExecutionContext, cp *domain.Checkpoint) *execState {
	s := newExecState(exec, def, graph, ec)

	for _, id := range cp.Completed {
		s.recorded[id] = true
		s.done[id] = true
	}
	for _, id := range cp.Failed {
		s.recorded[id] = true
		s.done[id] = true
		s.failed[id] = true
	}
	for _, id := range cp.Skipped {
		s.done[id] = true
		s.skipped[id] = true
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		if !step.IsRouting() {
			continue
		}
		out, ok := ec.StepOutput(step.ID)
		if !ok || !out.Success {
			continue
		}
		if data, ok := out.Data.(map[string]any); ok {
			for _, id := range stringList(data["routed"]) {
				s.routed[id] = true
			}
		}
	}

	return s
}

// indexBranchTargets собирает множество целей ветвления: такие шаги
// планируются только когда их выбрал маршрутизатор.
func (s *execState) indexBranchTargets() {
	for i := range s.def.Steps {
		step := &s.def.Steps[i]
		if !step.IsRouting() {
			continue
		}
		for _, id := range step.BranchTargets() {
			s.gated[id] = true
		}
	}
}

// ready возвращает узлы, готовые к планированию.
func (s *execState) ready() []*engine.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.GetReadyNodes(s.recorded, s.done, s.running)
}

// complete проверяет, достигли ли все узлы терминального статуса.
func (s *execState) complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.IsComplete(s.done)
}

// gatedUnrouted проверяет, что шаг — цель ветвления, не выбранная ни
// одним маршрутизатором. Вызывается для готовых узлов: к этому моменту
// каждый управляющий маршрутизатор уже записал свой выбор (неявные
// рёбра графа).
func (s *execState) gatedUnrouted(stepID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gated[stepID] && !s.routed[stepID]
}

// beginStep помечает шаг выполняющимся.
func (s *execState) beginStep(stepID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running[stepID] = true
	s.stepResultLocked(stepID).MarkRunning()
}

// recordLocked записывает результат шага: контекст, множества
// планирования, запись Execution и решения маршрутизатора.
// Вызывается под mu.
func (s *execState) recordLocked(step *domain.Step, out *engine.StepOutput, attempts int) {
	delete(s.running, step.ID)
	s.recorded[step.ID] = true
	s.done[step.ID] = true

	s.ec.SetStepOutput(step.ID, out)

	res := s.stepResultLocked(step.ID)
	res.Attempts = attempts
	if out.Success {
		res.MarkCompleted(out.Data)
	} else {
		s.failed[step.ID] = true
		res.MarkFailed(out.Error)
	}

	if step.IsRouting() && out.Success {
		if data, ok := out.Data.(map[string]any); ok {
			for _, id := range stringList(data["routed"]) {
				s.routed[id] = true
			}
		}
	}
}

// skipCascadeLocked помечает узел пропущенным и каскадно пропускает
// зависимые: пропущенный шаг никогда не запишет результат, поэтому ни
// один его зависимый не станет готовым. Возвращает ID пропущенных.
// Вызывается под mu.
func (s *execState) skipCascadeLocked(node *engine.Node) []string {
	var ids []string
	var visit func(n *engine.Node)
	visit = func(n *engine.Node) {
		if s.done[n.ID] || s.running[n.ID] {
			return
		}
		s.done[n.ID] = true
		s.skipped[n.ID] = true
		s.stepResultLocked(n.ID).MarkSkipped()
		ids = append(ids, n.ID)
		for _, dep := range n.Dependents {
			visit(dep)
		}
	}
	visit(node)
	return ids
}

// stepResultLocked возвращает запись результата шага, создавая её при
// первом обращении. Вызывается под mu.
func (s *execState) stepResultLocked(stepID string) *domain.StepResult {
	res, ok := s.exec.Steps[stepID]
	if !ok {
		res = domain.NewStepResult(stepID)
		s.exec.Steps[stepID] = res
	}
	return res
}

// progressLocked собирает продвижение планирования для снимка.
// Вызывается под mu.
func (s *execState) progressLocked() state.Progress {
	prog := state.Progress{
		PendingApprovalID: s.exec.PendingApprovalID,
	}
	for id := range s.done {
		switch {
		case s.skipped[id]:
			prog.Skipped = append(prog.Skipped, id)
		case s.failed[id]:
			prog.Failed = append(prog.Failed, id)
		default:
			prog.Completed = append(prog.Completed, id)
		}
	}
	for _, node := range s.graph.GetReadyNodes(s.recorded, s.done, s.running) {
		prog.Position = append(prog.Position, node.ID)
	}
	return prog
}

// status возвращает текущий статус выполнения.
func (s *execState) status() domain.ExecutionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec.Status
}

// pendingApproval возвращает ID ожидаемого согласования (пусто, если
// выполнение не приостановлено).
func (s *execState) pendingApproval() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec.PendingApprovalID
}

// setCancel сохраняет функцию остановки цикла планирования.
func (s *execState) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// stop запоминает причину внешней остановки и прерывает цикл
// планирования. Повторные вызовы сохраняют первую причину.
func (s *execState) stop(reason string) {
	s.mu.Lock()
	if s.stopMsg == "" {
		s.stopMsg = reason
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// stopReason возвращает причину остановки (или fallback).
func (s *execState) stopReason(fallback string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopMsg != "" {
		return s.stopMsg
	}
	return fallback
}

// snapshot возвращает копию записи Execution для выдачи наружу.
func (s *execState) snapshot() *domain.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyExecution(s.exec)
}

// copyExecution делает копию записи выполнения: вызывающий не должен
// видеть последующие изменения оркестратора.
func copyExecution(exec *domain.Execution) *domain.Execution {
	cp := *exec
	cp.Steps = make(map[string]*domain.StepResult, len(exec.Steps))
	for id, res := range exec.Steps {
		r := *res
		cp.Steps[id] = &r
	}
	if exec.Inputs != nil {
		cp.Inputs = make(map[string]any, len(exec.Inputs))
		for k, v := range exec.Inputs {
			cp.Inputs[k] = v
		}
	}
	if exec.Outputs != nil {
		cp.Outputs = make(map[string]any, len(exec.Outputs))
		for k, v := range exec.Outputs {
			cp.Outputs[k] = v
		}
	}
	return &cp
}

// executionFromCheckpoint восстанавливает запись Execution из снимка
// (возобновление после рестарта процесса, когда записи в памяти нет).
// Времена шагов в снимке не хранятся; статусы и результаты
// восстанавливаются полностью.
func executionFromCheckpoint(cp *domain.Checkpoint, ec *engine.ExecutionContext) *domain.Execution {
	started := cp.CreatedAt
	exec := &domain.Execution{
		ID:                cp.ExecutionID,
		WorkflowID:        cp.WorkflowID,
		Status:            cp.Status,
		Inputs:            cp.Inputs,
		PendingApprovalID: cp.PendingApprovalID,
		Steps:             make(map[string]*domain.StepResult, len(cp.Completed)+len(cp.Failed)+len(cp.Skipped)),
		StartedAt:         &started,
		CreatedAt:         cp.CreatedAt,
	}

	for _, id := range cp.Completed {
		res := domain.NewStepResult(id)
		if out, ok := ec.StepOutput(id); ok {
			res.MarkCompleted(out.Data)
		} else {
			res.MarkCompleted(nil)
		}
		exec.Steps[id] = res
	}
	for _, id := range cp.Failed {
		res := domain.NewStepResult(id)
		msg := ""
		if out, ok := ec.StepOutput(id); ok {
			msg = out.Error
		}
		res.MarkFailed(msg)
		exec.Steps[id] = res
	}
	for _, id := range cp.Skipped {
		res := domain.NewStepResult(id)
		res.MarkSkipped()
		exec.Steps[id] = res
	}

	return exec
}

// stringList приводит значение к списку строк. Принимает и []string
// (свежая запись маршрутизатора), и []any (после восстановления из
// jsonb-снимка).
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// statusLabel возвращает метку статуса шага для метрик и логов.
func statusLabel(out *engine.StepOutput) string {
	if out.Success {
		return string(domain.StepCompleted)
	}
	return string(domain.StepFailed)
}

// approvalElapsed возвращает длительность согласования.
func approvalElapsed(createdAt time.Time, decidedAt *time.Time) time.Duration {
	if decidedAt == nil {
		return 0
	}
	return decidedAt.Sub(createdAt)
}
