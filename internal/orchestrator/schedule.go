package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// failureHandlerTimeout — предел выполнения обработчика on_failure.
const failureHandlerTimeout = time.Minute

// stepOutcome — итог выполнения одного шага.
type stepOutcome struct {
	out   *engine.StepOutput
	fatal bool
}

// stepFailure — провал шага до запуска (ошибка вычисления условия).
type stepFailure struct {
	stepID string
	errMsg string
}

// drive ведёт цикл планирования: волны готовых шагов до терминального
// статуса или паузы на human_approval.
func (o *Orchestrator) drive(ctx context.Context, st *execState) *domain.Execution {
	for {
		// 1. Внешняя остановка (Fail, Stop, отмена ctx)
		if ctx.Err() != nil {
			return o.failRun(ctx, st, "", st.stopReason("execution cancelled"))
		}

		// 2. Готовые узлы: каждая зависимость записала результат
		ready := st.ready()

		// 3. Отсев до запуска: цели невыбранных веток и ложные условия
		runnable, progressed, failure := o.filterReady(ctx, st, ready)
		if failure != nil {
			return o.failRun(ctx, st, failure.stepID, failure.errMsg)
		}

		// 4. Нечего планировать: всё завершено, либо граф застрял
		if len(runnable) == 0 {
			if progressed {
				continue
			}
			if st.complete() {
				return o.completeRun(ctx, st)
			}
			return o.failRun(ctx, st, "", "scheduling stalled")
		}

		// 5. Разбиение: параллельная волна против строго
		//    последовательных шагов (маршрутизаторы, согласования)
		wave, sequential := splitWave(runnable)

		if len(wave) > 0 {
			if id, errMsg := o.runWave(ctx, st, wave); id != "" {
				return o.failRun(ctx, st, id, errMsg)
			}
			continue
		}

		// 6. Последовательный шаг: пауза на согласовании или один
		//    маршрутизатор за итерацию
		node := sequential[0]
		if node.Step.Type == domain.StepTypeHumanApproval {
			paused, outcome := o.beginApproval(ctx, st, node)
			if paused != nil {
				return paused
			}
			if outcome.fatal {
				return o.failRun(ctx, st, node.ID, outcome.out.Error)
			}
			continue
		}

		if outcome := o.executeStep(ctx, st, node); outcome.fatal {
			return o.failRun(ctx, st, node.ID, outcome.out.Error)
		}
	}
}

// filterReady отсеивает готовые узлы до запуска: цели невыбранных
// веток и шаги с ложным условием пропускаются (с каскадом на
// зависимые), ошибка вычисления условия — обычный провал шага
// (continue_on_error действует).
func (o *Orchestrator) filterReady(ctx context.Context, st *execState, ready []*engine.Node) ([]*engine.Node, bool, *stepFailure) {
	runnable := make([]*engine.Node, 0, len(ready))
	progressed := false

	for _, node := range ready {
		if st.gatedUnrouted(node.ID) {
			o.skipStep(ctx, st, node, "branch not taken")
			progressed = true
			continue
		}

		if cond := node.Step.Condition; cond != "" {
			match, err := st.ec.EvalCondition(cond)
			if err != nil {
				out := &engine.StepOutput{
					Success: false,
					Error:   fmt.Sprintf("evaluate condition: %v", err),
				}
				o.finish(ctx, st, node.Step, out, 0)
				o.metrics.ObserveStep(string(node.Step.Type), statusLabel(out), 0)
				o.logger.Warn("step condition failed",
					"execution_id", st.exec.ID,
					"step_id", node.ID,
					"error", out.Error,
				)
				if !node.Step.ContinueOnError {
					return nil, true, &stepFailure{stepID: node.ID, errMsg: out.Error}
				}
				progressed = true
				continue
			}
			if !match {
				o.skipStep(ctx, st, node, "condition is false")
				progressed = true
				continue
			}
		}

		runnable = append(runnable, node)
	}

	return runnable, progressed, nil
}

// splitWave разбивает готовые шаги: параллельная волна и строго
// последовательные (маршрутизаторы и согласования).
func splitWave(nodes []*engine.Node) (wave, sequential []*engine.Node) {
	for _, node := range nodes {
		if node.Step.IsRouting() || node.Step.Type == domain.StepTypeHumanApproval {
			sequential = append(sequential, node)
			continue
		}
		wave = append(wave, node)
	}
	return wave, sequential
}

// runWave выполняет волну независимых шагов одновременно и ждёт всю
// волну: провал одного шага не прерывает соседей. Возвращает первый
// фатальный провал в порядке графа.
func (o *Orchestrator) runWave(ctx context.Context, st *execState, wave []*engine.Node) (string, string) {
	if len(wave) == 1 {
		outcome := o.executeStep(ctx, st, wave[0])
		if outcome.fatal {
			return wave[0].ID, outcome.out.Error
		}
		return "", ""
	}

	o.logger.Debug("dispatching wave",
		"execution_id", st.exec.ID,
		"steps", len(wave),
	)

	outcomes := make([]stepOutcome, len(wave))
	var wg sync.WaitGroup
	for i, node := range wave {
		wg.Add(1)
		go func(i int, node *engine.Node) {
			defer wg.Done()
			outcomes[i] = o.executeStep(ctx, st, node)
		}(i, node)
	}
	wg.Wait()

	for i, outcome := range outcomes {
		if outcome.fatal {
			return wave[i].ID, outcome.out.Error
		}
	}
	return "", ""
}

// executeStep выполняет один шаг: запуск через Runner, запись
// результата, снимок состояния.
func (o *Orchestrator) executeStep(ctx context.Context, st *execState, node *engine.Node) stepOutcome {
	step := node.Step

	st.beginStep(step.ID)
	o.logger.Debug("step started",
		"execution_id", st.exec.ID,
		"step_id", step.ID,
		"type", step.Type,
	)

	out, attempts := o.runner.Run(ctx, step, st.ec)
	o.finish(ctx, st, step, out, attempts)

	o.metrics.ObserveStep(string(step.Type), statusLabel(out), time.Duration(out.ExecutionTimeMs)*time.Millisecond)

	if out.Success {
		o.logger.Debug("step completed",
			"execution_id", st.exec.ID,
			"step_id", step.ID,
			"attempts", attempts,
		)
	} else {
		o.logger.Warn("step failed",
			"execution_id", st.exec.ID,
			"step_id", step.ID,
			"attempts", attempts,
			"continue_on_error", step.ContinueOnError,
			"error", out.Error,
		)
	}

	return stepOutcome{out: out, fatal: !out.Success && !step.ContinueOnError}
}

// finish записывает результат шага и снимает состояние. Запись и
// снимок атомарны относительно соседей по волне: восстановление
// никогда не увидит результат, не отражённый в множествах
// планирования.
func (o *Orchestrator) finish(ctx context.Context, st *execState, step *domain.Step, out *engine.StepOutput, attempts int) {
	st.mu.Lock()
	st.recordLocked(step, out, attempts)
	o.checkpointLocked(ctx, st)
	st.mu.Unlock()

	o.saveExecution(ctx, st)
}

// skipStep помечает шаг пропущенным с каскадом на зависимые.
func (o *Orchestrator) skipStep(ctx context.Context, st *execState, node *engine.Node, reason string) {
	st.mu.Lock()
	ids := st.skipCascadeLocked(node)
	o.checkpointLocked(ctx, st)
	st.mu.Unlock()

	for _, id := range ids {
		if n := st.graph.GetNode(id); n != nil {
			o.metrics.ObserveStep(string(n.Step.Type), string(domain.StepSkipped), 0)
		}
	}
	o.saveExecution(ctx, st)

	o.logger.Info("step skipped",
		"execution_id", st.exec.ID,
		"step_id", node.ID,
		"reason", reason,
		"cascade", len(ids)-1,
	)
}

// beginApproval создаёт запрос на согласование и приостанавливает
// выполнение: статус paused, снимок с pending_approval_id,
// планирование продолжит Resume. Ошибка разрешения текста запроса —
// обычный провал шага.
func (o *Orchestrator) beginApproval(ctx context.Context, st *execState, node *engine.Node) (*domain.Execution, stepOutcome) {
	step := node.Step

	if o.approvals == nil || st.transient {
		cause := ErrNoApprovalTracker
		if st.transient {
			cause = ErrNestedApproval
		}
		out := &engine.StepOutput{Success: false, Error: cause.Error()}
		o.finish(ctx, st, step, out, 0)
		o.metrics.ObserveStep(string(step.Type), statusLabel(out), 0)
		return nil, stepOutcome{out: out, fatal: !step.ContinueOnError}
	}

	message := step.HumanApproval.Message
	if engine.HasReference(message) {
		v, err := st.ec.Interpolate(message)
		if err != nil {
			out := &engine.StepOutput{
				Success: false,
				Error:   fmt.Sprintf("resolve approval message: %v", err),
			}
			o.finish(ctx, st, step, out, 0)
			o.metrics.ObserveStep(string(step.Type), statusLabel(out), 0)
			o.logger.Warn("step failed",
				"execution_id", st.exec.ID,
				"step_id", step.ID,
				"error", out.Error,
			)
			return nil, stepOutcome{out: out, fatal: !step.ContinueOnError}
		}
		message = engine.Stringify(v)
	}

	req := o.approvals.CreateRequest(st.exec.ID, step.ID, step.HumanApproval, message, nil)

	st.mu.Lock()
	st.stepResultLocked(step.ID).MarkRunning()
	st.exec.MarkPaused(req.ID)
	st.ec.SetStatus(domain.ExecutionPaused)
	o.checkpointLocked(ctx, st)
	st.mu.Unlock()

	o.saveExecution(ctx, st)
	o.metrics.SetApprovalsPending(o.pausedCount())

	o.logger.Info("execution paused",
		"execution_id", st.exec.ID,
		"step_id", step.ID,
		"approval_id", req.ID,
		"approvers", len(req.Approvers),
	)

	o.watchApproval(st.exec.ID, req.ID)

	return st.snapshot(), stepOutcome{}
}

// watchApproval дожидается решения по согласованию в фоне и
// возобновляет выполнение: решения без явного Resume (таймаут,
// второй срок после эскалации) не оставляют выполнение
// приостановленным навсегда.
func (o *Orchestrator) watchApproval(executionID, approvalID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		if _, err := o.approvals.Wait(o.baseCtx, approvalID); err != nil {
			return
		}

		for {
			_, err := o.Resume(o.baseCtx, executionID)
			switch {
			case err == nil:
				return
			case errors.Is(err, ErrExecutionActive):
				// Пауза ещё не снята с активной обработки — повтор
				select {
				case <-o.baseCtx.Done():
					return
				case <-time.After(100 * time.Millisecond):
				}
			default:
				o.logger.Debug("approval watcher finished",
					"execution_id", executionID,
					"approval_id", approvalID,
					"reason", err,
				)
				return
			}
		}
	}()
}

// resumeClaimed завершает возобновление захваченного выполнения:
// дожидается решения, записывает его как результат шага
// human_approval и продолжает планирование.
func (o *Orchestrator) resumeClaimed(ctx context.Context, st *execState) (*domain.Execution, error) {
	approvalID := st.pendingApproval()
	if approvalID == "" {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotPaused, st.exec.ID)
	}

	req, err := o.approvals.Get(approvalID)
	if err != nil {
		return nil, fmt.Errorf("approval %s: %w", approvalID, err)
	}
	node := st.graph.GetNode(req.StepID)
	if node == nil {
		return nil, fmt.Errorf("%w: approval step %q is not in workflow %s",
			ErrInvalidDefinition, req.StepID, st.def.ID)
	}

	// 1. Пауза снимается только решением: блокирует до него
	rec, err := o.approvals.Wait(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("wait for approval %s: %w", approvalID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	st.setCancel(cancel)
	defer o.release(st.exec.ID)

	// 2. Внешний Fail во время ожидания перевешивает решение
	if reason := st.stopReason(""); reason != "" {
		return o.failRun(runCtx, st, "", reason), nil
	}

	// 3. Решение — результат шага согласования
	out := approvalOutput(rec, req.CreatedAt)

	st.mu.Lock()
	st.exec.MarkRunning()
	st.ec.SetStatus(domain.ExecutionRunning)
	st.recordLocked(node.Step, out, 1)
	o.checkpointLocked(ctx, st)
	st.mu.Unlock()

	o.saveExecution(ctx, st)
	o.metrics.ObserveStep(string(domain.StepTypeHumanApproval), statusLabel(out),
		approvalElapsed(req.CreatedAt, rec.DecidedAt))
	o.metrics.SetApprovalsPending(o.pausedCount())

	o.logger.Info("execution resumed",
		"execution_id", st.exec.ID,
		"approval_id", approvalID,
		"decision", rec.Status,
	)

	if !out.Success && !node.Step.ContinueOnError {
		return o.failRun(runCtx, st, node.Step.ID, out.Error), nil
	}

	// 4. Планирование продолжается с восстановленной границы
	return o.drive(runCtx, st), nil
}

// completeRun собирает выходы workflow и завершает выполнение.
// Ошибка разрешения выхода — провал выполнения.
func (o *Orchestrator) completeRun(ctx context.Context, st *execState) *domain.Execution {
	outputs, err := o.resolveOutputs(st)
	if err != nil {
		return o.failRun(ctx, st, "", err.Error())
	}

	st.mu.Lock()
	st.exec.MarkCompleted(outputs)
	st.ec.SetStatus(domain.ExecutionCompleted)
	o.checkpointLocked(ctx, st)
	st.mu.Unlock()

	if !st.transient {
		if !o.keepCheckpoints {
			if err := o.state.Discard(context.WithoutCancel(ctx), st.exec.ID); err != nil {
				o.logger.Warn("discard checkpoint failed",
					"execution_id", st.exec.ID,
					"error", err,
				)
			}
		}
		o.metrics.ObserveExecution(string(domain.ExecutionCompleted), st.exec.Duration())
		o.saveExecution(ctx, st)
		o.notifyFinished(ctx, st)
		o.logger.Info("execution completed",
			"execution_id", st.exec.ID,
			"workflow_id", st.exec.WorkflowID,
			"duration", st.exec.Duration(),
			"steps", len(st.exec.Steps),
		)
	}

	return st.snapshot()
}

// resolveOutputs разрешает объявленные выходы workflow в финальном
// контексте.
func (o *Orchestrator) resolveOutputs(st *execState) (map[string]any, error) {
	if len(st.def.Outputs) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(st.def.Outputs))
	for name := range st.def.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	outputs := make(map[string]any, len(names))
	for _, name := range names {
		v, err := st.ec.ResolveValue(st.def.Outputs[name])
		if err != nil {
			return nil, fmt.Errorf("resolve workflow output %q: %v", name, err)
		}
		outputs[name] = v
	}
	return outputs, nil
}

// failRun переводит выполнение в failed и запускает обработчик
// on_failure (best-effort).
func (o *Orchestrator) failRun(ctx context.Context, st *execState, stepID, errMsg string) *domain.Execution {
	// Запрошенная извне остановка перевешивает ошибку шага: шаги
	// падают от отмены контекста, но причина провала — остановка
	if reason := st.stopReason(""); reason != "" {
		stepID, errMsg = "", reason
	}

	st.mu.Lock()
	st.exec.MarkFailed(stepID, errMsg)
	st.ec.SetStatus(domain.ExecutionFailed)
	o.checkpointLocked(ctx, st)
	st.mu.Unlock()

	if !st.transient {
		o.metrics.ObserveExecution(string(domain.ExecutionFailed), st.exec.Duration())
		o.metrics.SetApprovalsPending(o.pausedCount())
		o.saveExecution(ctx, st)
		o.notifyFinished(ctx, st)
		o.logger.Warn("execution failed",
			"execution_id", st.exec.ID,
			"workflow_id", st.exec.WorkflowID,
			"step_id", stepID,
			"error", errMsg,
		)
		o.runFailureHandler(st)
	}

	return st.snapshot()
}

// runFailureHandler выполняет шаг on_failure. Ошибка обработчика
// логируется и не меняет итог выполнения.
func (o *Orchestrator) runFailureHandler(st *execState) {
	handler := st.def.OnFailure
	if handler == nil {
		return
	}

	// Сведения о провале доступны обработчику по ссылкам
	// {{failed_step}} и {{error}}
	st.ec.SetVar("failed_step", st.exec.FailedStepID)
	st.ec.SetVar("error", st.exec.Error)

	hctx, cancel := context.WithTimeout(context.Background(), failureHandlerTimeout)
	defer cancel()

	out, _ := o.runner.Run(hctx, handler, st.ec)
	if out.Success {
		o.logger.Info("failure handler finished",
			"execution_id", st.exec.ID,
			"step_id", handler.ID,
		)
	} else {
		o.logger.Warn("failure handler failed",
			"execution_id", st.exec.ID,
			"step_id", handler.ID,
			"error", out.Error,
		)
	}
}

// checkpointLocked снимает состояние выполнения. Вызывается под st.mu;
// ошибка снимка логируется, память остаётся источником истины.
func (o *Orchestrator) checkpointLocked(ctx context.Context, st *execState) {
	if st.transient {
		return
	}
	prog := st.progressLocked()
	if err := o.state.Checkpoint(context.WithoutCancel(ctx), st.ec, prog); err != nil {
		o.logger.Warn("checkpoint failed",
			"execution_id", st.exec.ID,
			"error", err,
		)
	}
}

// checkpoint снимает состояние, сам берёт замок.
func (o *Orchestrator) checkpoint(ctx context.Context, st *execState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	o.checkpointLocked(ctx, st)
}

// approvalOutput превращает итог согласования в запись результата
// шага human_approval. Одобрение — успех с данными решения; отклонение
// и таймаут — обычный провал шага (continue_on_error действует).
func approvalOutput(rec *domain.DecisionRecord, createdAt time.Time) *engine.StepOutput {
	out := &engine.StepOutput{
		Data:            decisionData(rec),
		ExecutionTimeMs: approvalElapsed(createdAt, rec.DecidedAt).Milliseconds(),
	}
	switch rec.Status {
	case domain.ApprovalApproved:
		out.Success = true
	case domain.ApprovalTimeout:
		out.Error = "approval timed out"
	default:
		out.Error = "approval rejected"
	}
	return out
}

// decisionData приводит запись решения к map через JSON: та же форма,
// что и при восстановлении из jsonb-снимка.
func decisionData(rec *domain.DecisionRecord) map[string]any {
	fallback := map[string]any{
		"approval_id": rec.ApprovalID,
		"status":      string(rec.Status),
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fallback
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fallback
	}
	return data
}
