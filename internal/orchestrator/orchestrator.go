package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shaiso/conveyor/internal/approval"
	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
	"github.com/shaiso/conveyor/internal/executor"
	"github.com/shaiso/conveyor/internal/state"
	"github.com/shaiso/conveyor/internal/telemetry"
)

// WorkflowSource — источник определений workflow по ID.
// Реализуется реестром workflow (память или БД).
type WorkflowSource interface {
	GetDefinition(ctx context.Context, workflowID string) (*domain.WorkflowDefinition, error)
}

// ExecutionStore — необязательное зеркало записей выполнений во
// внешнем хранилище. Ошибки записи логируются; память оркестратора
// остаётся источником истины для активных выполнений.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec *domain.Execution) error
}

// EventSink — необязательный приёмник событий о терминальных переходах
// выполнений. Ошибки публикации логируются и не влияют на итог.
type EventSink interface {
	PublishExecutionFinished(ctx context.Context, exec *domain.Execution) error
}

// Orchestrator управляет выполнениями workflow.
//
// Orchestrator — центральный компонент системы, который:
//   - Проверяет определение и входы, создаёт запись Execution
//   - Планирует готовые шаги по графу зависимостей (волнами)
//   - Выполняет шаги через executor.Runner
//   - Приостанавливает выполнение на human_approval и возобновляет
//     его строго через снимок состояния
//   - Финализирует выполнение (completed/failed) и собирает выходы
type Orchestrator struct {
	workflows WorkflowSource
	approvals *approval.Tracker
	state     *state.Manager
	store     ExecutionStore
	events    EventSink
	metrics   *telemetry.Metrics
	runner    *executor.Runner

	keepCheckpoints bool

	// executions — все известные выполнения (executionID → запись);
	// active — выполнения с работающим циклом планирования.
	executions map[string]*domain.Execution
	active     map[string]*execState
	mu         sync.RWMutex

	// baseCtx ограничивает фоновую работу (Start, наблюдатели
	// согласований) временем жизни оркестратора.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stopped   bool
	stoppedMu sync.RWMutex

	logger *slog.Logger
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Workflows — источник определений (обязателен).
	Workflows WorkflowSource

	// Plugins — исполнитель действий плагинов (шаги action).
	Plugins executor.PluginInvoker

	// Decider — провайдер решений (шаги decision).
	Decider executor.DecisionProvider

	// Approvals — трекер согласований (шаги human_approval).
	Approvals *approval.Tracker

	// State — менеджер снимков состояния (default: память).
	State *state.Manager

	// Store — зеркало записей выполнений (опционально).
	Store ExecutionStore

	// Events — приёмник событий о завершениях (опционально).
	Events EventSink

	// Metrics — метрики (опционально).
	Metrics *telemetry.Metrics

	// MaxConcurrency — глобальный потолок параллелизма scatter
	// (передаётся Runner).
	MaxConcurrency int

	// KeepCheckpoints — не удалять снимок после завершения выполнения.
	KeepCheckpoints bool

	// Logger — логгер (default: slog.Default()).
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "orchestrator")

	stateMgr := cfg.State
	if stateMgr == nil {
		stateMgr = state.NewManager(state.NewMemoryStore(), logger)
	}

	o := &Orchestrator{
		workflows:       cfg.Workflows,
		approvals:       cfg.Approvals,
		state:           stateMgr,
		store:           cfg.Store,
		events:          cfg.Events,
		metrics:         cfg.Metrics,
		keepCheckpoints: cfg.KeepCheckpoints,
		executions:      make(map[string]*domain.Execution),
		active:          make(map[string]*execState),
		logger:          logger,
	}
	o.baseCtx, o.cancel = context.WithCancel(context.Background())

	o.runner = executor.NewRunner(executor.Config{
		Plugins:        cfg.Plugins,
		Decider:        cfg.Decider,
		Subflows:       o,
		Workflows:      cfg.Workflows,
		MaxConcurrency: cfg.MaxConcurrency,
		Logger:         logger,
	})

	return o
}

// Stop останавливает оркестратор: прерывает фоновые выполнения и
// наблюдателей согласований, дожидается их завершения. Новые запуски
// после Stop отклоняются.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	if o.stopped {
		o.stoppedMu.Unlock()
		return
	}
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	o.cancel()
	o.wg.Wait()

	o.mu.RLock()
	active := len(o.active)
	o.mu.RUnlock()

	o.logger.Info("orchestrator stopped", "active_executions", active)
}

// IsStopped проверяет, остановлен ли оркестратор.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// Run запускает workflow и блокирует до результата: терминальной
// записи выполнения или паузы на human_approval (status=paused,
// pending_approval_id заполнен). Ошибка возвращается только за
// проблемы до старта: неизвестный workflow, невалидное определение
// или входы.
func (o *Orchestrator) Run(ctx context.Context, workflowID string, inputs map[string]any) (*domain.Execution, error) {
	st, err := o.prepare(ctx, workflowID, inputs)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, st), nil
}

// Start запускает workflow в фоне и сразу возвращает запись
// выполнения в статусе running. Прогресс доступен через Get.
func (o *Orchestrator) Start(ctx context.Context, workflowID string, inputs map[string]any) (*domain.Execution, error) {
	st, err := o.prepare(ctx, workflowID, inputs)
	if err != nil {
		return nil, err
	}

	snap := st.snapshot()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(o.baseCtx, st)
	}()

	return snap, nil
}

// Resume возобновляет приостановленное выполнение: восстанавливает
// контекст и границу планирования из снимка, повторно входит в
// ожидание согласования, записывает решение как результат шага
// human_approval и продолжает планирование.
//
// Если решение ещё не принято, Resume блокирует до него (или до
// отмены ctx — выполнение тогда остаётся приостановленным).
func (o *Orchestrator) Resume(ctx context.Context, executionID string) (*domain.Execution, error) {
	if o.IsStopped() {
		return nil, ErrOrchestratorStopped
	}
	if o.approvals == nil {
		return nil, ErrNoApprovalTracker
	}

	st, err := o.restore(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if err := o.claim(st); err != nil {
		return nil, err
	}

	exec, err := o.resumeClaimed(ctx, st)
	if err != nil {
		o.release(executionID)
		return nil, err
	}
	return exec, nil
}

// Fail помечает выполнение проваленным и останавливает планирование.
// Ожидаемое согласование снимается как отклонённое. Для выполнения с
// работающим циклом планирования остановка асинхронна: статус станет
// failed после прерывания текущей волны.
func (o *Orchestrator) Fail(ctx context.Context, executionID, reason string) error {
	if reason == "" {
		reason = "execution cancelled"
	}

	o.mu.RLock()
	exec := o.executions[executionID]
	st := o.active[executionID]
	o.mu.RUnlock()

	if exec == nil {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	if st != nil {
		st.stop(reason)
		if approvalID := st.pendingApproval(); approvalID != "" && o.approvals != nil {
			o.cancelApproval(approvalID, reason)
		}
		o.logger.Info("execution stop requested",
			"execution_id", executionID,
			"reason", reason,
		)
		return nil
	}

	// Нет цикла планирования: запись меняется под реестровым замком,
	// чтобы сериализоваться с захватом в Resume.
	o.mu.Lock()
	if o.active[executionID] != nil {
		o.mu.Unlock()
		return o.Fail(ctx, executionID, reason)
	}
	if exec.IsFinished() {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExecutionFinished, executionID)
	}
	approvalID := exec.PendingApprovalID
	exec.MarkFailed("", reason)
	o.mu.Unlock()

	if approvalID != "" && o.approvals != nil {
		o.cancelApproval(approvalID, reason)
	}

	// Возобновлять больше нечего: снимок приостановленного состояния
	// удаляется независимо от KeepCheckpoints.
	if err := o.state.Discard(context.WithoutCancel(ctx), executionID); err != nil {
		o.logger.Warn("discard checkpoint failed",
			"execution_id", executionID,
			"error", err,
		)
	}

	o.metrics.ObserveExecution(string(domain.ExecutionFailed), exec.Duration())
	o.metrics.SetApprovalsPending(o.pausedCount())
	record := copyExecution(exec)
	o.saveExecutionRecord(ctx, record)
	o.notifyFinishedRecord(ctx, record)

	o.logger.Info("execution failed",
		"execution_id", executionID,
		"reason", reason,
	)
	return nil
}

// Get возвращает копию записи выполнения.
func (o *Orchestrator) Get(executionID string) (*domain.Execution, error) {
	o.mu.RLock()
	exec := o.executions[executionID]
	st := o.active[executionID]
	var snap *domain.Execution
	if st == nil && exec != nil {
		// Копия под реестровым замком: сериализуется с Fail
		snap = copyExecution(exec)
	}
	o.mu.RUnlock()

	if exec == nil {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	if st != nil {
		return st.snapshot(), nil
	}
	return snap, nil
}

// List возвращает копии всех известных выполнений, новые первыми.
func (o *Orchestrator) List() []*domain.Execution {
	o.mu.RLock()
	out := make([]*domain.Execution, 0, len(o.executions))
	for id, exec := range o.executions {
		if st := o.active[id]; st != nil {
			out = append(out, st.snapshot())
			continue
		}
		out = append(out, copyExecution(exec))
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RunChild выполняет дочерний workflow шага sub_workflow: полное
// выполнение с собственным контекстом, без регистрации, снимков и
// метрик. Результат — объявленные выходы дочернего определения, либо
// данные его успешных шагов (stepID → data), когда выходы не
// объявлены.
func (o *Orchestrator) RunChild(ctx context.Context, def *domain.WorkflowDefinition, inputs map[string]any, depth int) (map[string]any, error) {
	for i := range def.Steps {
		if def.Steps[i].Type == domain.StepTypeHumanApproval {
			return nil, fmt.Errorf("%w: step %s", ErrNestedApproval, def.Steps[i].ID)
		}
	}

	st, err := o.buildState(def, inputs)
	if err != nil {
		return nil, err
	}
	st.transient = true
	st.ec.SetDepth(depth)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	st.setCancel(cancel)

	exec := o.drive(runCtx, st)
	if exec.Status != domain.ExecutionCompleted {
		return nil, fmt.Errorf("sub-workflow %s failed: %s", def.ID, exec.Error)
	}

	if len(def.Outputs) > 0 {
		return exec.Outputs, nil
	}
	result := make(map[string]any)
	for id, out := range st.ec.Outputs() {
		if out.Success {
			result[id] = out.Data
		}
	}
	return result, nil
}

// prepare загружает определение, проверяет входы и регистрирует
// новое выполнение.
func (o *Orchestrator) prepare(ctx context.Context, workflowID string, inputs map[string]any) (*execState, error) {
	if o.IsStopped() {
		return nil, ErrOrchestratorStopped
	}
	if o.workflows == nil {
		return nil, ErrNoWorkflowSource
	}

	def, err := o.workflows.GetDefinition(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %q: %w", workflowID, err)
	}

	st, err := o.buildState(def, inputs)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.executions[st.exec.ID] = st.exec
	o.active[st.exec.ID] = st
	o.mu.Unlock()

	o.saveExecution(ctx, st)
	o.checkpoint(ctx, st)

	o.logger.Info("execution created",
		"execution_id", st.exec.ID,
		"workflow_id", def.ID,
		"steps", len(def.Steps),
	)
	return st, nil
}

// buildState валидирует определение и входы, строит граф и контекст.
func (o *Orchestrator) buildState(def *domain.WorkflowDefinition, inputs map[string]any) (*execState, error) {
	if err := engine.Validate(def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	merged := applyInputDefaults(def, inputs)
	if err := engine.ValidateInputs(def, merged); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInputs, err)
	}

	graph, err := engine.BuildGraph(def.Steps)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	exec := domain.NewExecution(def.ID, merged)
	exec.WorkflowVersion = def.Version
	ec := engine.NewContext(exec.ID, def, merged)

	return newExecState(exec, def, graph, ec), nil
}

// execute ведёт цикл планирования до терминала или паузы.
func (o *Orchestrator) execute(ctx context.Context, st *execState) *domain.Execution {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	st.setCancel(cancel)
	defer o.release(st.exec.ID)

	return o.drive(runCtx, st)
}

// restore восстанавливает состояние приостановленного выполнения из
// снимка. Запись берётся из памяти; после рестарта процесса — строится
// из снимка.
func (o *Orchestrator) restore(ctx context.Context, executionID string) (*execState, error) {
	o.mu.RLock()
	exec := o.executions[executionID]
	active := o.active[executionID] != nil
	o.mu.RUnlock()

	if active {
		return nil, fmt.Errorf("%w: %s", ErrExecutionActive, executionID)
	}
	if exec != nil {
		if exec.IsFinished() {
			return nil, fmt.Errorf("%w: %s", ErrExecutionFinished, executionID)
		}
		if exec.Status != domain.ExecutionPaused || exec.PendingApprovalID == "" {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotPaused, executionID)
		}
	}

	workflowID := ""
	if exec != nil {
		workflowID = exec.WorkflowID
	} else {
		cp, err := o.state.Load(ctx, executionID)
		if err != nil {
			if errors.Is(err, state.ErrCheckpointNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
			}
			return nil, err
		}
		if cp.Status != domain.ExecutionPaused || cp.PendingApprovalID == "" {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotPaused, executionID)
		}
		workflowID = cp.WorkflowID
	}

	def, err := o.workflows.GetDefinition(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %q: %w", workflowID, err)
	}

	ec, cp, err := o.state.Resume(ctx, executionID, def)
	if err != nil {
		return nil, err
	}

	graph, err := engine.BuildGraph(def.Steps)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	if exec == nil {
		exec = executionFromCheckpoint(cp, ec)
	}

	return restoredExecState(exec, def, graph, ec, cp), nil
}

// claim атомарно закрепляет приостановленное выполнение за вызовом
// Resume: конкурирующий Resume или Fail проигрывает захват.
func (o *Orchestrator) claim(st *execState) error {
	id := st.exec.ID

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active[id] != nil {
		return fmt.Errorf("%w: %s", ErrExecutionActive, id)
	}
	if cur := o.executions[id]; cur != nil {
		if cur.IsFinished() {
			return fmt.Errorf("%w: %s", ErrExecutionFinished, id)
		}
		if cur.Status != domain.ExecutionPaused {
			return fmt.Errorf("%w: %s", ErrExecutionNotPaused, id)
		}
		st.exec = cur
	} else {
		o.executions[id] = st.exec
	}
	o.active[id] = st
	return nil
}

// release снимает выполнение с активной обработки.
func (o *Orchestrator) release(executionID string) {
	o.mu.Lock()
	delete(o.active, executionID)
	o.mu.Unlock()
}

// saveExecution зеркалит запись выполнения во внешнее хранилище.
func (o *Orchestrator) saveExecution(ctx context.Context, st *execState) {
	if o.store == nil || st.transient {
		return
	}
	o.saveExecutionRecord(ctx, st.snapshot())
}

func (o *Orchestrator) saveExecutionRecord(ctx context.Context, exec *domain.Execution) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveExecution(context.WithoutCancel(ctx), exec); err != nil {
		o.logger.Warn("save execution record failed",
			"execution_id", exec.ID,
			"error", err,
		)
	}
}

// notifyFinished публикует событие о терминальном переходе выполнения.
func (o *Orchestrator) notifyFinished(ctx context.Context, st *execState) {
	if o.events == nil || st.transient {
		return
	}
	o.notifyFinishedRecord(ctx, st.snapshot())
}

func (o *Orchestrator) notifyFinishedRecord(ctx context.Context, exec *domain.Execution) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishExecutionFinished(context.WithoutCancel(ctx), exec); err != nil {
		o.logger.Warn("publish finished event failed",
			"execution_id", exec.ID,
			"error", err,
		)
	}
}

// cancelApproval снимает согласование как отклонённое.
func (o *Orchestrator) cancelApproval(approvalID, reason string) {
	if err := o.approvals.Cancel(approvalID, reason); err != nil && !errors.Is(err, approval.ErrApprovalNotFound) {
		o.logger.Warn("cancel approval failed",
			"approval_id", approvalID,
			"error", err,
		)
	}
}

// pausedCount возвращает количество приостановленных выполнений
// (значение gauge ожидающих согласований).
func (o *Orchestrator) pausedCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	n := 0
	for id, exec := range o.executions {
		status := exec.Status
		if st := o.active[id]; st != nil {
			status = st.status()
		}
		if status == domain.ExecutionPaused {
			n++
		}
	}
	return n
}

// applyInputDefaults подставляет значения по умолчанию для
// отсутствующих необязательных входов.
func applyInputDefaults(def *domain.WorkflowDefinition, inputs map[string]any) map[string]any {
	merged := make(map[string]any, len(inputs)+len(def.Inputs))
	for k, v := range inputs {
		merged[k] = v
	}
	for name, decl := range def.Inputs {
		if _, ok := merged[name]; !ok && decl.Default != nil {
			merged[name] = decl.Default
		}
	}
	return merged
}
