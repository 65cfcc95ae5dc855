package domain

import (
	"time"

	"github.com/google/uuid"
)

// Execution — экземпляр выполнения workflow.
//
// Execution создаётся когда:
// - Пользователь запускает workflow вручную (через API/CLI)
// - Scheduler запускает workflow по расписанию
// - Шаг sub_workflow запускает вложенный workflow
type Execution struct {
	// ID — уникальный идентификатор выполнения.
	ID string `json:"id"`

	// WorkflowID — ID выполняемого workflow.
	WorkflowID string `json:"workflow_id"`

	// WorkflowVersion — версия определения на момент запуска.
	WorkflowVersion int `json:"workflow_version,omitempty"`

	// Status — текущий статус выполнения.
	Status ExecutionStatus `json:"status"`

	// Inputs — входные параметры, переданные при запуске
	// (после подстановки значений по умолчанию).
	Inputs map[string]any `json:"inputs,omitempty"`

	// Outputs — итоговые значения workflow (заполняются при completed).
	Outputs map[string]any `json:"outputs,omitempty"`

	// Error — текст ошибки, если выполнение завершилось с failed.
	Error string `json:"error,omitempty"`

	// FailedStepID — шаг, ошибка которого завершила выполнение.
	FailedStepID string `json:"failed_step_id,omitempty"`

	// PendingApprovalID — ID approval-запроса, из-за которого
	// выполнение приостановлено. Пусто, если статус не paused.
	PendingApprovalID string `json:"pending_approval_id,omitempty"`

	// Steps — результаты шагов по их ID.
	Steps map[string]*StepResult `json:"steps,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения (в любом терминальном статусе).
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// NewExecutionID генерирует идентификатор выполнения.
func NewExecutionID() string {
	return "exec-" + uuid.NewString()
}

// NewExecution создаёт выполнение в статусе running.
func NewExecution(workflowID string, inputs map[string]any) *Execution {
	now := time.Now()
	return &Execution{
		ID:         NewExecutionID(),
		WorkflowID: workflowID,
		Status:     ExecutionRunning,
		Inputs:     inputs,
		Steps:      make(map[string]*StepResult),
		StartedAt:  &now,
		CreatedAt:  now,
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если выполнение ещё не завершено.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(*e.StartedAt)
}

// IsFinished возвращает true, если выполнение завершено.
func (e *Execution) IsFinished() bool {
	return e.Status.IsTerminal()
}

// MarkPaused переводит выполнение в paused с ожиданием approval.
func (e *Execution) MarkPaused(approvalID string) {
	e.Status = ExecutionPaused
	e.PendingApprovalID = approvalID
}

// MarkRunning возвращает выполнение в running (после resume).
func (e *Execution) MarkRunning() {
	e.Status = ExecutionRunning
	e.PendingApprovalID = ""
}

// MarkCompleted переводит выполнение в completed с итоговыми значениями.
func (e *Execution) MarkCompleted(outputs map[string]any) {
	now := time.Now()
	e.Status = ExecutionCompleted
	e.Outputs = outputs
	e.FinishedAt = &now
}

// MarkFailed переводит выполнение в failed с ошибкой.
// stepID — шаг, вызвавший падение (пусто при внешней остановке).
// Внешняя остановка выполнения — тот же переход с текстом причины.
func (e *Execution) MarkFailed(stepID, err string) {
	now := time.Now()
	e.Status = ExecutionFailed
	e.FailedStepID = stepID
	e.Error = err
	e.PendingApprovalID = ""
	e.FinishedAt = &now
}

// StepResult — результат выполнения одного шага.
type StepResult struct {
	// StepID — ID шага.
	StepID string `json:"step_id"`

	// Status — статус шага.
	Status StepStatus `json:"status"`

	// Output — выход шага (nil для skipped).
	Output any `json:"output,omitempty"`

	// Error — ошибка, если шаг упал.
	Error string `json:"error,omitempty"`

	// Attempts — количество сделанных попыток.
	Attempts int `json:"attempts,omitempty"`

	// StartedAt — время начала первой попытки.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время достижения терминального статуса.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewStepResult создаёт результат шага в статусе pending.
func NewStepResult(stepID string) *StepResult {
	return &StepResult{StepID: stepID, Status: StepPending}
}

// MarkRunning переводит шаг в running.
func (r *StepResult) MarkRunning() {
	now := time.Now()
	r.Status = StepRunning
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
}

// MarkCompleted переводит шаг в completed с результатом.
func (r *StepResult) MarkCompleted(output any) {
	now := time.Now()
	r.Status = StepCompleted
	r.Output = output
	r.Error = ""
	r.FinishedAt = &now
}

// MarkFailed переводит шаг в failed с ошибкой.
func (r *StepResult) MarkFailed(err string) {
	now := time.Now()
	r.Status = StepFailed
	r.Error = err
	r.FinishedAt = &now
}

// MarkSkipped переводит шаг в skipped.
func (r *StepResult) MarkSkipped() {
	now := time.Now()
	r.Status = StepSkipped
	r.FinishedAt = &now
}
