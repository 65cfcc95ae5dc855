package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrExecutionNotFound — выполнение не найдено.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionActive — выполнение уже обрабатывается.
	ErrExecutionActive = errors.New("execution is already being processed")

	// ErrExecutionFinished — выполнение уже в терминальном статусе.
	ErrExecutionFinished = errors.New("execution already finished")

	// ErrExecutionNotPaused — resume для выполнения, которое не
	// приостановлено (или без ожидаемого approval).
	ErrExecutionNotPaused = errors.New("execution is not paused")

	// ErrInvalidDefinition — определение workflow не прошло валидацию.
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrInvalidInputs — входные параметры не прошли валидацию.
	ErrInvalidInputs = errors.New("invalid workflow inputs")

	// ErrNoWorkflowSource — не подключён источник определений.
	ErrNoWorkflowSource = errors.New("workflow source is not configured")

	// ErrNoApprovalTracker — шаг human_approval без подключённого
	// трекера согласований.
	ErrNoApprovalTracker = errors.New("approval tracker is not configured")

	// ErrNestedApproval — human_approval внутри дочернего workflow.
	// Пауза выполнения работает только на верхнем уровне.
	ErrNestedApproval = errors.New("human_approval is not allowed inside sub_workflow")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
