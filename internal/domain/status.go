package domain

// ExecutionStatus — статус выполнения workflow.
//
// Жизненный цикл:
//
//	running → completed
//	        ↘ failed
//	running → paused (ожидание human_approval) → running (после resume)
type ExecutionStatus string

const (
	// ExecutionRunning — выполнение идёт.
	ExecutionRunning ExecutionStatus = "running"

	// ExecutionPaused — выполнение приостановлено (ожидает решения approval).
	ExecutionPaused ExecutionStatus = "paused"

	// ExecutionCompleted — все достижимые шаги успешно завершены.
	ExecutionCompleted ExecutionStatus = "completed"

	// ExecutionFailed — выполнение завершилось с ошибкой
	// (или остановлено внешним вызовом Fail).
	ExecutionFailed ExecutionStatus = "failed"
)

// IsTerminal возвращает true, если статус финальный (выполнение завершено).
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление статуса.
func (s ExecutionStatus) String() string {
	return string(s)
}

// ParseExecutionStatus парсит строку в ExecutionStatus.
func ParseExecutionStatus(s string) ExecutionStatus {
	switch s {
	case "running":
		return ExecutionRunning
	case "paused":
		return ExecutionPaused
	case "completed":
		return ExecutionCompleted
	case "failed":
		return ExecutionFailed
	default:
		return ExecutionRunning
	}
}

// StepStatus — статус выполнения шага.
//
// Жизненный цикл:
//
//	pending → running → completed
//	                  ↘ failed (после всех retry)
//	pending → skipped (условие false или недостижимая ветка)
type StepStatus string

const (
	// StepPending — шаг ожидает выполнения зависимостей.
	StepPending StepStatus = "pending"

	// StepRunning — шаг выполняется.
	StepRunning StepStatus = "running"

	// StepCompleted — шаг успешно завершён.
	StepCompleted StepStatus = "completed"

	// StepFailed — шаг завершился с ошибкой (после всех retry).
	StepFailed StepStatus = "failed"

	// StepSkipped — шаг пропущен: condition=false, невыбранная ветка
	// conditional/switch или зависимость от пропущенного шага.
	StepSkipped StepStatus = "skipped"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// ApprovalStatus — статус запроса на согласование.
//
// Жизненный цикл:
//
//	pending → approved | rejected
//	pending → timeout (срок истёк, on_timeout=reject)
//	pending → escalated (on_timeout=escalate) → approved | rejected | timeout
type ApprovalStatus string

const (
	// ApprovalPending — решение ещё не принято.
	ApprovalPending ApprovalStatus = "pending"

	// ApprovalApproved — запрос одобрен по правилу консенсуса.
	ApprovalApproved ApprovalStatus = "approved"

	// ApprovalRejected — запрос отклонён по правилу консенсуса.
	ApprovalRejected ApprovalStatus = "rejected"

	// ApprovalTimeout — срок истёк, решение не принято.
	ApprovalTimeout ApprovalStatus = "timeout"

	// ApprovalEscalated — срок истёк, запрос передан на новый круг
	// согласующих. Не финальный: ожидание продолжается с новым сроком.
	ApprovalEscalated ApprovalStatus = "escalated"
)

// IsTerminal возвращает true, если решение принято и новых ответов не будет.
func (s ApprovalStatus) IsTerminal() bool {
	switch s {
	case ApprovalApproved, ApprovalRejected, ApprovalTimeout:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление статуса.
func (s ApprovalStatus) String() string {
	return string(s)
}
