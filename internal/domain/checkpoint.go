package domain

import "time"

// Checkpoint — снимок состояния выполнения для восстановления.
//
// Снимок записывается после каждого терминального перехода шага и
// при приостановке на approval. На одно выполнение хранится ровно
// один снимок (перезапись). Resume восстанавливает контекст из
// снимка и продолжает планирование с сохранённой границы.
type Checkpoint struct {
	// ExecutionID — выполнение, которому принадлежит снимок.
	ExecutionID string `json:"execution_id"`

	// WorkflowID — ID workflow.
	WorkflowID string `json:"workflow_id"`

	// Status — статус выполнения на момент снимка.
	Status ExecutionStatus `json:"status"`

	// Inputs — входные параметры выполнения.
	Inputs map[string]any `json:"inputs,omitempty"`

	// StepOutputs — выходы завершённых шагов по их ID.
	StepOutputs map[string]any `json:"step_outputs,omitempty"`

	// Variables — именованные переменные контекста.
	Variables map[string]any `json:"variables,omitempty"`

	// Completed — ID успешно завершённых шагов.
	Completed []string `json:"completed,omitempty"`

	// Failed — ID упавших шагов.
	Failed []string `json:"failed,omitempty"`

	// Skipped — ID пропущенных шагов.
	Skipped []string `json:"skipped,omitempty"`

	// PendingApprovalID — approval, которого ждёт выполнение.
	PendingApprovalID string `json:"pending_approval_id,omitempty"`

	// Position — граница планирования: шаги, готовые к запуску
	// на момент снимка.
	Position []string `json:"position,omitempty"`

	// CreatedAt — время первого снимка выполнения.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последней перезаписи.
	UpdatedAt time.Time `json:"updated_at"`
}
