package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule — расписание автоматического запуска workflow.
//
// Schedule позволяет запускать workflow:
// - По cron-выражению: "0 9 * * *" (каждый день в 9:00)
// - По интервалу: каждые N секунд
//
// Scheduler проверяет next_due_at и запускает выполнение, когда время
// подошло.
type Schedule struct {
	// ID — уникальный идентификатор schedule.
	ID uuid.UUID `json:"id"`

	// WorkflowID — ID workflow, который нужно запускать.
	WorkflowID string `json:"workflow_id"`

	// Name — имя расписания для удобства.
	Name string `json:"name,omitempty"`

	// CronExpr — cron-выражение.
	// Формат: "минуты часы дни месяцы дни_недели"
	// Примеры:
	//   "0 9 * * *"     — каждый день в 9:00
	//   "*/5 * * * *"   — каждые 5 минут
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron_expr,omitempty"`

	// IntervalSec — интервал в секундах между запусками.
	// Используется если CronExpr не задан.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — часовой пояс для вычисления времени.
	// По умолчанию: "UTC".
	Timezone string `json:"timezone"`

	// Enabled — флаг активности расписания.
	Enabled bool `json:"enabled"`

	// NextDueAt — время следующего запуска.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastRunAt — время последнего запуска.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LastExecutionID — ID последнего созданного выполнения.
	LastExecutionID string `json:"last_execution_id,omitempty"`

	// Inputs — входные параметры для запуска workflow.
	Inputs map[string]any `json:"inputs,omitempty"`

	// CreatedAt — время создания schedule.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCron возвращает true, если расписание использует cron-выражение.
func (s *Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval возвращает true, если расписание использует интервал.
func (s *Schedule) IsInterval() bool {
	return s.CronExpr == "" && s.IntervalSec > 0
}

// IsDue проверяет, пора ли запускать.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.NextDueAt == nil {
		return false
	}
	return now.After(*s.NextDueAt) || now.Equal(*s.NextDueAt)
}

// RecordRun записывает информацию о запуске.
func (s *Schedule) RecordRun(executionID string, nextDue time.Time) {
	now := time.Now()
	s.LastRunAt = &now
	s.LastExecutionID = executionID
	s.NextDueAt = &nextDue
	s.UpdatedAt = now
}
