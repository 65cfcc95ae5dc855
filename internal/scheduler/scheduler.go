package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/repo"
)

// ExecutionStarter запускает выполнение workflow в фоне.
// Реализуется оркестратором (in-process) или клиентом API.
type ExecutionStarter interface {
	Start(ctx context.Context, workflowID string, inputs map[string]any) (*domain.Execution, error)
}

// ScheduleStore — операции планировщика над расписаниями.
// Реализуется repo.ScheduleRepo.
type ScheduleStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	Update(ctx context.Context, schedule *domain.Schedule) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	schedules ScheduleStore
	starter   ExecutionStarter
	logger    *slog.Logger
	batchSize int
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules ScheduleStore
	Starter   ExecutionStarter
	Logger    *slog.Logger
	BatchSize int // количество schedules за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		schedules: cfg.Schedules,
		starter:   cfg.Starter,
		logger:    logger.With("component", "scheduler"),
		batchSize: batchSize,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого запускает выполнение workflow
// 3. Обновляет next_due_at
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now()

	schedules, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}
	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, started int
	for i := range schedules {
		sched := &schedules[i]

		ok, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			// Продолжаем обработку остальных
			continue
		}

		processed++
		if ok {
			started++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"executions_started", started,
	)

	return nil
}

// processSchedule запускает выполнение для одного schedule.
// Возвращает true, если выполнение было запущено.
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	// 1. Следующее время вычисляется до запуска: некорректное
	// расписание отключается, не создав выполнения
	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		s.logger.Error("failed to calculate next due, disabling schedule",
			"schedule_id", sched.ID,
			"error", err,
		)
		s.disable(ctx, sched.ID)
		return false, nil
	}

	// 2. Запускаем выполнение
	exec, err := s.starter.Start(ctx, sched.WorkflowID, sched.Inputs)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// workflow удалён, расписание больше не имеет смысла
			s.logger.Warn("workflow not found for schedule, disabling",
				"schedule_id", sched.ID,
				"workflow_id", sched.WorkflowID,
			)
			s.disable(ctx, sched.ID)
			return false, nil
		}
		// Schedule не обновлён: следующий тик повторит запуск
		return false, fmt.Errorf("start execution: %w", err)
	}

	s.logger.Info("started execution from schedule",
		"execution_id", exec.ID,
		"schedule_id", sched.ID,
		"schedule_name", sched.Name,
		"workflow_id", sched.WorkflowID,
	)

	// 3. Записываем запуск и следующее время
	sched.RecordRun(exec.ID, nextDue)
	if err := s.schedules.Update(ctx, sched); err != nil {
		return true, fmt.Errorf("update schedule: %w", err)
	}

	return true, nil
}

func (s *Scheduler) disable(ctx context.Context, id uuid.UUID) {
	if err := s.schedules.SetEnabled(ctx, id, false); err != nil {
		s.logger.Warn("disable schedule failed", "schedule_id", id, "error", err)
	}
}
