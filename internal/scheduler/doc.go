// Package scheduler реализует логику планировщика расписаний.
//
// Scheduler периодически проверяет schedules с истекшим next_due_at
// и запускает выполнения соответствующих workflow.
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Tick, processSchedule)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Schedules: scheduleRepo,
//	    Starter:   orch,  // или клиент API
//	    Logger:    logger,
//	})
//
//	// Вызывается каждый тик (обычно раз в секунду)
//	if err := sched.Tick(ctx); err != nil {
//	    logger.Error("scheduler tick failed", "error", err)
//	}
//
// Leader Election:
//
// Scheduler не реализует leader election самостоятельно.
// Это делается в main.go через repo.TryLeaderLock.
// Метод Tick() вызывается только лидером.
package scheduler
