// Conveyor Scheduler — превращает расписания в выполнения workflow.
//
// Scheduler:
//   - Выбирает due-расписания из Postgres
//   - Запускает выполнения через Conveyor API
//   - Сдвигает next_due_at и отключает сломанные расписания
//
// Активен один экземпляр: лидер выбирается advisory-блокировкой
// Postgres, остальные реплики ждут её освобождения.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/conveyor/internal/cli"
	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/repo"
	"github.com/shaiso/conveyor/internal/scheduler"
	"github.com/shaiso/conveyor/internal/telemetry"
)

const tickInterval = time.Second

// apiStarter запускает выполнения через Conveyor API: планировщик
// не несёт движок, выполнение принадлежит серверу.
type apiStarter struct {
	client *cli.Client
}

// Start реализует scheduler.ExecutionStarter.
func (s *apiStarter) Start(ctx context.Context, workflowID string, inputs map[string]any) (*domain.Execution, error) {
	resp, err := s.client.StartExecution(ctx, workflowID, inputs)
	if err != nil {
		return nil, err
	}
	return &domain.Execution{
		ID:         resp.ID,
		WorkflowID: resp.WorkflowID,
		Status:     domain.ParseExecutionStatus(resp.Status),
	}, nil
}

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-scheduler")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	apiURL := os.Getenv("CONVEYOR_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}

	sched := scheduler.New(scheduler.Config{
		Schedules: repo.NewScheduleRepo(pool),
		Starter:   &apiStarter{client: cli.NewClient(apiURL)},
		Logger:    logger,
	})

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// scheduler loop
	go func() {
		tk := time.NewTicker(tickInterval)
		defer tk.Stop()

		var lock *repo.LeaderLock
		defer func() {
			lock.Release(context.Background())
		}()

		for {
			select {
			case <-tk.C:
				// Лидером становится первый, кто взял блокировку;
				// остальные реплики пробуют на каждом тике
				if lock == nil {
					l, err := repo.TryLeaderLock(ctx, pool, repo.SchedulerLeaderKey)
					if err != nil {
						logger.Warn("leader lock attempt failed", "error", err)
						continue
					}
					if l == nil {
						continue
					}
					lock = l
					logger.Info("became scheduler leader")
				}

				if err := sched.Tick(ctx); err != nil {
					logger.Error("tick failed", "error", err)
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	port := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
		port = ":" + v
	}

	logger.Info("listening", "addr", port)
	if err := http.ListenAndServe(port, mux); err != nil {
		logger.Error("http server error", "error", err)
		cancel()
	}
}
