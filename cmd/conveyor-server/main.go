// Conveyor Server — HTTP API и движок выполнения workflow в одном процессе.
//
// Server:
//   - Принимает определения workflow и запускает выполнения через HTTP API
//   - Выполняет шаги in-process (оркестратор поверх реестра плагинов)
//   - Зеркалирует выполнения, снимки и согласования в Postgres
//   - Публикует события выполнений и уведомления согласующим в RabbitMQ
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/conveyor/internal/api"
	"github.com/shaiso/conveyor/internal/approval"
	"github.com/shaiso/conveyor/internal/decision"
	"github.com/shaiso/conveyor/internal/mq"
	"github.com/shaiso/conveyor/internal/orchestrator"
	"github.com/shaiso/conveyor/internal/plugin"
	"github.com/shaiso/conveyor/internal/repo"
	"github.com/shaiso/conveyor/internal/state"
	"github.com/shaiso/conveyor/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_server_http_requests_total",
		Help: "Total HTTP requests handled by conveyor-server",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-server")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// База данных: определения, зеркала выполнений, снимки, согласования
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	workflowRepo := repo.NewWorkflowRepo(pool)
	executionRepo := repo.NewExecutionRepo(pool)
	checkpointRepo := repo.NewCheckpointRepo(pool)
	approvalRepo := repo.NewApprovalRepo(pool)
	scheduleRepo := repo.NewScheduleRepo(pool)

	// RabbitMQ: события выполнений и уведомления согласующим.
	// Недоступный брокер не мешает запуску сервера.
	var publisher *mq.Publisher
	mqConn, err := mq.NewConnection(mq.URLFromEnv(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, events and notifications disabled", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher = mq.NewPublisher(mqConn, logger)
		logger.Info("RabbitMQ connected")
	}

	metrics := telemetry.NewMetrics()

	trackerCfg := approval.Config{
		Interval: approvalPollInterval(logger),
		Store:    approvalRepo,
		Logger:   logger,
	}
	// Типизированный nil в интерфейсе пройдёт проверку != nil,
	// поэтому поля заполняются только при живом подключении
	if publisher != nil {
		trackerCfg.Notifier = mq.NewNotifier(publisher)
	}
	tracker := approval.NewTracker(trackerCfg)

	orchCfg := orchestrator.Config{
		Workflows:       workflowRepo,
		Plugins:         plugin.DefaultRegistry(logger),
		Decider:         decision.NewRuleProvider(nil, logger),
		Approvals:       tracker,
		State:           state.NewManager(checkpointRepo, logger),
		Store:           executionRepo,
		Metrics:         metrics,
		KeepCheckpoints: os.Getenv("CHECKPOINT_KEEP") == "true",
		Logger:          logger,
	}
	if publisher != nil {
		orchCfg.Events = publisher
	}
	orch := orchestrator.New(orchCfg)

	handler := api.NewHandler(api.Config{
		Engine:     orch,
		Approvals:  tracker,
		Workflows:  workflowRepo,
		Executions: executionRepo,
		Schedules:  scheduleRepo,
		Logger:     logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Прерывает фоновые выполнения и дожидается их горутин;
	// приостановленные выполнения восстановимы из снимков
	orch.Stop()
	logger.Info("stopped")
}

// approvalPollInterval читает APPROVAL_POLL_INTERVAL.
// Нулевое значение NewTracker заменяет на свой default.
func approvalPollInterval(logger *slog.Logger) time.Duration {
	v := os.Getenv("APPROVAL_POLL_INTERVAL")
	if v == "" {
		return 0
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn("invalid APPROVAL_POLL_INTERVAL, using default", "value", v, "error", err)
		return 0
	}
	return d
}
