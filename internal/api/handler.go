package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/approval"
	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/repo"
)

// Engine — операции оркестратора, нужные API.
// Реализуется orchestrator.Orchestrator.
type Engine interface {
	Start(ctx context.Context, workflowID string, inputs map[string]any) (*domain.Execution, error)
	Get(executionID string) (*domain.Execution, error)
	List() []*domain.Execution
	Resume(ctx context.Context, executionID string) (*domain.Execution, error)
	Fail(ctx context.Context, executionID, reason string) error
}

// WorkflowStore — хранилище определений workflow.
// Реализуется repo.WorkflowRepo.
type WorkflowStore interface {
	Save(ctx context.Context, def *domain.WorkflowDefinition) error
	GetDefinition(ctx context.Context, workflowID string) (*domain.WorkflowDefinition, error)
	GetVersion(ctx context.Context, workflowID string, version int) (*domain.WorkflowDefinition, error)
	List(ctx context.Context) ([]domain.WorkflowDefinition, error)
	Delete(ctx context.Context, workflowID string) error
}

// ExecutionReader читает зеркалированные записи выполнений.
// Реализуется repo.ExecutionRepo. Опционален: без него API видит
// только выполнения в памяти оркестратора.
type ExecutionReader interface {
	GetByID(ctx context.Context, id string) (*domain.Execution, error)
	List(ctx context.Context, filter repo.ExecutionFilter) ([]domain.Execution, error)
}

// ScheduleStore — хранилище расписаний. Реализуется repo.ScheduleRepo.
type ScheduleStore interface {
	Create(ctx context.Context, schedule *domain.Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	List(ctx context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error)
	Update(ctx context.Context, schedule *domain.Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	engine     Engine
	approvals  *approval.Tracker
	workflows  WorkflowStore
	executions ExecutionReader
	schedules  ScheduleStore
	logger     *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Engine     Engine
	Approvals  *approval.Tracker
	Workflows  WorkflowStore
	Executions ExecutionReader
	Schedules  ScheduleStore
	Logger     *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:     cfg.Engine,
		approvals:  cfg.Approvals,
		workflows:  cfg.Workflows,
		executions: cfg.Executions,
		schedules:  cfg.Schedules,
		logger:     logger.With("component", "api"),
	}
}
