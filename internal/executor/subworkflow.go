package executor

import (
	"context"
	"fmt"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// SubWorkflowExecutor выполняет шаг sub_workflow: собирает входы
// дочернего workflow из родительского контекста и запускает вложенное
// определение свежим вызовом оркестратора.
//
// Результат шага — map терминальных выходов дочернего выполнения.
// Глубина вложенности ограничена maxSubflowDepth.
type SubWorkflowExecutor struct {
	Subflows  SubflowRunner
	Workflows WorkflowLoader
}

func (e *SubWorkflowExecutor) Execute(ctx context.Context, step *domain.Step, ec *engine.ExecutionContext) (any, error) {
	if e.Subflows == nil {
		return nil, ErrNoSubflowRunner
	}
	cfg := step.SubWorkflow

	depth := ec.Depth() + 1
	if depth > maxSubflowDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds limit %d", ErrSubflowDepth, depth, maxSubflowDepth)
	}

	def := cfg.Definition
	if def == nil {
		if e.Workflows == nil {
			return nil, fmt.Errorf("sub_workflow %q: no workflow loader configured", cfg.WorkflowID)
		}
		loaded, err := e.Workflows.GetDefinition(ctx, cfg.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("load workflow %q: %w", cfg.WorkflowID, err)
		}
		def = loaded
	}

	// Ссылки во входах разрешаются в РОДИТЕЛЬСКОМ контексте.
	inputs, err := ec.ResolveParams(cfg.Inputs)
	if err != nil {
		return nil, err
	}

	return e.Subflows.RunChild(ctx, def, inputs, depth)
}
