package executor

import (
	"context"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// ActionExecutor выполняет шаг action: разрешает ссылки в параметрах
// и вызывает операцию плагина.
type ActionExecutor struct {
	Plugins PluginInvoker
}

func (e *ActionExecutor) Execute(ctx context.Context, step *domain.Step, ec *engine.ExecutionContext) (any, error) {
	if e.Plugins == nil {
		return nil, ErrNoPluginInvoker
	}
	cfg := step.Action

	params, err := ec.ResolveParams(cfg.Params)
	if err != nil {
		return nil, err
	}

	return e.Plugins.Invoke(ctx, cfg.Plugin, cfg.Operation, params)
}
