package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/conveyor/internal/domain"
)

func actionStep(id string, deps ...string) domain.Step {
	return domain.Step{
		ID:        id,
		Type:      domain.StepTypeAction,
		DependsOn: deps,
		Action:    &domain.ActionConfig{Plugin: "log", Operation: "info"},
	}
}

func TestBuildGraph_SimpleChain(t *testing.T) {
	steps := []domain.Step{
		actionStep("A"),
		actionStep("B", "A"),
		actionStep("C", "B"),
	}

	g, err := BuildGraph(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.Size())
	}
	if len(g.RootNodes) != 1 || g.RootNodes[0].ID != "A" {
		t.Errorf("expected single root A")
	}

	nodeB := g.GetNode("B")
	if len(nodeB.DependsOn) != 1 || nodeB.DependsOn[0].ID != "A" {
		t.Error("node B should depend on A")
	}
}

func TestBuildGraph_Diamond(t *testing.T) {
	// A → B → D
	// A → C → D
	steps := []domain.Step{
		actionStep("A"),
		actionStep("B", "A"),
		actionStep("C", "A"),
		actionStep("D", "B", "C"),
	}

	g, err := BuildGraph(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.GetNode("D").InDegree != 2 {
		t.Errorf("D should have inDegree 2, got %d", g.GetNode("D").InDegree)
	}
	if g.GetNode("A").InDegree != 0 {
		t.Error("A should have inDegree 0")
	}
}

func TestBuildGraph_ImplicitRouterEdges(t *testing.T) {
	steps := []domain.Step{
		actionStep("fetch"),
		{
			ID:        "route",
			Type:      domain.StepTypeConditional,
			DependsOn: []string{"fetch"},
			Conditional: &domain.ConditionalConfig{
				Condition:   "{{fetch.data.ok}}",
				TrueBranch:  []string{"notify"},
				FalseBranch: []string{"cleanup"},
			},
		},
		actionStep("notify"),
		actionStep("cleanup"),
	}

	g, err := BuildGraph(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Цели ветвления получают неявное ребро от маршрутизатора
	notify := g.GetNode("notify")
	if len(notify.DependsOn) != 1 || notify.DependsOn[0].ID != "route" {
		t.Errorf("notify should depend on route, got %v", notify.DependsOn)
	}

	// Без результата маршрутизатора цели не готовы
	recorded := map[string]bool{"fetch": true}
	ready := g.GetReadyNodes(recorded, map[string]bool{"fetch": true}, nil)
	if len(ready) != 1 || ready[0].ID != "route" {
		ids := make([]string, 0, len(ready))
		for _, n := range ready {
			ids = append(ids, n.ID)
		}
		t.Errorf("only route should be ready, got %v", ids)
	}
}

func TestBuildGraph_DuplicateBranchAndDependency(t *testing.T) {
	// Явная зависимость дублирует неявное ребро: InDegree не задваивается
	steps := []domain.Step{
		{
			ID:   "route",
			Type: domain.StepTypeSwitch,
			Switch: &domain.SwitchConfig{
				Expression: "{{input.tier}}",
				Cases:      map[string][]string{"pro": {"upgrade"}},
			},
		},
		actionStep("upgrade", "route"),
	}

	g, err := BuildGraph(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.GetNode("upgrade").InDegree != 1 {
		t.Errorf("duplicate edge counted twice: inDegree=%d", g.GetNode("upgrade").InDegree)
	}
}

func TestBuildGraph_CycleDetected(t *testing.T) {
	steps := []domain.Step{
		actionStep("A", "C"),
		actionStep("B", "A"),
		actionStep("C", "B"),
	}

	_, err := BuildGraph(steps)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestBuildGraph_UnknownDependency(t *testing.T) {
	steps := []domain.Step{
		actionStep("A", "ghost"),
	}

	_, err := BuildGraph(steps)
	if !errors.Is(err, ErrMissingDependency) {
		t.Errorf("expected ErrMissingDependency, got %v", err)
	}
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T", err)
	}
	if cfgErr.StepID != "A" {
		t.Errorf("error should name step A, got %s", cfgErr.StepID)
	}
}

func TestGetReadyNodes_Waves(t *testing.T) {
	steps := []domain.Step{
		actionStep("A"),
		actionStep("B", "A"),
		actionStep("C", "A"),
		actionStep("D", "B", "C"),
	}

	g, err := BuildGraph(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recorded := map[string]bool{}
	done := map[string]bool{}
	running := map[string]bool{}

	// Волна 1: только A
	ready := g.GetReadyNodes(recorded, done, running)
	if len(ready) != 1 || ready[0].ID != "A" {
		t.Fatalf("wave 1 should be [A]")
	}

	recorded["A"] = true
	done["A"] = true

	// Волна 2: B и C одновременно
	ready = g.GetReadyNodes(recorded, done, running)
	if len(ready) != 2 {
		t.Fatalf("wave 2 should have 2 nodes, got %d", len(ready))
	}

	// D не готов, пока записан только B
	recorded["B"] = true
	done["B"] = true
	running["C"] = true
	ready = g.GetReadyNodes(recorded, done, running)
	if len(ready) != 0 {
		t.Errorf("D must wait for every dependency, got %d ready", len(ready))
	}

	recorded["C"] = true
	done["C"] = true
	delete(running, "C")
	ready = g.GetReadyNodes(recorded, done, running)
	if len(ready) != 1 || ready[0].ID != "D" {
		t.Errorf("wave 3 should be [D]")
	}

	done["D"] = true
	if !g.IsComplete(done) {
		t.Error("graph should be complete")
	}
}

func TestGetReadyNodes_SkippedDependencyBlocksForever(t *testing.T) {
	steps := []domain.Step{
		actionStep("A"),
		actionStep("B", "A"),
	}
	g, _ := BuildGraph(steps)

	// A пропущен: done без recorded
	recorded := map[string]bool{}
	done := map[string]bool{"A": true}

	ready := g.GetReadyNodes(recorded, done, nil)
	if len(ready) != 0 {
		t.Error("dependent of a skipped step must never become ready")
	}

	// Каскад пропуска делает оркестратор через Dependents
	if len(g.GetNode("A").Dependents) != 1 || g.GetNode("A").Dependents[0].ID != "B" {
		t.Error("dependents of A should be [B]")
	}
}
