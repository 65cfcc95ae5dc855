package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

func transformStep(cfg *domain.TransformConfig) domain.Step {
	return domain.Step{ID: "tr1", Type: domain.StepTypeTransform, Transform: cfg}
}

// transformContext кладёт массив заказов в переменную orders.
func transformContext(t *testing.T) *engine.ExecutionContext {
	t.Helper()
	ec := testContext(nil, nil)
	ec.SetVar("orders", []any{
		map[string]any{"id": "o1", "amount": 120.0, "region": "eu"},
		map[string]any{"id": "o2", "amount": 40.0, "region": "us"},
		map[string]any{"id": "o3", "amount": 80.0, "region": "eu"},
	})
	return ec
}

func runTransform(t *testing.T, ec *engine.ExecutionContext, cfg *domain.TransformConfig) map[string]any {
	t.Helper()
	step := transformStep(cfg)
	exec := &TransformExecutor{}
	data, err := exec.Execute(context.Background(), &step, ec)
	if err != nil {
		t.Fatalf("transform %s failed: %v", cfg.Operation, err)
	}
	return data.(map[string]any)
}

func TestTransformExecutor_Map(t *testing.T) {
	ec := transformContext(t)
	out := runTransform(t, ec, &domain.TransformConfig{
		Operation:  domain.TransformMap,
		Input:      "{{orders}}",
		Expression: "{{item.amount}} * 2",
	})

	items := out["items"].([]any)
	if out["count"] != 3 || len(items) != 3 {
		t.Fatalf("expected 3 items, got %#v", out)
	}
	if items[0] != 240.0 || items[1] != 80.0 || items[2] != 160.0 {
		t.Errorf("expected doubled amounts, got %v", items)
	}
}

func TestTransformExecutor_Filter(t *testing.T) {
	ec := transformContext(t)
	out := runTransform(t, ec, &domain.TransformConfig{
		Operation:  domain.TransformFilter,
		Input:      "{{orders}}",
		Expression: "{{item.amount}} >= 80",
	})

	items := out["items"].([]any)
	if len(items) != 2 || out["count"] != 2 || out["removed"] != 1 {
		t.Fatalf("expected 2 kept / 1 removed, got %#v", out)
	}
	first := items[0].(map[string]any)
	if first["id"] != "o1" {
		t.Errorf("filter must preserve order, got %v", first["id"])
	}
}

func TestTransformExecutor_SortByField(t *testing.T) {
	ec := transformContext(t)
	out := runTransform(t, ec, &domain.TransformConfig{
		Operation: domain.TransformSort,
		Input:     "{{orders}}",
		Field:     "amount",
	})

	items := out["items"].([]any)
	ids := []string{}
	for _, it := range items {
		ids = append(ids, it.(map[string]any)["id"].(string))
	}
	if ids[0] != "o2" || ids[1] != "o3" || ids[2] != "o1" {
		t.Errorf("expected ascending by amount [o2 o3 o1], got %v", ids)
	}
}

func TestTransformExecutor_SortDescByExpression(t *testing.T) {
	ec := transformContext(t)
	out := runTransform(t, ec, &domain.TransformConfig{
		Operation:  domain.TransformSort,
		Input:      "{{orders}}",
		Expression: "{{item.amount}}",
		Order:      "desc",
	})

	items := out["items"].([]any)
	first := items[0].(map[string]any)
	if first["id"] != "o1" {
		t.Errorf("expected o1 first in desc order, got %v", first["id"])
	}
}

func TestTransformExecutor_Group(t *testing.T) {
	ec := transformContext(t)
	out := runTransform(t, ec, &domain.TransformConfig{
		Operation: domain.TransformGroup,
		Input:     "{{orders}}",
		Field:     "region",
	})

	groups := out["groups"].(map[string]any)
	if out["count"] != 2 {
		t.Fatalf("expected 2 groups, got %v", out["count"])
	}
	eu := groups["eu"].([]any)
	us := groups["us"].([]any)
	if len(eu) != 2 || len(us) != 1 {
		t.Errorf("expected eu=2 us=1, got eu=%d us=%d", len(eu), len(us))
	}
}

func TestTransformExecutor_Reduce(t *testing.T) {
	ec := transformContext(t)
	out := runTransform(t, ec, &domain.TransformConfig{
		Operation:  domain.TransformReduce,
		Input:      "{{orders}}",
		Expression: "{{acc}} + {{item.amount}}",
		Initial:    0,
	})

	if out["result"] != 240.0 {
		t.Errorf("expected total 240, got %v", out["result"])
	}
}

func TestTransformExecutor_ReduceWithoutInitial(t *testing.T) {
	// Без initial аккумулятором становится первый элемент
	ec := testContext(nil, nil)
	ec.SetVar("nums", []any{10.0, 20.0, 30.0})

	out := runTransform(t, ec, &domain.TransformConfig{
		Operation:  domain.TransformReduce,
		Input:      "{{nums}}",
		Expression: "{{acc}} + {{item}}",
	})

	if out["result"] != 60.0 {
		t.Errorf("expected 60, got %v", out["result"])
	}
}

func TestTransformExecutor_Dedupe(t *testing.T) {
	ec := testContext(nil, nil)
	ec.SetVar("tags", []any{"go", "sql", "go", "amqp", "sql"})

	out := runTransform(t, ec, &domain.TransformConfig{
		Operation: domain.TransformDedupe,
		Input:     "{{tags}}",
	})

	items := out["items"].([]any)
	if len(items) != 3 || out["removed"] != 2 {
		t.Fatalf("expected 3 unique / 2 removed, got %#v", out)
	}
	if items[0] != "go" || items[1] != "sql" || items[2] != "amqp" {
		t.Errorf("dedupe must keep first occurrence order, got %v", items)
	}
}

func TestTransformExecutor_DedupeByField(t *testing.T) {
	ec := transformContext(t)
	out := runTransform(t, ec, &domain.TransformConfig{
		Operation: domain.TransformDedupe,
		Input:     "{{orders}}",
		Field:     "region",
	})

	items := out["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected one order per region, got %d", len(items))
	}
	if items[0].(map[string]any)["id"] != "o1" {
		t.Errorf("first eu order should survive, got %v", items[0])
	}
}

func TestTransformExecutor_InputNotArray(t *testing.T) {
	ec := testContext(nil, nil)
	ec.SetVar("scalar", 42)

	step := transformStep(&domain.TransformConfig{
		Operation:  domain.TransformMap,
		Input:      "{{scalar}}",
		Expression: "{{item}}",
	})
	exec := &TransformExecutor{}
	_, err := exec.Execute(context.Background(), &step, ec)
	if !errors.Is(err, ErrNotArray) {
		t.Errorf("expected ErrNotArray, got %v", err)
	}
}

func TestTransformExecutor_EmptyInput(t *testing.T) {
	ec := testContext(nil, nil)
	ec.SetVar("empty", []any{})

	out := runTransform(t, ec, &domain.TransformConfig{
		Operation:  domain.TransformFilter,
		Input:      "{{empty}}",
		Expression: "{{item}} > 0",
	})
	if out["count"] != 0 || out["removed"] != 0 {
		t.Errorf("empty input should produce empty result, got %#v", out)
	}
}
