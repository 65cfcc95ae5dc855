package engine

import (
	"testing"

	"github.com/shaiso/conveyor/internal/domain"
)

func testDefinition() *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:   "wf-test",
		Name: "test",
		Steps: []domain.Step{
			{ID: "step1", Type: domain.StepTypeAction, Action: &domain.ActionConfig{Plugin: "log", Operation: "info"}},
			{ID: "step2", Type: domain.StepTypeAction, Action: &domain.ActionConfig{Plugin: "log", Operation: "info"}, DependsOn: []string{"step1"}},
		},
	}
}

func TestScope_LayeredLookup(t *testing.T) {
	root := NewScope()
	root.Set("a", 1)
	root.Set("b", "root")

	child := root.Clone()
	child.Set("b", "child")
	child.Set("c", true)

	// Чтение поднимается по цепочке слоёв
	if v, ok := child.Get("a"); !ok || v != 1 {
		t.Errorf("expected a=1 from parent, got %v", v)
	}
	// Верхний слой перекрывает нижний
	if v, _ := child.Get("b"); v != "child" {
		t.Errorf("expected b=child, got %v", v)
	}
	// Записи клона не видны родителю
	if _, ok := root.Get("c"); ok {
		t.Error("c should not leak into parent scope")
	}
	if v, _ := root.Get("b"); v != "root" {
		t.Errorf("parent b should stay root, got %v", v)
	}
}

func TestScope_Flatten(t *testing.T) {
	root := NewScope()
	root.Set("a", 1)
	root.Set("b", 2)
	child := root.Clone()
	child.Set("b", 3)

	flat := child.Flatten()
	if len(flat) != 2 {
		t.Fatalf("expected 2 visible variables, got %d", len(flat))
	}
	if flat["b"] != 3 {
		t.Errorf("flatten should prefer top layer, got b=%v", flat["b"])
	}
}

func TestExecutionContext_CloneIsolation(t *testing.T) {
	ctx := NewContext("exec-1", testDefinition(), map[string]any{"x": 1.0})
	ctx.SetStepOutput("step1", &StepOutput{Data: "parent", Success: true})
	ctx.SetVar("shared", "original")

	clone := ctx.Clone()
	clone.SetStepOutput("inner", &StepOutput{Data: "clone", Success: true})
	clone.SetVar("shared", "shadowed")
	clone.SetVar("local", 42)

	// Клон видит результаты родителя
	if _, ok := clone.StepOutput("step1"); !ok {
		t.Error("clone should see parent step output")
	}
	// Записи клона не протекают в родителя
	if _, ok := ctx.StepOutput("inner"); ok {
		t.Error("clone output leaked into parent")
	}
	if v, _ := ctx.Var("shared"); v != "original" {
		t.Errorf("parent variable mutated by clone: %v", v)
	}
	if _, ok := ctx.Var("local"); ok {
		t.Error("clone variable leaked into parent")
	}
	if v, _ := clone.Var("shared"); v != "shadowed" {
		t.Errorf("clone should see its own shadowed value, got %v", v)
	}
}

func TestExecutionContext_BindItem(t *testing.T) {
	ctx := NewContext("exec-1", testDefinition(), nil)
	clone := ctx.Clone()
	clone.BindItem("email", "a@example.com", 2)

	item, index, ok := clone.Item()
	if !ok {
		t.Fatal("expected active binding")
	}
	if item != "a@example.com" || index != 2 {
		t.Errorf("unexpected binding: %v at %d", item, index)
	}
	// Привязка доступна и по имени переменной
	if v, _ := clone.Var("email"); v != "a@example.com" {
		t.Errorf("item variable not set: %v", v)
	}
	// Родитель без привязки
	if _, _, ok := ctx.Item(); ok {
		t.Error("parent should have no binding")
	}
}

func TestRestoreContext_RoundTrip(t *testing.T) {
	def := testDefinition()
	ctx := NewContext("exec-1", def, map[string]any{"region": "eu"})
	ctx.SetStepOutput("step1", &StepOutput{
		Data:            map[string]any{"items": []any{1.0, 2.0}},
		Success:         true,
		ExecutionTimeMs: 12,
	})
	ctx.SetVar("counter", 5.0)

	cp := &domain.Checkpoint{
		ExecutionID: "exec-1",
		Status:      domain.ExecutionPaused,
		Inputs:      ctx.Inputs(),
		StepOutputs: ctx.OutputSnapshot(),
		Variables:   ctx.Variables(),
	}

	restored := RestoreContext("exec-1", def, cp)

	if restored.Status() != domain.ExecutionPaused {
		t.Errorf("expected paused status, got %s", restored.Status())
	}
	out, ok := restored.StepOutput("step1")
	if !ok {
		t.Fatal("step1 output missing after restore")
	}
	if !out.Success || out.ExecutionTimeMs != 12 {
		t.Errorf("output fields lost: %+v", out)
	}
	data, ok := out.Data.(map[string]any)
	if !ok {
		t.Fatalf("data shape lost: %T", out.Data)
	}
	items, ok := data["items"].([]any)
	if !ok || len(items) != 2 {
		t.Errorf("nested items lost: %v", data["items"])
	}
	if v, _ := restored.Var("counter"); v != 5.0 {
		t.Errorf("variable lost: %v", v)
	}
}

func TestNormalize_StructToJSONForms(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	v := Normalize(payload{Name: "x", Count: 3})
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", v)
	}
	if m["name"] != "x" || m["count"] != 3.0 {
		t.Errorf("unexpected normalized value: %v", m)
	}

	// Формы JSON проходят без изменений
	arr := []any{1.0, "a"}
	got, ok := Normalize(arr).([]any)
	if !ok || len(got) != 2 {
		t.Errorf("json form should pass through, got %v", got)
	}
}

func TestStringify(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{true, "true"},
		{3.0, "3"},
		{3.5, "3.5"},
		{42, "42"},
	}
	for _, tc := range cases {
		if got := Stringify(tc.in); got != tc.want {
			t.Errorf("Stringify(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
