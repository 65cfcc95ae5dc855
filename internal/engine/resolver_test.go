package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shaiso/conveyor/internal/domain"
)

func resolverContext() *ExecutionContext {
	ctx := NewContext("exec-1", testDefinition(), map[string]any{
		"region": "eu",
		"limits": map[string]any{"max": 10.0},
	})
	ctx.SetStepOutput("step1", &StepOutput{
		Data: map[string]any{
			"values": []any{1.0, 2.0, 3.0},
			"user":   map[string]any{"name": "alice"},
		},
		Success:         true,
		ExecutionTimeMs: 7,
	})
	return ctx
}

func TestResolve_StepOutputEqualsStored(t *testing.T) {
	ctx := resolverContext()

	got, err := ctx.Resolve("{{step1.data.values}}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []any{1.0, 2.0, 3.0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("resolved %v, want stored %v", got, want)
	}

	// Поля записи доступны напрямую
	if v, err := ctx.Resolve("{{step1.success}}"); err != nil || v != true {
		t.Errorf("step1.success = %v (%v)", v, err)
	}
}

func TestResolve_UnexecutedStepFails(t *testing.T) {
	ctx := resolverContext()

	// step2 объявлен, но ещё не выполнялся
	_, err := ctx.Resolve("{{step2.data}}")
	if err == nil {
		t.Fatal("expected error for unexecuted step")
	}
	if !errors.Is(err, ErrVariableResolution) {
		t.Errorf("error should wrap ErrVariableResolution: %v", err)
	}
	var stepErr *UnresolvedStepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected UnresolvedStepError, got %T", err)
	}
	if stepErr.StepID != "step2" {
		t.Errorf("error should name step2, got %s", stepErr.StepID)
	}
}

func TestResolve_InputRoot(t *testing.T) {
	ctx := resolverContext()

	if v, err := ctx.Resolve("input.region"); err != nil || v != "eu" {
		t.Errorf("input.region = %v (%v)", v, err)
	}
	if v, err := ctx.Resolve("{{input.limits.max}}"); err != nil || v != 10.0 {
		t.Errorf("input.limits.max = %v (%v)", v, err)
	}
}

func TestResolve_NoBareInputFallback(t *testing.T) {
	ctx := resolverContext()

	// Входы доступны только через корень input
	_, err := ctx.Resolve("{{region}}")
	if err == nil {
		t.Fatal("bare input name should not resolve")
	}
	var rootErr *UnknownVariableRootError
	if !errors.As(err, &rootErr) {
		t.Fatalf("expected UnknownVariableRootError, got %T", err)
	}
	if rootErr.Root != "region" {
		t.Errorf("error should name the root, got %s", rootErr.Root)
	}
}

func TestResolve_VarRoot(t *testing.T) {
	ctx := resolverContext()
	ctx.SetVar("user", map[string]any{"id": "u-1"})

	if v, err := ctx.Resolve("{{var.user.id}}"); err != nil || v != "u-1" {
		t.Errorf("var.user.id = %v (%v)", v, err)
	}
	// Имя переменной работает и как корень
	if v, err := ctx.Resolve("{{user.id}}"); err != nil || v != "u-1" {
		t.Errorf("user.id = %v (%v)", v, err)
	}
}

func TestResolve_ItemBinding(t *testing.T) {
	ctx := resolverContext().Clone()
	ctx.BindItem("email", map[string]any{"to": "a@example.com"}, 1)

	cases := []struct {
		ref  string
		want any
	}{
		{"{{item.to}}", "a@example.com"},
		{"{{current.to}}", "a@example.com"},
		{"{{email.to}}", "a@example.com"},
		{"{{loop.index}}", 1.0},
		{"{{loop.item.to}}", "a@example.com"},
	}
	for _, tc := range cases {
		got, err := ctx.Resolve(tc.ref)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.ref, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s = %v, want %v", tc.ref, got, tc.want)
		}
	}
}

func TestResolve_ArrayIndex(t *testing.T) {
	ctx := resolverContext()

	if v, err := ctx.Resolve("{{step1.data.values[1]}}"); err != nil || v != 2.0 {
		t.Errorf("values[1] = %v (%v)", v, err)
	}
	// Точечная форма индекса
	if v, err := ctx.Resolve("{{step1.data.values.0}}"); err != nil || v != 1.0 {
		t.Errorf("values.0 = %v (%v)", v, err)
	}

	_, err := ctx.Resolve("{{step1.data.values[9]}}")
	var pathErr *UnresolvedPathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("expected UnresolvedPathError for out of range, got %v", err)
	}
}

func TestResolve_MissingSegment(t *testing.T) {
	ctx := resolverContext()

	_, err := ctx.Resolve("{{step1.data.missing.deep}}")
	if !errors.Is(err, ErrVariableResolution) {
		t.Fatalf("expected resolution error, got %v", err)
	}
	var pathErr *UnresolvedPathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("expected UnresolvedPathError, got %T", err)
	}
	if pathErr.Segment != "missing" {
		t.Errorf("error should name the missing segment, got %s", pathErr.Segment)
	}
}

func TestResolve_ScatterCloneSeesParentButNotSiblings(t *testing.T) {
	parent := resolverContext()

	cloneA := parent.Clone()
	cloneA.RegisterStep("send")
	cloneA.SetStepOutput("send", &StepOutput{Data: "a", Success: true})

	cloneB := parent.Clone()
	cloneB.RegisterStep("send")

	// Клон видит результаты родителя
	if _, err := cloneA.Resolve("{{step1.data.values}}"); err != nil {
		t.Errorf("clone should resolve parent output: %v", err)
	}
	// Запись клона A не видна ни родителю, ни клону B
	if _, ok := parent.StepOutput("send"); ok {
		t.Error("clone output leaked into parent")
	}
	if _, err := cloneB.Resolve("{{send.data}}"); err == nil {
		t.Error("sibling clone should not see another clone's output")
	}
}

func TestSplitPath(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a.b.c", []string{"a", "b", "c"}},
		{"a.b[0].c", []string{"a", "b", "0", "c"}},
		{"a[1][2]", []string{"a", "1", "2"}},
		{"step1", []string{"step1"}},
	}
	for _, tc := range cases {
		got, err := splitPath(tc.in)
		if err != nil {
			t.Errorf("splitPath(%q): %v", tc.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitPath(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := splitPath("a..b"); err == nil {
		t.Error("empty segment should fail")
	}
}

func TestResolve_StatusInvariant(t *testing.T) {
	// Контекст создаётся в работе и меняет статус явно
	ctx := NewContext("exec-1", testDefinition(), nil)
	if ctx.Status() != domain.ExecutionRunning {
		t.Errorf("new context should be running, got %s", ctx.Status())
	}
	ctx.SetStatus(domain.ExecutionPaused)
	if ctx.Status() != domain.ExecutionPaused {
		t.Errorf("status not updated")
	}
}
