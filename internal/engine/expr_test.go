package engine

import (
	"errors"
	"testing"
)

func exprContext() *ExecutionContext {
	ctx := NewContext("exec-1", testDefinition(), map[string]any{
		"count":  4.0,
		"name":   "alice",
		"active": true,
	})
	ctx.SetStepOutput("step1", &StepOutput{
		Data:    map[string]any{"total": 10.0, "status": "done"},
		Success: true,
	})
	return ctx
}

func TestEval_Arithmetic(t *testing.T) {
	ctx := exprContext()

	cases := []struct {
		expr string
		want any
	}{
		{"1 + 2", 3.0},
		{"2 * 3 + 4", 10.0},
		{"2 + 3 * 4", 14.0},
		{"(2 + 3) * 4", 20.0},
		{"10 / 4", 2.5},
		{"7 % 3", 1.0},
		{"-3 + 5", 2.0},
		{"{{input.count}} * 2", 8.0},
		{"{{step1.data.total}} - {{input.count}}", 6.0},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := ctx.Eval(tc.expr)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEval_Comparison(t *testing.T) {
	ctx := exprContext()

	cases := []struct {
		expr string
		want bool
	}{
		{"{{input.count}} > 3", true},
		{"{{input.count}} >= 4", true},
		{"{{input.count}} < 4", false},
		{"{{step1.data.status}} == 'done'", true},
		{"{{step1.data.status}} != 'done'", false},
		{"{{input.name}} == \"alice\"", true},
		{"'b' > 'a'", true},
		{"{{input.count}} == '4'", true},
		{"null == null", true},
		{"{{input.count}} != null", true},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := ctx.Eval(tc.expr)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEval_LogicalShortCircuit(t *testing.T) {
	ctx := exprContext()

	// Правый операнд не вычисляется: ссылка на невыполненный шаг
	// не должна уронить выражение
	got, err := ctx.Eval("false && {{step2.data.x}}")
	if err != nil {
		t.Fatalf("short-circuit failed: %v", err)
	}
	if got != false {
		t.Errorf("got %v, want false", got)
	}

	got, err = ctx.Eval("true || {{step2.data.x}}")
	if err != nil {
		t.Fatalf("short-circuit failed: %v", err)
	}
	if got != true {
		t.Errorf("got %v, want true", got)
	}

	// Без короткого замыкания ошибка всплывает
	if _, err := ctx.Eval("true && {{step2.data.x}}"); err == nil {
		t.Error("unexecuted step reference should fail when evaluated")
	}
}

func TestEval_StringConcat(t *testing.T) {
	ctx := exprContext()

	got, err := ctx.Eval("'hello ' + {{input.name}}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello alice" {
		t.Errorf("got %q", got)
	}

	// Число подклеивается текстом
	got, err = ctx.Eval("'total: ' + {{step1.data.total}}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "total: 10" {
		t.Errorf("got %q", got)
	}
}

func TestEval_Unary(t *testing.T) {
	ctx := exprContext()

	if got, _ := ctx.Eval("!{{input.active}}"); got != false {
		t.Errorf("!true = %v", got)
	}
	if got, _ := ctx.Eval("!false"); got != true {
		t.Errorf("!false = %v", got)
	}
}

func TestEval_BarePathsResolve(t *testing.T) {
	ctx := exprContext()

	// Голые пути работают как ссылки
	got, err := ctx.Eval("input.count > 3 && step1.data.status == 'done'")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != true {
		t.Errorf("got %v", got)
	}
}

func TestEval_Errors(t *testing.T) {
	ctx := exprContext()

	if _, err := ctx.Eval("1 / 0"); !errors.Is(err, ErrExpression) {
		t.Errorf("division by zero should fail with ErrExpression: %v", err)
	}
	if _, err := ctx.Eval("'a' - 2"); !errors.Is(err, ErrExpression) {
		t.Errorf("string arithmetic should fail: %v", err)
	}
	if _, err := ctx.Eval("1 +"); !errors.Is(err, ErrExpression) {
		t.Errorf("truncated expression should fail: %v", err)
	}
	if _, err := ctx.Eval("{{missing.root}} + 1"); !errors.Is(err, ErrVariableResolution) {
		t.Errorf("unknown root should surface resolution error: %v", err)
	}
}

func TestEvalCondition_Coercion(t *testing.T) {
	ctx := exprContext()
	ctx.SetVar("flagText", "true")
	ctx.SetVar("zero", 0.0)
	ctx.SetVar("label", "production")

	cases := []struct {
		expr    string
		want    bool
		wantErr bool
	}{
		{"{{input.active}}", true, false},
		{"{{input.count}} > 10", false, false},
		{"{{var.flagText}}", true, false},
		{"{{var.zero}}", false, false},
		{"null", false, false},
		{"{{var.label}}", false, true},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := ctx.EvalCondition(tc.expr)
			if tc.wantErr {
				if !errors.Is(err, ErrNotBoolean) {
					t.Fatalf("expected ErrNotBoolean, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}
