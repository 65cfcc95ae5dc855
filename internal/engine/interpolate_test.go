package engine

import (
	"reflect"
	"testing"
)

func interpolateContext() *ExecutionContext {
	ctx := NewContext("exec-1", testDefinition(), map[string]any{
		"name":  "alice",
		"count": 3.0,
	})
	ctx.SetStepOutput("step1", &StepOutput{
		Data: map[string]any{
			"items": []any{"a", "b"},
			"total": 2.0,
			"note":  `say "hi"`,
		},
		Success: true,
	})
	return ctx
}

func TestInterpolate_NoReferencePassesThrough(t *testing.T) {
	ctx := interpolateContext()
	got, err := ctx.Interpolate("plain text, no references")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "plain text, no references" {
		t.Errorf("passthrough broken: %v", got)
	}
}

func TestInterpolate_WholeReferenceKeepsNativeType(t *testing.T) {
	ctx := interpolateContext()

	got, err := ctx.Interpolate("{{step1.data.items}}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arr, ok := got.([]any)
	if !ok {
		t.Fatalf("expected native array, got %T", got)
	}
	if !reflect.DeepEqual(arr, []any{"a", "b"}) {
		t.Errorf("unexpected value: %v", arr)
	}

	// Число остаётся числом
	if v, _ := ctx.Interpolate("{{step1.data.total}}"); v != 2.0 {
		t.Errorf("expected 2.0, got %v (%T)", v, v)
	}
}

func TestInterpolate_EmbeddedInsideJSONLiteral(t *testing.T) {
	ctx := interpolateContext()
	ctx.SetVar("a", "x")

	// Составной литерал с одиночной ссылкой внутри кавычек
	// разбирается в массив, а не остаётся строкой
	got, err := ctx.Interpolate(`["{{a}}"]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arr, ok := got.([]any)
	if !ok {
		t.Fatalf("expected parsed array, got %T: %v", got, got)
	}
	if !reflect.DeepEqual(arr, []any{"x"}) {
		t.Errorf("expected [x], got %v", arr)
	}
}

func TestInterpolate_EmbeddedOutsideQuotes(t *testing.T) {
	ctx := interpolateContext()

	// Ссылка вне кавычек кодируется как JSON-значение
	got, err := ctx.Interpolate(`{"items": {{step1.data.items}}, "n": {{input.count}}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected parsed object, got %T", got)
	}
	if !reflect.DeepEqual(m["items"], []any{"a", "b"}) {
		t.Errorf("items corrupted: %v", m["items"])
	}
	if m["n"] != 3.0 {
		t.Errorf("n corrupted: %v", m["n"])
	}
}

func TestInterpolate_EscapesQuotesInsideStringLiteral(t *testing.T) {
	ctx := interpolateContext()

	// Значение с кавычками не ломает внешний литерал
	got, err := ctx.Interpolate(`{"msg": "{{step1.data.note}}"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected parsed object, got %T: %v", got, got)
	}
	if m["msg"] != `say "hi"` {
		t.Errorf("quotes corrupted: %q", m["msg"])
	}
}

func TestInterpolate_ProseFallsBackToSubstitution(t *testing.T) {
	ctx := interpolateContext()

	got, err := ctx.Interpolate("Hello {{input.name}}, you have {{step1.data.total}} items")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Hello alice, you have 2 items" {
		t.Errorf("unexpected substitution: %v", got)
	}
}

func TestInterpolate_WholeExpressionEvaluates(t *testing.T) {
	ctx := interpolateContext()

	got, err := ctx.Interpolate("{{input.count * 2}}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 6.0 {
		t.Errorf("expected 6, got %v", got)
	}
}

func TestInterpolate_UnresolvableReferenceFails(t *testing.T) {
	ctx := interpolateContext()

	if _, err := ctx.Interpolate("{{step1.data.missing}}"); err == nil {
		t.Error("whole-reference miss should fail")
	}
	if _, err := ctx.Interpolate(`["{{nowhere.at.all}}"]`); err == nil {
		t.Error("embedded miss should fail")
	}
}

func TestResolveParams_DeepWalk(t *testing.T) {
	ctx := interpolateContext()

	params := map[string]any{
		"to":    "{{input.name}}",
		"batch": []any{"{{step1.data.total}}", "literal"},
		"meta":  map[string]any{"count": "{{input.count}}"},
		"flag":  true,
	}
	resolved, err := ctx.ResolveParams(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved["to"] != "alice" {
		t.Errorf("to = %v", resolved["to"])
	}
	batch := resolved["batch"].([]any)
	if batch[0] != 2.0 || batch[1] != "literal" {
		t.Errorf("batch = %v", batch)
	}
	meta := resolved["meta"].(map[string]any)
	if meta["count"] != 3.0 {
		t.Errorf("meta.count = %v", meta["count"])
	}
	if resolved["flag"] != true {
		t.Errorf("non-string values must pass through")
	}
}

func TestInsideJSONQuotes(t *testing.T) {
	s := `{"a": "x {{r}}", "b": {{r}}}`
	posInside := 10  // внутри "x {{r}}"
	posOutside := 22 // значение b

	if !insideJSONQuotes(s, posInside) {
		t.Error("position inside string literal not detected")
	}
	if insideJSONQuotes(s, posOutside) {
		t.Error("position outside string literal misdetected")
	}
}
