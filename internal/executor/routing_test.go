package executor

import (
	"context"
	"testing"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

func routingContext(t *testing.T, steps []domain.Step, inputs map[string]any) *engine.ExecutionContext {
	t.Helper()
	ec := testContext(steps, inputs)
	ec.SetStepOutput("fetch", &engine.StepOutput{
		Data:    map[string]any{"count": 5.0, "level": "high"},
		Success: true,
	})
	return ec
}

func TestConditionalExecutor_TrueBranch(t *testing.T) {
	step := domain.Step{
		ID:   "cond1",
		Type: domain.StepTypeConditional,
		Conditional: &domain.ConditionalConfig{
			Condition:   "{{fetch.data.count}} > 3",
			TrueBranch:  []string{"s1", "s2"},
			FalseBranch: []string{"s3"},
		},
	}
	ec := routingContext(t, nil, nil)

	exec := &ConditionalExecutor{}
	data, err := exec.Execute(context.Background(), &step, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := data.(map[string]any)
	if out["matched"] != true {
		t.Errorf("expected matched=true, got %v", out["matched"])
	}
	routed := out["routed"].([]string)
	if len(routed) != 2 || routed[0] != "s1" || routed[1] != "s2" {
		t.Errorf("expected true branch [s1 s2], got %v", routed)
	}
}

func TestConditionalExecutor_FalseBranch(t *testing.T) {
	step := domain.Step{
		ID:   "cond1",
		Type: domain.StepTypeConditional,
		Conditional: &domain.ConditionalConfig{
			Condition:  "{{fetch.data.count}} > 100",
			TrueBranch: []string{"s1"},
			// false_branch пуст: пустая маршрутизация
		},
	}
	ec := routingContext(t, nil, nil)

	exec := &ConditionalExecutor{}
	data, err := exec.Execute(context.Background(), &step, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := data.(map[string]any)
	if out["matched"] != false {
		t.Errorf("expected matched=false, got %v", out["matched"])
	}
	if routed := out["routed"].([]string); len(routed) != 0 {
		t.Errorf("expected empty routing, got %v", routed)
	}
}

func TestSwitchExecutor_MatchesCase(t *testing.T) {
	step := domain.Step{
		ID:   "sw1",
		Type: domain.StepTypeSwitch,
		Switch: &domain.SwitchConfig{
			Expression: "{{fetch.data.level}}",
			Cases: map[string][]string{
				"high": {"s1"},
				"low":  {"s3"},
			},
			Default: []string{"s2"},
		},
	}
	ec := routingContext(t, nil, nil)

	exec := &SwitchExecutor{}
	data, err := exec.Execute(context.Background(), &step, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := data.(map[string]any)
	if out["matched"] != "high" {
		t.Errorf("expected matched=high, got %v", out["matched"])
	}
	if routed := out["routed"].([]string); len(routed) != 1 || routed[0] != "s1" {
		t.Errorf("expected [s1], got %v", routed)
	}
}

func TestSwitchExecutor_FallsBackToDefault(t *testing.T) {
	// cases={"high": [s1]}, default=[s2], значение "medium" уходит в default
	step := domain.Step{
		ID:   "sw1",
		Type: domain.StepTypeSwitch,
		Switch: &domain.SwitchConfig{
			Expression: "{{status}}",
			Cases:      map[string][]string{"high": {"s1"}},
			Default:    []string{"s2"},
		},
	}
	ec := testContext(nil, nil)
	ec.SetVar("status", "medium")

	exec := &SwitchExecutor{}
	data, err := exec.Execute(context.Background(), &step, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := data.(map[string]any)
	if out["matched"] != "" {
		t.Errorf("expected empty match, got %v", out["matched"])
	}
	if routed := out["routed"].([]string); len(routed) != 1 || routed[0] != "s2" {
		t.Errorf("expected default [s2], got %v", routed)
	}
}

func TestSwitchExecutor_NumericExpression(t *testing.T) {
	// Значение выражения приводится к строке перед сравнением с ключами
	step := domain.Step{
		ID:   "sw1",
		Type: domain.StepTypeSwitch,
		Switch: &domain.SwitchConfig{
			Expression: "{{fetch.data.count}} + 1",
			Cases:      map[string][]string{"6": {"s1"}},
		},
	}
	ec := routingContext(t, nil, nil)

	exec := &SwitchExecutor{}
	data, err := exec.Execute(context.Background(), &step, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := data.(map[string]any)
	if out["matched"] != "6" {
		t.Errorf("expected matched=6, got %v", out["matched"])
	}
}

func TestDecisionExecutor_RoutesChoice(t *testing.T) {
	decider := &fakeDecider{choice: "reject"}
	step := domain.Step{
		ID:   "dec1",
		Type: domain.StepTypeDecision,
		Decision: &domain.DecisionConfig{
			Prompt:  "Invoice level is {{fetch.data.level}}. Approve?",
			Options: []string{"approve", "reject"},
			Routes: map[string][]string{
				"approve": {"s1"},
				"reject":  {"s2"},
			},
			OutputVar: "verdict",
		},
	}
	ec := routingContext(t, nil, nil)

	exec := &DecisionExecutor{Provider: decider}
	data, err := exec.Execute(context.Background(), &step, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decider.prompt != "Invoice level is high. Approve?" {
		t.Errorf("prompt should be resolved, got %q", decider.prompt)
	}

	out := data.(map[string]any)
	if out["choice"] != "reject" || out["matched"] != "reject" {
		t.Errorf("expected choice/matched=reject, got %#v", out)
	}
	if routed := out["routed"].([]string); len(routed) != 1 || routed[0] != "s2" {
		t.Errorf("expected [s2], got %v", routed)
	}
	if v, _ := ec.Var("verdict"); v != "reject" {
		t.Errorf("output_var verdict should hold the choice, got %v", v)
	}
}

func TestDecisionExecutor_UnknownChoiceGoesDefault(t *testing.T) {
	decider := &fakeDecider{choice: "escalate"}
	step := domain.Step{
		ID:   "dec1",
		Type: domain.StepTypeDecision,
		Decision: &domain.DecisionConfig{
			Prompt:  "pick one",
			Options: []string{"approve", "reject"},
			Routes:  map[string][]string{"approve": {"s1"}},
			Default: []string{"s9"},
		},
	}
	ec := testContext(nil, nil)

	exec := &DecisionExecutor{Provider: decider}
	data, err := exec.Execute(context.Background(), &step, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := data.(map[string]any)
	if out["matched"] != "" {
		t.Errorf("unknown choice should not match, got %v", out["matched"])
	}
	if routed := out["routed"].([]string); len(routed) != 1 || routed[0] != "s9" {
		t.Errorf("expected default [s9], got %v", routed)
	}
}

func TestDecisionExecutor_NoProvider(t *testing.T) {
	step := domain.Step{
		ID:       "dec1",
		Type:     domain.StepTypeDecision,
		Decision: &domain.DecisionConfig{Prompt: "?", Options: []string{"a"}},
	}
	ec := testContext(nil, nil)

	exec := &DecisionExecutor{}
	if _, err := exec.Execute(context.Background(), &step, ec); err != ErrNoDecisionProvider {
		t.Errorf("expected ErrNoDecisionProvider, got %v", err)
	}
}
