package decision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRuleProvider_Decide(t *testing.T) {
	rules := []Rule{
		{Keywords: []string{"urgent", "outage"}, Choice: "escalate"},
		{Keywords: []string{"refund"}, Choice: "billing"},
	}
	p := NewRuleProvider(rules, testLogger())
	options := []string{"billing", "escalate", "support"}

	tests := []struct {
		name   string
		prompt string
		want   string
	}{
		{"keyword match", "customer reports an OUTAGE in eu-west", "escalate"},
		{"second rule", "please process the refund request", "billing"},
		{"rule order wins", "urgent refund needed", "escalate"},
		{"option name in prompt", "route this to support please", "support"},
		{"fallback to first option", "nothing recognizable here", "billing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Decide(context.Background(), tt.prompt, options)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Decide(%q) = %q, want %q", tt.prompt, got, tt.want)
			}
		})
	}
}

func TestRuleProvider_RuleChoiceOutsideOptionsSkipped(t *testing.T) {
	rules := []Rule{
		{Keywords: []string{"ship"}, Choice: "deploy"},
	}
	p := NewRuleProvider(rules, testLogger())

	// "deploy" не входит в options: правило пропускается
	got, err := p.Decide(context.Background(), "ship it", []string{"hold", "review"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hold" {
		t.Errorf("expected fallback hold, got %q", got)
	}
}

func TestRuleProvider_NoOptions(t *testing.T) {
	p := NewRuleProvider(nil, testLogger())

	_, err := p.Decide(context.Background(), "anything", nil)
	if !errors.Is(err, ErrNoOptions) {
		t.Errorf("expected ErrNoOptions, got %v", err)
	}
}

func TestRuleProvider_NoRulesFallsBack(t *testing.T) {
	p := NewRuleProvider(nil, testLogger())

	got, err := p.Decide(context.Background(), "pick something", []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "a" {
		t.Errorf("expected first option, got %q", got)
	}
}
