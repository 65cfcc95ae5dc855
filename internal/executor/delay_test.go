package executor

import (
	"context"
	"testing"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
)

func TestDelayExecutor_WaitsResolvedDuration(t *testing.T) {
	ec := testContext(nil, nil)
	ec.SetVar("pause", 20)

	step := domain.Step{
		ID:    "d1",
		Type:  domain.StepTypeDelay,
		Delay: &domain.DelayConfig{DurationMs: "{{pause}}"},
	}

	start := time.Now()
	exec := &DelayExecutor{}
	data, err := exec.Execute(context.Background(), &step, ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("delay returned too early: %v", elapsed)
	}

	out := data.(map[string]any)
	if out["duration_ms"] != int64(20) {
		t.Errorf("expected duration_ms=20, got %v", out["duration_ms"])
	}
}

func TestDelayExecutor_NumericLiteral(t *testing.T) {
	step := domain.Step{
		ID:    "d1",
		Type:  domain.StepTypeDelay,
		Delay: &domain.DelayConfig{DurationMs: 5.0},
	}
	ec := testContext(nil, nil)

	exec := &DelayExecutor{}
	if _, err := exec.Execute(context.Background(), &step, ec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDelayExecutor_CancelAborts(t *testing.T) {
	step := domain.Step{
		ID:    "d1",
		Type:  domain.StepTypeDelay,
		Delay: &domain.DelayConfig{DurationMs: 60_000},
	}
	ec := testContext(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	exec := &DelayExecutor{}
	_, err := exec.Execute(ctx, &step, ec)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("delay did not react to cancellation")
	}
}

func TestDelayExecutor_BadDuration(t *testing.T) {
	step := domain.Step{
		ID:    "d1",
		Type:  domain.StepTypeDelay,
		Delay: &domain.DelayConfig{DurationMs: "soon"},
	}
	ec := testContext(nil, nil)

	exec := &DelayExecutor{}
	if _, err := exec.Execute(context.Background(), &step, ec); err == nil {
		t.Fatal("expected error for non-numeric duration")
	}
}
