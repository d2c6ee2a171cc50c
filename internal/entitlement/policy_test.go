package entitlement

import (
	"errors"
	"math"
	"testing"
)

func freeProfile(credits int) *UserEntitlement {
	return &UserEntitlement{
		UserID:             "user-1",
		Plan:               PlanFree,
		CreditBalance:      credits,
		MaxFileDurationMin: 1,
	}
}

// ── CreditsRequired ─────────────────────────────────────────────────────

func TestCreditsRequired_RoundsUp(t *testing.T) {
	cases := []struct {
		duration float64
		want     int
	}{
		{0.1, 1},
		{0.5, 1},
		{1.0, 1},
		{1.0001, 2},
		{1.5, 2},
		{2.0, 2},
		{29.01, 30},
	}
	for _, c := range cases {
		if got := CreditsRequired(c.duration); got != c.want {
			t.Errorf("CreditsRequired(%v) = %d, want %d", c.duration, got, c.want)
		}
	}
}

// ── Evaluate ────────────────────────────────────────────────────────────

func TestEvaluate_InvalidDuration(t *testing.T) {
	p := freeProfile(5)
	for _, d := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := Evaluate(p, d); !errors.Is(err, ErrInvalidDuration) {
			t.Errorf("Evaluate(%v): err = %v, want ErrInvalidDuration", d, err)
		}
	}
}

func TestEvaluate_DurationGateBeforeBalance(t *testing.T) {
	// Arbitrarily large balance must not bypass the duration limit.
	p := freeProfile(1_000_000)
	d, err := Evaluate(p, 2.0)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Admitted {
		t.Fatal("Evaluate admitted a file above the plan duration limit")
	}
	if d.Reason != ReasonDurationExceedsPlan {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonDurationExceedsPlan)
	}
}

func TestEvaluate_InsufficientCredits(t *testing.T) {
	p := &UserEntitlement{Plan: PlanBasic, CreditBalance: 2, MaxFileDurationMin: 30}
	d, err := Evaluate(p, 3.5)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Admitted {
		t.Fatal("Evaluate admitted with insufficient credits")
	}
	if d.Reason != ReasonInsufficientCredits {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonInsufficientCredits)
	}
	if d.Cost != 4 {
		t.Errorf("Cost = %d, want 4", d.Cost)
	}
}

func TestEvaluate_Admitted(t *testing.T) {
	p := freeProfile(5)
	d, err := Evaluate(p, 0.5)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Admitted {
		t.Fatalf("Evaluate denied: %s (%s)", d.Reason, d.Message)
	}
	if d.Cost != 1 {
		t.Errorf("Cost = %d, want 1", d.Cost)
	}
}

func TestEvaluate_ExactLimitAdmitted(t *testing.T) {
	p := freeProfile(1)
	d, err := Evaluate(p, 1.0)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Admitted || d.Cost != 1 {
		t.Errorf("Evaluate(1.0) = %+v, want admitted at cost 1", d)
	}
}

// ── Plan catalog ────────────────────────────────────────────────────────

func TestPlanLimits(t *testing.T) {
	if cfg := PlanFree.Limits(); cfg.MaxFileDuration != 1 || cfg.CreditAllotment != 0 {
		t.Errorf("free limits = %+v", cfg)
	}
	if cfg := PlanBasic.Limits(); cfg.MaxFileDuration != 30 || cfg.CreditAllotment != 500 {
		t.Errorf("basic limits = %+v", cfg)
	}
	// Unknown plans get free-tier limits, never paid ones.
	if cfg := Plan("enterprise").Limits(); cfg.MaxFileDuration != 1 {
		t.Errorf("unknown plan limits = %+v, want free tier", cfg)
	}
}

func TestPlanByName(t *testing.T) {
	if p, ok := PlanByName("basic"); !ok || p != PlanBasic {
		t.Errorf("PlanByName(basic) = %v, %v", p, ok)
	}
	if _, ok := PlanByName("platinum"); ok {
		t.Error("PlanByName(platinum) resolved, want miss")
	}
}
