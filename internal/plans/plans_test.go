package plans

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefaultsFormValidCatalog(t *testing.T) {
	catalog, err := NewCatalog(Defaults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(catalog.List()) != 3 {
		t.Fatalf("expected 3 default plans, got %d", len(catalog.List()))
	}
	plan, err := catalog.Get("flex")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !plan.Flexible() || plan.CooldownHours != 0 {
		t.Fatalf("flex plan should have no lockup or cooldown: %+v", plan)
	}
}

func TestGetUnknownPlan(t *testing.T) {
	catalog, err := NewCatalog(Defaults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := catalog.Get("nope"); err != ErrPlanNotFound {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestCatalogValidation(t *testing.T) {
	base := Plan{
		ID:         "p",
		LockDays:   30,
		APYPercent: decimal.NewFromInt(5),
		MinAmount:  100,
		MaxAmount:  1000,
	}
	cases := []struct {
		name   string
		mutate func(*Plan)
	}{
		{"missing id", func(p *Plan) { p.ID = "" }},
		{"negative apy", func(p *Plan) { p.APYPercent = decimal.NewFromInt(-1) }},
		{"min above max", func(p *Plan) { p.MinAmount = 2000 }},
		{"zero min", func(p *Plan) { p.MinAmount = 0 }},
		{"negative lock", func(p *Plan) { p.LockDays = -1 }},
		{"penalty without lockup", func(p *Plan) {
			p.LockDays = 0
			p.EarlyWithdrawPenaltyPercent = decimal.NewFromInt(5)
		}},
	}
	for _, tc := range cases {
		plan := base
		tc.mutate(&plan)
		if _, err := NewCatalog([]Plan{plan}); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestCatalogRejectsDuplicateIDs(t *testing.T) {
	plan := Plan{ID: "dup", APYPercent: decimal.NewFromInt(1), MinAmount: 1, MaxAmount: 2}
	if _, err := NewCatalog([]Plan{plan, plan}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.json")
	payload := `[
		{"id": "gold", "name": "Gold", "lock_days": 60, "apy_percent": "9.5",
		 "min_amount": "250", "max_amount": "100000",
		 "early_withdraw_penalty_percent": "7.5", "cooldown_hours": 24}
	]`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("failed to write plans file: %v", err)
	}
	catalog, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	plan, err := catalog.Get("gold")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.MinAmount != 25000000000 {
		t.Fatalf("min_amount not scaled to units: %d", plan.MinAmount)
	}
	if plan.APYPercent.String() != "9.5" {
		t.Fatalf("unexpected apy: %s", plan.APYPercent)
	}
}

func TestLoadFileFallsBackToDefaults(t *testing.T) {
	catalog, err := LoadFile("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(catalog.List()) == 0 {
		t.Fatalf("expected default plans")
	}
}
