// Package plans holds the staking plan catalog. The catalog is an immutable
// value built once at startup; open stakes snapshot the terms they were
// created with, so a redeployed catalog never touches existing positions.
package plans

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

var ErrPlanNotFound = errors.New("plan not found")

type Plan struct {
	ID                          string          `json:"id"`
	Name                        string          `json:"name"`
	LockDays                    int             `json:"lock_days"`
	APYPercent                  decimal.Decimal `json:"apy_percent"`
	MinAmount                   int64           `json:"min_amount"`
	MaxAmount                   int64           `json:"max_amount"`
	EarlyWithdrawPenaltyPercent decimal.Decimal `json:"early_withdraw_penalty_percent"`
	CooldownHours               int             `json:"cooldown_hours"`
}

// Flexible reports whether the plan has no lockup.
func (p Plan) Flexible() bool {
	return p.LockDays == 0
}

type Catalog struct {
	byID  map[string]Plan
	order []string
}

func NewCatalog(list []Plan) (*Catalog, error) {
	catalog := &Catalog{byID: make(map[string]Plan, len(list))}
	for _, plan := range list {
		if err := validate(plan); err != nil {
			return nil, fmt.Errorf("plan %q: %w", plan.ID, err)
		}
		if _, exists := catalog.byID[plan.ID]; exists {
			return nil, fmt.Errorf("plan %q: duplicate id", plan.ID)
		}
		catalog.byID[plan.ID] = plan
		catalog.order = append(catalog.order, plan.ID)
	}
	return catalog, nil
}

// LoadFile builds a catalog from a JSON file, or from the built-in defaults
// when path is empty.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(Defaults())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fileList []filePlan
	if err := json.Unmarshal(raw, &fileList); err != nil {
		return nil, err
	}
	list := make([]Plan, 0, len(fileList))
	for _, entry := range fileList {
		plan, err := entry.toPlan()
		if err != nil {
			return nil, err
		}
		list = append(list, plan)
	}
	return NewCatalog(list)
}

func (c *Catalog) Get(planID string) (Plan, error) {
	plan, ok := c.byID[planID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return plan, nil
}

// List returns plans in catalog order (shortest lockup first for defaults).
func (c *Catalog) List() []Plan {
	list := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		list = append(list, c.byID[id])
	}
	return list
}

func validate(plan Plan) error {
	if plan.ID == "" {
		return errors.New("missing id")
	}
	if plan.LockDays < 0 || plan.CooldownHours < 0 {
		return errors.New("negative duration")
	}
	if plan.APYPercent.IsNegative() {
		return errors.New("negative apy")
	}
	if plan.MinAmount <= 0 || plan.MaxAmount < plan.MinAmount {
		return errors.New("invalid amount range")
	}
	if plan.EarlyWithdrawPenaltyPercent.IsNegative() {
		return errors.New("negative penalty")
	}
	if plan.LockDays == 0 && plan.EarlyWithdrawPenaltyPercent.IsPositive() {
		return errors.New("penalty requires a lockup")
	}
	return nil
}

// filePlan is the JSON representation: monetary bounds are decimal strings,
// scaled into units on load.
type filePlan struct {
	ID                          string          `json:"id"`
	Name                        string          `json:"name"`
	LockDays                    int             `json:"lock_days"`
	APYPercent                  decimal.Decimal `json:"apy_percent"`
	MinAmount                   string          `json:"min_amount"`
	MaxAmount                   string          `json:"max_amount"`
	EarlyWithdrawPenaltyPercent decimal.Decimal `json:"early_withdraw_penalty_percent"`
	CooldownHours               int             `json:"cooldown_hours"`
}

func (f filePlan) toPlan() (Plan, error) {
	minAmount, err := parseAmount(f.MinAmount)
	if err != nil {
		return Plan{}, fmt.Errorf("plan %q: min_amount: %w", f.ID, err)
	}
	maxAmount, err := parseAmount(f.MaxAmount)
	if err != nil {
		return Plan{}, fmt.Errorf("plan %q: max_amount: %w", f.ID, err)
	}
	return Plan{
		ID:                          f.ID,
		Name:                        f.Name,
		LockDays:                    f.LockDays,
		APYPercent:                  f.APYPercent,
		MinAmount:                   minAmount,
		MaxAmount:                   maxAmount,
		EarlyWithdrawPenaltyPercent: f.EarlyWithdrawPenaltyPercent,
		CooldownHours:               f.CooldownHours,
	}, nil
}

func parseAmount(raw string) (int64, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	return value.Mul(decimal.New(1, 8)).IntPart(), nil
}

// Defaults is the built-in catalog used when no plans file is configured.
func Defaults() []Plan {
	return []Plan{
		{
			ID:            "flex",
			Name:          "Flexible",
			LockDays:      0,
			APYPercent:    decimal.NewFromInt(3),
			MinAmount:     10 * 1e8,
			MaxAmount:     1_000_000 * 1e8,
			CooldownHours: 0,
		},
		{
			ID:                          "locked-30",
			Name:                        "30 Day Lock",
			LockDays:                    30,
			APYPercent:                  decimal.NewFromInt(7),
			MinAmount:                   100 * 1e8,
			MaxAmount:                   1_000_000 * 1e8,
			EarlyWithdrawPenaltyPercent: decimal.NewFromInt(5),
			CooldownHours:               24,
		},
		{
			ID:                          "locked-90",
			Name:                        "90 Day Lock",
			LockDays:                    90,
			APYPercent:                  decimal.NewFromInt(12),
			MinAmount:                   100 * 1e8,
			MaxAmount:                   5_000_000 * 1e8,
			EarlyWithdrawPenaltyPercent: decimal.NewFromInt(10),
			CooldownHours:               48,
		},
	}
}
