package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Stake status values. Transitions are one-way: ACTIVE -> UNSTAKING ->
// COMPLETED, or ACTIVE -> COMPLETED for plans without a cooldown.
const (
	StakeStatusActive    = "ACTIVE"
	StakeStatusUnstaking = "UNSTAKING"
	StakeStatusCompleted = "COMPLETED"
)

type StakeStore struct {
	db DB
}

type Stake struct {
	ID              string          `db:"id"`
	AccountID       string          `db:"account_id"`
	PlanID          string          `db:"plan_id"`
	Principal       int64           `db:"principal"`
	APYPercent      decimal.Decimal `db:"apy_percent"`
	LockDays        int             `db:"lock_days"`
	PenaltyPercent  decimal.Decimal `db:"penalty_percent"`
	CooldownHours   int             `db:"cooldown_hours"`
	AccruedInterest int64           `db:"accrued_interest"`
	PenaltyAmount   int64           `db:"penalty_amount"`
	Status          string          `db:"status"`
	StakedAt        time.Time       `db:"staked_at"`
	UnlockAt        time.Time       `db:"unlock_at"`
	CooldownEndsAt  *time.Time      `db:"cooldown_ends_at"`
	CompletedAt     *time.Time      `db:"completed_at"`
	CreatedAt       time.Time       `db:"created_at"`
}

type StakeInput struct {
	ID             string
	AccountID      string
	PlanID         string
	Principal      int64
	APYPercent     decimal.Decimal
	LockDays       int
	PenaltyPercent decimal.Decimal
	CooldownHours  int
	StakedAt       time.Time
	UnlockAt       time.Time
}

type StakeSummary struct {
	ActiveCount    int   `db:"active_count"`
	UnstakingCount int   `db:"unstaking_count"`
	CompletedCount int   `db:"completed_count"`
	TotalStaked    int64 `db:"total_staked"`
	FrozenInterest int64 `db:"frozen_interest"`
	LifetimePaid   int64 `db:"lifetime_paid"`
}

func NewStakeStore(db DB) *StakeStore {
	return &StakeStore{db: db}
}

func (s *StakeStore) Create(ctx context.Context, tx Execer, input StakeInput) error {
	query := `
		INSERT INTO stakes (
			id, account_id, plan_id, principal, apy_percent, lock_days,
			penalty_percent, cooldown_hours, accrued_interest, penalty_amount,
			status, staked_at, unlock_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, $9, $10, $11)
	`
	_, err := tx.ExecContext(ctx, query,
		input.ID, input.AccountID, input.PlanID, input.Principal,
		input.APYPercent, input.LockDays, input.PenaltyPercent,
		input.CooldownHours, StakeStatusActive, input.StakedAt, input.UnlockAt,
	)
	return err
}

const stakeColumns = `
	id, account_id, plan_id, principal, apy_percent, lock_days,
	penalty_percent, cooldown_hours, accrued_interest, penalty_amount,
	status, staked_at, unlock_at, cooldown_ends_at, completed_at, created_at
`

// GetForUpdate locks a stake row scoped to the owning account. A stake that
// belongs to another account surfaces as sql.ErrNoRows, indistinguishable
// from one that does not exist.
func (s *StakeStore) GetForUpdate(ctx context.Context, tx Getter, accountID, stakeID string) (Stake, error) {
	var row Stake
	err := tx.GetContext(ctx, &row, `
		SELECT `+stakeColumns+`
		FROM stakes
		WHERE id = $1 AND account_id = $2
		FOR UPDATE
	`, stakeID, accountID)
	if err != nil {
		return Stake{}, err
	}
	return row, nil
}

func (s *StakeStore) GetByID(ctx context.Context, accountID, stakeID string) (Stake, error) {
	var row Stake
	err := s.db.GetContext(ctx, &row, `
		SELECT `+stakeColumns+`
		FROM stakes
		WHERE id = $1 AND account_id = $2
	`, stakeID, accountID)
	if err != nil {
		return Stake{}, err
	}
	return row, nil
}

func (s *StakeStore) ListByAccount(ctx context.Context, accountID string) ([]Stake, error) {
	var rows []Stake
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+stakeColumns+`
		FROM stakes
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkUnstaking freezes the accrued interest and penalty computed at the
// unstake-request instant and starts the cooldown clock.
func (s *StakeStore) MarkUnstaking(ctx context.Context, tx Execer, stakeID string, accrued, penalty int64, cooldownEndsAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE stakes
		SET status = $1, accrued_interest = $2, penalty_amount = $3, cooldown_ends_at = $4
		WHERE id = $5
	`, StakeStatusUnstaking, accrued, penalty, cooldownEndsAt, stakeID)
	return err
}

// MarkCompleted is terminal. For the no-cooldown fast exit the frozen amounts
// are written in the same statement.
func (s *StakeStore) MarkCompleted(ctx context.Context, tx Execer, stakeID string, accrued, penalty int64, completedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE stakes
		SET status = $1, accrued_interest = $2, penalty_amount = $3, completed_at = $4
		WHERE id = $5
	`, StakeStatusCompleted, accrued, penalty, completedAt, stakeID)
	return err
}

// SummaryByAccount aggregates open principal, frozen interest and lifetime
// payouts across every stake the account has ever held.
func (s *StakeStore) SummaryByAccount(ctx context.Context, accountID string) (StakeSummary, error) {
	var row StakeSummary
	err := s.db.GetContext(ctx, &row, `
		SELECT COUNT(*) FILTER (WHERE status = 'ACTIVE')    AS active_count,
		       COUNT(*) FILTER (WHERE status = 'UNSTAKING') AS unstaking_count,
		       COUNT(*) FILTER (WHERE status = 'COMPLETED') AS completed_count,
		       COALESCE(SUM(principal) FILTER (WHERE status IN ('ACTIVE', 'UNSTAKING')), 0) AS total_staked,
		       COALESCE(SUM(accrued_interest) FILTER (WHERE status = 'UNSTAKING'), 0)       AS frozen_interest,
		       COALESCE(SUM(principal + accrued_interest - penalty_amount)
		                FILTER (WHERE status = 'COMPLETED'), 0)                             AS lifetime_paid
		FROM stakes
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return StakeSummary{}, err
	}
	return row, nil
}
