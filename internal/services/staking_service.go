package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"staking/internal/db"
	"staking/internal/interest"
	"staking/internal/money"
	"staking/internal/plans"
	"staking/internal/store"
	"staking/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var (
	ErrBelowMinimum        = errors.New("amount below plan minimum")
	ErrAboveMaximum        = errors.New("amount above plan maximum")
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrAccountNotFound     = errors.New("account not found")
	ErrStakeNotFound       = errors.New("stake not found")
	ErrStakeNotActive      = errors.New("stake is not active")
	ErrNotInCooldown       = errors.New("stake is not in cooldown")
	ErrCooldownNotElapsed  = errors.New("cooldown has not elapsed")
	ErrAlreadyCompleted    = errors.New("stake already completed")
)

var hundred = decimal.NewFromInt(100)

type AccountStore interface {
	GetByID(ctx context.Context, accountID string) (store.Account, error)
	GetForUpdate(ctx context.Context, tx store.Getter, accountID string) (store.Account, error)
	UpdateBalance(ctx context.Context, tx store.Execer, accountID string, balance int64) error
	GetSystemAccount(ctx context.Context, currency string) (string, error)
}

type StakeStore interface {
	Create(ctx context.Context, tx store.Execer, input store.StakeInput) error
	GetForUpdate(ctx context.Context, tx store.Getter, accountID, stakeID string) (store.Stake, error)
	ListByAccount(ctx context.Context, accountID string) ([]store.Stake, error)
	SummaryByAccount(ctx context.Context, accountID string) (store.StakeSummary, error)
	MarkUnstaking(ctx context.Context, tx store.Execer, stakeID string, accrued, penalty int64, cooldownEndsAt time.Time) error
	MarkCompleted(ctx context.Context, tx store.Execer, stakeID string, accrued, penalty int64, completedAt time.Time) error
}

type LedgerStore interface {
	InsertEntries(ctx context.Context, tx store.Execer, entries []store.LedgerTransactionInput) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type ExchangeStore interface {
	GetActive(ctx context.Context, baseCurrency, quoteCurrency string) (store.ExchangeRate, error)
}

type PlanCatalog interface {
	Get(planID string) (plans.Plan, error)
	List() []plans.Plan
}

type UpdateHub interface {
	BroadcastUpdate(userID string, update websocket.StakeUpdate)
}

// StakingService is the stake lifecycle manager. Every mutating operation is
// one serializable transaction: balances are read and written inside the same
// boundary, account rows are locked, and the audit row commits with the money
// movement or not at all.
type StakingService struct {
	txRunner        db.TxRunner
	catalog         PlanCatalog
	accounts        AccountStore
	stakes          StakeStore
	ledger          LedgerStore
	audit           AuditStore
	exchange        ExchangeStore
	hub             UpdateHub
	displayCurrency string
	now             func() time.Time
}

func NewStakingService(txRunner db.TxRunner, catalog PlanCatalog, accounts AccountStore, stakes StakeStore, ledger LedgerStore, audit AuditStore, exchange ExchangeStore, hub UpdateHub, displayCurrency string) *StakingService {
	return &StakingService{
		txRunner:        txRunner,
		catalog:         catalog,
		accounts:        accounts,
		stakes:          stakes,
		ledger:          ledger,
		audit:           audit,
		exchange:        exchange,
		hub:             hub,
		displayCurrency: displayCurrency,
		now:             time.Now,
	}
}

// SetClock replaces the wall clock, for tests.
func (s *StakingService) SetClock(now func() time.Time) {
	s.now = now
}

type StakeRequest struct {
	UserID    string
	AccountID string
	PlanID    string
	Amount    int64
}

type DisplayProjection struct {
	Currency string
	Rate     string
	Daily    string
	Monthly  string
	Yearly   string
}

type StakeResult struct {
	StakeID    string
	Plan       plans.Plan
	Currency   string
	NewBalance int64
	StakedAt   time.Time
	UnlockAt   time.Time
	Projected  interest.Projection
	Display    *DisplayProjection
}

func (s *StakingService) Stake(ctx context.Context, req StakeRequest) (StakeResult, error) {
	plan, err := s.catalog.Get(req.PlanID)
	if err != nil {
		return StakeResult{}, err
	}
	if req.Amount < plan.MinAmount {
		return StakeResult{}, ErrBelowMinimum
	}
	if req.Amount > plan.MaxAmount {
		return StakeResult{}, ErrAboveMaximum
	}

	now := s.now().UTC()
	stakeID := uuid.NewString()
	unlockAt := now.Add(time.Duration(plan.LockDays) * 24 * time.Hour)
	var result StakeResult
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		account, err := s.lockOwnedAccount(ctx, tx, req.UserID, req.AccountID)
		if err != nil {
			return err
		}
		if account.Available() < req.Amount {
			return ErrInsufficientBalance
		}
		poolID, pool, err := s.lockPool(ctx, tx, account.Currency)
		if err != nil {
			return err
		}
		newBalance := account.Balance - req.Amount
		if err := s.accounts.UpdateBalance(ctx, tx, account.ID, newBalance); err != nil {
			return err
		}
		if err := s.accounts.UpdateBalance(ctx, tx, poolID, pool.Balance+req.Amount); err != nil {
			return err
		}
		if err := s.stakes.Create(ctx, tx, store.StakeInput{
			ID:             stakeID,
			AccountID:      account.ID,
			PlanID:         plan.ID,
			Principal:      req.Amount,
			APYPercent:     plan.APYPercent,
			LockDays:       plan.LockDays,
			PenaltyPercent: plan.EarlyWithdrawPenaltyPercent,
			CooldownHours:  plan.CooldownHours,
			StakedAt:       now,
			UnlockAt:       unlockAt,
		}); err != nil {
			return err
		}
		entries := []store.LedgerTransactionInput{
			{
				ID:            uuid.NewString(),
				AccountID:     account.ID,
				ReferenceID:   stakeID,
				Type:          store.LedgerTypeStakeLock,
				Amount:        -req.Amount,
				BalanceBefore: account.Balance,
				BalanceAfter:  newBalance,
				Currency:      account.Currency,
				Description:   "Stake principal lock",
			},
			{
				ID:            uuid.NewString(),
				AccountID:     poolID,
				ReferenceID:   stakeID,
				Type:          store.LedgerTypeStakePool,
				Amount:        req.Amount,
				BalanceBefore: pool.Balance,
				BalanceAfter:  pool.Balance + req.Amount,
				Currency:      account.Currency,
				Description:   "Stake principal received",
			},
		}
		if err := ensureBalanced(entries); err != nil {
			return err
		}
		if err := s.ledger.InsertEntries(ctx, tx, entries); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{
			"plan_id": plan.ID,
			"amount":  money.FormatUnits(req.Amount),
		})
		if err := s.audit.Log(ctx, tx, req.UserID, "stake", "stake", stakeID, string(data)); err != nil {
			return err
		}
		result = StakeResult{
			StakeID:    stakeID,
			Plan:       plan,
			Currency:   account.Currency,
			NewBalance: newBalance,
			StakedAt:   now,
			UnlockAt:   unlockAt,
			Projected:  interest.Project(req.Amount, plan.APYPercent),
		}
		return nil
	})
	if err != nil {
		return StakeResult{}, err
	}
	result.Display = s.displayConversion(ctx, result.Currency, result.Projected)
	s.hub.BroadcastUpdate(req.UserID, websocket.StakeUpdate{
		AccountID:   req.AccountID,
		Balance:     money.FormatUnits(result.NewBalance),
		Currency:    result.Currency,
		StakeID:     stakeID,
		StakeStatus: store.StakeStatusActive,
	})
	return result, nil
}

type UnstakeRequest struct {
	UserID    string
	AccountID string
	StakeID   string
}

type UnstakeResult struct {
	StakeID         string
	Status          string
	AccruedInterest int64
	PenaltyAmount   int64
	ReturnAmount    int64
	CooldownEndsAt  *time.Time
	NewBalance      int64
	Currency        string
}

// Unstake freezes accrued interest and any early-withdrawal penalty at the
// request instant. That snapshot is the economic contract for the exit: the
// cooldown window earns nothing further, and later plan changes cannot touch
// an in-flight withdrawal.
func (s *StakingService) Unstake(ctx context.Context, req UnstakeRequest) (UnstakeResult, error) {
	now := s.now().UTC()
	var result UnstakeResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		account, err := s.lockOwnedAccount(ctx, tx, req.UserID, req.AccountID)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return ErrStakeNotFound
			}
			return err
		}
		stake, err := s.stakes.GetForUpdate(ctx, tx, account.ID, req.StakeID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrStakeNotFound
			}
			return err
		}
		if stake.Status != store.StakeStatusActive {
			return ErrStakeNotActive
		}

		accrued := interest.Accrued(stake.Principal, stake.APYPercent, stake.StakedAt, now)
		lockupComplete := stake.LockDays == 0 || !now.Before(stake.UnlockAt)
		var penalty int64
		if !lockupComplete && stake.PenaltyPercent.IsPositive() {
			penalty = money.ToUnits(money.FromUnits(stake.Principal).Mul(stake.PenaltyPercent).Div(hundred))
		}
		result = UnstakeResult{
			StakeID:         stake.ID,
			AccruedInterest: accrued,
			PenaltyAmount:   penalty,
			ReturnAmount:    stake.Principal + accrued - penalty,
			Currency:        account.Currency,
		}

		if stake.CooldownHours == 0 {
			newBalance, err := s.payout(ctx, tx, account, stake, accrued, penalty, now)
			if err != nil {
				return err
			}
			result.Status = store.StakeStatusCompleted
			result.NewBalance = newBalance
			return s.auditUnstake(ctx, tx, req.UserID, stake.ID, "unstake", accrued, penalty)
		}

		cooldownEndsAt := now.Add(time.Duration(stake.CooldownHours) * time.Hour)
		if err := s.stakes.MarkUnstaking(ctx, tx, stake.ID, accrued, penalty, cooldownEndsAt); err != nil {
			return err
		}
		result.Status = store.StakeStatusUnstaking
		result.CooldownEndsAt = &cooldownEndsAt
		result.NewBalance = account.Balance
		return s.auditUnstake(ctx, tx, req.UserID, stake.ID, "unstake_request", accrued, penalty)
	})
	if err != nil {
		return UnstakeResult{}, err
	}
	s.hub.BroadcastUpdate(req.UserID, websocket.StakeUpdate{
		AccountID:   req.AccountID,
		Balance:     money.FormatUnits(result.NewBalance),
		Currency:    result.Currency,
		StakeID:     result.StakeID,
		StakeStatus: result.Status,
	})
	return result, nil
}

type ClaimRequest struct {
	UserID    string
	AccountID string
	StakeID   string
}

type ClaimResult struct {
	StakeID         string
	AccruedInterest int64
	PenaltyAmount   int64
	ReturnAmount    int64
	NewBalance      int64
	Currency        string
	CompletedAt     time.Time
}

// Claim pays out the amounts frozen at unstake time, exactly; it performs no
// recomputation. Claiming an already-completed stake fails without a second
// credit, so clients may safely retry after a timeout.
func (s *StakingService) Claim(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	now := s.now().UTC()
	var result ClaimResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		account, err := s.lockOwnedAccount(ctx, tx, req.UserID, req.AccountID)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return ErrStakeNotFound
			}
			return err
		}
		stake, err := s.stakes.GetForUpdate(ctx, tx, account.ID, req.StakeID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrStakeNotFound
			}
			return err
		}
		switch stake.Status {
		case store.StakeStatusCompleted:
			return ErrAlreadyCompleted
		case store.StakeStatusActive:
			return ErrNotInCooldown
		}
		if stake.CooldownEndsAt != nil && now.Before(*stake.CooldownEndsAt) {
			return ErrCooldownNotElapsed
		}

		newBalance, err := s.payout(ctx, tx, account, stake, stake.AccruedInterest, stake.PenaltyAmount, now)
		if err != nil {
			return err
		}
		result = ClaimResult{
			StakeID:         stake.ID,
			AccruedInterest: stake.AccruedInterest,
			PenaltyAmount:   stake.PenaltyAmount,
			ReturnAmount:    stake.Principal + stake.AccruedInterest - stake.PenaltyAmount,
			NewBalance:      newBalance,
			Currency:        account.Currency,
			CompletedAt:     now,
		}
		return s.auditUnstake(ctx, tx, req.UserID, stake.ID, "claim", stake.AccruedInterest, stake.PenaltyAmount)
	})
	if err != nil {
		return ClaimResult{}, err
	}
	s.hub.BroadcastUpdate(req.UserID, websocket.StakeUpdate{
		AccountID:   req.AccountID,
		Balance:     money.FormatUnits(result.NewBalance),
		Currency:    result.Currency,
		StakeID:     result.StakeID,
		StakeStatus: store.StakeStatusCompleted,
	})
	return result, nil
}

type StakeView struct {
	store.Stake
	// LiveAccrued is recomputed from StakedAt for ACTIVE stakes; for frozen
	// stakes it mirrors the stored snapshot.
	LiveAccrued  int64
	ClaimableIn  time.Duration
	ReturnAmount int64
}

type Overview struct {
	AccountID      string
	Currency       string
	Balance        int64
	Available      int64
	Stakes         []StakeView
	TotalStaked    int64
	TotalAccrued   int64
	LifetimePaid   int64
	ActiveCount    int
	UnstakingCount int
	CompletedCount int
}

// Overview lists the account's stakes with derived state recomputed from the
// wall clock. Nothing here mutates: accrual and cooldowns are pure functions
// of stored timestamps.
func (s *StakingService) Overview(ctx context.Context, userID, accountID string) (Overview, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Overview{}, ErrAccountNotFound
		}
		return Overview{}, err
	}
	if account.UserID == nil || *account.UserID != userID {
		return Overview{}, ErrAccountNotFound
	}
	rows, err := s.stakes.ListByAccount(ctx, accountID)
	if err != nil {
		return Overview{}, err
	}
	summary, err := s.stakes.SummaryByAccount(ctx, accountID)
	if err != nil {
		return Overview{}, err
	}

	now := s.now().UTC()
	overview := Overview{
		AccountID:      account.ID,
		Currency:       account.Currency,
		Balance:        account.Balance,
		Available:      account.Available(),
		TotalStaked:    summary.TotalStaked,
		LifetimePaid:   summary.LifetimePaid,
		ActiveCount:    summary.ActiveCount,
		UnstakingCount: summary.UnstakingCount,
		CompletedCount: summary.CompletedCount,
	}
	totalAccrued := summary.FrozenInterest
	for _, stake := range rows {
		view := StakeView{Stake: stake, LiveAccrued: stake.AccruedInterest}
		if stake.Status == store.StakeStatusActive {
			view.LiveAccrued = interest.Accrued(stake.Principal, stake.APYPercent, stake.StakedAt, now)
			totalAccrued += view.LiveAccrued
		}
		if stake.Status == store.StakeStatusUnstaking && stake.CooldownEndsAt != nil && now.Before(*stake.CooldownEndsAt) {
			view.ClaimableIn = stake.CooldownEndsAt.Sub(now)
		}
		if stake.Status != store.StakeStatusCompleted {
			view.ReturnAmount = stake.Principal + view.LiveAccrued - stake.PenaltyAmount
		} else {
			view.ReturnAmount = stake.Principal + stake.AccruedInterest - stake.PenaltyAmount
		}
		overview.Stakes = append(overview.Stakes, view)
	}
	overview.TotalAccrued = totalAccrued
	return overview, nil
}

// Plans returns the immutable catalog.
func (s *StakingService) Plans() []plans.Plan {
	return s.catalog.List()
}

func (s *StakingService) lockOwnedAccount(ctx context.Context, tx store.Getter, userID, accountID string) (store.Account, error) {
	account, err := s.accounts.GetForUpdate(ctx, tx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Account{}, ErrAccountNotFound
		}
		return store.Account{}, err
	}
	if account.UserID == nil || *account.UserID != userID {
		return store.Account{}, ErrAccountNotFound
	}
	return account, nil
}

// lockPool locks the pool account after the user account. User rows are
// always locked before system rows, so concurrent operations cannot form a
// lock cycle.
func (s *StakingService) lockPool(ctx context.Context, tx store.Getter, currency string) (string, store.Account, error) {
	poolID, err := s.accounts.GetSystemAccount(ctx, currency)
	if err != nil {
		return "", store.Account{}, err
	}
	pool, err := s.accounts.GetForUpdate(ctx, tx, poolID)
	if err != nil {
		return "", store.Account{}, err
	}
	return poolID, pool, nil
}

// payout credits principal + accrued - penalty to the user and mirrors the
// debit on the pool account, then marks the stake COMPLETED. The two flows
// the pool absorbs are the only exogenous ones: interest leaves it, penalties
// stay in it.
func (s *StakingService) payout(ctx context.Context, tx *sqlx.Tx, account store.Account, stake store.Stake, accrued, penalty int64, now time.Time) (int64, error) {
	net := stake.Principal + accrued - penalty
	poolID, pool, err := s.lockPool(ctx, tx, account.Currency)
	if err != nil {
		return 0, err
	}
	newBalance := account.Balance + net
	if err := s.accounts.UpdateBalance(ctx, tx, account.ID, newBalance); err != nil {
		return 0, err
	}
	if err := s.accounts.UpdateBalance(ctx, tx, poolID, pool.Balance-net); err != nil {
		return 0, err
	}
	if err := s.stakes.MarkCompleted(ctx, tx, stake.ID, accrued, penalty, now); err != nil {
		return 0, err
	}
	entries := []store.LedgerTransactionInput{
		{
			ID:            uuid.NewString(),
			AccountID:     account.ID,
			ReferenceID:   stake.ID,
			Type:          store.LedgerTypeUnstakePayout,
			Amount:        net,
			BalanceBefore: account.Balance,
			BalanceAfter:  newBalance,
			Currency:      account.Currency,
			Description:   "Unstake payout: principal " + money.FormatUnits(stake.Principal) + ", interest " + money.FormatUnits(accrued) + ", penalty " + money.FormatUnits(penalty),
		},
		{
			ID:            uuid.NewString(),
			AccountID:     poolID,
			ReferenceID:   stake.ID,
			Type:          store.LedgerTypeUnstakePool,
			Amount:        -net,
			BalanceBefore: pool.Balance,
			BalanceAfter:  pool.Balance - net,
			Currency:      account.Currency,
			Description:   "Unstake payout released",
		},
	}
	if err := ensureBalanced(entries); err != nil {
		return 0, err
	}
	if err := s.ledger.InsertEntries(ctx, tx, entries); err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (s *StakingService) auditUnstake(ctx context.Context, tx store.Execer, userID, stakeID, action string, accrued, penalty int64) error {
	data, _ := json.Marshal(map[string]string{
		"accrued_interest": money.FormatUnits(accrued),
		"penalty_amount":   money.FormatUnits(penalty),
	})
	return s.audit.Log(ctx, tx, userID, action, "stake", stakeID, string(data))
}

// displayConversion converts projections into the configured display currency
// using whatever rate is active. Conversion is cosmetic; a missing rate just
// omits it.
func (s *StakingService) displayConversion(ctx context.Context, currency string, projected interest.Projection) *DisplayProjection {
	if s.displayCurrency == "" || s.displayCurrency == currency {
		return nil
	}
	active, err := s.exchange.GetActive(ctx, currency, s.displayCurrency)
	if err != nil {
		return nil
	}
	rate, err := decimal.NewFromString(active.Rate)
	if err != nil {
		return nil
	}
	convert := func(units int64) string {
		return money.Round8(money.FromUnits(units).Mul(rate)).StringFixed(money.Scale)
	}
	return &DisplayProjection{
		Currency: s.displayCurrency,
		Rate:     active.Rate,
		Daily:    convert(projected.Daily),
		Monthly:  convert(projected.Monthly),
		Yearly:   convert(projected.Yearly),
	}
}

func ensureBalanced(entries []store.LedgerTransactionInput) error {
	var sum int64
	for _, entry := range entries {
		sum += entry.Amount
	}
	if sum != 0 {
		return errors.New("ledger entries are not balanced")
	}
	return nil
}
