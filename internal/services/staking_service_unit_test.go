package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"staking/internal/plans"
	"staking/internal/store"
	"staking/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	thousand = int64(100000000000) // 1000 units at 8dp
	poolSeed = int64(1000000 * 1e8)
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type stubAccountStore struct {
	getByIDFn          func(ctx context.Context, accountID string) (store.Account, error)
	getForUpdateFn     func(ctx context.Context, tx store.Getter, accountID string) (store.Account, error)
	updateBalanceFn    func(ctx context.Context, tx store.Execer, accountID string, balance int64) error
	getSystemAccountFn func(ctx context.Context, currency string) (string, error)
}

func (s stubAccountStore) GetByID(ctx context.Context, accountID string) (store.Account, error) {
	if s.getByIDFn == nil {
		return store.Account{}, nil
	}
	return s.getByIDFn(ctx, accountID)
}

func (s stubAccountStore) GetForUpdate(ctx context.Context, tx store.Getter, accountID string) (store.Account, error) {
	return s.getForUpdateFn(ctx, tx, accountID)
}

func (s stubAccountStore) UpdateBalance(ctx context.Context, tx store.Execer, accountID string, balance int64) error {
	if s.updateBalanceFn == nil {
		return nil
	}
	return s.updateBalanceFn(ctx, tx, accountID, balance)
}

func (s stubAccountStore) GetSystemAccount(ctx context.Context, currency string) (string, error) {
	if s.getSystemAccountFn == nil {
		return "pool", nil
	}
	return s.getSystemAccountFn(ctx, currency)
}

type stubStakeStore struct {
	createFn        func(ctx context.Context, tx store.Execer, input store.StakeInput) error
	getForUpdateFn  func(ctx context.Context, tx store.Getter, accountID, stakeID string) (store.Stake, error)
	listFn          func(ctx context.Context, accountID string) ([]store.Stake, error)
	summaryFn       func(ctx context.Context, accountID string) (store.StakeSummary, error)
	markUnstakingFn func(ctx context.Context, tx store.Execer, stakeID string, accrued, penalty int64, cooldownEndsAt time.Time) error
	markCompletedFn func(ctx context.Context, tx store.Execer, stakeID string, accrued, penalty int64, completedAt time.Time) error
}

func (s stubStakeStore) Create(ctx context.Context, tx store.Execer, input store.StakeInput) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, input)
}

func (s stubStakeStore) GetForUpdate(ctx context.Context, tx store.Getter, accountID, stakeID string) (store.Stake, error) {
	return s.getForUpdateFn(ctx, tx, accountID, stakeID)
}

func (s stubStakeStore) ListByAccount(ctx context.Context, accountID string) ([]store.Stake, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, accountID)
}

func (s stubStakeStore) SummaryByAccount(ctx context.Context, accountID string) (store.StakeSummary, error) {
	if s.summaryFn == nil {
		return store.StakeSummary{}, nil
	}
	return s.summaryFn(ctx, accountID)
}

func (s stubStakeStore) MarkUnstaking(ctx context.Context, tx store.Execer, stakeID string, accrued, penalty int64, cooldownEndsAt time.Time) error {
	if s.markUnstakingFn == nil {
		return nil
	}
	return s.markUnstakingFn(ctx, tx, stakeID, accrued, penalty, cooldownEndsAt)
}

func (s stubStakeStore) MarkCompleted(ctx context.Context, tx store.Execer, stakeID string, accrued, penalty int64, completedAt time.Time) error {
	if s.markCompletedFn == nil {
		return nil
	}
	return s.markCompletedFn(ctx, tx, stakeID, accrued, penalty, completedAt)
}

type stubLedgerStore struct {
	insertFn func(ctx context.Context, tx store.Execer, entries []store.LedgerTransactionInput) error
}

func (s stubLedgerStore) InsertEntries(ctx context.Context, tx store.Execer, entries []store.LedgerTransactionInput) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, tx, entries)
}

type stubAuditStore struct {
	logFn func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

type stubExchangeStore struct {
	getActiveFn func(ctx context.Context, baseCurrency, quoteCurrency string) (store.ExchangeRate, error)
}

func (s stubExchangeStore) GetActive(ctx context.Context, baseCurrency, quoteCurrency string) (store.ExchangeRate, error) {
	if s.getActiveFn == nil {
		return store.ExchangeRate{}, sql.ErrNoRows
	}
	return s.getActiveFn(ctx, baseCurrency, quoteCurrency)
}

type stubHub struct {
	calls []websocket.StakeUpdate
}

func (s *stubHub) BroadcastUpdate(_ string, update websocket.StakeUpdate) {
	s.calls = append(s.calls, update)
}

func testCatalog(t *testing.T) *plans.Catalog {
	t.Helper()
	catalog, err := plans.NewCatalog([]plans.Plan{
		{
			ID:         "flex",
			Name:       "Flexible",
			LockDays:   0,
			APYPercent: decimal.NewFromInt(3),
			MinAmount:  10 * 1e8,
			MaxAmount:  1_000_000 * 1e8,
		},
		{
			ID:                          "locked-90",
			Name:                        "90 Day Lock",
			LockDays:                    90,
			APYPercent:                  decimal.NewFromInt(12),
			MinAmount:                   100 * 1e8,
			MaxAmount:                   1_000_000 * 1e8,
			EarlyWithdrawPenaltyPercent: decimal.NewFromInt(10),
			CooldownHours:               48,
		},
	})
	if err != nil {
		t.Fatalf("failed to build test catalog: %v", err)
	}
	return catalog
}

func stringPtr(value string) *string {
	return &value
}

func decimalFromInt(value int64) decimal.Decimal {
	return decimal.NewFromInt(value)
}

func userAccount(balance int64) store.Account {
	return store.Account{ID: "acc-1", UserID: stringPtr("user-1"), Currency: "USDT", Balance: balance}
}

func accountsWithPool(user store.Account) stubAccountStore {
	return stubAccountStore{
		getForUpdateFn: func(_ context.Context, _ store.Getter, accountID string) (store.Account, error) {
			if accountID == "acc-1" {
				return user, nil
			}
			return store.Account{ID: "pool", Currency: "USDT", Balance: poolSeed, IsSystem: true}, nil
		},
	}
}

func newTestService(t *testing.T, accounts AccountStore, stakes StakeStore, ledger LedgerStore, hub *stubHub, now time.Time) *StakingService {
	t.Helper()
	service := NewStakingService(fakeTxRunner{}, testCatalog(t), accounts, stakes, ledger, stubAuditStore{}, stubExchangeStore{}, hub, "USD")
	service.SetClock(func() time.Time { return now })
	return service
}
