package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"staking/internal/plans"
	"staking/internal/store"
)

func TestStakePlanNotFound(t *testing.T) {
	service := newTestService(t, stubAccountStore{
		getForUpdateFn: func(context.Context, store.Getter, string) (store.Account, error) {
			t.Fatalf("unexpected store call")
			return store.Account{}, nil
		},
	}, stubStakeStore{}, stubLedgerStore{}, &stubHub{}, baseTime)
	_, err := service.Stake(context.Background(), StakeRequest{
		UserID: "user-1", AccountID: "acc-1", PlanID: "nope", Amount: thousand,
	})
	if err != plans.ErrPlanNotFound {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestStakeBelowMinimum(t *testing.T) {
	service := newTestService(t, stubAccountStore{
		getForUpdateFn: func(context.Context, store.Getter, string) (store.Account, error) {
			t.Fatalf("unexpected store call")
			return store.Account{}, nil
		},
	}, stubStakeStore{}, stubLedgerStore{}, &stubHub{}, baseTime)
	_, err := service.Stake(context.Background(), StakeRequest{
		UserID: "user-1", AccountID: "acc-1", PlanID: "flex", Amount: 5 * 1e8,
	})
	if err != ErrBelowMinimum {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
}

func TestStakeAboveMaximum(t *testing.T) {
	service := newTestService(t, stubAccountStore{}, stubStakeStore{}, stubLedgerStore{}, &stubHub{}, baseTime)
	_, err := service.Stake(context.Background(), StakeRequest{
		UserID: "user-1", AccountID: "acc-1", PlanID: "flex", Amount: 2_000_000 * 1e8,
	})
	if err != ErrAboveMaximum {
		t.Fatalf("expected ErrAboveMaximum, got %v", err)
	}
}

func TestStakeInsufficientBalance(t *testing.T) {
	account := userAccount(500 * 1e8)
	mutated := false
	accounts := accountsWithPool(account)
	accounts.updateBalanceFn = func(context.Context, store.Execer, string, int64) error {
		mutated = true
		return nil
	}
	service := newTestService(t, accounts, stubStakeStore{}, stubLedgerStore{}, &stubHub{}, baseTime)
	_, err := service.Stake(context.Background(), StakeRequest{
		UserID: "user-1", AccountID: "acc-1", PlanID: "flex", Amount: thousand,
	})
	if err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if mutated {
		t.Fatalf("balance must not change on a rejected stake")
	}
}

func TestStakeExcludesPendingWithdrawals(t *testing.T) {
	account := userAccount(1500 * 1e8)
	account.PendingWithdrawals = 600 * 1e8
	service := newTestService(t, accountsWithPool(account), stubStakeStore{}, stubLedgerStore{}, &stubHub{}, baseTime)
	_, err := service.Stake(context.Background(), StakeRequest{
		UserID: "user-1", AccountID: "acc-1", PlanID: "flex", Amount: thousand,
	})
	if err != ErrInsufficientBalance {
		t.Fatalf("pending withdrawals must reduce available balance, got %v", err)
	}
}

func TestStakeForeignAccount(t *testing.T) {
	service := newTestService(t, stubAccountStore{
		getForUpdateFn: func(context.Context, store.Getter, string) (store.Account, error) {
			return store.Account{ID: "acc-1", UserID: stringPtr("someone-else"), Balance: thousand}, nil
		},
	}, stubStakeStore{}, stubLedgerStore{}, &stubHub{}, baseTime)
	_, err := service.Stake(context.Background(), StakeRequest{
		UserID: "user-1", AccountID: "acc-1", PlanID: "flex", Amount: thousand,
	})
	if err != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestStakeSuccess(t *testing.T) {
	balances := map[string]int64{}
	var created store.StakeInput
	var entries []store.LedgerTransactionInput
	hub := &stubHub{}

	accounts := accountsWithPool(userAccount(2000 * 1e8))
	accounts.updateBalanceFn = func(_ context.Context, _ store.Execer, accountID string, balance int64) error {
		balances[accountID] = balance
		return nil
	}
	service := newTestService(t, accounts, stubStakeStore{
		createFn: func(_ context.Context, _ store.Execer, input store.StakeInput) error {
			created = input
			return nil
		},
	}, stubLedgerStore{
		insertFn: func(_ context.Context, _ store.Execer, inserted []store.LedgerTransactionInput) error {
			entries = inserted
			return nil
		},
	}, hub, baseTime)

	result, err := service.Stake(context.Background(), StakeRequest{
		UserID: "user-1", AccountID: "acc-1", PlanID: "locked-90", Amount: thousand,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StakeID == "" || result.StakeID != created.ID {
		t.Fatalf("stake id mismatch: %q vs %q", result.StakeID, created.ID)
	}
	if balances["acc-1"] != 1000*1e8 {
		t.Fatalf("unexpected user balance: %d", balances["acc-1"])
	}
	if balances["pool"] != poolSeed+thousand {
		t.Fatalf("unexpected pool balance: %d", balances["pool"])
	}
	if created.APYPercent.String() != "12" || created.LockDays != 90 || created.CooldownHours != 48 {
		t.Fatalf("plan terms not snapshotted: %+v", created)
	}
	if !created.UnlockAt.Equal(baseTime.Add(90 * 24 * time.Hour)) {
		t.Fatalf("unexpected unlock time: %v", created.UnlockAt)
	}
	var sum int64
	for _, entry := range entries {
		sum += entry.Amount
	}
	if len(entries) != 2 || sum != 0 {
		t.Fatalf("ledger entries must balance: %#v", entries)
	}
	if entries[0].BalanceBefore != 2000*1e8 || entries[0].BalanceAfter != 1000*1e8 {
		t.Fatalf("missing balance snapshots: %+v", entries[0])
	}
	// 1000 x 12% / 365, truncated
	if result.Projected.Daily != 32876712 {
		t.Fatalf("unexpected daily projection: %d", result.Projected.Daily)
	}
	if len(hub.calls) != 1 || hub.calls[0].StakeStatus != store.StakeStatusActive {
		t.Fatalf("expected one stake broadcast: %#v", hub.calls)
	}
}

func TestUnstakeFlexibleImmediateExit(t *testing.T) {
	now := baseTime.Add(10 * 24 * time.Hour)
	balances := map[string]int64{}
	var completedAccrued, completedPenalty int64

	accounts := accountsWithPool(userAccount(500 * 1e8))
	accounts.updateBalanceFn = func(_ context.Context, _ store.Execer, accountID string, balance int64) error {
		balances[accountID] = balance
		return nil
	}
	service := newTestService(t, accounts, stubStakeStore{
		getForUpdateFn: func(_ context.Context, _ store.Getter, accountID, stakeID string) (store.Stake, error) {
			return store.Stake{
				ID: stakeID, AccountID: accountID, PlanID: "flex",
				Principal: thousand, APYPercent: decimalFromInt(3),
				Status: store.StakeStatusActive, StakedAt: baseTime, UnlockAt: baseTime,
			}, nil
		},
		markCompletedFn: func(_ context.Context, _ store.Execer, _ string, accrued, penalty int64, _ time.Time) error {
			completedAccrued, completedPenalty = accrued, penalty
			return nil
		},
	}, stubLedgerStore{}, &stubHub{}, now)

	result, err := service.Unstake(context.Background(), UnstakeRequest{
		UserID: "user-1", AccountID: "acc-1", StakeID: "stake-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != store.StakeStatusCompleted {
		t.Fatalf("flexible exit should complete immediately, got %s", result.Status)
	}
	// 1000 + 0.82191780
	if result.ReturnAmount != 100082191780 {
		t.Fatalf("unexpected return amount: %d", result.ReturnAmount)
	}
	if completedAccrued != 82191780 || completedPenalty != 0 {
		t.Fatalf("unexpected frozen amounts: accrued=%d penalty=%d", completedAccrued, completedPenalty)
	}
	if balances["acc-1"] != 500*1e8+100082191780 {
		t.Fatalf("unexpected user balance: %d", balances["acc-1"])
	}
	if balances["pool"] != poolSeed-100082191780 {
		t.Fatalf("unexpected pool balance: %d", balances["pool"])
	}
}

func TestUnstakeEarlyStartsCooldownWithPenalty(t *testing.T) {
	now := baseTime.Add(10 * 24 * time.Hour)
	var frozenAccrued, frozenPenalty int64
	var cooldownEndsAt time.Time

	accounts := accountsWithPool(userAccount(0))
	accounts.updateBalanceFn = func(context.Context, store.Execer, string, int64) error {
		t.Fatalf("cooldown path must not move balances")
		return nil
	}
	service := newTestService(t, accounts, stubStakeStore{
		getForUpdateFn: func(_ context.Context, _ store.Getter, accountID, stakeID string) (store.Stake, error) {
			return store.Stake{
				ID: stakeID, AccountID: accountID, PlanID: "locked-90",
				Principal: thousand, APYPercent: decimalFromInt(12),
				LockDays: 90, PenaltyPercent: decimalFromInt(10), CooldownHours: 48,
				Status: store.StakeStatusActive, StakedAt: baseTime,
				UnlockAt: baseTime.Add(90 * 24 * time.Hour),
			}, nil
		},
		markUnstakingFn: func(_ context.Context, _ store.Execer, _ string, accrued, penalty int64, endsAt time.Time) error {
			frozenAccrued, frozenPenalty, cooldownEndsAt = accrued, penalty, endsAt
			return nil
		},
	}, stubLedgerStore{}, &stubHub{}, now)

	result, err := service.Unstake(context.Background(), UnstakeRequest{
		UserID: "user-1", AccountID: "acc-1", StakeID: "stake-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != store.StakeStatusUnstaking {
		t.Fatalf("expected UNSTAKING, got %s", result.Status)
	}
	if frozenAccrued != 328767123 {
		t.Fatalf("unexpected frozen interest: %d", frozenAccrued)
	}
	if frozenPenalty != 10000000000 { // 10% of 1000
		t.Fatalf("unexpected frozen penalty: %d", frozenPenalty)
	}
	if !cooldownEndsAt.Equal(now.Add(48 * time.Hour)) {
		t.Fatalf("unexpected cooldown end: %v", cooldownEndsAt)
	}
	// 1000 + 3.28767123 - 100
	if result.ReturnAmount != 90328767123 {
		t.Fatalf("unexpected expected return: %d", result.ReturnAmount)
	}
}

func TestUnstakeAfterLockupHasNoPenalty(t *testing.T) {
	now := baseTime.Add(91 * 24 * time.Hour)
	var frozenPenalty int64
	service := newTestService(t, accountsWithPool(userAccount(0)), stubStakeStore{
		getForUpdateFn: func(_ context.Context, _ store.Getter, accountID, stakeID string) (store.Stake, error) {
			return store.Stake{
				ID: stakeID, AccountID: accountID, PlanID: "locked-90",
				Principal: thousand, APYPercent: decimalFromInt(12),
				LockDays: 90, PenaltyPercent: decimalFromInt(10), CooldownHours: 48,
				Status: store.StakeStatusActive, StakedAt: baseTime,
				UnlockAt: baseTime.Add(90 * 24 * time.Hour),
			}, nil
		},
		markUnstakingFn: func(_ context.Context, _ store.Execer, _ string, _, penalty int64, _ time.Time) error {
			frozenPenalty = penalty
			return nil
		},
	}, stubLedgerStore{}, &stubHub{}, now)

	result, err := service.Unstake(context.Background(), UnstakeRequest{
		UserID: "user-1", AccountID: "acc-1", StakeID: "stake-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frozenPenalty != 0 || result.PenaltyAmount != 0 {
		t.Fatalf("no penalty after lockup completes: %d", frozenPenalty)
	}
}

func TestUnstakeNotActive(t *testing.T) {
	service := newTestService(t, accountsWithPool(userAccount(0)), stubStakeStore{
		getForUpdateFn: func(_ context.Context, _ store.Getter, accountID, stakeID string) (store.Stake, error) {
			return store.Stake{ID: stakeID, Status: store.StakeStatusUnstaking}, nil
		},
	}, stubLedgerStore{}, &stubHub{}, baseTime)
	_, err := service.Unstake(context.Background(), UnstakeRequest{
		UserID: "user-1", AccountID: "acc-1", StakeID: "stake-1",
	})
	if err != ErrStakeNotActive {
		t.Fatalf("expected ErrStakeNotActive, got %v", err)
	}
}

func TestUnstakeUnknownStake(t *testing.T) {
	service := newTestService(t, accountsWithPool(userAccount(0)), stubStakeStore{
		getForUpdateFn: func(context.Context, store.Getter, string, string) (store.Stake, error) {
			return store.Stake{}, sql.ErrNoRows
		},
	}, stubLedgerStore{}, &stubHub{}, baseTime)
	_, err := service.Unstake(context.Background(), UnstakeRequest{
		UserID: "user-1", AccountID: "acc-1", StakeID: "missing",
	})
	if err != ErrStakeNotFound {
		t.Fatalf("expected ErrStakeNotFound, got %v", err)
	}
}

func TestUnstakeForeignAccountReportsNotFound(t *testing.T) {
	service := newTestService(t, stubAccountStore{
		getForUpdateFn: func(context.Context, store.Getter, string) (store.Account, error) {
			return store.Account{ID: "acc-1", UserID: stringPtr("someone-else")}, nil
		},
	}, stubStakeStore{}, stubLedgerStore{}, &stubHub{}, baseTime)
	_, err := service.Unstake(context.Background(), UnstakeRequest{
		UserID: "user-1", AccountID: "acc-1", StakeID: "stake-1",
	})
	if err != ErrStakeNotFound {
		t.Fatalf("foreign stakes must look like missing ones, got %v", err)
	}
}

func unstakingStake(accountID, stakeID string, cooldownEndsAt time.Time) store.Stake {
	return store.Stake{
		ID: stakeID, AccountID: accountID, PlanID: "locked-90",
		Principal: thousand, APYPercent: decimalFromInt(12),
		LockDays: 90, PenaltyPercent: decimalFromInt(10), CooldownHours: 48,
		AccruedInterest: 328767123, PenaltyAmount: 10000000000,
		Status: store.StakeStatusUnstaking, StakedAt: baseTime,
		UnlockAt:       baseTime.Add(90 * 24 * time.Hour),
		CooldownEndsAt: &cooldownEndsAt,
	}
}

func TestClaimBeforeCooldownElapsed(t *testing.T) {
	requestedAt := baseTime.Add(10 * 24 * time.Hour)
	now := requestedAt.Add(20 * time.Hour)
	service := newTestService(t, accountsWithPool(userAccount(0)), stubStakeStore{
		getForUpdateFn: func(_ context.Context, _ store.Getter, accountID, stakeID string) (store.Stake, error) {
			return unstakingStake(accountID, stakeID, requestedAt.Add(48*time.Hour)), nil
		},
	}, stubLedgerStore{}, &stubHub{}, now)
	_, err := service.Claim(context.Background(), ClaimRequest{
		UserID: "user-1", AccountID: "acc-1", StakeID: "stake-1",
	})
	if err != ErrCooldownNotElapsed {
		t.Fatalf("expected ErrCooldownNotElapsed, got %v", err)
	}
}

func TestClaimPaysFrozenAmountsExactly(t *testing.T) {
	requestedAt := baseTime.Add(10 * 24 * time.Hour)
	// The clock has advanced far past both cooldown and lockup: the frozen
	// snapshot must be paid out without recomputation.
	now := requestedAt.Add(45 * 24 * time.Hour)
	balances := map[string]int64{}
	var entries []store.LedgerTransactionInput

	accounts := accountsWithPool(userAccount(0))
	accounts.updateBalanceFn = func(_ context.Context, _ store.Execer, accountID string, balance int64) error {
		balances[accountID] = balance
		return nil
	}
	service := newTestService(t, accounts, stubStakeStore{
		getForUpdateFn: func(_ context.Context, _ store.Getter, accountID, stakeID string) (store.Stake, error) {
			return unstakingStake(accountID, stakeID, requestedAt.Add(48*time.Hour)), nil
		},
	}, stubLedgerStore{
		insertFn: func(_ context.Context, _ store.Execer, inserted []store.LedgerTransactionInput) error {
			entries = inserted
			return nil
		},
	}, &stubHub{}, now)

	result, err := service.Claim(context.Background(), ClaimRequest{
		UserID: "user-1", AccountID: "acc-1", StakeID: "stake-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1000 + 3.28767123 - 100 = 903.28767123
	if result.ReturnAmount != 90328767123 {
		t.Fatalf("unexpected return amount: %d", result.ReturnAmount)
	}
	if result.AccruedInterest != 328767123 || result.PenaltyAmount != 10000000000 {
		t.Fatalf("claim must not recompute frozen values: %+v", result)
	}
	if balances["acc-1"] != 90328767123 {
		t.Fatalf("unexpected user balance: %d", balances["acc-1"])
	}
	var sum int64
	for _, entry := range entries {
		sum += entry.Amount
	}
	if sum != 0 {
		t.Fatalf("payout ledger entries must balance: %#v", entries)
	}
}

func TestClaimAlreadyCompleted(t *testing.T) {
	mutated := false
	accounts := accountsWithPool(userAccount(0))
	accounts.updateBalanceFn = func(context.Context, store.Execer, string, int64) error {
		mutated = true
		return nil
	}
	service := newTestService(t, accounts, stubStakeStore{
		getForUpdateFn: func(_ context.Context, _ store.Getter, accountID, stakeID string) (store.Stake, error) {
			return store.Stake{ID: stakeID, Status: store.StakeStatusCompleted}, nil
		},
	}, stubLedgerStore{}, &stubHub{}, baseTime)
	_, err := service.Claim(context.Background(), ClaimRequest{
		UserID: "user-1", AccountID: "acc-1", StakeID: "stake-1",
	})
	if err != ErrAlreadyCompleted {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
	if mutated {
		t.Fatalf("a second claim must never credit again")
	}
}

func TestClaimActiveStake(t *testing.T) {
	service := newTestService(t, accountsWithPool(userAccount(0)), stubStakeStore{
		getForUpdateFn: func(_ context.Context, _ store.Getter, accountID, stakeID string) (store.Stake, error) {
			return store.Stake{ID: stakeID, Status: store.StakeStatusActive}, nil
		},
	}, stubLedgerStore{}, &stubHub{}, baseTime)
	_, err := service.Claim(context.Background(), ClaimRequest{
		UserID: "user-1", AccountID: "acc-1", StakeID: "stake-1",
	})
	if err != ErrNotInCooldown {
		t.Fatalf("expected ErrNotInCooldown, got %v", err)
	}
}

func TestOverviewRecomputesActiveAccrual(t *testing.T) {
	now := baseTime.Add(10 * 24 * time.Hour)
	service := newTestService(t, stubAccountStore{
		getByIDFn: func(context.Context, string) (store.Account, error) {
			return userAccount(500 * 1e8), nil
		},
		getForUpdateFn: func(context.Context, store.Getter, string) (store.Account, error) {
			t.Fatalf("overview must not lock rows")
			return store.Account{}, nil
		},
	}, stubStakeStore{
		listFn: func(context.Context, string) ([]store.Stake, error) {
			return []store.Stake{
				{
					ID: "stake-1", AccountID: "acc-1", PlanID: "flex",
					Principal: thousand, APYPercent: decimalFromInt(3),
					Status: store.StakeStatusActive, StakedAt: baseTime, UnlockAt: baseTime,
				},
			}, nil
		},
		summaryFn: func(context.Context, string) (store.StakeSummary, error) {
			return store.StakeSummary{ActiveCount: 1, TotalStaked: thousand}, nil
		},
	}, stubLedgerStore{}, &stubHub{}, now)

	overview, err := service.Overview(context.Background(), "user-1", "acc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(overview.Stakes) != 1 {
		t.Fatalf("expected one stake, got %d", len(overview.Stakes))
	}
	if overview.Stakes[0].LiveAccrued != 82191780 {
		t.Fatalf("live accrual not recomputed: %d", overview.Stakes[0].LiveAccrued)
	}
	if overview.TotalAccrued != 82191780 {
		t.Fatalf("unexpected total accrued: %d", overview.TotalAccrued)
	}
	if overview.Available != 500*1e8 {
		t.Fatalf("unexpected available balance: %d", overview.Available)
	}
}

func TestOverviewForeignAccount(t *testing.T) {
	service := newTestService(t, stubAccountStore{
		getByIDFn: func(context.Context, string) (store.Account, error) {
			return store.Account{ID: "acc-1", UserID: stringPtr("someone-else")}, nil
		},
	}, stubStakeStore{}, stubLedgerStore{}, &stubHub{}, baseTime)
	_, err := service.Overview(context.Background(), "user-1", "acc-1")
	if err != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestStakeInfrastructureErrorPropagates(t *testing.T) {
	infra := errors.New("connection refused")
	service := NewStakingService(fakeTxRunner{err: infra}, testCatalog(t), accountsWithPool(userAccount(2000*1e8)), stubStakeStore{}, stubLedgerStore{}, stubAuditStore{}, stubExchangeStore{}, &stubHub{}, "USD")
	service.SetClock(func() time.Time { return baseTime })
	_, err := service.Stake(context.Background(), StakeRequest{
		UserID: "user-1", AccountID: "acc-1", PlanID: "flex", Amount: thousand,
	})
	if err != infra {
		t.Fatalf("infrastructure errors must surface unchanged, got %v", err)
	}
}
