package handlers

import (
	"context"

	"staking/internal/plans"
	"staking/internal/services"
	"staking/internal/store"
)

type UserStore interface {
	Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error
	GetByEmail(ctx context.Context, email string) (store.User, error)
	GetByID(ctx context.Context, userID string) (store.User, error)
}

type AccountStore interface {
	Create(ctx context.Context, tx store.Execer, id string, userID *string, currency string, balance int64, isSystem bool) error
	GetByUser(ctx context.Context, userID string) ([]store.AccountBalanceSummary, error)
	GetByUserAndCurrency(ctx context.Context, userID, currency string) (store.Account, error)
	GetByID(ctx context.Context, accountID string) (store.Account, error)
	GetSystemAccount(ctx context.Context, currency string) (string, error)
	GetForUpdate(ctx context.Context, tx store.Getter, accountID string) (store.Account, error)
	UpdateBalance(ctx context.Context, tx store.Execer, accountID string, balance int64) error
}

type LedgerStore interface {
	InsertEntries(ctx context.Context, tx store.Execer, entries []store.LedgerTransactionInput) error
	ListByReference(ctx context.Context, referenceID string) ([]store.LedgerTransaction, error)
}

type StakeStore interface {
	GetByID(ctx context.Context, accountID, stakeID string) (store.Stake, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	ListByActor(ctx context.Context, actorID string, limit, offset int) ([]map[string]any, error)
}

type StakingService interface {
	Stake(ctx context.Context, req services.StakeRequest) (services.StakeResult, error)
	Unstake(ctx context.Context, req services.UnstakeRequest) (services.UnstakeResult, error)
	Claim(ctx context.Context, req services.ClaimRequest) (services.ClaimResult, error)
	Overview(ctx context.Context, userID, accountID string) (services.Overview, error)
	Plans() []plans.Plan
}
