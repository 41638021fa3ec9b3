package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"staking/internal/auth"
	"staking/internal/config"
	"staking/internal/db"
	"staking/internal/middleware"
	"staking/internal/plans"
	"staking/internal/services"
	"staking/internal/store"
	"staking/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubReconcileDB struct {
	selectFn func(ctx context.Context, dest any, query string, args ...any) error
}

func (s stubReconcileDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	if s.selectFn == nil {
		return nil
	}
	return s.selectFn(ctx, dest, query, args...)
}

type stubUserStore struct {
	createFn     func(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error
	getByEmailFn func(ctx context.Context, email string) (store.User, error)
	getByIDFn    func(ctx context.Context, userID string) (store.User, error)
}

func (s stubUserStore) Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, id, username, email, passwordHash)
}

func (s stubUserStore) GetByEmail(ctx context.Context, email string) (store.User, error) {
	if s.getByEmailFn == nil {
		return store.User{}, nil
	}
	return s.getByEmailFn(ctx, email)
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (store.User, error) {
	if s.getByIDFn == nil {
		return store.User{}, nil
	}
	return s.getByIDFn(ctx, userID)
}

type stubAccountStore struct {
	createFn            func(ctx context.Context, tx store.Execer, id string, userID *string, currency string, balance int64, isSystem bool) error
	getByUserFn         func(ctx context.Context, userID string) ([]store.AccountBalanceSummary, error)
	getByUserCurrencyFn func(ctx context.Context, userID, currency string) (store.Account, error)
	getByIDFn           func(ctx context.Context, accountID string) (store.Account, error)
	getSystemAccountFn  func(ctx context.Context, currency string) (string, error)
	getForUpdateFn      func(ctx context.Context, tx store.Getter, accountID string) (store.Account, error)
	updateBalanceFn     func(ctx context.Context, tx store.Execer, accountID string, balance int64) error
}

func (s stubAccountStore) Create(ctx context.Context, tx store.Execer, id string, userID *string, currency string, balance int64, isSystem bool) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, id, userID, currency, balance, isSystem)
}

func (s stubAccountStore) GetByUser(ctx context.Context, userID string) ([]store.AccountBalanceSummary, error) {
	if s.getByUserFn == nil {
		return nil, nil
	}
	return s.getByUserFn(ctx, userID)
}

func (s stubAccountStore) GetByUserAndCurrency(ctx context.Context, userID, currency string) (store.Account, error) {
	if s.getByUserCurrencyFn == nil {
		return store.Account{}, nil
	}
	return s.getByUserCurrencyFn(ctx, userID, currency)
}

func (s stubAccountStore) GetByID(ctx context.Context, accountID string) (store.Account, error) {
	if s.getByIDFn == nil {
		return store.Account{}, nil
	}
	return s.getByIDFn(ctx, accountID)
}

func (s stubAccountStore) GetSystemAccount(ctx context.Context, currency string) (string, error) {
	if s.getSystemAccountFn == nil {
		return "", nil
	}
	return s.getSystemAccountFn(ctx, currency)
}

func (s stubAccountStore) GetForUpdate(ctx context.Context, tx store.Getter, accountID string) (store.Account, error) {
	if s.getForUpdateFn == nil {
		return store.Account{}, nil
	}
	return s.getForUpdateFn(ctx, tx, accountID)
}

func (s stubAccountStore) UpdateBalance(ctx context.Context, tx store.Execer, accountID string, balance int64) error {
	if s.updateBalanceFn == nil {
		return nil
	}
	return s.updateBalanceFn(ctx, tx, accountID, balance)
}

type stubLedgerStore struct {
	insertFn          func(ctx context.Context, tx store.Execer, entries []store.LedgerTransactionInput) error
	listByReferenceFn func(ctx context.Context, referenceID string) ([]store.LedgerTransaction, error)
}

func (s stubLedgerStore) InsertEntries(ctx context.Context, tx store.Execer, entries []store.LedgerTransactionInput) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, tx, entries)
}

func (s stubLedgerStore) ListByReference(ctx context.Context, referenceID string) ([]store.LedgerTransaction, error) {
	if s.listByReferenceFn == nil {
		return nil, nil
	}
	return s.listByReferenceFn(ctx, referenceID)
}

type stubStakeStore struct {
	getByIDFn func(ctx context.Context, accountID, stakeID string) (store.Stake, error)
}

func (s stubStakeStore) GetByID(ctx context.Context, accountID, stakeID string) (store.Stake, error) {
	if s.getByIDFn == nil {
		return store.Stake{}, nil
	}
	return s.getByIDFn(ctx, accountID, stakeID)
}

type stubAuditStore struct {
	logFn         func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	listByActorFn func(ctx context.Context, actorID string, limit, offset int) ([]map[string]any, error)
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

func (s stubAuditStore) ListByActor(ctx context.Context, actorID string, limit, offset int) ([]map[string]any, error) {
	if s.listByActorFn == nil {
		return nil, nil
	}
	return s.listByActorFn(ctx, actorID, limit, offset)
}

type stubService struct {
	stakeFn    func(ctx context.Context, req services.StakeRequest) (services.StakeResult, error)
	unstakeFn  func(ctx context.Context, req services.UnstakeRequest) (services.UnstakeResult, error)
	claimFn    func(ctx context.Context, req services.ClaimRequest) (services.ClaimResult, error)
	overviewFn func(ctx context.Context, userID, accountID string) (services.Overview, error)
	plansFn    func() []plans.Plan
}

func (s stubService) Stake(ctx context.Context, req services.StakeRequest) (services.StakeResult, error) {
	if s.stakeFn == nil {
		return services.StakeResult{}, nil
	}
	return s.stakeFn(ctx, req)
}

func (s stubService) Unstake(ctx context.Context, req services.UnstakeRequest) (services.UnstakeResult, error) {
	if s.unstakeFn == nil {
		return services.UnstakeResult{}, nil
	}
	return s.unstakeFn(ctx, req)
}

func (s stubService) Claim(ctx context.Context, req services.ClaimRequest) (services.ClaimResult, error) {
	if s.claimFn == nil {
		return services.ClaimResult{}, nil
	}
	return s.claimFn(ctx, req)
}

func (s stubService) Overview(ctx context.Context, userID, accountID string) (services.Overview, error) {
	if s.overviewFn == nil {
		return services.Overview{}, nil
	}
	return s.overviewFn(ctx, userID, accountID)
}

func (s stubService) Plans() []plans.Plan {
	if s.plansFn == nil {
		return nil
	}
	return s.plansFn()
}

func newTestHandler(reconcileDB store.Selecter, txRunner db.TxRunner, users UserStore, accounts AccountStore, ledger LedgerStore, stakes StakeStore, audit AuditStore, service StakingService) *Handler {
	cfg := config.Config{
		AppEnv:          "test",
		Port:            "0",
		DatabaseURL:     "",
		JWTSecret:       "secret",
		TokenTTL:        time.Minute,
		AllowedOrigins:  "*",
		StakingCurrency: "USDT",
		DisplayCurrency: "USD",
	}
	return New(reconcileDB, txRunner, cfg, users, accounts, ledger, stakes, audit, service, websocket.NewHub())
}

// serveAuthed runs one handler behind the auth middleware with a valid token
// for userID. The stake id, when set, is injected as the chi URL param.
func serveAuthed(t *testing.T, handler http.HandlerFunc, userID, method, target, stakeID string, body string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := auth.GenerateToken("secret", userID, time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+token)
	if stakeID != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", stakeID)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}
	rr := httptest.NewRecorder()
	middleware.Auth("secret")(handler).ServeHTTP(rr, req)
	return rr
}

func stringPtr(value string) *string {
	return &value
}
