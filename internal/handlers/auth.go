package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"staking/internal/auth"
	"staking/internal/middleware"
	"staking/internal/store"
	"staking/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// openingBalance is the demo balance seeded on registration, in units.
const openingBalance int64 = 10_000 * 1e8

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validator.ValidateUsername(req.Username); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validator.ValidateEmail(req.Email); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validator.ValidatePassword(req.Password); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to secure password")
		return
	}
	userID := uuid.NewString()
	accountID := uuid.NewString()
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.users.Create(r.Context(), tx, userID, req.Username, req.Email, passwordHash); err != nil {
			return err
		}
		if err := h.accounts.Create(r.Context(), tx, accountID, &userID, h.cfg.StakingCurrency, openingBalance, false); err != nil {
			return err
		}
		if err := h.createOpeningBalance(r.Context(), tx, accountID, h.cfg.StakingCurrency, openingBalance); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{
			"user_id":    userID,
			"account_id": accountID,
		})
		return h.audit.Log(r.Context(), tx, userID, "register", "user", userID, string(data))
	})
	if err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			respondError(w, http.StatusConflict, "username or email already exists")
			return
		}
		respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	token, err := auth.GenerateToken(h.cfg.JWTSecret, userID, h.cfg.TokenTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"token":      token,
		"account_id": accountID,
	})
}

// createOpeningBalance records the seeded balance as a balanced ledger pair
// against the pool account so ledger sums reconcile from the first row.
func (h *Handler) createOpeningBalance(ctx context.Context, tx *sqlx.Tx, accountID, currency string, amount int64) error {
	if tx == nil {
		return nil
	}
	poolID, err := h.accounts.GetSystemAccount(ctx, currency)
	if err != nil {
		return err
	}
	pool, err := h.accounts.GetForUpdate(ctx, tx, poolID)
	if err != nil {
		return err
	}
	if err := h.accounts.UpdateBalance(ctx, tx, poolID, pool.Balance-amount); err != nil {
		return err
	}
	referenceID := uuid.NewString()
	return h.ledger.InsertEntries(ctx, tx, []store.LedgerTransactionInput{
		{
			ID:            uuid.NewString(),
			AccountID:     accountID,
			ReferenceID:   referenceID,
			Type:          store.LedgerTypeOpening,
			Amount:        amount,
			BalanceBefore: 0,
			BalanceAfter:  amount,
			Currency:      currency,
			Description:   "Opening balance",
		},
		{
			ID:            uuid.NewString(),
			AccountID:     poolID,
			ReferenceID:   referenceID,
			Type:          store.LedgerTypeOpening,
			Amount:        -amount,
			BalanceBefore: pool.Balance,
			BalanceAfter:  pool.Balance - amount,
			Currency:      currency,
			Description:   "Opening balance funded",
		},
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := auth.GenerateToken(h.cfg.JWTSecret, user.ID, h.cfg.TokenTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"created_at": user.CreatedAt,
	})
}
