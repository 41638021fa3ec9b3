package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"staking/internal/auth"
	"staking/internal/middleware"
	"staking/internal/plans"
	"staking/internal/services"
	"staking/internal/store"
	"staking/internal/websocket"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	list := h.service.Plans()
	normalized := make([]map[string]any, 0, len(list))
	for _, plan := range list {
		normalized = append(normalized, planJSON(plan))
	}
	respondJSON(w, http.StatusOK, normalized)
}

type stakeRequest struct {
	AccountID string `json:"account_id"`
	PlanID    string `json:"plan_id"`
	Amount    string `json:"amount"`
}

func (h *Handler) Stake(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req stakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.PlanID == "" {
		respondError(w, http.StatusBadRequest, "plan_id is required")
		return
	}
	amount, err := parseAmountUnits(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	accountID, err := h.resolveAccountID(r.Context(), userID, req.AccountID)
	if err != nil {
		respondError(w, http.StatusNotFound, "account_not_found")
		return
	}
	result, err := h.service.Stake(r.Context(), services.StakeRequest{
		UserID:    userID,
		AccountID: accountID,
		PlanID:    req.PlanID,
		Amount:    amount,
	})
	if err != nil {
		h.respondStakeError(w, r, userID, accountID, "", err)
		return
	}
	payload := map[string]any{
		"stake_id":    result.StakeID,
		"plan":        planJSON(result.Plan),
		"currency":    result.Currency,
		"new_balance": valueToMoney(result.NewBalance),
		"staked_at":   result.StakedAt,
		"unlock_at":   result.UnlockAt,
		"projected_interest": map[string]any{
			"daily":   valueToMoney(result.Projected.Daily),
			"monthly": valueToMoney(result.Projected.Monthly),
			"yearly":  valueToMoney(result.Projected.Yearly),
		},
	}
	if result.Display != nil {
		payload["projected_interest_display"] = map[string]any{
			"currency": result.Display.Currency,
			"rate":     result.Display.Rate,
			"daily":    result.Display.Daily,
			"monthly":  result.Display.Monthly,
			"yearly":   result.Display.Yearly,
		}
	}
	respondJSON(w, http.StatusCreated, payload)
}

type stakeActionRequest struct {
	AccountID string `json:"account_id"`
}

func (h *Handler) Unstake(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	stakeID := chi.URLParam(r, "id")
	accountID, ok := h.actionAccountID(w, r, userID)
	if !ok {
		return
	}
	result, err := h.service.Unstake(r.Context(), services.UnstakeRequest{
		UserID:    userID,
		AccountID: accountID,
		StakeID:   stakeID,
	})
	if err != nil {
		h.respondStakeError(w, r, userID, accountID, stakeID, err)
		return
	}
	payload := map[string]any{
		"stake_id":         result.StakeID,
		"status":           result.Status,
		"accrued_interest": valueToMoney(result.AccruedInterest),
		"penalty_amount":   valueToMoney(result.PenaltyAmount),
	}
	if result.Status == store.StakeStatusCompleted {
		payload["return_amount"] = valueToMoney(result.ReturnAmount)
		payload["new_balance"] = valueToMoney(result.NewBalance)
	} else {
		payload["expected_return"] = valueToMoney(result.ReturnAmount)
		payload["cooldown_ends_at"] = result.CooldownEndsAt
	}
	respondJSON(w, http.StatusOK, payload)
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	stakeID := chi.URLParam(r, "id")
	accountID, ok := h.actionAccountID(w, r, userID)
	if !ok {
		return
	}
	result, err := h.service.Claim(r.Context(), services.ClaimRequest{
		UserID:    userID,
		AccountID: accountID,
		StakeID:   stakeID,
	})
	if err != nil {
		h.respondStakeError(w, r, userID, accountID, stakeID, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"stake_id":         result.StakeID,
		"status":           store.StakeStatusCompleted,
		"accrued_interest": valueToMoney(result.AccruedInterest),
		"penalty_amount":   valueToMoney(result.PenaltyAmount),
		"return_amount":    valueToMoney(result.ReturnAmount),
		"new_balance":      valueToMoney(result.NewBalance),
		"completed_at":     result.CompletedAt,
	})
}

func (h *Handler) ListStakes(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	accountID, err := h.resolveAccountID(r.Context(), userID, r.URL.Query().Get("account_id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "account_not_found")
		return
	}
	overview, err := h.service.Overview(r.Context(), userID, accountID)
	if err != nil {
		if errors.Is(err, services.ErrAccountNotFound) {
			respondError(w, http.StatusNotFound, "account_not_found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load stakes")
		return
	}
	stakes := make([]map[string]any, 0, len(overview.Stakes))
	for _, view := range overview.Stakes {
		stakes = append(stakes, stakeJSON(view))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"account_id": overview.AccountID,
		"currency":   overview.Currency,
		"balance":    valueToMoney(overview.Balance),
		"available":  valueToMoney(overview.Available),
		"stakes":     stakes,
		"summary": map[string]any{
			"total_staked":    valueToMoney(overview.TotalStaked),
			"total_accrued":   valueToMoney(overview.TotalAccrued),
			"lifetime_paid":   valueToMoney(overview.LifetimePaid),
			"active_count":    overview.ActiveCount,
			"unstaking_count": overview.UnstakingCount,
			"completed_count": overview.CompletedCount,
		},
	})
}

// GetStake returns one stake with its ledger history, scoped to the caller.
func (h *Handler) GetStake(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	stakeID := chi.URLParam(r, "id")
	accountID, err := h.resolveAccountID(r.Context(), userID, r.URL.Query().Get("account_id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "stake_not_found")
		return
	}
	account, err := h.accounts.GetByID(r.Context(), accountID)
	if err != nil || account.UserID == nil || *account.UserID != userID {
		respondError(w, http.StatusNotFound, "stake_not_found")
		return
	}
	stake, err := h.stakes.GetByID(r.Context(), accountID, stakeID)
	if err != nil {
		respondError(w, http.StatusNotFound, "stake_not_found")
		return
	}
	ledger, err := h.ledger.ListByReference(r.Context(), stakeID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load ledger")
		return
	}
	history := make([]map[string]any, 0, len(ledger))
	for _, entry := range ledger {
		history = append(history, map[string]any{
			"id":             entry.ID,
			"account_id":     entry.AccountID,
			"type":           entry.Type,
			"amount":         valueToMoney(entry.Amount),
			"balance_before": valueToMoney(entry.BalanceBefore),
			"balance_after":  valueToMoney(entry.BalanceAfter),
			"currency":       entry.Currency,
			"description":    entry.Description,
			"created_at":     entry.CreatedAt,
		})
	}
	view := services.StakeView{Stake: stake, LiveAccrued: stake.AccruedInterest}
	respondJSON(w, http.StatusOK, map[string]any{
		"stake":  stakeJSON(view),
		"ledger": history,
	})
}

func (h *Handler) WSUpdates(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	websocket.ServeWS(w, r, h.hub, claims.UserID)
}

// actionAccountID reads the optional account_id from an unstake/claim body,
// falling back to the caller's staking-currency account.
func (h *Handler) actionAccountID(w http.ResponseWriter, r *http.Request, userID string) (string, bool) {
	var req stakeActionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	accountID, err := h.resolveAccountID(r.Context(), userID, req.AccountID)
	if err != nil {
		respondError(w, http.StatusNotFound, "stake_not_found")
		return "", false
	}
	return accountID, true
}

func (h *Handler) resolveAccountID(ctx context.Context, userID, accountID string) (string, error) {
	if accountID != "" {
		return accountID, nil
	}
	account, err := h.accounts.GetByUserAndCurrency(ctx, userID, h.cfg.StakingCurrency)
	if err != nil {
		return "", err
	}
	return account.ID, nil
}

func (h *Handler) respondStakeError(w http.ResponseWriter, r *http.Request, userID, accountID, stakeID string, err error) {
	switch {
	case errors.Is(err, plans.ErrPlanNotFound):
		respondError(w, http.StatusBadRequest, "plan_not_found")
	case errors.Is(err, services.ErrBelowMinimum):
		respondError(w, http.StatusBadRequest, "below_minimum")
	case errors.Is(err, services.ErrAboveMaximum):
		respondError(w, http.StatusBadRequest, "above_maximum")
	case errors.Is(err, services.ErrInsufficientBalance):
		payload := map[string]any{"error": "insufficient_balance"}
		if account, lookupErr := h.accounts.GetByID(r.Context(), accountID); lookupErr == nil {
			payload["available_balance"] = valueToMoney(account.Available())
		}
		respondJSON(w, http.StatusBadRequest, payload)
	case errors.Is(err, services.ErrAccountNotFound):
		respondError(w, http.StatusNotFound, "account_not_found")
	case errors.Is(err, services.ErrStakeNotFound):
		respondError(w, http.StatusNotFound, "stake_not_found")
	case errors.Is(err, services.ErrStakeNotActive):
		respondError(w, http.StatusConflict, "stake_not_active")
	case errors.Is(err, services.ErrNotInCooldown):
		respondError(w, http.StatusConflict, "not_in_cooldown")
	case errors.Is(err, services.ErrAlreadyCompleted):
		respondError(w, http.StatusConflict, "already_completed")
	case errors.Is(err, services.ErrCooldownNotElapsed):
		payload := map[string]any{"error": "cooldown_not_elapsed"}
		if stake, lookupErr := h.stakes.GetByID(r.Context(), accountID, stakeID); lookupErr == nil && stake.CooldownEndsAt != nil {
			remaining := time.Until(*stake.CooldownEndsAt)
			payload["cooldown_ends_at"] = stake.CooldownEndsAt
			payload["remaining_hours"] = math.Ceil(remaining.Hours())
		}
		respondJSON(w, http.StatusConflict, payload)
	default:
		respondError(w, http.StatusInternalServerError, "staking_operation_failed")
	}
}

func planJSON(plan plans.Plan) map[string]any {
	return map[string]any{
		"id":                             plan.ID,
		"name":                           plan.Name,
		"lock_days":                      plan.LockDays,
		"apy_percent":                    plan.APYPercent.String(),
		"min_amount":                     valueToMoney(plan.MinAmount),
		"max_amount":                     valueToMoney(plan.MaxAmount),
		"early_withdraw_penalty_percent": plan.EarlyWithdrawPenaltyPercent.String(),
		"cooldown_hours":                 plan.CooldownHours,
	}
}

func stakeJSON(view services.StakeView) map[string]any {
	payload := map[string]any{
		"id":               view.ID,
		"account_id":       view.AccountID,
		"plan_id":          view.PlanID,
		"principal":        valueToMoney(view.Principal),
		"apy_percent":      view.APYPercent.String(),
		"lock_days":        view.LockDays,
		"status":           view.Status,
		"accrued_interest": valueToMoney(view.LiveAccrued),
		"penalty_amount":   valueToMoney(view.PenaltyAmount),
		"return_amount":    valueToMoney(view.ReturnAmount),
		"staked_at":        view.StakedAt,
		"unlock_at":        view.UnlockAt,
	}
	if view.CooldownEndsAt != nil {
		payload["cooldown_ends_at"] = view.CooldownEndsAt
		if view.ClaimableIn > 0 {
			payload["claimable_in_hours"] = math.Ceil(view.ClaimableIn.Hours())
		}
	}
	if view.CompletedAt != nil {
		payload["completed_at"] = view.CompletedAt
	}
	return payload
}
