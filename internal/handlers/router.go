package handlers

import (
	"net/http"

	"staking/internal/config"
	"staking/internal/db"
	"staking/internal/middleware"
	"staking/internal/store"
	"staking/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Handler struct {
	reconcileDB store.Selecter
	txRunner    db.TxRunner
	cfg         config.Config
	users       UserStore
	accounts    AccountStore
	ledger      LedgerStore
	stakes      StakeStore
	audit       AuditStore
	service     StakingService
	hub         *websocket.Hub
}

func New(reconcileDB store.Selecter, txRunner db.TxRunner, cfg config.Config, users UserStore, accounts AccountStore, ledger LedgerStore, stakes StakeStore, audit AuditStore, service StakingService, hub *websocket.Hub) *Handler {
	return &Handler{
		reconcileDB: reconcileDB,
		txRunner:    txRunner,
		cfg:         cfg,
		users:       users,
		accounts:    accounts,
		ledger:      ledger,
		stakes:      stakes,
		audit:       audit,
		service:     service,
		hub:         hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.Logger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(middleware.Auth(h.cfg.JWTSecret)).Get("/me", h.Me)
	})
	router.Get("/plans", h.ListPlans)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Route("/stakes", func(r chi.Router) {
		r.Get("/", h.ListStakes)
		r.Post("/", h.Stake)
		r.Get("/{id}", h.GetStake)
		r.Post("/{id}/unstake", h.Unstake)
		r.Post("/{id}/claim", h.Claim)
	})
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/accounts", h.ListAccounts)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/accounts/self-check", h.SelfCheck)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/audit", h.AuditTrail)
	router.Get("/ws/updates", h.WSUpdates)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
