package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"staking/internal/config"
	"staking/internal/db"
	"staking/internal/handlers"
	"staking/internal/plans"
	"staking/internal/services"
	"staking/internal/store"
	"staking/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

func main() {
	cfg := config.Load()
	catalog, err := plans.LoadFile(cfg.PlansPath)
	if err != nil {
		log.Fatalf("failed to load plan catalog: %v", err)
	}
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer database.Close()

	users := store.NewUserStore(database)
	accounts := store.NewAccountStore(database)
	stakes := store.NewStakeStore(database)
	ledger := store.NewLedgerStore(database)
	audit := store.NewAuditStore(database)
	exchange := store.NewExchangeStore(database)
	txRunner := db.NewTxRunner(database)
	if cfg.SeedExchangeRate != "" {
		if err := seedExchangeRate(txRunner, exchange, cfg); err != nil {
			log.Fatalf("failed to seed exchange rate: %v", err)
		}
	}
	hub := websocket.NewHub()
	service := services.NewStakingService(txRunner, catalog, accounts, stakes, ledger, audit, exchange, hub, cfg.DisplayCurrency)

	handler := handlers.New(database, txRunner, cfg, users, accounts, ledger, stakes, audit, service, hub)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("staking API listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}

// seedExchangeRate installs the configured staking-to-display rate as the
// active row, retiring any previous one.
func seedExchangeRate(txRunner db.TxRunner, exchange *store.ExchangeStore, cfg config.Config) error {
	rate, err := decimal.NewFromString(cfg.SeedExchangeRate)
	if err != nil || rate.Sign() <= 0 {
		return fmt.Errorf("invalid rate %q", cfg.SeedExchangeRate)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := exchange.SetRate(ctx, tx, cfg.StakingCurrency, cfg.DisplayCurrency, rate.String())
		return err
	})
	if err != nil {
		return err
	}
	log.Printf("exchange rate %s/%s set to %s", cfg.StakingCurrency, cfg.DisplayCurrency, rate.String())
	return nil
}
