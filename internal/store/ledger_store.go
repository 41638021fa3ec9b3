package store

import "context"

// Ledger transaction types.
const (
	LedgerTypeStakeLock     = "stake_lock"
	LedgerTypeStakePool     = "stake_pool"
	LedgerTypeUnstakePayout = "unstake_payout"
	LedgerTypeUnstakePool   = "unstake_pool"
	LedgerTypeOpening       = "opening_balance"
)

type LedgerStore struct {
	db DB
}

type LedgerTransactionInput struct {
	ID            string
	AccountID     string
	ReferenceID   string
	Type          string
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Currency      string
	Description   string
}

type LedgerTransaction struct {
	ID            string `db:"id"`
	AccountID     string `db:"account_id"`
	ReferenceID   string `db:"reference_id"`
	Type          string `db:"type"`
	Amount        int64  `db:"amount"`
	BalanceBefore int64  `db:"balance_before"`
	BalanceAfter  int64  `db:"balance_after"`
	Currency      string `db:"currency"`
	Description   string `db:"description"`
	CreatedAt     any    `db:"created_at"`
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) InsertEntries(ctx context.Context, tx Execer, entries []LedgerTransactionInput) error {
	query := `
		INSERT INTO ledger_transactions (
			id, account_id, reference_id, type, amount,
			balance_before, balance_after, currency, description
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, query,
			entry.ID, entry.AccountID, entry.ReferenceID, entry.Type,
			entry.Amount, entry.BalanceBefore, entry.BalanceAfter,
			entry.Currency, entry.Description,
		); err != nil {
			return err
		}
	}
	return nil
}

// ListByReference returns every ledger row tied to one stake, oldest first.
func (s *LedgerStore) ListByReference(ctx context.Context, referenceID string) ([]LedgerTransaction, error) {
	var rows []LedgerTransaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, account_id, reference_id, type, amount,
		       balance_before, balance_after, currency, description, created_at
		FROM ledger_transactions
		WHERE reference_id = $1
		ORDER BY created_at
	`, referenceID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
