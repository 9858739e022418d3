package ledger

import (
	"context"
	"errors"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QuoteSource supplies real-world reference prices in cents. ok=false means
// the symbol has no quote right now, which is a recoverable condition.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (cents int64, ok bool, err error)
}

// Service is the game-economy engine. Every logical operation runs inside one
// explicit transaction on the pooled connection; business-rule violations roll
// the transaction back and surface as the typed errors in errors.go.
type Service struct {
	db       *pgxpool.Pool
	log      *slog.Logger
	cfg      Config
	quotes   QuoteSource
	loc      *time.Location
	entities map[string]*Entity

	mu   sync.Mutex
	rand *mathrand.Rand
}

func NewService(db *pgxpool.Pool, logger *slog.Logger, cfg Config, quotes QuoteSource, loc *time.Location) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		db:     db,
		log:    logger,
		cfg:    cfg,
		quotes: quotes,
		loc:    loc,
		rand:   mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
	s.entities = builtinEntities(s)
	return s
}

func (s *Service) Config() Config { return s.cfg }

func (s *Service) nextFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

// CreateAccount creates an account with the configured starting balance and
// credit limit plus the default inventory (the base credit card). Creating an
// account that already exists returns the existing row unchanged.
func (s *Service) CreateAccount(ctx context.Context, uid string) (Account, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Account{}, err
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, `
		INSERT INTO accounts (uid, balance, loan_balance, credit_limit)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (uid) DO NOTHING
	`, uid, s.cfg.StartingBalance, s.cfg.StartingCreditLimit)
	if err != nil {
		return Account{}, err
	}
	if cmd.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO inventory (uid, item_id, quantity)
			VALUES ($1, $2, 1)
			ON CONFLICT (uid, item_id) DO NOTHING
		`, uid, BaseCardItemID); err != nil {
			return Account{}, err
		}
	}

	account, err := getAccountTx(ctx, tx, uid, false)
	if err != nil {
		return Account{}, err
	}
	return account, tx.Commit(ctx)
}

func (s *Service) GetAccount(ctx context.Context, uid string) (Account, error) {
	var a Account
	err := s.db.QueryRow(ctx, `
		SELECT uid, balance, loan_balance, credit_limit, created_at
		FROM accounts
		WHERE uid = $1
	`, uid).Scan(&a.UID, &a.Balance, &a.LoanBalance, &a.CreditLimit, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, &AccountNotFoundError{UID: uid}
	}
	return a, err
}

// AccountUpdate carries the optional field updates for UpdateAccount; nil
// fields are left untouched.
type AccountUpdate struct {
	Balance     *int64 `json:"balance,omitempty"`
	LoanBalance *int64 `json:"loan_balance,omitempty"`
	CreditLimit *int64 `json:"credit_limit,omitempty"`
}

func (s *Service) UpdateAccount(ctx context.Context, uid string, upd AccountUpdate) (Account, error) {
	if upd.Balance != nil && *upd.Balance < 0 {
		return Account{}, &InvalidAmountError{Field: "balance", Amount: *upd.Balance}
	}
	if upd.LoanBalance != nil && *upd.LoanBalance < 0 {
		return Account{}, &InvalidAmountError{Field: "loan_balance", Amount: *upd.LoanBalance}
	}
	if upd.CreditLimit != nil && *upd.CreditLimit < 0 {
		return Account{}, &InvalidAmountError{Field: "credit_limit", Amount: *upd.CreditLimit}
	}

	var a Account
	err := s.db.QueryRow(ctx, `
		UPDATE accounts
		SET balance      = COALESCE($2, balance),
		    loan_balance = COALESCE($3, loan_balance),
		    credit_limit = COALESCE($4, credit_limit)
		WHERE uid = $1
		RETURNING uid, balance, loan_balance, credit_limit, created_at
	`, uid, upd.Balance, upd.LoanBalance, upd.CreditLimit).
		Scan(&a.UID, &a.Balance, &a.LoanBalance, &a.CreditLimit, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, &AccountNotFoundError{UID: uid}
	}
	return a, err
}

// InventoryItem is an inventory row joined with its item definition.
type InventoryItem struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	ValueCents int64  `json:"value_cents"`
	Quantity   int64  `json:"quantity"`
}

func (s *Service) GetInventory(ctx context.Context, uid string) ([]InventoryItem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT i.item_id, i.name, i.type, i.value_cents, inv.quantity
		FROM inventory inv
		JOIN items i ON i.item_id = inv.item_id
		WHERE inv.uid = $1 AND inv.quantity > 0
		ORDER BY i.item_id
	`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InventoryItem
	for rows.Next() {
		var it InventoryItem
		if err := rows.Scan(&it.ItemID, &it.Name, &it.Type, &it.ValueCents, &it.Quantity); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Service) GetItem(ctx context.Context, itemID string) (Item, error) {
	var it Item
	err := s.db.QueryRow(ctx, `
		SELECT item_id, name, type, value_cents
		FROM items
		WHERE item_id = $1
	`, itemID).Scan(&it.ItemID, &it.Name, &it.Type, &it.ValueCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, &ItemNotFoundError{ItemID: itemID}
	}
	return it, err
}

func (s *Service) GetTransactions(ctx context.Context, uid string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, type, uid, ticker, quantity, price_cents, total_cents,
		       balance_change, credit_change, destination, destination_is_account, memo, created_at
		FROM transactions
		WHERE uid = $1
		ORDER BY id DESC
		LIMIT $2
	`, uid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Type, &t.UID, &t.Ticker, &t.Quantity, &t.PriceCents, &t.TotalCents,
			&t.BalanceChange, &t.CreditChange, &t.Destination, &t.DestinationIsAccount, &t.Memo, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func getAccountTx(ctx context.Context, tx pgx.Tx, uid string, forUpdate bool) (Account, error) {
	query := `
		SELECT uid, balance, loan_balance, credit_limit, created_at
		FROM accounts
		WHERE uid = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var a Account
	err := tx.QueryRow(ctx, query, uid).Scan(&a.UID, &a.Balance, &a.LoanBalance, &a.CreditLimit, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, &AccountNotFoundError{UID: uid}
	}
	return a, err
}

func insertTransactionTx(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO transactions
		    (type, uid, ticker, quantity, price_cents, total_cents,
		     balance_change, credit_change, destination, destination_is_account, memo)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`, t.Type, t.UID, t.Ticker, t.Quantity, t.PriceCents, t.TotalCents,
		t.BalanceChange, t.CreditChange, t.Destination, t.DestinationIsAccount, t.Memo).
		Scan(&t.ID, &t.CreatedAt)
	return t, err
}

// latestHoldingTx returns the newest holding snapshot, or a zero-quantity
// phantom when the account never held the ticker.
func latestHoldingTx(ctx context.Context, tx pgx.Tx, uid, ticker string) (Holding, bool, error) {
	var h Holding
	err := tx.QueryRow(ctx, `
		SELECT uid, ticker, quantity, recorded_at
		FROM holdings
		WHERE uid = $1 AND ticker = $2
		ORDER BY recorded_at DESC
		LIMIT 1
	`, uid, ticker).Scan(&h.UID, &h.Ticker, &h.Quantity, &h.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Holding{UID: uid, Ticker: ticker}, false, nil
	}
	if err != nil {
		return Holding{}, false, err
	}
	return h, true, nil
}

// appendHoldingTx appends a snapshot; holdings are never updated in place.
// Stamped with clock_timestamp(), not transaction-start now(): the account row
// lock serializes appends per (uid, ticker), and the insert-time clock keeps
// recorded_at monotonic even when the transactions began out of order.
func appendHoldingTx(ctx context.Context, tx pgx.Tx, uid, ticker string, quantity int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO holdings (uid, ticker, quantity, recorded_at)
		VALUES ($1, $2, $3, clock_timestamp())
	`, uid, ticker, quantity)
	return err
}
