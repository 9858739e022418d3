package ledger

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Buy purchases quantity shares of ticker at the current price. If the balance
// falls short and allowCredit is set, the shortfall is drawn from the account's
// available credit. The holding update is an appended snapshot, never an
// in-place write, so historical as-of queries stay cheap.
func (s *Service) Buy(ctx context.Context, uid, ticker string, quantity int64, allowCredit bool) (Transaction, error) {
	if quantity <= 0 {
		return Transaction{}, &InsufficientQuantityError{UID: uid, Ticker: ticker, Requested: quantity}
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx)

	if err := s.requireMarketOpenTx(ctx, tx); err != nil {
		return Transaction{}, err
	}

	account, err := getAccountTx(ctx, tx, uid, true)
	if err != nil {
		return Transaction{}, err
	}
	stock, err := getStockTx(ctx, tx, ticker)
	if err != nil {
		return Transaction{}, err
	}

	newBalance, newLoan, creditUsed, err := BuyOutcome(account, stock.PriceCents, quantity, allowCredit)
	if err != nil {
		return Transaction{}, err
	}

	holding, _, err := latestHoldingTx(ctx, tx, uid, ticker)
	if err != nil {
		return Transaction{}, err
	}
	if err := appendHoldingTx(ctx, tx, uid, ticker, holding.Quantity+quantity); err != nil {
		return Transaction{}, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance = $1, loan_balance = $2
		WHERE uid = $3
	`, newBalance, newLoan, uid); err != nil {
		return Transaction{}, err
	}

	cost := stock.PriceCents * quantity
	record, err := insertTransactionTx(ctx, tx, Transaction{
		Type:          "buy",
		UID:           uid,
		Ticker:        ticker,
		Quantity:      quantity,
		PriceCents:    stock.PriceCents,
		TotalCents:    cost,
		BalanceChange: -(cost - creditUsed),
		CreditChange:  creditUsed,
	})
	if err != nil {
		return Transaction{}, err
	}
	return record, tx.Commit(ctx)
}

// Sell sells quantity shares of ticker at the current price and credits the
// proceeds to the balance. Selling never repays the loan automatically.
func (s *Service) Sell(ctx context.Context, uid, ticker string, quantity int64) (Transaction, error) {
	if quantity <= 0 {
		return Transaction{}, &InsufficientQuantityError{UID: uid, Ticker: ticker, Requested: quantity}
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx)

	if err := s.requireMarketOpenTx(ctx, tx); err != nil {
		return Transaction{}, err
	}

	account, err := getAccountTx(ctx, tx, uid, true)
	if err != nil {
		return Transaction{}, err
	}
	stock, err := getStockTx(ctx, tx, ticker)
	if err != nil {
		return Transaction{}, err
	}
	holding, _, err := latestHoldingTx(ctx, tx, uid, ticker)
	if err != nil {
		return Transaction{}, err
	}

	newBalance, newQuantity, err := SellOutcome(account, holding.Quantity, stock.PriceCents, quantity)
	if err != nil {
		if qerr, ok := err.(*InsufficientQuantityError); ok {
			qerr.Ticker = ticker
		}
		return Transaction{}, err
	}

	if err := appendHoldingTx(ctx, tx, uid, ticker, newQuantity); err != nil {
		return Transaction{}, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance = $1
		WHERE uid = $2
	`, newBalance, uid); err != nil {
		return Transaction{}, err
	}

	proceeds := stock.PriceCents * quantity
	record, err := insertTransactionTx(ctx, tx, Transaction{
		Type:          "sell",
		UID:           uid,
		Ticker:        ticker,
		Quantity:      quantity,
		PriceCents:    stock.PriceCents,
		TotalCents:    proceeds,
		BalanceChange: proceeds,
	})
	if err != nil {
		return Transaction{}, err
	}
	return record, tx.Commit(ctx)
}

// ApplyInterest accrues the configured daily interest on every account with an
// outstanding loan. Accrual may push a loan above the credit limit; the limit
// only gates new draws. Returns the number of accounts charged.
func (s *Service) ApplyInterest(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT uid, loan_balance
		FROM accounts
		WHERE loan_balance > 0
		FOR UPDATE
	`)
	if err != nil {
		return 0, err
	}
	type debtor struct {
		uid  string
		loan int64
	}
	var debtors []debtor
	for rows.Next() {
		var d debtor
		if err := rows.Scan(&d.uid, &d.loan); err != nil {
			rows.Close()
			return 0, err
		}
		debtors = append(debtors, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	charged := 0
	for _, d := range debtors {
		interest := DailyInterest(d.loan, s.cfg.DailyInterestRate)
		if interest <= 0 {
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE accounts
			SET loan_balance = loan_balance + $1
			WHERE uid = $2
		`, interest, d.uid); err != nil {
			return 0, err
		}
		charged++
	}
	return charged, tx.Commit(ctx)
}
