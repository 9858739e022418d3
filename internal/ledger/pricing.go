package ledger

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
)

func (s *Service) CreateStock(ctx context.Context, st Stock) (Stock, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO stocks (ticker, name, price_cents, ref_ticker, ref_price_cents, multiplier)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ticker) DO UPDATE
		SET name = EXCLUDED.name, ref_ticker = EXCLUDED.ref_ticker, multiplier = EXCLUDED.multiplier
		RETURNING ticker, name, price_cents, ref_ticker, ref_price_cents, multiplier, last_sync_at
	`, st.Ticker, st.Name, st.PriceCents, st.RefTicker, st.RefPriceCents, st.Multiplier).
		Scan(&st.Ticker, &st.Name, &st.PriceCents, &st.RefTicker, &st.RefPriceCents, &st.Multiplier, &st.LastSyncAt)
	return st, err
}

func (s *Service) GetStock(ctx context.Context, ticker string) (Stock, error) {
	var st Stock
	err := s.db.QueryRow(ctx, `
		SELECT ticker, name, price_cents, ref_ticker, ref_price_cents, multiplier, last_sync_at
		FROM stocks
		WHERE ticker = $1
	`, ticker).Scan(&st.Ticker, &st.Name, &st.PriceCents, &st.RefTicker, &st.RefPriceCents, &st.Multiplier, &st.LastSyncAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, &StockNotFoundError{Ticker: ticker}
	}
	return st, err
}

func (s *Service) GetAllStocks(ctx context.Context) ([]Stock, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ticker, name, price_cents, ref_ticker, ref_price_cents, multiplier, last_sync_at
		FROM stocks
		ORDER BY ticker
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Stock
	for rows.Next() {
		var st Stock
		if err := rows.Scan(&st.Ticker, &st.Name, &st.PriceCents, &st.RefTicker, &st.RefPriceCents, &st.Multiplier, &st.LastSyncAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func getStockTx(ctx context.Context, tx pgx.Tx, ticker string) (Stock, error) {
	var st Stock
	err := tx.QueryRow(ctx, `
		SELECT ticker, name, price_cents, ref_ticker, ref_price_cents, multiplier, last_sync_at
		FROM stocks
		WHERE ticker = $1
	`, ticker).Scan(&st.Ticker, &st.Name, &st.PriceCents, &st.RefTicker, &st.RefPriceCents, &st.Multiplier, &st.LastSyncAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, &StockNotFoundError{Ticker: ticker}
	}
	return st, err
}

// RandomWalk moves one ticker a single random step at the given volatility and
// records the move in that day's OHLC row.
func (s *Service) RandomWalk(ctx context.Context, ticker string, volatility float64) (Stock, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Stock{}, err
	}
	defer tx.Rollback(ctx)

	st, err := s.walkStockTx(ctx, tx, ticker, volatility)
	if err != nil {
		return Stock{}, err
	}
	return st, tx.Commit(ctx)
}

// WalkAllStocks walks every ticker once in a single transaction.
func (s *Service) WalkAllStocks(ctx context.Context, volatility float64) error {
	stocks, err := s.GetAllStocks(ctx)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, st := range stocks {
		if _, err := s.walkStockTx(ctx, tx, st.Ticker, volatility); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// WalkRandomStocks walks a random subset of n tickers at the given volatility.
func (s *Service) WalkRandomStocks(ctx context.Context, n int, volatility float64) error {
	stocks, err := s.GetAllStocks(ctx)
	if err != nil {
		return err
	}
	if n > len(stocks) {
		n = len(stocks)
	}
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	s.rand.Shuffle(len(stocks), func(i, j int) { stocks[i], stocks[j] = stocks[j], stocks[i] })
	s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, st := range stocks[:n] {
		if _, err := s.walkStockTx(ctx, tx, st.Ticker, volatility); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Service) walkStockTx(ctx context.Context, tx pgx.Tx, ticker string, volatility float64) (Stock, error) {
	var st Stock
	err := tx.QueryRow(ctx, `
		SELECT ticker, name, price_cents, ref_ticker, ref_price_cents, multiplier, last_sync_at
		FROM stocks
		WHERE ticker = $1
		FOR UPDATE
	`, ticker).Scan(&st.Ticker, &st.Name, &st.PriceCents, &st.RefTicker, &st.RefPriceCents, &st.Multiplier, &st.LastSyncAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, &StockNotFoundError{Ticker: ticker}
	}
	if err != nil {
		return Stock{}, err
	}

	next := NextWalkPrice(st.PriceCents, volatility, s.cfg.WalkUpwardBias, s.nextFloat(), s.cfg.MinimumPrice)
	if err := s.setPriceTx(ctx, tx, ticker, next); err != nil {
		return Stock{}, err
	}
	st.PriceCents = next
	return st, nil
}

// Synchronize re-anchors a ticker's price to its real-world reference:
// price = floor(refCents * multiplier). A missing quote is logged and leaves
// the price unchanged.
func (s *Service) Synchronize(ctx context.Context, ticker string) error {
	st, err := s.GetStock(ctx, ticker)
	if err != nil {
		return err
	}
	refCents, ok, err := s.quotes.Quote(ctx, st.RefTicker)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn("no quote for reference symbol, price unchanged", "ticker", ticker, "ref", st.RefTicker)
		return nil
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.applySyncTx(ctx, tx, st.Ticker, refCents, st.Multiplier); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SynchronizeAll fetches every reference quote first, then applies all updates
// in one transaction. Symbols without a quote keep their price; any database
// failure rolls back the whole batch.
func (s *Service) SynchronizeAll(ctx context.Context) error {
	stocks, err := s.GetAllStocks(ctx)
	if err != nil {
		return err
	}

	type syncUpdate struct {
		ticker     string
		refCents   int64
		multiplier float64
	}
	var updates []syncUpdate
	for _, st := range stocks {
		refCents, ok, err := s.quotes.Quote(ctx, st.RefTicker)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Warn("no quote for reference symbol, price unchanged", "ticker", st.Ticker, "ref", st.RefTicker)
			continue
		}
		updates = append(updates, syncUpdate{ticker: st.Ticker, refCents: refCents, multiplier: st.Multiplier})
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		if err := s.applySyncTx(ctx, tx, u.ticker, u.refCents, u.multiplier); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Service) applySyncTx(ctx context.Context, tx pgx.Tx, ticker string, refCents int64, multiplier float64) error {
	price := int64(math.Floor(float64(refCents) * multiplier))
	if price < s.cfg.MinimumPrice {
		price = s.cfg.MinimumPrice
	}
	if _, err := tx.Exec(ctx, `
		UPDATE stocks
		SET price_cents = $1, ref_price_cents = $2, last_sync_at = now()
		WHERE ticker = $3
	`, price, refCents, ticker); err != nil {
		return err
	}
	return s.upsertDailyPriceTx(ctx, tx, ticker, price)
}

// setPriceTx writes a new price and folds it into today's OHLC row.
func (s *Service) setPriceTx(ctx context.Context, tx pgx.Tx, ticker string, price int64) error {
	if _, err := tx.Exec(ctx, `
		UPDATE stocks SET price_cents = $1 WHERE ticker = $2
	`, price, ticker); err != nil {
		return err
	}
	return s.upsertDailyPriceTx(ctx, tx, ticker, price)
}

func (s *Service) upsertDailyPriceTx(ctx context.Context, tx pgx.Tx, ticker string, price int64) error {
	now := time.Now().In(s.loc)
	_, err := tx.Exec(ctx, `
		INSERT INTO price_history (ticker, year, month, day, open_cents, high_cents, low_cents, close_cents)
		VALUES ($1, $2, $3, $4, $5, $5, $5, $5)
		ON CONFLICT (ticker, year, month, day) DO UPDATE
		SET high_cents  = GREATEST(price_history.high_cents, EXCLUDED.close_cents),
		    low_cents   = LEAST(price_history.low_cents, EXCLUDED.close_cents),
		    close_cents = EXCLUDED.close_cents
	`, ticker, now.Year(), int(now.Month()), now.Day(), price)
	return err
}

// PriceHistory returns up to daysBack daily OHLC rows for a ticker, oldest
// first. daysBack <= 0 falls back to the configured chart window.
func (s *Service) PriceHistory(ctx context.Context, ticker string, daysBack int) ([]DailyPrice, error) {
	if daysBack <= 0 {
		daysBack = s.cfg.ChartDaysBack
	}
	since := time.Now().In(s.loc).AddDate(0, 0, -daysBack)
	rows, err := s.db.Query(ctx, `
		SELECT ticker, year, month, day, open_cents, high_cents, low_cents, close_cents
		FROM price_history
		WHERE ticker = $1 AND (year, month, day) >= ($2, $3, $4)
		ORDER BY year, month, day
	`, ticker, since.Year(), int(since.Month()), since.Day())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyPrice
	for rows.Next() {
		var p DailyPrice
		if err := rows.Scan(&p.Ticker, &p.Year, &p.Month, &p.Day, &p.OpenCents, &p.HighCents, &p.LowCents, &p.CloseCents); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
