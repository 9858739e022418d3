package ledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// HoldingView is one position valued at a point in time.
type HoldingView struct {
	Ticker     string `json:"ticker"`
	Name       string `json:"name"`
	Quantity   int64  `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
	ValueCents int64  `json:"value_cents"`
}

// Portfolio is an account with its valued positions.
type Portfolio struct {
	Account
	Holdings []HoldingView `json:"holdings"`
}

// NetWorth is balance plus holdings value minus the outstanding loan. This is
// the single net-worth formula used everywhere: leaderboard, credit tiers,
// wire floors.
func (p Portfolio) NetWorth() int64 {
	total := p.Balance - p.LoanBalance
	for _, h := range p.Holdings {
		total += h.ValueCents
	}
	return total
}

// GetPortfolio values the latest holdings at current prices.
func (s *Service) GetPortfolio(ctx context.Context, uid string) (Portfolio, error) {
	return s.GetPortfolioAsOf(ctx, uid, time.Now())
}

// GetPortfolioAsOf reconstructs holdings from the snapshot log as of the given
// time, valued at current prices.
func (s *Service) GetPortfolioAsOf(ctx context.Context, uid string, asOf time.Time) (Portfolio, error) {
	account, err := s.GetAccount(ctx, uid)
	if err != nil {
		return Portfolio{}, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT h.ticker, s.name, h.quantity, s.price_cents
		FROM (
			SELECT DISTINCT ON (ticker) ticker, quantity
			FROM holdings
			WHERE uid = $1 AND recorded_at <= $2
			ORDER BY ticker, recorded_at DESC
		) h
		JOIN stocks s ON s.ticker = h.ticker
		WHERE h.quantity > 0
		ORDER BY h.ticker
	`, uid, asOf)
	if err != nil {
		return Portfolio{}, err
	}
	defer rows.Close()

	p := Portfolio{Account: account}
	for rows.Next() {
		var h HoldingView
		if err := rows.Scan(&h.Ticker, &h.Name, &h.Quantity, &h.PriceCents); err != nil {
			return Portfolio{}, err
		}
		h.ValueCents = h.Quantity * h.PriceCents
		p.Holdings = append(p.Holdings, h)
	}
	return p, rows.Err()
}

// netWorthTx computes net worth inside an open transaction so entity accept
// checks see the same state they will commit against.
func (s *Service) netWorthTx(ctx context.Context, tx pgx.Tx, uid string) (int64, error) {
	account, err := getAccountTx(ctx, tx, uid, false)
	if err != nil {
		return 0, err
	}
	var holdingsValue int64
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(h.quantity * s.price_cents), 0)
		FROM (
			SELECT DISTINCT ON (ticker) ticker, quantity
			FROM holdings
			WHERE uid = $1
			ORDER BY ticker, recorded_at DESC
		) h
		JOIN stocks s ON s.ticker = h.ticker
	`, uid).Scan(&holdingsValue)
	if err != nil {
		return 0, err
	}
	return account.Balance + holdingsValue - account.LoanBalance, nil
}

// ValueAsOf is the market value of the holdings an account had at the end of
// the given calendar day, priced at that day's close. Tickers without a price
// row for the day contribute nothing.
func (s *Service) ValueAsOf(ctx context.Context, uid string, day time.Time) (int64, error) {
	day = day.In(s.loc)
	endOfDay := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 999_999_999, s.loc)

	var value int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(h.quantity * p.close_cents), 0)
		FROM (
			SELECT DISTINCT ON (ticker) ticker, quantity
			FROM holdings
			WHERE uid = $1 AND recorded_at <= $2
			ORDER BY ticker, recorded_at DESC
		) h
		JOIN price_history p
		  ON p.ticker = h.ticker AND p.year = $3 AND p.month = $4 AND p.day = $5
	`, uid, endOfDay, day.Year(), int(day.Month()), day.Day()).Scan(&value)
	return value, err
}

// changeBetween is the day-over-day arithmetic. The percentage is undefined
// when the prior value is zero.
func changeBetween(prev, cur int64) (abs int64, pct float64, ok bool) {
	abs = cur - prev
	if prev == 0 {
		return abs, 0, false
	}
	return abs, float64(abs) / float64(prev) * 100, true
}

// DayChange compares the current holdings value against yesterday's close.
type DayChange struct {
	PreviousCents int64   `json:"previous_cents"`
	CurrentCents  int64   `json:"current_cents"`
	ChangeCents   int64   `json:"change_cents"`
	ChangePct     float64 `json:"change_pct,omitempty"`
	PctDefined    bool    `json:"pct_defined"`
}

func (s *Service) DayOverDayChange(ctx context.Context, uid string) (DayChange, error) {
	p, err := s.GetPortfolio(ctx, uid)
	if err != nil {
		return DayChange{}, err
	}
	var current int64
	for _, h := range p.Holdings {
		current += h.ValueCents
	}
	yesterday := time.Now().In(s.loc).AddDate(0, 0, -1)
	previous, err := s.ValueAsOf(ctx, uid, yesterday)
	if err != nil {
		return DayChange{}, err
	}
	abs, pct, ok := changeBetween(previous, current)
	return DayChange{
		PreviousCents: previous,
		CurrentCents:  current,
		ChangeCents:   abs,
		ChangePct:     pct,
		PctDefined:    ok,
	}, nil
}

type LeaderboardEntry struct {
	UID           string `json:"uid"`
	Balance       int64  `json:"balance"`
	LoanBalance   int64  `json:"loan_balance"`
	NetWorthCents int64  `json:"net_worth_cents"`
}

// Leaderboard ranks all accounts by net worth, best first.
func (s *Service) Leaderboard(ctx context.Context, n int) ([]LeaderboardEntry, error) {
	if n <= 0 || n > 100 {
		n = 10
	}
	rows, err := s.db.Query(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (uid, ticker) uid, ticker, quantity
			FROM holdings
			ORDER BY uid, ticker, recorded_at DESC
		), vals AS (
			SELECT l.uid, SUM(l.quantity * s.price_cents) AS holdings_value
			FROM latest l
			JOIN stocks s ON s.ticker = l.ticker
			GROUP BY l.uid
		)
		SELECT a.uid, a.balance, a.loan_balance,
		       a.balance + COALESCE(v.holdings_value, 0) - a.loan_balance AS net_worth
		FROM accounts a
		LEFT JOIN vals v ON v.uid = a.uid
		ORDER BY net_worth DESC, a.uid
		LIMIT $1
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UID, &e.Balance, &e.LoanBalance, &e.NetWorthCents); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type Shareholder struct {
	UID        string `json:"uid"`
	Quantity   int64  `json:"quantity"`
	ValueCents int64  `json:"value_cents"`
}

// TopShareholders lists the biggest current holders of a ticker.
func (s *Service) TopShareholders(ctx context.Context, ticker string, n int) ([]Shareholder, error) {
	if n <= 0 || n > 100 {
		n = 10
	}
	stock, err := s.GetStock(ctx, ticker)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT uid, quantity FROM (
			SELECT DISTINCT ON (uid) uid, quantity
			FROM holdings
			WHERE ticker = $1
			ORDER BY uid, recorded_at DESC
		) h
		WHERE quantity > 0
		ORDER BY quantity DESC, uid
		LIMIT $2
	`, ticker, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Shareholder
	for rows.Next() {
		var sh Shareholder
		if err := rows.Scan(&sh.UID, &sh.Quantity); err != nil {
			return nil, err
		}
		sh.ValueCents = sh.Quantity * stock.PriceCents
		out = append(out, sh)
	}
	return out, rows.Err()
}
