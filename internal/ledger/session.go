package ledger

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
)

const marketStateKey = "market_state"

// GetMarketState reads the singleton market-state record. A missing record
// means the market has never been opened and reads as closed.
func (s *Service) GetMarketState(ctx context.Context) (MarketState, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `
		SELECT data FROM objects WHERE name = $1
	`, marketStateKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return MarketState{Session: SessionClosed}, nil
	}
	if err != nil {
		return MarketState{}, err
	}
	var st MarketState
	if err := json.Unmarshal(raw, &st); err != nil {
		return MarketState{}, err
	}
	return st, nil
}

// SetSession moves the market into the given session. Any session other than
// closed counts as open for trading.
func (s *Service) SetSession(ctx context.Context, session Session) (MarketState, error) {
	st := MarketState{IsMarketOpen: session != SessionClosed, Session: session}
	raw, err := json.Marshal(st)
	if err != nil {
		return MarketState{}, err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO objects (name, data) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data
	`, marketStateKey, raw)
	if err != nil {
		return MarketState{}, err
	}
	s.log.Info("market session changed", "session", session, "open", st.IsMarketOpen)
	return st, nil
}

func (s *Service) OpenPreMarket(ctx context.Context) (MarketState, error) {
	return s.SetSession(ctx, SessionPre)
}

func (s *Service) OpenMarket(ctx context.Context) (MarketState, error) {
	return s.SetSession(ctx, SessionOpen)
}

func (s *Service) OpenAfterMarket(ctx context.Context) (MarketState, error) {
	return s.SetSession(ctx, SessionAfter)
}

func (s *Service) CloseMarket(ctx context.Context) (MarketState, error) {
	return s.SetSession(ctx, SessionClosed)
}

// requireMarketOpenTx gates trading operations on the session state, read
// inside the caller's transaction.
func (s *Service) requireMarketOpenTx(ctx context.Context, tx pgx.Tx) error {
	var raw []byte
	err := tx.QueryRow(ctx, `
		SELECT data FROM objects WHERE name = $1
	`, marketStateKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return &MarketClosedError{Session: SessionClosed}
	}
	if err != nil {
		return err
	}
	var st MarketState
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}
	if !st.IsMarketOpen {
		return &MarketClosedError{Session: st.Session}
	}
	return nil
}

// TierChange records one account moving between credit-card tiers during
// settlement, for external role reconciliation.
type TierChange struct {
	UID      string `json:"uid"`
	FromItem string `json:"from_item"`
	ToItem   string `json:"to_item"`
}

type SettlementReport struct {
	InterestCharged int          `json:"interest_charged"`
	TierChanges     []TierChange `json:"tier_changes"`
	ChecksGranted   int64        `json:"checks_granted"`
}

// Settle runs the end-of-day close work: accrue loan interest, redistribute
// credit-card tiers by net-worth percentile among accounts above the starting
// balance, and, when grantWeekly is set, hand out each tier's weekly checks.
func (s *Service) Settle(ctx context.Context, grantWeekly bool) (SettlementReport, error) {
	var report SettlementReport

	charged, err := s.ApplyInterest(ctx)
	if err != nil {
		return report, err
	}
	report.InterestCharged = charged

	ranked, err := s.rankedAboveStart(ctx)
	if err != nil {
		return report, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return report, err
	}
	defer tx.Rollback(ctx)

	assigned := make(map[string]CardTier, len(ranked))
	for rank, uid := range ranked {
		assigned[uid] = TierForRank(rank, len(ranked))
	}

	rows, err := tx.Query(ctx, `SELECT uid FROM accounts ORDER BY uid`)
	if err != nil {
		return report, err
	}
	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			rows.Close()
			return report, err
		}
		uids = append(uids, uid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return report, err
	}

	base, _ := TierByItem(BaseCardItemID)
	for _, uid := range uids {
		tier, ok := assigned[uid]
		if !ok {
			tier = base
		}
		changed, from, err := s.setCardTierTx(ctx, tx, uid, tier)
		if err != nil {
			return report, err
		}
		if changed {
			report.TierChanges = append(report.TierChanges, TierChange{UID: uid, FromItem: from, ToItem: tier.ItemID})
		}
		if grantWeekly && tier.WeeklyChecks > 0 {
			if _, err := tx.Exec(ctx, `
				INSERT INTO inventory (uid, item_id, quantity)
				VALUES ($1, $2, $3)
				ON CONFLICT (uid, item_id) DO UPDATE SET quantity = inventory.quantity + EXCLUDED.quantity
			`, uid, CashCheckItemID, tier.WeeklyChecks); err != nil {
				return report, err
			}
			report.ChecksGranted += tier.WeeklyChecks
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return report, err
	}

	s.log.Info("settlement complete",
		"interest_charged", report.InterestCharged,
		"tier_changes", len(report.TierChanges),
		"checks_granted", report.ChecksGranted)
	return report, nil
}

// rankedAboveStart lists accounts whose net worth exceeds the starting
// balance, best first. Only these compete for the upgraded card tiers.
func (s *Service) rankedAboveStart(ctx context.Context) ([]string, error) {
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
		SELECT a.uid
		FROM accounts a
		LEFT JOIN vals v ON v.uid = a.uid
		WHERE a.balance + COALESCE(v.holdings_value, 0) - a.loan_balance > $1
		ORDER BY a.balance + COALESCE(v.holdings_value, 0) - a.loan_balance DESC, a.uid
	`, s.cfg.StartingBalance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}

// setCardTierTx makes tier the account's only held card and adjusts the
// credit limit to the starting limit plus the tier's bump. Reports the card
// it replaced when the tier actually changed.
func (s *Service) setCardTierTx(ctx context.Context, tx pgx.Tx, uid string, tier CardTier) (changed bool, from string, err error) {
	rows, err := tx.Query(ctx, `
		SELECT item_id FROM inventory
		WHERE uid = $1 AND quantity > 0 AND item_id = ANY($2)
	`, uid, cardItemIDs())
	if err != nil {
		return false, "", err
	}
	current := ""
	currentBps := int64(-1)
	for rows.Next() {
		var itemID string
		if err := rows.Scan(&itemID); err != nil {
			rows.Close()
			return false, "", err
		}
		if t, ok := TierByItem(itemID); ok && t.CashbackBps > currentBps {
			current, currentBps = itemID, t.CashbackBps
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, "", err
	}
	if current == tier.ItemID {
		return false, "", nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE inventory SET quantity = 0
		WHERE uid = $1 AND item_id = ANY($2) AND item_id <> $3
	`, uid, cardItemIDs(), tier.ItemID); err != nil {
		return false, "", err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO inventory (uid, item_id, quantity)
		VALUES ($1, $2, 1)
		ON CONFLICT (uid, item_id) DO UPDATE SET quantity = 1
	`, uid, tier.ItemID); err != nil {
		return false, "", err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET credit_limit = $1 WHERE uid = $2
	`, s.cfg.StartingCreditLimit+tier.LimitBump, uid); err != nil {
		return false, "", err
	}
	return true, current, nil
}

func cardItemIDs() []string {
	ids := make([]string, len(CardTiers))
	for i, t := range CardTiers {
		ids[i] = t.ItemID
	}
	return ids
}
