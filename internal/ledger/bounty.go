package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// contributeToBountyTx adds amount to the level's bounty, creating the request
// row on first contribution. Runs inside the caller's transaction.
func (s *Service) contributeToBountyTx(ctx context.Context, tx pgx.Tx, uid, levelID string, amount int64) (BountyRequest, error) {
	var r BountyRequest
	err := tx.QueryRow(ctx, `
		INSERT INTO requests (level_id, bounty_cents, creator_uid)
		VALUES ($1, $2, $3)
		ON CONFLICT (level_id) DO UPDATE SET bounty_cents = requests.bounty_cents + EXCLUDED.bounty_cents
		RETURNING level_id, bounty_cents, name, creator_uid, requester_uid
	`, levelID, amount, uid).Scan(&r.LevelID, &r.BountyCents, &r.Name, &r.CreatorUID, &r.RequesterUID)
	return r, err
}

// ContributeToBounty moves amount from the account into the level's bounty
// pool and pays cashback on the contribution according to the best credit card
// in the account's inventory. Same validation as a wire to the bounty entity.
func (s *Service) ContributeToBounty(ctx context.Context, uid, levelID string, amount int64) (Transaction, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx)

	from, err := getAccountTx(ctx, tx, uid, true)
	if err != nil {
		return Transaction{}, err
	}
	netWorth, err := s.netWorthTx(ctx, tx, uid)
	if err != nil {
		return Transaction{}, err
	}
	if err := checkBountyWire(s.cfg, netWorth, from, amount, levelID); err != nil {
		return Transaction{}, err
	}
	if from.Balance < amount {
		return Transaction{}, &InsufficientBalanceError{UID: uid, Balance: from.Balance, Required: amount}
	}

	tier, err := bestCardTierTx(ctx, tx, uid)
	if err != nil {
		return Transaction{}, err
	}
	cashback := Cashback(amount, tier)

	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET balance = balance - $1 WHERE uid = $2
	`, amount-cashback, uid); err != nil {
		return Transaction{}, err
	}
	if _, err := s.contributeToBountyTx(ctx, tx, uid, levelID, amount); err != nil {
		return Transaction{}, err
	}

	record, err := insertTransactionTx(ctx, tx, Transaction{
		Type:          "wire",
		UID:           uid,
		TotalCents:    amount,
		BalanceChange: -(amount - cashback),
		Destination:   BountyEntityID,
		Memo:          levelID,
	})
	if err != nil {
		return Transaction{}, err
	}
	return record, tx.Commit(ctx)
}

// AcceptBounty pays the level's pooled bounty out to the claimant and zeroes
// the pool. The request row survives with the claimant recorded, so a level
// can accrue a fresh bounty later.
func (s *Service) AcceptBounty(ctx context.Context, levelID, claimantUID string) (Transaction, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx)

	var bounty int64
	err = tx.QueryRow(ctx, `
		SELECT bounty_cents FROM requests WHERE level_id = $1 FOR UPDATE
	`, levelID).Scan(&bounty)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, &RequestNotFoundError{LevelID: levelID}
	}
	if err != nil {
		return Transaction{}, err
	}
	if bounty <= 0 {
		return Transaction{}, &RequestNotFoundError{LevelID: levelID}
	}

	if _, err := getAccountTx(ctx, tx, claimantUID, true); err != nil {
		return Transaction{}, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE requests SET bounty_cents = 0, requester_uid = $1 WHERE level_id = $2
	`, claimantUID, levelID); err != nil {
		return Transaction{}, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET balance = balance + $1 WHERE uid = $2
	`, bounty, claimantUID); err != nil {
		return Transaction{}, err
	}

	record, err := insertTransactionTx(ctx, tx, Transaction{
		Type:          "wire",
		UID:           claimantUID,
		TotalCents:    bounty,
		BalanceChange: bounty,
		Destination:   BountyEntityID,
		Memo:          fmt.Sprintf("bounty claim for level %s", levelID),
	})
	if err != nil {
		return Transaction{}, err
	}
	return record, tx.Commit(ctx)
}

// TopBounties lists the n largest open bounties.
func (s *Service) TopBounties(ctx context.Context, n int) ([]BountyRequest, error) {
	if n <= 0 || n > 100 {
		n = 10
	}
	rows, err := s.db.Query(ctx, `
		SELECT level_id, bounty_cents, name, creator_uid, requester_uid
		FROM requests
		WHERE bounty_cents > 0
		ORDER BY bounty_cents DESC, level_id
		LIMIT $1
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BountyRequest
	for rows.Next() {
		var r BountyRequest
		if err := rows.Scan(&r.LevelID, &r.BountyCents, &r.Name, &r.CreatorUID, &r.RequesterUID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Service) GetBounty(ctx context.Context, levelID string) (BountyRequest, error) {
	var r BountyRequest
	err := s.db.QueryRow(ctx, `
		SELECT level_id, bounty_cents, name, creator_uid, requester_uid
		FROM requests
		WHERE level_id = $1
	`, levelID).Scan(&r.LevelID, &r.BountyCents, &r.Name, &r.CreatorUID, &r.RequesterUID)
	if errors.Is(err, pgx.ErrNoRows) {
		return BountyRequest{}, &RequestNotFoundError{LevelID: levelID}
	}
	return r, err
}

// bestCardTierTx picks the highest card tier present in the inventory. With no
// tier card held, contributions earn nothing.
func bestCardTierTx(ctx context.Context, tx pgx.Tx, uid string) (CardTier, error) {
	rows, err := tx.Query(ctx, `
		SELECT inv.item_id
		FROM inventory inv
		JOIN items i ON i.item_id = inv.item_id
		WHERE inv.uid = $1 AND inv.quantity > 0 AND i.type = $2
	`, uid, ItemTypeCard)
	if err != nil {
		return CardTier{}, err
	}
	defer rows.Close()

	best := CardTiers[len(CardTiers)-1]
	for rows.Next() {
		var itemID string
		if err := rows.Scan(&itemID); err != nil {
			return CardTier{}, err
		}
		if tier, ok := TierByItem(itemID); ok && tier.CashbackBps > best.CashbackBps {
			best = tier
		}
	}
	return best, rows.Err()
}
