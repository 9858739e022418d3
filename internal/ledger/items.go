package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CashInItem redeems one unit of a cashable item for its face value.
func (s *Service) CashInItem(ctx context.Context, uid, itemID string) (Transaction, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := getAccountTx(ctx, tx, uid, true); err != nil {
		return Transaction{}, err
	}
	item, err := getItemTx(ctx, tx, itemID)
	if err != nil {
		return Transaction{}, err
	}
	if item.ValueCents <= 0 {
		return Transaction{}, &WireRejectionError{Entity: item.Name, Reason: "item has no cash value"}
	}

	if err := takeItemTx(ctx, tx, uid, itemID, 1); err != nil {
		return Transaction{}, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET balance = balance + $1 WHERE uid = $2
	`, item.ValueCents, uid); err != nil {
		return Transaction{}, err
	}

	record, err := insertTransactionTx(ctx, tx, Transaction{
		Type:          "wire",
		UID:           uid,
		TotalCents:    item.ValueCents,
		BalanceChange: item.ValueCents,
		Destination:   itemID,
		Memo:          fmt.Sprintf("cashed in %s", item.Name),
	})
	if err != nil {
		return Transaction{}, err
	}
	return record, tx.Commit(ctx)
}

// SwapItem exchanges one unit of fromItemID for one unit of toItemID, the
// booster-pack open. No money moves, so nothing is written to the audit log.
func (s *Service) SwapItem(ctx context.Context, uid, fromItemID, toItemID string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := getAccountTx(ctx, tx, uid, true); err != nil {
		return err
	}
	if _, err := getItemTx(ctx, tx, toItemID); err != nil {
		return err
	}
	if err := takeItemTx(ctx, tx, uid, fromItemID, 1); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO inventory (uid, item_id, quantity)
		VALUES ($1, $2, 1)
		ON CONFLICT (uid, item_id) DO UPDATE SET quantity = inventory.quantity + 1
	`, uid, toItemID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateCreditTier forces an account onto the given card tier and adjusts the
// credit limit accordingly. Operator tooling; settlement does this in bulk.
func (s *Service) UpdateCreditTier(ctx context.Context, uid, itemID string) (Account, error) {
	tier, ok := TierByItem(itemID)
	if !ok {
		return Account{}, &ItemNotFoundError{ItemID: itemID}
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Account{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := getAccountTx(ctx, tx, uid, true); err != nil {
		return Account{}, err
	}
	if _, _, err := s.setCardTierTx(ctx, tx, uid, tier); err != nil {
		return Account{}, err
	}
	account, err := getAccountTx(ctx, tx, uid, false)
	if err != nil {
		return Account{}, err
	}
	return account, tx.Commit(ctx)
}

func getItemTx(ctx context.Context, tx pgx.Tx, itemID string) (Item, error) {
	var it Item
	err := tx.QueryRow(ctx, `
		SELECT item_id, name, type, value_cents FROM items WHERE item_id = $1
	`, itemID).Scan(&it.ItemID, &it.Name, &it.Type, &it.ValueCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, &ItemNotFoundError{ItemID: itemID}
	}
	return it, err
}

// takeItemTx removes quantity units from the inventory, failing without
// mutation when not enough are held.
func takeItemTx(ctx context.Context, tx pgx.Tx, uid, itemID string, quantity int64) error {
	var held int64
	err := tx.QueryRow(ctx, `
		SELECT quantity FROM inventory WHERE uid = $1 AND item_id = $2 FOR UPDATE
	`, uid, itemID).Scan(&held)
	if errors.Is(err, pgx.ErrNoRows) {
		return &InsufficientItemQuantityError{UID: uid, ItemID: itemID, Held: 0, Requested: quantity}
	}
	if err != nil {
		return err
	}
	if held < quantity {
		return &InsufficientItemQuantityError{UID: uid, ItemID: itemID, Held: held, Requested: quantity}
	}
	_, err = tx.Exec(ctx, `
		UPDATE inventory SET quantity = quantity - $1 WHERE uid = $2 AND item_id = $3
	`, quantity, uid, itemID)
	return err
}

// SeedDefaults installs the item catalog and a starter set of instruments.
// Safe to run repeatedly.
func (s *Service) SeedDefaults(ctx context.Context) error {
	items := []Item{
		{ItemID: BaseCardItemID, Name: "Standard Card", Type: ItemTypeCard},
		{ItemID: "010", Name: "Silver Card", Type: ItemTypeCard},
		{ItemID: "020", Name: "Gold Card", Type: ItemTypeCard},
		{ItemID: "030", Name: "Platinum Card", Type: ItemTypeCard},
		{ItemID: CashCheckItemID, Name: "Cash Check", Type: ItemTypeCheck, ValueCents: 100_000},
	}
	for _, it := range items {
		if _, err := s.db.Exec(ctx, `
			INSERT INTO items (item_id, name, type, value_cents)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (item_id) DO UPDATE
			SET name = EXCLUDED.name, type = EXCLUDED.type, value_cents = EXCLUDED.value_cents
		`, it.ItemID, it.Name, it.Type, it.ValueCents); err != nil {
			return err
		}
	}

	stocks := []Stock{
		{Ticker: "GDAW", Name: "Gearbolt Dynamics", PriceCents: 150_000, RefTicker: "MSFT", Multiplier: 3.0},
		{Ticker: "FRUT", Name: "Fruitstand Computing", PriceCents: 200_000, RefTicker: "AAPL", Multiplier: 8.5},
		{Ticker: "BZRD", Name: "Blizzard Logistics", PriceCents: 90_000, RefTicker: "UPS", Multiplier: 6.0},
		{Ticker: "MMTH", Name: "Mammoth Energy Works", PriceCents: 120_000, RefTicker: "XOM", Multiplier: 10.0},
		{Ticker: "PLNK", Name: "Plank & Timber Holdings", PriceCents: 45_000, RefTicker: "WY", Multiplier: 14.0},
	}
	for _, st := range stocks {
		if _, err := s.db.Exec(ctx, `
			INSERT INTO stocks (ticker, name, price_cents, ref_ticker, ref_price_cents, multiplier)
			VALUES ($1, $2, $3, $4, 0, $5)
			ON CONFLICT (ticker) DO NOTHING
		`, st.Ticker, st.Name, st.PriceCents, st.RefTicker, st.Multiplier); err != nil {
			return err
		}
	}
	s.log.Info("seeded default items and stocks", "items", len(items), "stocks", len(stocks))
	return nil
}
