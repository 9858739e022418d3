package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Entity is a non-user wire destination. CheckAccept runs before any mutation
// and may reject with a WireRejectionError; OnAccept runs after the debit in
// the same transaction, so a failed side effect voids the whole wire. New
// entities are plain values: supply the two hooks and register the entity.
type Entity struct {
	Name       string
	Identifier string

	CheckAccept func(ctx context.Context, s *Service, tx pgx.Tx, from Account, amount int64, memo string) error
	OnAccept    func(ctx context.Context, s *Service, tx pgx.Tx, from Account, amount int64, memo string) error
}

// Destination is the tagged wire target: exactly one of UID or Entity is set.
type Destination struct {
	UID    string
	Entity *Entity
}

func UserDestination(uid string) Destination  { return Destination{UID: uid} }
func EntityDestination(e *Entity) Destination { return Destination{Entity: e} }
func (d Destination) IsUser() bool            { return d.Entity == nil }

func (d Destination) Name() string {
	if d.Entity != nil {
		return d.Entity.Name
	}
	return d.UID
}

func (d Destination) identifier() string {
	if d.Entity != nil {
		return d.Entity.Identifier
	}
	return d.UID
}

// Entity resolves a registered entity by its wire identifier.
func (s *Service) Entity(identifier string) (*Entity, bool) {
	e, ok := s.entities[identifier]
	return e, ok
}

// Entities lists the registered entities sorted by identifier.
func (s *Service) Entities() []*Entity {
	out := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// WirePreview is a pending transfer rendered for confirmation. The reference
// only correlates the confirmation round trip; nothing is reserved, and the
// source account is re-read under lock at execute time.
type WirePreview struct {
	Reference            string `json:"reference"`
	Destination          string `json:"destination"`
	DestinationIsAccount bool   `json:"destination_is_account"`
	BalanceBefore        int64  `json:"balance_before"`
	Amount               int64  `json:"amount"`
	BalanceAfter         int64  `json:"balance_after"`
}

func (s *Service) PreviewWire(ctx context.Context, dest Destination, fromUID string, amount int64) (WirePreview, error) {
	if amount <= 0 {
		return WirePreview{}, fmt.Errorf("wire amount must be positive, got %d", amount)
	}
	from, err := s.GetAccount(ctx, fromUID)
	if err != nil {
		return WirePreview{}, err
	}
	return WirePreview{
		Reference:            uuid.NewString(),
		Destination:          dest.Name(),
		DestinationIsAccount: dest.IsUser(),
		BalanceBefore:        from.Balance,
		Amount:               amount,
		BalanceAfter:         from.Balance - amount,
	}, nil
}

// ExecuteWire moves amount from the source to the destination. User wires
// commit both balance changes together or not at all. Entity wires run the
// entity's accept check first; a rejection rolls back with no record written.
func (s *Service) ExecuteWire(ctx context.Context, dest Destination, fromUID string, amount int64, memo string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("wire amount must be positive, got %d", amount)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx)

	record, err := s.executeWireTx(ctx, tx, dest, fromUID, amount, memo)
	if err != nil {
		return Transaction{}, err
	}
	return record, tx.Commit(ctx)
}

// executeWireTx moves the funds inside the caller's transaction. Any error
// leaves the transaction for the caller to roll back, so a rejected or failed
// wire writes nothing.
func (s *Service) executeWireTx(ctx context.Context, tx pgx.Tx, dest Destination, fromUID string, amount int64, memo string) (Transaction, error) {
	from, err := getAccountTx(ctx, tx, fromUID, true)
	if err != nil {
		return Transaction{}, err
	}
	if dest.Entity != nil && dest.Entity.CheckAccept != nil {
		if err := dest.Entity.CheckAccept(ctx, s, tx, from, amount, memo); err != nil {
			return Transaction{}, err
		}
	}
	if from.Balance < amount {
		return Transaction{}, &InsufficientBalanceError{UID: fromUID, Balance: from.Balance, Required: amount}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET balance = balance - $1 WHERE uid = $2
	`, amount, fromUID); err != nil {
		return Transaction{}, err
	}
	if dest.IsUser() {
		cmd, err := tx.Exec(ctx, `
			UPDATE accounts SET balance = balance + $1 WHERE uid = $2
		`, amount, dest.UID)
		if err != nil {
			return Transaction{}, err
		}
		if cmd.RowsAffected() == 0 {
			return Transaction{}, &AccountNotFoundError{UID: dest.UID}
		}
	}

	record, err := insertTransactionTx(ctx, tx, Transaction{
		Type:                 "wire",
		UID:                  fromUID,
		TotalCents:           amount,
		BalanceChange:        -amount,
		Destination:          dest.identifier(),
		DestinationIsAccount: dest.IsUser(),
		Memo:                 memo,
	})
	if err != nil {
		return Transaction{}, err
	}
	if dest.Entity != nil && dest.Entity.OnAccept != nil {
		if err := dest.Entity.OnAccept(ctx, s, tx, from, amount, memo); err != nil {
			return Transaction{}, err
		}
	}
	return record, nil
}

// checkBountyWire is the REQ accept hook, split out for direct testing.
func checkBountyWire(cfg Config, netWorth int64, from Account, amount int64, memo string) error {
	if netWorth-amount < cfg.MinHeldAfterWire {
		return &WireRejectionError{
			Entity: "REQ",
			Reason: fmt.Sprintf("sending this would drop your net worth under %s", FormatUSD(cfg.MinHeldAfterWire)),
		}
	}
	if amount < cfg.MinBountyAmount {
		return &WireRejectionError{
			Entity: "REQ",
			Reason: fmt.Sprintf("minimum contribution is %s", FormatUSD(cfg.MinBountyAmount)),
		}
	}
	if _, ok := ParseLevelID(memo, cfg.MinBountyLevelID, cfg.MaxBountyLevelID); !ok {
		return &WireRejectionError{
			Entity: "REQ",
			Reason: fmt.Sprintf("memo must be a level id between %d and %d", cfg.MinBountyLevelID, cfg.MaxBountyLevelID),
		}
	}
	return nil
}

// checkLoanWire is the lender accept hook: never accept more than is owed.
func checkLoanWire(name string, from Account, amount int64) error {
	if amount > from.LoanBalance {
		return &WireRejectionError{
			Entity: name,
			Reason: fmt.Sprintf("you only owe %s but sent more", FormatUSD(from.LoanBalance)),
		}
	}
	return nil
}

const (
	BountyEntityID = "REQ"
	LenderEntityID = "AMF"
	lenderName     = "Ashford Mutual Financial"
)

func builtinEntities(s *Service) map[string]*Entity {
	bounty := &Entity{
		Name:       "Level Request Tool",
		Identifier: BountyEntityID,
		CheckAccept: func(ctx context.Context, s *Service, tx pgx.Tx, from Account, amount int64, memo string) error {
			netWorth, err := s.netWorthTx(ctx, tx, from.UID)
			if err != nil {
				return err
			}
			return checkBountyWire(s.cfg, netWorth, from, amount, memo)
		},
		OnAccept: func(ctx context.Context, s *Service, tx pgx.Tx, from Account, amount int64, memo string) error {
			levelID, _ := ParseLevelID(memo, s.cfg.MinBountyLevelID, s.cfg.MaxBountyLevelID)
			_, err := s.contributeToBountyTx(ctx, tx, from.UID, levelID, amount)
			return err
		},
	}
	lender := &Entity{
		Name:       lenderName,
		Identifier: LenderEntityID,
		CheckAccept: func(ctx context.Context, s *Service, tx pgx.Tx, from Account, amount int64, memo string) error {
			return checkLoanWire(lenderName, from, amount)
		},
		OnAccept: func(ctx context.Context, s *Service, tx pgx.Tx, from Account, amount int64, memo string) error {
			_, err := tx.Exec(ctx, `
				UPDATE accounts SET loan_balance = loan_balance - $1 WHERE uid = $2
			`, amount, from.UID)
			return err
		},
	}
	return map[string]*Entity{
		bounty.Identifier: bounty,
		lender.Identifier: lender,
	}
}
