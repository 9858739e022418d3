package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// scriptTx satisfies pgx.Tx with queued row responses and recorded writes,
// standing in for a live transaction.
type scriptTx struct {
	rows    []pgx.Row
	tags    []pgconn.CommandTag
	queries []string
	execs   []execCall
}

type execCall struct {
	sql  string
	args []any
}

func (t *scriptTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	t.queries = append(t.queries, sql)
	if len(t.rows) == 0 {
		return errRow{pgx.ErrNoRows}
	}
	row := t.rows[0]
	t.rows = t.rows[1:]
	return row
}

func (t *scriptTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, execCall{sql: sql, args: args})
	if len(t.tags) > 0 {
		tag := t.tags[0]
		t.tags = t.tags[1:]
		return tag, nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (t *scriptTx) Commit(context.Context) error   { return nil }
func (t *scriptTx) Rollback(context.Context) error { return nil }

func (t *scriptTx) Begin(context.Context) (pgx.Tx, error) { return nil, errors.New("not scripted") }
func (t *scriptTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not scripted")
}
func (t *scriptTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *scriptTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *scriptTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not scripted")
}
func (t *scriptTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not scripted")
}
func (t *scriptTx) Conn() *pgx.Conn { return nil }

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type scanRow struct{ scan func(dest ...any) error }

func (r scanRow) Scan(dest ...any) error { return r.scan(dest...) }

func accountRow(a Account) pgx.Row {
	return scanRow{scan: func(dest ...any) error {
		*(dest[0].(*string)) = a.UID
		*(dest[1].(*int64)) = a.Balance
		*(dest[2].(*int64)) = a.LoanBalance
		*(dest[3].(*int64)) = a.CreditLimit
		*(dest[4].(*time.Time)) = a.CreatedAt
		return nil
	}}
}

func insertedRow(id int64) pgx.Row {
	return scanRow{scan: func(dest ...any) error {
		*(dest[0].(*int64)) = id
		*(dest[1].(*time.Time)) = time.Now()
		return nil
	}}
}

func TestExecuteWireUserMovesBothSides(t *testing.T) {
	s := &Service{cfg: Defaults()}
	tx := &scriptTx{rows: []pgx.Row{
		accountRow(Account{UID: "u1", Balance: 1_000_000}),
		insertedRow(7),
	}}

	record, err := s.executeWireTx(context.Background(), tx, UserDestination("u2"), "u1", 250_000, "rent")
	if err != nil {
		t.Fatalf("wire failed: %v", err)
	}
	if len(tx.execs) != 2 {
		t.Fatalf("want a debit and a credit, got %d statements", len(tx.execs))
	}
	if !strings.Contains(tx.execs[0].sql, "balance - $1") || !strings.Contains(tx.execs[1].sql, "balance + $1") {
		t.Fatalf("unexpected statements: %q, %q", tx.execs[0].sql, tx.execs[1].sql)
	}
	if record.ID != 7 || record.BalanceChange != -250_000 || record.Destination != "u2" || !record.DestinationIsAccount {
		t.Fatalf("record %+v", record)
	}
}

func TestExecuteWireRejectionLeavesNoTrace(t *testing.T) {
	s := &Service{cfg: Defaults()}
	tx := &scriptTx{rows: []pgx.Row{accountRow(Account{UID: "u1", Balance: 1_000_000})}}
	dest := EntityDestination(&Entity{
		Name:       "Vault",
		Identifier: "VLT",
		CheckAccept: func(context.Context, *Service, pgx.Tx, Account, int64, string) error {
			return &WireRejectionError{Entity: "Vault", Reason: "closed"}
		},
	})

	_, err := s.executeWireTx(context.Background(), tx, dest, "u1", 500_000, "")
	var rej *WireRejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if len(tx.execs) != 0 {
		t.Fatalf("rejected wire wrote %d statements", len(tx.execs))
	}
	if len(tx.queries) != 1 {
		t.Fatalf("rejected wire must only read the source account, ran %d queries", len(tx.queries))
	}
}

func TestExecuteWireInsufficientBalanceLeavesNoTrace(t *testing.T) {
	s := &Service{cfg: Defaults()}
	tx := &scriptTx{rows: []pgx.Row{accountRow(Account{UID: "u1", Balance: 100})}}

	_, err := s.executeWireTx(context.Background(), tx, UserDestination("u2"), "u1", 500, "")
	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if insufficient.Balance != 100 || insufficient.Required != 500 {
		t.Fatalf("error fields: %+v", insufficient)
	}
	if len(tx.execs) != 0 {
		t.Fatalf("failed wire wrote %d statements", len(tx.execs))
	}
}

func TestExecuteWireUnknownDestinationAccount(t *testing.T) {
	s := &Service{cfg: Defaults()}
	tx := &scriptTx{
		rows: []pgx.Row{accountRow(Account{UID: "u1", Balance: 1_000_000})},
		tags: []pgconn.CommandTag{
			pgconn.NewCommandTag("UPDATE 1"),
			pgconn.NewCommandTag("UPDATE 0"),
		},
	}

	_, err := s.executeWireTx(context.Background(), tx, UserDestination("ghost"), "u1", 100, "")
	var notFound *AccountNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
	if len(tx.queries) != 1 {
		t.Fatalf("failed wire must not append a record, ran %d queries", len(tx.queries))
	}
}
