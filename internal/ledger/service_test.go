package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestLatestHoldingPhantom(t *testing.T) {
	tx := &scriptTx{}
	h, found, err := latestHoldingTx(context.Background(), tx, "u1", "GDAW")
	if err != nil {
		t.Fatalf("phantom lookup failed: %v", err)
	}
	if found {
		t.Fatalf("no snapshot should report found")
	}
	if h.UID != "u1" || h.Ticker != "GDAW" || h.Quantity != 0 {
		t.Fatalf("phantom holding %+v", h)
	}
}

func TestAppendHoldingStampsDatabaseClock(t *testing.T) {
	tx := &scriptTx{}
	if err := appendHoldingTx(context.Background(), tx, "u1", "GDAW", 5); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if len(tx.execs) != 1 {
		t.Fatalf("want one insert, got %d statements", len(tx.execs))
	}
	// Transaction-start now() would let a late-locking transaction append a
	// snapshot behind the row it just read, hiding the newer quantity.
	if !strings.Contains(tx.execs[0].sql, "clock_timestamp()") {
		t.Fatalf("snapshot must be stamped at insert time: %q", tx.execs[0].sql)
	}
}

func TestUpdateAccountRejectsNegativeAmounts(t *testing.T) {
	s := &Service{cfg: Defaults()}
	neg := int64(-1)
	for _, upd := range []AccountUpdate{
		{Balance: &neg},
		{LoanBalance: &neg},
		{CreditLimit: &neg},
	} {
		_, err := s.UpdateAccount(context.Background(), "u1", upd)
		var invalid *InvalidAmountError
		if !errors.As(err, &invalid) {
			t.Fatalf("update %+v: expected typed rejection, got %v", upd, err)
		}
		if invalid.Amount != -1 {
			t.Fatalf("error fields: %+v", invalid)
		}
	}
}
