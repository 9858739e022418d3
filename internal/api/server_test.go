package api

import (
	"fmt"
	"net/http/httptest"
	"testing"

	"marketbot/internal/ledger"
)

func TestWriteDomainErrorStatuses(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&ledger.AccountNotFoundError{UID: "u1"}, 404},
		{&ledger.StockNotFoundError{Ticker: "GDAW"}, 404},
		{&ledger.RequestNotFoundError{LevelID: "4500"}, 404},
		{&ledger.InsufficientBalanceError{UID: "u1", Balance: 1, Required: 2}, 400},
		{&ledger.InsufficientQuantityError{UID: "u1", Held: 1, Requested: 2}, 400},
		{&ledger.InvalidAmountError{Field: "balance", Amount: -1}, 400},
		{&ledger.MarketClosedError{Session: ledger.SessionClosed}, 409},
		{&ledger.WireRejectionError{Entity: "REQ", Reason: "too small"}, 422},
		{fmt.Errorf("connection refused"), 500},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tc.err)
		if rec.Code != tc.want {
			t.Fatalf("%T: got status %d want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestWriteDomainErrorWrapped(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, fmt.Errorf("buy: %w", &ledger.MarketClosedError{Session: ledger.SessionClosed}))
	if rec.Code != 409 {
		t.Fatalf("wrapped market-closed: got %d want 409", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	if got := bearerToken("Bearer abc123"); got != "abc123" {
		t.Fatalf("got %q", got)
	}
	for _, header := range []string{"", "abc123", "Basic abc123"} {
		if got := bearerToken(header); got != "" {
			t.Fatalf("header %q: got %q want empty", header, got)
		}
	}
}
