package ledger

import "testing"

func TestPortfolioNetWorth(t *testing.T) {
	p := Portfolio{
		Account: Account{Balance: 9_000_000, LoanBalance: 500_000},
		Holdings: []HoldingView{
			{Ticker: "GDAW", Quantity: 10, PriceCents: 100_000, ValueCents: 1_000_000},
			{Ticker: "FRUT", Quantity: 2, PriceCents: 250_000, ValueCents: 500_000},
		},
	}
	if got := p.NetWorth(); got != 10_000_000 {
		t.Fatalf("got %d want 10000000", got)
	}

	empty := Portfolio{Account: Account{Balance: 1_000, LoanBalance: 2_000}}
	if got := empty.NetWorth(); got != -1_000 {
		t.Fatalf("net worth can go negative on debt, got %d", got)
	}
}

func TestChangeBetween(t *testing.T) {
	abs, pct, ok := changeBetween(100_000, 103_000)
	if !ok || abs != 3_000 || pct != 3.0 {
		t.Fatalf("got abs=%d pct=%v ok=%v", abs, pct, ok)
	}

	abs, pct, ok = changeBetween(100_000, 97_000)
	if !ok || abs != -3_000 || pct != -3.0 {
		t.Fatalf("got abs=%d pct=%v ok=%v", abs, pct, ok)
	}

	// percentage undefined when the prior value is zero
	abs, _, ok = changeBetween(0, 5_000)
	if ok || abs != 5_000 {
		t.Fatalf("got abs=%d ok=%v, want pct undefined", abs, ok)
	}
}
