package ledger

import "testing"

func TestNextWalkPriceBounds(t *testing.T) {
	const price = 100_000
	const vol = 0.03
	for _, draw := range []float64{0, 0.1, 0.25, 0.49, 0.5, 0.51, 0.75, 0.99} {
		got := NextWalkPrice(price, vol, 1.0, draw, 100)
		lo := int64(float64(price) * (1 - vol))
		hi := int64(float64(price) * (1 + vol))
		if got < lo-1 || got > hi+1 {
			t.Fatalf("draw=%v price %d outside [%d, %d]", draw, got, lo, hi)
		}
	}
}

func TestNextWalkPriceMapping(t *testing.T) {
	// draw=0.25 maps to +1.5% at 3% volatility, draw=0.75 to -1.5%
	if got := NextWalkPrice(100_000, 0.03, 1.0, 0.25, 100); got != 101_500 {
		t.Fatalf("up step got %d want 101500", got)
	}
	if got := NextWalkPrice(100_000, 0.03, 1.0, 0.75, 100); got != 98_500 {
		t.Fatalf("down step got %d want 98500", got)
	}
}

func TestNextWalkPriceFloor(t *testing.T) {
	if got := NextWalkPrice(100, 0.03, 1.0, 0.75, 100); got != 100 {
		t.Fatalf("expected floor at 100, got %d", got)
	}
	if got := NextWalkPrice(50, 0.03, 1.0, 0.5, 100); got != 100 {
		t.Fatalf("expected clamp up to 100, got %d", got)
	}
}

func TestNextWalkPriceUpwardBias(t *testing.T) {
	plain := NextWalkPrice(100_000, 0.03, 1.0, 0.25, 100)
	biased := NextWalkPrice(100_000, 0.03, 2.0, 0.25, 100)
	if biased <= plain {
		t.Fatalf("biased up step %d not above plain %d", biased, plain)
	}
	// bias never touches downward moves
	if got := NextWalkPrice(100_000, 0.03, 2.0, 0.75, 100); got != 98_500 {
		t.Fatalf("down step with bias got %d want 98500", got)
	}
}

func TestBuyOutcomeCashOnly(t *testing.T) {
	a := Account{UID: "u1", Balance: 10_000_000, CreditLimit: 1_000_000}
	newBalance, newLoan, creditUsed, err := BuyOutcome(a, 100_000, 10, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newBalance != 9_000_000 || newLoan != 0 || creditUsed != 0 {
		t.Fatalf("got balance=%d loan=%d credit=%d", newBalance, newLoan, creditUsed)
	}
}

func TestBuyOutcomeCreditDraw(t *testing.T) {
	a := Account{UID: "u1", Balance: 0, CreditLimit: 500_000}
	newBalance, newLoan, creditUsed, err := BuyOutcome(a, 300_000, 1, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newBalance != 0 {
		t.Fatalf("balance got %d want 0", newBalance)
	}
	if newLoan != 300_000 || creditUsed != 300_000 {
		t.Fatalf("loan=%d credit=%d want 300000", newLoan, creditUsed)
	}
}

func TestBuyOutcomeExactCreditBoundary(t *testing.T) {
	// balance + available credit exactly equals cost
	a := Account{UID: "u1", Balance: 100_000, CreditLimit: 200_000}
	newBalance, newLoan, creditUsed, err := BuyOutcome(a, 300_000, 1, true)
	if err != nil {
		t.Fatalf("boundary buy should succeed: %v", err)
	}
	if newBalance != 0 || newLoan != 200_000 || creditUsed != 200_000 {
		t.Fatalf("got balance=%d loan=%d credit=%d", newBalance, newLoan, creditUsed)
	}
}

func TestBuyOutcomeInsufficient(t *testing.T) {
	a := Account{UID: "u1", Balance: 100_000, CreditLimit: 100_000}
	_, _, _, err := BuyOutcome(a, 300_000, 1, true)
	be, ok := err.(*InsufficientBalanceError)
	if !ok {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if be.Required != 300_000 || be.Balance != 100_000 {
		t.Fatalf("error fields: %+v", be)
	}

	// without the credit flag even a covered shortfall fails
	a = Account{UID: "u1", Balance: 100_000, CreditLimit: 1_000_000}
	if _, _, _, err := BuyOutcome(a, 300_000, 1, false); err == nil {
		t.Fatalf("expected failure without credit flag")
	}
}

func TestBuyOutcomePartiallyDrawnLimit(t *testing.T) {
	a := Account{UID: "u1", Balance: 0, CreditLimit: 500_000, LoanBalance: 400_000}
	if _, _, _, err := BuyOutcome(a, 200_000, 1, true); err == nil {
		t.Fatalf("expected failure: only 100000 credit left")
	}
	newBalance, newLoan, creditUsed, err := BuyOutcome(a, 100_000, 1, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newBalance != 0 || newLoan != 500_000 || creditUsed != 100_000 {
		t.Fatalf("got balance=%d loan=%d credit=%d", newBalance, newLoan, creditUsed)
	}
}

func TestBuySellRoundTrip(t *testing.T) {
	a := Account{UID: "u1", Balance: 10_000_000, CreditLimit: 1_000_000}
	balance, loan, creditUsed, err := BuyOutcome(a, 120_000, 5, false)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if creditUsed != 0 || loan != 0 {
		t.Fatalf("cash buy drew credit: loan=%d credit=%d", loan, creditUsed)
	}

	mid := Account{UID: "u1", Balance: balance, LoanBalance: loan, CreditLimit: a.CreditLimit}
	finalBalance, finalQty, err := SellOutcome(mid, 5, 120_000, 5)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if finalBalance != a.Balance || finalQty != 0 {
		t.Fatalf("selling everything back at the same price: balance=%d quantity=%d", finalBalance, finalQty)
	}
}

func TestSellOutcome(t *testing.T) {
	a := Account{UID: "u1", Balance: 9_000_000}
	newBalance, newQuantity, err := SellOutcome(a, 10, 120_000, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newBalance != 9_480_000 || newQuantity != 6 {
		t.Fatalf("got balance=%d quantity=%d", newBalance, newQuantity)
	}

	_, _, err = SellOutcome(a, 3, 120_000, 4)
	qe, ok := err.(*InsufficientQuantityError)
	if !ok {
		t.Fatalf("expected InsufficientQuantityError, got %v", err)
	}
	if qe.Held != 3 || qe.Requested != 4 {
		t.Fatalf("error fields: %+v", qe)
	}
}

func TestAvailableCredit(t *testing.T) {
	a := Account{CreditLimit: 500_000, LoanBalance: 200_000}
	if got := a.AvailableCredit(); got != 300_000 {
		t.Fatalf("got %d want 300000", got)
	}
	// interest can push the loan past the limit; nothing further drawable
	a.LoanBalance = 600_000
	if got := a.AvailableCredit(); got != 0 {
		t.Fatalf("overdrawn account should have 0 credit, got %d", got)
	}
}

func TestDailyInterest(t *testing.T) {
	tests := []struct {
		loan int64
		rate float64
		want int64
	}{
		{loan: 0, rate: 0.005, want: 0},
		{loan: 100_000, rate: 0.005, want: 500},
		{loan: 1, rate: 0.005, want: 1}, // rounds up, debt always costs
		{loan: 100_000, rate: 0, want: 0},
	}
	for _, tc := range tests {
		if got := DailyInterest(tc.loan, tc.rate); got != tc.want {
			t.Fatalf("loan=%d rate=%v got=%d want=%d", tc.loan, tc.rate, got, tc.want)
		}
	}
}

func TestMaxLoanAmount(t *testing.T) {
	if got := MaxLoanAmount(10_000_000, 2_000_000, 0.5); got != 3_000_000 {
		t.Fatalf("got %d want 3000000", got)
	}
	if got := MaxLoanAmount(1_000_000, 2_000_000, 0.5); got != 0 {
		t.Fatalf("overextended account should cap at 0, got %d", got)
	}
}

func TestParseLevelID(t *testing.T) {
	if id, ok := ParseLevelID("128", 128, 120_000_000); !ok || id != "128" {
		t.Fatalf("got %q %v", id, ok)
	}
	if id, ok := ParseLevelID(" 4500 ", 128, 120_000_000); !ok || id != "4500" {
		t.Fatalf("trimmed memo: got %q %v", id, ok)
	}
	bad := []string{"007", "127", "120000001", "abc", "12.5", "", "1e3"}
	for _, memo := range bad {
		if _, ok := ParseLevelID(memo, 128, 120_000_000); ok {
			t.Fatalf("expected memo %q to be rejected", memo)
		}
	}
}

func TestTierForRank(t *testing.T) {
	// 8 qualifying accounts: 1 platinum, 1 gold, 2 silver, 4 standard
	wants := []string{"030", "020", "010", "010", "000", "000", "000", "000"}
	for rank, want := range wants {
		got := TierForRank(rank, 8)
		if got.ItemID != want {
			t.Fatalf("rank %d got tier %s want %s", rank, got.ItemID, want)
		}
	}
	if got := TierForRank(0, 0); got.ItemID != BaseCardItemID {
		t.Fatalf("empty field should yield base card, got %s", got.ItemID)
	}
}

func TestCashback(t *testing.T) {
	gold, ok := TierByItem("020")
	if !ok {
		t.Fatalf("gold tier missing")
	}
	if got := Cashback(50_000, gold); got != 1_000 {
		t.Fatalf("got %d want 1000", got)
	}
	base, _ := TierByItem(BaseCardItemID)
	if got := Cashback(50_000, base); got != 0 {
		t.Fatalf("base card should earn nothing, got %d", got)
	}
}

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{cents: 0, want: "$0.00"},
		{cents: 105, want: "$1.05"},
		{cents: 10_000_000, want: "$100000.00"},
		{cents: -250, want: "-$2.50"},
	}
	for _, tc := range tests {
		if got := FormatUSD(tc.cents); got != tc.want {
			t.Fatalf("cents=%d got=%q want=%q", tc.cents, got, tc.want)
		}
	}
}
