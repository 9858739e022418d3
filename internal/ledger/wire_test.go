package ledger

import (
	"errors"
	"testing"
)

func TestCheckBountyWire(t *testing.T) {
	cfg := Defaults()
	from := Account{UID: "u1", Balance: 5_000_000}

	if err := checkBountyWire(cfg, 5_000_000, from, 50_000, "4500"); err != nil {
		t.Fatalf("valid contribution rejected: %v", err)
	}

	// below minimum contribution
	err := checkBountyWire(cfg, 5_000_000, from, cfg.MinBountyAmount-1, "4500")
	var rej *WireRejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}

	// malformed and out-of-bounds level ids
	for _, memo := range []string{"", "abc", "12", "007", "999999999"} {
		if err := checkBountyWire(cfg, 5_000_000, from, 50_000, memo); err == nil {
			t.Fatalf("expected memo %q to be rejected", memo)
		}
	}
}

func TestCheckBountyWireNetWorthFloor(t *testing.T) {
	cfg := Defaults()
	cfg.MinHeldAfterWire = 1_000_000
	from := Account{UID: "u1", Balance: 1_040_000}

	if err := checkBountyWire(cfg, 1_040_000, from, 50_000, "4500"); err == nil {
		t.Fatalf("expected net-worth floor rejection")
	}
	if err := checkBountyWire(cfg, 1_050_000, from, 50_000, "4500"); err != nil {
		t.Fatalf("floor boundary should pass: %v", err)
	}
}

func TestCheckLoanWire(t *testing.T) {
	from := Account{UID: "u1", LoanBalance: 200_000}
	if err := checkLoanWire("Lender", from, 200_000); err != nil {
		t.Fatalf("full repayment rejected: %v", err)
	}
	err := checkLoanWire("Lender", from, 200_001)
	var rej *WireRejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection for overpayment, got %v", err)
	}
	if rej.Entity != "Lender" {
		t.Fatalf("rejection entity got %q", rej.Entity)
	}
}

func TestDestinationVariants(t *testing.T) {
	user := UserDestination("u42")
	if !user.IsUser() || user.Name() != "u42" || user.identifier() != "u42" {
		t.Fatalf("user destination: %+v", user)
	}

	e := &Entity{Name: "Level Request Tool", Identifier: BountyEntityID}
	entity := EntityDestination(e)
	if entity.IsUser() {
		t.Fatalf("entity destination reported as user")
	}
	if entity.Name() != "Level Request Tool" || entity.identifier() != BountyEntityID {
		t.Fatalf("entity destination: name=%q id=%q", entity.Name(), entity.identifier())
	}
}

func TestBuiltinEntities(t *testing.T) {
	s := &Service{cfg: Defaults()}
	entities := builtinEntities(s)
	for _, id := range []string{BountyEntityID, LenderEntityID} {
		e, ok := entities[id]
		if !ok {
			t.Fatalf("missing builtin entity %s", id)
		}
		if e.CheckAccept == nil || e.OnAccept == nil {
			t.Fatalf("entity %s missing hooks", id)
		}
	}
}
