package ledger

import "fmt"

// Business-rule violations are typed values carrying the offending entity and
// the violated quantity. They are always recoverable at the call site: the
// open transaction is rolled back and the error is returned for the caller to
// translate into user-facing text.

type AccountNotFoundError struct {
	UID string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account %s not found", e.UID)
}

type StockNotFoundError struct {
	Ticker string
}

func (e *StockNotFoundError) Error() string {
	return fmt.Sprintf("stock %s not found", e.Ticker)
}

type InsufficientBalanceError struct {
	UID      string
	Balance  int64
	Required int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("account %s has %s but needs %s", e.UID, FormatUSD(e.Balance), FormatUSD(e.Required))
}

type InsufficientQuantityError struct {
	UID       string
	Ticker    string
	Held      int64
	Requested int64
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("account %s holds %d of %s but tried to sell %d", e.UID, e.Held, e.Ticker, e.Requested)
}

type InsufficientItemQuantityError struct {
	UID       string
	ItemID    string
	Held      int64
	Requested int64
}

func (e *InsufficientItemQuantityError) Error() string {
	return fmt.Sprintf("account %s holds %d of item %s but needs %d", e.UID, e.Held, e.ItemID, e.Requested)
}

type InvalidAmountError struct {
	Field  string
	Amount int64
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("%s cannot be negative, got %d", e.Field, e.Amount)
}

type ItemNotFoundError struct {
	ItemID string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item %s not found", e.ItemID)
}

type RequestNotFoundError struct {
	LevelID string
}

func (e *RequestNotFoundError) Error() string {
	return fmt.Sprintf("level request %s not found", e.LevelID)
}

type MarketClosedError struct {
	Session Session
}

func (e *MarketClosedError) Error() string {
	return fmt.Sprintf("market is closed (session %s)", e.Session)
}

// WireRejectionError is raised by an entity destination's accept check. The
// reason is human-readable and safe to surface to the sender.
type WireRejectionError struct {
	Entity string
	Reason string
}

func (e *WireRejectionError) Error() string {
	return fmt.Sprintf("wire rejected by %s: %s", e.Entity, e.Reason)
}
