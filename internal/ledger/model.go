package ledger

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// All currency amounts are integer cents. Balances, prices, credit limits and
// bounties never touch floating point outside the walk/interest math, and the
// results of that math are floored back into cents before they are stored.

type Session string

const (
	SessionClosed Session = "closed"
	SessionPre    Session = "pre"
	SessionOpen   Session = "open"
	SessionAfter  Session = "after"
)

type MarketState struct {
	IsMarketOpen bool    `json:"is_market_open"`
	Session      Session `json:"session"`
}

type Account struct {
	UID         string    `json:"uid"`
	Balance     int64     `json:"balance"`
	LoanBalance int64     `json:"loan_balance"`
	CreditLimit int64     `json:"credit_limit"`
	CreatedAt   time.Time `json:"created_at"`
}

// AvailableCredit is the amount of credit still drawable. Interest accrual can
// push the loan above the limit, in which case nothing further is drawable.
func (a Account) AvailableCredit() int64 {
	if c := a.CreditLimit - a.LoanBalance; c > 0 {
		return c
	}
	return 0
}

type Stock struct {
	Ticker        string    `json:"ticker"`
	Name          string    `json:"name"`
	PriceCents    int64     `json:"price_cents"`
	RefTicker     string    `json:"ref_ticker"`
	RefPriceCents int64     `json:"ref_price_cents"`
	Multiplier    float64   `json:"multiplier"`
	LastSyncAt    time.Time `json:"last_sync_at"`
}

type Holding struct {
	UID        string    `json:"uid"`
	Ticker     string    `json:"ticker"`
	Quantity   int64     `json:"quantity"`
	RecordedAt time.Time `json:"recorded_at"`
}

type DailyPrice struct {
	Ticker     string `json:"ticker"`
	Year       int    `json:"year"`
	Month      int    `json:"month"`
	Day        int    `json:"day"`
	OpenCents  int64  `json:"open_cents"`
	HighCents  int64  `json:"high_cents"`
	LowCents   int64  `json:"low_cents"`
	CloseCents int64  `json:"close_cents"`
}

type Transaction struct {
	ID                   int64     `json:"id"`
	Type                 string    `json:"type"` // buy, sell, wire
	UID                  string    `json:"uid"`
	Ticker               string    `json:"ticker,omitempty"`
	Quantity             int64     `json:"quantity,omitempty"`
	PriceCents           int64     `json:"price_cents,omitempty"`
	TotalCents           int64     `json:"total_cents,omitempty"`
	BalanceChange        int64     `json:"balance_change"`
	CreditChange         int64     `json:"credit_change"`
	Destination          string    `json:"destination,omitempty"`
	DestinationIsAccount bool      `json:"destination_is_account"`
	Memo                 string    `json:"memo,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

type Item struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	Type       string `json:"type"` // credit_card, cash_check, collectible
	ValueCents int64  `json:"value_cents"`
}

type ItemHolding struct {
	UID      string `json:"uid"`
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

type BountyRequest struct {
	LevelID      string `json:"level_id"`
	BountyCents  int64  `json:"bounty_cents"`
	Name         string `json:"name,omitempty"`
	CreatorUID   string `json:"creator_uid,omitempty"`
	RequesterUID string `json:"requester_uid,omitempty"`
}

// Config is the game parameter surface supplied by the process that owns the
// engine. Zero values are not usable; start from Defaults and override.
type Config struct {
	StartingBalance     int64
	StartingCreditLimit int64
	MinimumPrice        int64
	WalkVolatility      float64
	WalkUpwardBias      float64
	DailyInterestRate   float64
	LoanMaxMultiplier   float64
	MinBountyAmount     int64
	MinBountyLevelID    int
	MaxBountyLevelID    int
	MinHeldAfterWire    int64
	ChartDaysBack       int
}

func Defaults() Config {
	return Config{
		StartingBalance:     10_000_000,
		StartingCreditLimit: 1_000_000,
		MinimumPrice:        100,
		WalkVolatility:      0.03,
		WalkUpwardBias:      1.0,
		DailyInterestRate:   0.005,
		LoanMaxMultiplier:   0.5,
		MinBountyAmount:     10_000,
		MinBountyLevelID:    128,
		MaxBountyLevelID:    120_000_000,
		MinHeldAfterWire:    0,
		ChartDaysBack:       30,
	}
}

// NextWalkPrice maps a uniform draw in [0, 1) to a signed percentage change in
// (-volatility, +volatility], scales positive changes by upwardBias, applies
// the change multiplicatively and floors the result at minPrice.
func NextWalkPrice(price int64, volatility, upwardBias, draw float64, minPrice int64) int64 {
	change := 2 * volatility * draw
	if change > volatility {
		change -= 2 * volatility
	}
	if change > 0 && upwardBias > 0 {
		change *= upwardBias
	}
	next := int64(math.Floor(float64(price) * (1 + change)))
	if next < minPrice {
		next = minPrice
	}
	return next
}

// BuyOutcome is the arithmetic of a buy: how much credit gets drawn and what
// the balances become. It mutates nothing.
func BuyOutcome(a Account, price, quantity int64, allowCredit bool) (newBalance, newLoan, creditUsed int64, err error) {
	cost := price * quantity
	if a.Balance < cost {
		if allowCredit && a.Balance+a.AvailableCredit() >= cost {
			creditUsed = cost - a.Balance
		} else {
			return 0, 0, 0, &InsufficientBalanceError{UID: a.UID, Balance: a.Balance, Required: cost}
		}
	}
	return a.Balance + creditUsed - cost, a.LoanBalance + creditUsed, creditUsed, nil
}

// SellOutcome is the arithmetic of a sell. Selling never repays the loan.
func SellOutcome(a Account, held, price, quantity int64) (newBalance, newQuantity int64, err error) {
	if held < quantity {
		return 0, 0, &InsufficientQuantityError{UID: a.UID, Held: held, Requested: quantity}
	}
	return a.Balance + price*quantity, held - quantity, nil
}

// DailyInterest is the interest accrued on a loan balance at one settlement,
// rounded up so a nonzero loan always accrues at least one cent.
func DailyInterest(loanBalance int64, rate float64) int64 {
	if loanBalance <= 0 || rate <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(loanBalance) * rate))
}

// MaxLoanAmount is how much further credit an account could be extended given
// its net worth, the configured multiplier cap and the loan it carries.
func MaxLoanAmount(netWorth, loanBalance int64, multiplier float64) int64 {
	max := int64(math.Floor(float64(netWorth)*multiplier)) - loanBalance
	if max < 0 {
		return 0
	}
	return max
}

// ParseLevelID validates a bounty memo as a bare integer level id within the
// configured bounds. The memo must round-trip exactly; "007" is not a level id.
func ParseLevelID(memo string, min, max int) (string, bool) {
	memo = strings.TrimSpace(memo)
	n, err := strconv.Atoi(memo)
	if err != nil || strconv.Itoa(n) != memo {
		return "", false
	}
	if n < min || n > max {
		return "", false
	}
	return memo, true
}

// CardTier describes one credit-card reward tier. Group is the cumulative
// fraction of above-starting-balance accounts that qualifies, best tier first.
type CardTier struct {
	ItemID       string
	Group        float64
	LimitBump    int64
	WeeklyChecks int64
	CashbackBps  int64
}

const (
	BaseCardItemID  = "000"
	CashCheckItemID = "900"
	ItemTypeCard    = "credit_card"
	ItemTypeCheck   = "cash_check"
)

var CardTiers = []CardTier{
	{ItemID: "030", Group: 0.125, LimitBump: 15_000_000, WeeklyChecks: 3, CashbackBps: 300},
	{ItemID: "020", Group: 0.25, LimitBump: 10_000_000, WeeklyChecks: 2, CashbackBps: 200},
	{ItemID: "010", Group: 0.5, LimitBump: 5_000_000, WeeklyChecks: 1, CashbackBps: 100},
	{ItemID: BaseCardItemID, Group: 1, LimitBump: 0, WeeklyChecks: 0, CashbackBps: 0},
}

// TierForRank picks the card tier for the account ranked rank (0-based, best
// first) among the total accounts sitting above the starting balance.
func TierForRank(rank, total int) CardTier {
	for _, tier := range CardTiers {
		if float64(rank) < float64(total)*tier.Group {
			return tier
		}
	}
	return CardTiers[len(CardTiers)-1]
}

// TierByItem returns the tier for a held card item, ok=false for non-tier ids.
func TierByItem(itemID string) (CardTier, bool) {
	for _, tier := range CardTiers {
		if tier.ItemID == itemID {
			return tier, true
		}
	}
	return CardTier{}, false
}

// Cashback is the bounty-contribution kickback for a card tier.
func Cashback(amount int64, tier CardTier) int64 {
	return amount * tier.CashbackBps / 10_000
}

// FormatUSD renders cents as a dollar string for logs and announcements.
func FormatUSD(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
