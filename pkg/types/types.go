package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role identifies what kind of account a user holds on the platform.
type Role string

const (
	RoleProducer    Role = "producer"
	RoleDistributor Role = "distributor"
	RoleInvestor    Role = "investor"
	RoleAdmin       Role = "admin"
)

// LotStatus is the stored lifecycle state of a lot. It is denormalized for
// fast filtering; "is bidding open" is always re-derived from EndDate.
type LotStatus string

const (
	StatusDraft     LotStatus = "draft"
	StatusActive    LotStatus = "active"
	StatusSold      LotStatus = "sold"
	StatusExpired   LotStatus = "expired"
	StatusCancelled LotStatus = "cancelled"
)

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Identity is the authenticated caller extracted from a request token.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

type Lot struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"ownerId"`
	Title           string          `json:"title"`
	Currency        string          `json:"currency"`
	StartingPrice   decimal.Decimal `json:"startingPrice"`
	CurrentPrice    decimal.Decimal `json:"currentPrice"`
	StartDate       time.Time       `json:"startDate"`
	EndDate         time.Time       `json:"endDate"`
	Status          LotStatus       `json:"status"`
	BidsCount       int             `json:"bidsCount"`
	CurrentBidderID *string         `json:"currentBidderId,omitempty"`
	WinnerID        *string         `json:"winnerId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Bid is an immutable ledger entry. Sequence is assigned by the store at
// commit time and is strictly increasing per lot; it doubles as the
// incremental-fetch cursor for the sync feed.
type Bid struct {
	ID        string          `json:"id"`
	LotID     string          `json:"lotId"`
	BidderID  string          `json:"bidderId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Message   string          `json:"message,omitempty"`
	Sequence  int64           `json:"sequence"`
	CreatedAt time.Time       `json:"createdAt"`
}

// CallerBid is the caller's latest bid on a lot, with the winning flag
// computed at read time against the same snapshot's price.
type CallerBid struct {
	Amount    decimal.Decimal `json:"amount"`
	IsWinning bool            `json:"isWinning"`
	CreatedAt time.Time       `json:"createdAt"`
}

// LotSnapshot is the poll target for a single lot. All lot fields come from
// one row read so a snapshot is never a torn mix of old price and new bids.
type LotSnapshot struct {
	LotID         string          `json:"lotId"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	Currency      string          `json:"currency"`
	Status        LotStatus       `json:"status"`
	BidsCount     int             `json:"bidsCount"`
	EndDate       time.Time       `json:"endDate"`
	TimeRemaining time.Duration   `json:"timeRemaining"`
	CallerBid     *CallerBid      `json:"callerBid,omitempty"`
}
