package database

import (
	"context"

	"github.com/Martin-Hayot/bidding-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// RaiseOutcome reports the result of an atomic compare-and-raise attempt.
// When Raised is false, CurrentPrice is the price that beat the attempt so
// callers can surface it or retry against it.
type RaiseOutcome struct {
	Raised       bool
	CurrentPrice decimal.Decimal
	Bid          types.Bid
}

// Service represents a service that interacts with the lot store and the
// bid ledger.
//
// The lot row is the single shared mutable resource in the system. Only two
// kinds of path may write it: RaiseLotPrice (price, leader, counter) and the
// status transitions (UpdateLotStatus, ExpireLotIfNoBids, SellLotToLeader).
// All of them are conditional updates so the invariants hold under concurrent
// writers in a multi-process deployment.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error

	// InitSchema creates the backing tables when they do not exist yet.
	InitSchema(ctx context.Context) error

	// LOT METHODS
	CreateLot(ctx context.Context, lot types.Lot) (types.Lot, error)
	GetLotByID(ctx context.Context, lotID string) (types.Lot, error)
	GetLotsByIDs(ctx context.Context, lotIDs []string) ([]types.Lot, error)

	// RaiseLotPrice atomically raises the lot's current price to bid.Amount,
	// promotes the bidder to leader, increments the bids counter and appends
	// the bid to the ledger as one unit, conditioned on the price still
	// being below bid.Amount and the status still being active at commit
	// time. A false Raised means a concurrent bid won the race; the returned
	// CurrentPrice is the fresh value.
	RaiseLotPrice(ctx context.Context, lotID string, bid types.Bid) (RaiseOutcome, error)

	// UpdateLotStatus performs a conditional status transition from -> to.
	// It never touches the price. Returns false when the lot was not in the
	// expected from status.
	UpdateLotStatus(ctx context.Context, lotID string, from, to types.LotStatus) (bool, error)

	// ExpireLotIfNoBids moves an active lot to expired, conditioned on the
	// ledger still being empty in the same write. A bid that committed after
	// the caller read the row makes this a no-op, so an overdue lot with
	// bids can never finalize as expired.
	ExpireLotIfNoBids(ctx context.Context, lotID string) (bool, error)

	// SellLotToLeader moves an active lot with bids to sold, recording the
	// current leading bidder as the winner inside the same conditional
	// write. Returns the finalized lot; false when the lot was not active
	// or has no bids.
	SellLotToLeader(ctx context.Context, lotID string) (types.Lot, bool, error)

	// CancelLotIfNoBids moves the lot to cancelled, conditioned on the
	// expected from status and an empty ledger, so a concurrently admitted
	// bid can never be orphaned by a cancellation.
	CancelLotIfNoBids(ctx context.Context, lotID string, from types.LotStatus) (bool, error)

	// BID LEDGER METHODS
	GetBidsSince(ctx context.Context, lotID string, sinceSeq int64, limit int) ([]types.Bid, error)
	GetLatestBidByUser(ctx context.Context, lotID, userID string) (*types.Bid, error)
}
