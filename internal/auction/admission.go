package auction

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/Martin-Hayot/bidding-engine/internal/database"
	"github.com/Martin-Hayot/bidding-engine/internal/notify"
	"github.com/Martin-Hayot/bidding-engine/internal/rates"
	"github.com/Martin-Hayot/bidding-engine/pkg/errors"
	"github.com/Martin-Hayot/bidding-engine/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
)

// Invalidator drops cached snapshots for a lot after its price moved.
type Invalidator interface {
	Invalidate(ctx context.Context, lotID string)
}

// AdmissionConfig carries the tunables of the admission path.
type AdmissionConfig struct {
	// MaxRetries bounds how many times a bid re-attempts the
	// compare-and-raise after losing to a concurrent bid.
	MaxRetries int
	// CeilingMultiplier rejects bids above CurrentPrice * multiplier as
	// fat-finger input. The client validates first; the server still enforces.
	CeilingMultiplier int64
	// Timeout is the end-to-end deadline for one PlaceBid call.
	Timeout time.Duration
}

// PlaceBidRequest is one caller's attempt to bid on a lot.
type PlaceBidRequest struct {
	LotID    string
	BidderID string
	Role     types.Role
	Amount   decimal.Decimal
	Currency string
	Message  string
}

// Admission validates and commits bids. It is the only component allowed to
// mutate the lot price and the ledger, and it always does both as one atomic
// unit through the store's compare-and-raise.
type Admission struct {
	db        database.Service
	lifecycle *Lifecycle
	notifier  notify.Notifier
	rates     rates.Converter
	cache     Invalidator
	cfg       AdmissionConfig
}

func NewAdmission(db database.Service, lifecycle *Lifecycle, notifier notify.Notifier, converter rates.Converter, cache Invalidator, cfg AdmissionConfig) *Admission {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.CeilingMultiplier <= 0 {
		cfg.CeilingMultiplier = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Admission{
		db:        db,
		lifecycle: lifecycle,
		notifier:  notifier,
		rates:     converter,
		cache:     cache,
		cfg:       cfg,
	}
}

// PlaceBid admits a bid or returns a typed rejection. Preconditions run in a
// fixed order, first failure wins: role, lot existence, self-bid, auction
// open, amount above current price, amount below the sanity ceiling. The
// price check repeats inside the commit itself, so two bids racing within the
// same millisecond can never both land unless the second still exceeds the
// first.
func (a *Admission) PlaceBid(ctx context.Context, req PlaceBidRequest) (types.Bid, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	if !CanBid(req.Role) {
		return types.Bid{}, errors.New(errors.ErrForbiddenRole, "this account type cannot place bids")
	}

	lot, err := a.db.GetLotByID(ctx, req.LotID)
	if err != nil {
		return types.Bid{}, a.mapTimeout(ctx, err)
	}

	if lot.OwnerID == req.BidderID {
		return types.Bid{}, errors.New(errors.ErrSelfBid, "you cannot bid on your own lot")
	}

	if !a.lifecycle.IsBiddable(lot) {
		return types.Bid{}, errors.New(errors.ErrAuctionClosed, "bidding on this lot has closed")
	}

	amount := a.toLotCurrency(ctx, req.Amount, req.Currency, lot.Currency)

	for attempt := 0; attempt < a.cfg.MaxRetries; attempt++ {
		if amount.LessThanOrEqual(lot.CurrentPrice) {
			return types.Bid{}, errors.BidTooLow(lot.CurrentPrice)
		}
		if a.implausible(amount, lot.CurrentPrice) {
			return types.Bid{}, errors.New(errors.ErrBidImplausible, "bid is implausibly high, check the amount")
		}

		outcome, err := a.db.RaiseLotPrice(ctx, req.LotID, types.Bid{
			LotID:    req.LotID,
			BidderID: req.BidderID,
			Amount:   amount,
			Currency: lot.Currency,
			Message:  req.Message,
		})
		if err != nil {
			return types.Bid{}, a.mapTimeout(ctx, err)
		}

		if outcome.Raised {
			a.emitBidEvents(lot, outcome.Bid)
			if a.cache != nil {
				a.cache.Invalidate(context.WithoutCancel(ctx), req.LotID)
			}
			return outcome.Bid, nil
		}

		// Lost the race. Refresh the lot: the auction may have closed, or a
		// concurrent bid may have moved the price past ours.
		lot, err = a.db.GetLotByID(ctx, req.LotID)
		if err != nil {
			return types.Bid{}, a.mapTimeout(ctx, err)
		}
		if !a.lifecycle.IsBiddable(lot) {
			return types.Bid{}, errors.New(errors.ErrAuctionClosed, "bidding on this lot has closed")
		}
		log.Debugf("Bid conflict on lot %s (attempt %d), fresh price %s", req.LotID, attempt+1, lot.CurrentPrice.String())
	}

	return types.Bid{}, errors.ConflictExhausted(lot.CurrentPrice)
}

// toLotCurrency converts the offered amount into the lot's currency. Rate
// lookup failures fall back to the unconverted amount instead of failing the
// caller's request.
func (a *Admission) toLotCurrency(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal {
	if a.rates == nil || from == "" || from == to {
		return amount
	}
	converted, err := a.rates.Convert(ctx, amount, from, to)
	if err != nil {
		log.Warnf("Rate conversion %s->%s failed, using original amount: %v", from, to, err)
		return amount
	}
	return converted
}

func (a *Admission) implausible(amount, current decimal.Decimal) bool {
	if current.IsZero() {
		return false
	}
	ceiling := current.Mul(decimal.NewFromInt(a.cfg.CeilingMultiplier))
	return amount.GreaterThan(ceiling)
}

// emitBidEvents notifies the outbid leader and the lot owner. Fire and
// forget: failures are logged by the notifier and never reach the bidder.
func (a *Admission) emitBidEvents(before types.Lot, bid types.Bid) {
	previousLeader := ""
	if before.CurrentBidderID != nil {
		previousLeader = *before.CurrentBidderID
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		payload := struct {
			LotID  string `json:"lotId"`
			Amount string `json:"amount"`
		}{LotID: bid.LotID, Amount: bid.Amount.String()}

		if previousLeader != "" && previousLeader != bid.BidderID {
			a.notifier.Notify(ctx, previousLeader, notify.KindOutbid, payload)
		}
		a.notifier.Notify(ctx, before.OwnerID, notify.KindBidReceived, payload)
	}()
}

// mapTimeout surfaces a blown deadline as ErrTimeout. Caller cancellation
// (client disconnect) is not a timeout and propagates untouched.
func (a *Admission) mapTimeout(ctx context.Context, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		// The caller cannot know whether the bid was admitted; they must
		// re-query the snapshot before retrying, never blindly resubmit.
		return errors.New(errors.ErrTimeout, "bid not confirmed in time, refresh the lot before retrying")
	}
	return err
}
