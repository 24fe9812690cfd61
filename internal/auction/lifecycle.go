package auction

import (
	"context"
	"time"

	"github.com/Martin-Hayot/bidding-engine/internal/database"
	"github.com/Martin-Hayot/bidding-engine/pkg/errors"
	"github.com/Martin-Hayot/bidding-engine/pkg/types"
	"github.com/charmbracelet/log"
)

// Lifecycle derives and transitions lot statuses. Transitions out of active
// are lazy: nothing flips a lot at its deadline, readers derive the terminal
// status whenever they observe an overdue lot. That makes "biddable" a pure
// function of (status, endDate, now) and removes any race between expiry and
// a bid committed a millisecond before it.
type Lifecycle struct {
	db           database.Service
	publishGrace time.Duration
	now          func() time.Time
}

// NewLifecycle builds a Lifecycle. A nil now defaults to time.Now; tests
// inject their own clock.
func NewLifecycle(db database.Service, publishGrace time.Duration, now func() time.Time) *Lifecycle {
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{db: db, publishGrace: publishGrace, now: now}
}

// IsBiddable is the single authoritative "is bidding open" check. The stored
// status alone is never trusted: endDate is re-evaluated against the clock on
// every call.
func (l *Lifecycle) IsBiddable(lot types.Lot) bool {
	return lot.Status == types.StatusActive && l.now().Before(lot.EndDate)
}

// Derive returns the lot with its status reconciled against the clock. An
// active lot past its end date becomes sold (when bids exist, winner = the
// leading bidder) or expired. Both terminal writes are conditional on the
// ledger state inside the write itself, never on the possibly stale row the
// caller read: a bid that committed after that read either blocks the expiry
// or becomes the recorded winner. Losing a write race just means another
// reader already derived the lot.
func (l *Lifecycle) Derive(ctx context.Context, lot types.Lot) (types.Lot, error) {
	if lot.Status != types.StatusActive || l.now().Before(lot.EndDate) {
		return lot, nil
	}

	if lot.BidsCount == 0 {
		updated, err := l.db.ExpireLotIfNoBids(ctx, lot.ID)
		if err != nil {
			return types.Lot{}, err
		}
		if updated {
			lot.Status = types.StatusExpired
			return lot, nil
		}
		// Refused: a bid landed after this row was read, or another reader
		// already finalized the lot. Decide again from the fresh row.
		lot, err = l.db.GetLotByID(ctx, lot.ID)
		if err != nil {
			return types.Lot{}, err
		}
		if lot.Status != types.StatusActive {
			return lot, nil
		}
	}

	sold, updated, err := l.db.SellLotToLeader(ctx, lot.ID)
	if err != nil {
		return types.Lot{}, err
	}
	if !updated {
		return l.db.GetLotByID(ctx, lot.ID)
	}
	log.Debugf("Lot %s sold at %s", sold.ID, sold.CurrentPrice.String())
	return sold, nil
}

// Publish moves a draft lot to active. Only the owner or an admin may
// publish, and the schedule must satisfy endDate > startDate > now (minus a
// configurable grace for clock skew).
func (l *Lifecycle) Publish(ctx context.Context, lotID string, actor types.Identity) (types.Lot, error) {
	lot, err := l.db.GetLotByID(ctx, lotID)
	if err != nil {
		return types.Lot{}, err
	}
	if lot.OwnerID != actor.UserID && actor.Role != types.RoleAdmin {
		return types.Lot{}, errors.New(errors.ErrForbiddenRole, "only the lot owner may publish it")
	}
	if lot.Status != types.StatusDraft {
		return types.Lot{}, errors.New(errors.ErrInvalidSchedule, "only draft lots can be published")
	}
	now := l.now()
	if !lot.EndDate.After(lot.StartDate) || lot.StartDate.Before(now.Add(-l.publishGrace)) {
		return types.Lot{}, errors.New(errors.ErrInvalidSchedule, "auction schedule must satisfy endDate > startDate > now")
	}

	updated, err := l.db.UpdateLotStatus(ctx, lotID, types.StatusDraft, types.StatusActive)
	if err != nil {
		return types.Lot{}, err
	}
	if !updated {
		return types.Lot{}, errors.New(errors.ErrInvalidSchedule, "lot is no longer a draft")
	}
	lot.Status = types.StatusActive
	return lot, nil
}

// Cancel withdraws a lot before any bid exists. Cancelling a lot that
// already has bids is a separate guarded operation and is rejected here.
func (l *Lifecycle) Cancel(ctx context.Context, lotID string, actor types.Identity) error {
	lot, err := l.db.GetLotByID(ctx, lotID)
	if err != nil {
		return err
	}
	if lot.OwnerID != actor.UserID && actor.Role != types.RoleAdmin {
		return errors.New(errors.ErrForbiddenRole, "only the lot owner may cancel it")
	}
	if lot.BidsCount > 0 {
		return errors.New(errors.ErrLotNotCancellable, "lots with bids cannot be cancelled")
	}
	if lot.Status != types.StatusDraft && lot.Status != types.StatusActive {
		return errors.New(errors.ErrLotNotCancellable, "lot is already finalized")
	}

	// The store re-checks the empty-ledger condition atomically; a bid
	// admitted between the read above and this write makes it a no-op.
	updated, err := l.db.CancelLotIfNoBids(ctx, lotID, lot.Status)
	if err != nil {
		return err
	}
	if !updated {
		return errors.New(errors.ErrLotNotCancellable, "lot state changed, refresh and retry")
	}
	return nil
}
