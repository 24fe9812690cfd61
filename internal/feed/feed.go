// Package feed is the read path polled by clients: single-lot snapshots,
// incremental bid history and batched watchlist snapshots.
package feed

import (
	"context"
	"time"

	"github.com/Martin-Hayot/bidding-engine/internal/auction"
	"github.com/Martin-Hayot/bidding-engine/internal/database"
	"github.com/Martin-Hayot/bidding-engine/pkg/types"
	"github.com/charmbracelet/log"
)

// SnapshotCache is the optional bounded-staleness cache in front of the
// single-lot path.
type SnapshotCache interface {
	Get(ctx context.Context, lotID, callerID string) *types.LotSnapshot
	Put(ctx context.Context, callerID string, snapshot types.LotSnapshot)
}

const defaultHistoryLimit = 200

type Feed struct {
	db        database.Service
	lifecycle *auction.Lifecycle
	cache     SnapshotCache
	now       func() time.Time
}

func New(db database.Service, lifecycle *auction.Lifecycle, cache SnapshotCache, now func() time.Time) *Feed {
	if now == nil {
		now = time.Now
	}
	return &Feed{db: db, lifecycle: lifecycle, cache: cache, now: now}
}

// GetLotSnapshot is the poll target for a lot detail view. The lot's status
// is lazily reconciled on every read, so an overdue lot reports sold/expired
// even if nothing has swept it yet.
func (f *Feed) GetLotSnapshot(ctx context.Context, lotID, callerID string) (types.LotSnapshot, error) {
	if f.cache != nil {
		if cached := f.cache.Get(ctx, lotID, callerID); cached != nil {
			return *cached, nil
		}
	}

	lot, err := f.db.GetLotByID(ctx, lotID)
	if err != nil {
		return types.LotSnapshot{}, err
	}
	lot, err = f.lifecycle.Derive(ctx, lot)
	if err != nil {
		return types.LotSnapshot{}, err
	}

	snapshot := f.project(lot)

	if callerID != "" {
		callerBid, err := f.db.GetLatestBidByUser(ctx, lotID, callerID)
		if err != nil {
			return types.LotSnapshot{}, err
		}
		if callerBid != nil {
			snapshot.CallerBid = &types.CallerBid{
				Amount: callerBid.Amount,
				// Winning is a pure projection over the same snapshot's
				// price, never a stored flag.
				IsWinning: callerBid.Amount.Equal(lot.CurrentPrice),
				CreatedAt: callerBid.CreatedAt,
			}
		}
	}

	if f.cache != nil {
		f.cache.Put(ctx, callerID, snapshot)
	}
	return snapshot, nil
}

// GetBidHistory returns the lot's admitted bids strictly after sinceSeq,
// oldest first. Pollers pass the last sequence they saw so each cycle only
// transfers new bids.
func (f *Feed) GetBidHistory(ctx context.Context, lotID string, sinceSeq int64) ([]types.Bid, error) {
	// Existence check keeps "unknown lot" distinct from "no new bids".
	if _, err := f.db.GetLotByID(ctx, lotID); err != nil {
		return nil, err
	}
	return f.db.GetBidsSince(ctx, lotID, sinceSeq, defaultHistoryLimit)
}

// GetWatchlistSnapshot is the batched poll target for list views: one round
// trip no matter how many lots are being watched. Lots that no longer exist
// are silently absent from the result.
func (f *Feed) GetWatchlistSnapshot(ctx context.Context, callerID string, lotIDs []string) (map[string]types.LotSnapshot, error) {
	lots, err := f.db.GetLotsByIDs(ctx, lotIDs)
	if err != nil {
		return nil, err
	}

	snapshots := make(map[string]types.LotSnapshot, len(lots))
	for _, lot := range lots {
		derived, err := f.lifecycle.Derive(ctx, lot)
		if err != nil {
			// Keep serving the rest of the watchlist; this lot's stored
			// status is still usable.
			log.Warnf("Status derivation failed for lot %s: %v", lot.ID, err)
			derived = lot
		}
		snapshots[lot.ID] = f.project(derived)
	}
	return snapshots, nil
}

func (f *Feed) project(lot types.Lot) types.LotSnapshot {
	remaining := lot.EndDate.Sub(f.now())
	if remaining < 0 {
		remaining = 0
	}
	return types.LotSnapshot{
		LotID:         lot.ID,
		CurrentPrice:  lot.CurrentPrice,
		Currency:      lot.Currency,
		Status:        lot.Status,
		BidsCount:     lot.BidsCount,
		EndDate:       lot.EndDate,
		TimeRemaining: remaining,
	}
}
