package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Martin-Hayot/bidding-engine/internal/auction"
	"github.com/Martin-Hayot/bidding-engine/internal/database"
	"github.com/Martin-Hayot/bidding-engine/pkg/errors"
	"github.com/Martin-Hayot/bidding-engine/pkg/types"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

type fixture struct {
	db        database.Service
	lifecycle *auction.Lifecycle
	admission *auction.Admission
	feed      *Feed

	mu  sync.Mutex
	now time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newFixture(t *testing.T, cache SnapshotCache) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.db = database.NewMemoryWithClock(f.clock)
	f.lifecycle = auction.NewLifecycle(f.db, time.Minute, f.clock)
	f.admission = auction.NewAdmission(f.db, f.lifecycle, nil, nil, nil, auction.AdmissionConfig{})
	f.feed = New(f.db, f.lifecycle, cache, f.clock)
	return f
}

func (f *fixture) newLot(t *testing.T, owner string, startingPrice int64, open time.Duration) types.Lot {
	t.Helper()
	lot, err := f.db.CreateLot(context.Background(), types.Lot{
		OwnerID:       owner,
		Currency:      "EUR",
		StartingPrice: decimal.NewFromInt(startingPrice),
		StartDate:     f.clock().Add(-time.Minute),
		EndDate:       f.clock().Add(open),
		Status:        types.StatusActive,
	})
	assert.Nil(t, err)
	return lot
}

func (f *fixture) placeBid(t *testing.T, lot types.Lot, bidder string, amount int64) types.Bid {
	t.Helper()
	bid, err := f.admission.PlaceBid(context.Background(), auction.PlaceBidRequest{
		LotID:    lot.ID,
		BidderID: bidder,
		Role:     types.RoleInvestor,
		Amount:   decimal.NewFromInt(amount),
		Currency: lot.Currency,
	})
	assert.Nil(t, err)
	return bid
}

func TestGetLotSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	lot := f.newLot(t, "owner-1", 100, time.Hour)
	f.placeBid(t, lot, "user-2", 150)
	ctx := context.Background()

	snapshot, err := f.feed.GetLotSnapshot(ctx, lot.ID, "")
	assert.Nil(t, err)
	check.Equal(t, lot.ID, snapshot.LotID)
	check.True(t, snapshot.CurrentPrice.Equal(decimal.NewFromInt(150)))
	check.Equal(t, types.StatusActive, snapshot.Status)
	check.Equal(t, 1, snapshot.BidsCount)
	check.Equal(t, time.Hour, snapshot.TimeRemaining)
	check.Equal(t, (*types.CallerBid)(nil), snapshot.CallerBid)
}

func TestGetLotSnapshot_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.feed.GetLotSnapshot(context.Background(), "missing", "user-1")
	check.Equal(t, errors.ErrLotNotFound, errors.Code(err))
}

func TestGetLotSnapshot_CallerBidProjection(t *testing.T) {
	f := newFixture(t, nil)
	lot := f.newLot(t, "owner-1", 100, time.Hour)
	f.placeBid(t, lot, "user-2", 150)
	f.placeBid(t, lot, "user-3", 200)
	ctx := context.Background()

	// user-3 leads: their bid amount matches the snapshot's own price.
	snapshot, err := f.feed.GetLotSnapshot(ctx, lot.ID, "user-3")
	assert.Nil(t, err)
	assert.True(t, snapshot.CallerBid != nil)
	check.True(t, snapshot.CallerBid.IsWinning)
	check.True(t, snapshot.CallerBid.Amount.Equal(snapshot.CurrentPrice))

	// user-2 was outbid.
	snapshot, err = f.feed.GetLotSnapshot(ctx, lot.ID, "user-2")
	assert.Nil(t, err)
	assert.True(t, snapshot.CallerBid != nil)
	check.False(t, snapshot.CallerBid.IsWinning)
}

func TestGetLotSnapshot_DerivesOverdueStatus(t *testing.T) {
	f := newFixture(t, nil)
	lot := f.newLot(t, "owner-1", 100, time.Hour)
	f.placeBid(t, lot, "user-2", 150)

	f.advance(2 * time.Hour)
	snapshot, err := f.feed.GetLotSnapshot(context.Background(), lot.ID, "")
	assert.Nil(t, err)
	check.Equal(t, types.StatusSold, snapshot.Status)
	check.Equal(t, time.Duration(0), snapshot.TimeRemaining)
}

func TestGetBidHistory_Cursor(t *testing.T) {
	f := newFixture(t, nil)
	lot := f.newLot(t, "owner-1", 100, time.Hour)
	first := f.placeBid(t, lot, "user-2", 150)
	second := f.placeBid(t, lot, "user-3", 200)
	ctx := context.Background()

	all, err := f.feed.GetBidHistory(ctx, lot.ID, 0)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(all))
	check.Equal(t, first.ID, all[0].ID)
	check.Equal(t, second.ID, all[1].ID)

	// Polling from the last seen sequence only returns newer bids.
	incremental, err := f.feed.GetBidHistory(ctx, lot.ID, first.Sequence)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(incremental))
	check.Equal(t, second.ID, incremental[0].ID)

	tail, err := f.feed.GetBidHistory(ctx, lot.ID, second.Sequence)
	assert.Nil(t, err)
	check.Equal(t, 0, len(tail))
}

func TestGetBidHistory_UnknownLot(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.feed.GetBidHistory(context.Background(), "missing", 0)
	check.Equal(t, errors.ErrLotNotFound, errors.Code(err))
}

func TestGetWatchlistSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	first := f.newLot(t, "owner-1", 100, time.Hour)
	second := f.newLot(t, "owner-2", 500, 30*time.Minute)
	f.placeBid(t, first, "user-3", 150)
	ctx := context.Background()

	snapshots, err := f.feed.GetWatchlistSnapshot(ctx, "user-3", []string{first.ID, second.ID, "missing"})
	assert.Nil(t, err)
	assert.Equal(t, 2, len(snapshots))
	check.True(t, snapshots[first.ID].CurrentPrice.Equal(decimal.NewFromInt(150)))
	check.True(t, snapshots[second.ID].CurrentPrice.Equal(decimal.NewFromInt(500)))
}

func TestSnapshotConsistency(t *testing.T) {
	// The snapshot price must equal the newest bid visible in the same
	// snapshot's implied history.
	f := newFixture(t, nil)
	lot := f.newLot(t, "owner-1", 100, time.Hour)
	f.placeBid(t, lot, "user-2", 150)
	f.placeBid(t, lot, "user-3", 220)
	ctx := context.Background()

	snapshot, err := f.feed.GetLotSnapshot(ctx, lot.ID, "")
	assert.Nil(t, err)
	history, err := f.feed.GetBidHistory(ctx, lot.ID, 0)
	assert.Nil(t, err)
	assert.Equal(t, snapshot.BidsCount, len(history))
	check.True(t, snapshot.CurrentPrice.Equal(history[len(history)-1].Amount))
}

// mapCache is an in-process SnapshotCache for exercising the cache path.
type mapCache struct {
	mu      sync.Mutex
	entries map[string]types.LotSnapshot
	hits    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]types.LotSnapshot)}
}

func (c *mapCache) Get(ctx context.Context, lotID, callerID string) *types.LotSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snapshot, ok := c.entries[lotID+"/"+callerID]; ok {
		c.hits++
		return &snapshot
	}
	return nil
}

func (c *mapCache) Put(ctx context.Context, callerID string, snapshot types.LotSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[snapshot.LotID+"/"+callerID] = snapshot
}

func TestGetLotSnapshot_UsesCache(t *testing.T) {
	cache := newMapCache()
	f := newFixture(t, cache)
	lot := f.newLot(t, "owner-1", 100, time.Hour)
	ctx := context.Background()

	first, err := f.feed.GetLotSnapshot(ctx, lot.ID, "user-2")
	assert.Nil(t, err)
	second, err := f.feed.GetLotSnapshot(ctx, lot.ID, "user-2")
	assert.Nil(t, err)

	check.Equal(t, 1, cache.hits)
	check.Equal(t, first, second)
}
