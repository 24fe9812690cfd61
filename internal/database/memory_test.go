package database

import (
	"context"
	"testing"
	"time"

	"github.com/Martin-Hayot/bidding-engine/pkg/errors"
	"github.com/Martin-Hayot/bidding-engine/pkg/types"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func seedLot(t *testing.T, db Service, status types.LotStatus, startingPrice int64) types.Lot {
	t.Helper()
	lot, err := db.CreateLot(context.Background(), types.Lot{
		OwnerID:       "owner-1",
		Currency:      "EUR",
		StartingPrice: decimal.NewFromInt(startingPrice),
		StartDate:     time.Now().Add(-time.Minute),
		EndDate:       time.Now().Add(time.Hour),
		Status:        status,
	})
	assert.Nil(t, err)
	return lot
}

func TestCreateLot_InitialState(t *testing.T) {
	db := NewMemory()
	lot := seedLot(t, db, types.StatusDraft, 300)

	check.True(t, lot.ID != "")
	check.True(t, lot.CurrentPrice.Equal(lot.StartingPrice))
	check.Equal(t, 0, lot.BidsCount)
	check.False(t, lot.CreatedAt.IsZero())
}

func TestGetLotByID_NotFound(t *testing.T) {
	db := NewMemory()
	_, err := db.GetLotByID(context.Background(), "missing")
	check.Equal(t, errors.ErrLotNotFound, errors.Code(err))
}

func TestRaiseLotPrice_HigherBidWins(t *testing.T) {
	db := NewMemory()
	lot := seedLot(t, db, types.StatusActive, 100)
	ctx := context.Background()

	outcome, err := db.RaiseLotPrice(ctx, lot.ID, types.Bid{
		BidderID: "user-2",
		Amount:   decimal.NewFromInt(150),
		Currency: "EUR",
	})
	assert.Nil(t, err)
	check.True(t, outcome.Raised)
	check.True(t, outcome.CurrentPrice.Equal(decimal.NewFromInt(150)))
	check.True(t, outcome.Bid.Sequence > 0)

	updated, err := db.GetLotByID(ctx, lot.ID)
	assert.Nil(t, err)
	check.True(t, updated.CurrentPrice.Equal(decimal.NewFromInt(150)))
	check.Equal(t, 1, updated.BidsCount)
	assert.True(t, updated.CurrentBidderID != nil)
	check.Equal(t, "user-2", *updated.CurrentBidderID)
}

func TestRaiseLotPrice_EqualOrLowerLoses(t *testing.T) {
	db := NewMemory()
	lot := seedLot(t, db, types.StatusActive, 100)
	ctx := context.Background()

	for _, amount := range []int64{100, 99} {
		outcome, err := db.RaiseLotPrice(ctx, lot.ID, types.Bid{
			BidderID: "user-2",
			Amount:   decimal.NewFromInt(amount),
		})
		assert.Nil(t, err)
		check.False(t, outcome.Raised)
		// The fresh price comes back so the caller can report it.
		check.True(t, outcome.CurrentPrice.Equal(decimal.NewFromInt(100)))
	}

	updated, err := db.GetLotByID(ctx, lot.ID)
	assert.Nil(t, err)
	check.Equal(t, 0, updated.BidsCount)
}

func TestRaiseLotPrice_InactiveLotLoses(t *testing.T) {
	db := NewMemory()
	for _, status := range []types.LotStatus{types.StatusDraft, types.StatusSold, types.StatusExpired, types.StatusCancelled} {
		lot := seedLot(t, db, status, 100)
		outcome, err := db.RaiseLotPrice(context.Background(), lot.ID, types.Bid{
			BidderID: "user-2",
			Amount:   decimal.NewFromInt(500),
		})
		assert.Nil(t, err)
		check.False(t, outcome.Raised)
	}
}

func TestRaiseLotPrice_SequencesAreMonotonic(t *testing.T) {
	db := NewMemory()
	lot := seedLot(t, db, types.StatusActive, 100)
	ctx := context.Background()

	var prev int64
	for _, amount := range []int64{110, 120, 130} {
		outcome, err := db.RaiseLotPrice(ctx, lot.ID, types.Bid{
			BidderID: "user-2",
			Amount:   decimal.NewFromInt(amount),
		})
		assert.Nil(t, err)
		assert.True(t, outcome.Raised)
		check.True(t, outcome.Bid.Sequence > prev)
		prev = outcome.Bid.Sequence
	}
}

func TestUpdateLotStatus_ConditionalOnFrom(t *testing.T) {
	db := NewMemory()
	lot := seedLot(t, db, types.StatusDraft, 100)
	ctx := context.Background()

	moved, err := db.UpdateLotStatus(ctx, lot.ID, types.StatusDraft, types.StatusActive)
	assert.Nil(t, err)
	check.True(t, moved)

	// Losing the race: the stored status no longer matches "from".
	moved, err = db.UpdateLotStatus(ctx, lot.ID, types.StatusDraft, types.StatusCancelled)
	assert.Nil(t, err)
	check.False(t, moved)

	updated, err := db.GetLotByID(ctx, lot.ID)
	assert.Nil(t, err)
	check.Equal(t, types.StatusActive, updated.Status)
}

func TestExpireLotIfNoBids(t *testing.T) {
	db := NewMemory()
	ctx := context.Background()

	clean := seedLot(t, db, types.StatusActive, 100)
	expired, err := db.ExpireLotIfNoBids(ctx, clean.ID)
	assert.Nil(t, err)
	check.True(t, expired)

	// The empty-ledger condition is re-checked inside the write: a lot that
	// picked up a bid after the caller's read refuses to expire.
	contested := seedLot(t, db, types.StatusActive, 100)
	_, err = db.RaiseLotPrice(ctx, contested.ID, types.Bid{BidderID: "user-2", Amount: decimal.NewFromInt(150)})
	assert.Nil(t, err)
	expired, err = db.ExpireLotIfNoBids(ctx, contested.ID)
	assert.Nil(t, err)
	check.False(t, expired)

	stored, err := db.GetLotByID(ctx, contested.ID)
	assert.Nil(t, err)
	check.Equal(t, types.StatusActive, stored.Status)
}

func TestSellLotToLeader(t *testing.T) {
	db := NewMemory()
	ctx := context.Background()

	// No bids: nothing to sell.
	empty := seedLot(t, db, types.StatusActive, 100)
	_, sold, err := db.SellLotToLeader(ctx, empty.ID)
	assert.Nil(t, err)
	check.False(t, sold)

	lot := seedLot(t, db, types.StatusActive, 100)
	for _, s := range []struct {
		bidder string
		amount int64
	}{{"user-2", 150}, {"user-3", 200}} {
		_, err := db.RaiseLotPrice(ctx, lot.ID, types.Bid{BidderID: s.bidder, Amount: decimal.NewFromInt(s.amount)})
		assert.Nil(t, err)
	}

	finalized, sold, err := db.SellLotToLeader(ctx, lot.ID)
	assert.Nil(t, err)
	assert.True(t, sold)
	check.Equal(t, types.StatusSold, finalized.Status)
	assert.True(t, finalized.WinnerID != nil)
	check.Equal(t, "user-3", *finalized.WinnerID)
	check.True(t, finalized.CurrentPrice.Equal(decimal.NewFromInt(200)))

	// Already finalized: a second sale attempt is a no-op.
	_, sold, err = db.SellLotToLeader(ctx, lot.ID)
	assert.Nil(t, err)
	check.False(t, sold)
}

func TestCancelLotIfNoBids(t *testing.T) {
	db := NewMemory()
	ctx := context.Background()

	clean := seedLot(t, db, types.StatusActive, 100)
	cancelled, err := db.CancelLotIfNoBids(ctx, clean.ID, types.StatusActive)
	assert.Nil(t, err)
	check.True(t, cancelled)

	// A lot with an admitted bid refuses cancellation atomically.
	contested := seedLot(t, db, types.StatusActive, 100)
	_, err = db.RaiseLotPrice(ctx, contested.ID, types.Bid{BidderID: "user-2", Amount: decimal.NewFromInt(150)})
	assert.Nil(t, err)
	cancelled, err = db.CancelLotIfNoBids(ctx, contested.ID, types.StatusActive)
	assert.Nil(t, err)
	check.False(t, cancelled)
}

func TestGetBidsSince(t *testing.T) {
	db := NewMemory()
	lot := seedLot(t, db, types.StatusActive, 100)
	ctx := context.Background()

	var seqs []int64
	for _, amount := range []int64{110, 120, 130, 140} {
		outcome, err := db.RaiseLotPrice(ctx, lot.ID, types.Bid{BidderID: "user-2", Amount: decimal.NewFromInt(amount)})
		assert.Nil(t, err)
		seqs = append(seqs, outcome.Bid.Sequence)
	}

	all, err := db.GetBidsSince(ctx, lot.ID, 0, 0)
	assert.Nil(t, err)
	assert.Equal(t, 4, len(all))

	after, err := db.GetBidsSince(ctx, lot.ID, seqs[1], 0)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(after))
	check.Equal(t, seqs[2], after[0].Sequence)
	check.Equal(t, seqs[3], after[1].Sequence)

	limited, err := db.GetBidsSince(ctx, lot.ID, 0, 2)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(limited))
	check.Equal(t, seqs[0], limited[0].Sequence)
}

func TestGetLatestBidByUser(t *testing.T) {
	db := NewMemory()
	lot := seedLot(t, db, types.StatusActive, 100)
	ctx := context.Background()

	steps := []struct {
		bidder string
		amount int64
	}{
		{"user-2", 110},
		{"user-3", 120},
		{"user-2", 130},
	}
	for _, s := range steps {
		_, err := db.RaiseLotPrice(ctx, lot.ID, types.Bid{BidderID: s.bidder, Amount: decimal.NewFromInt(s.amount)})
		assert.Nil(t, err)
	}

	latest, err := db.GetLatestBidByUser(ctx, lot.ID, "user-2")
	assert.Nil(t, err)
	assert.True(t, latest != nil)
	check.True(t, latest.Amount.Equal(decimal.NewFromInt(130)))

	none, err := db.GetLatestBidByUser(ctx, lot.ID, "user-9")
	assert.Nil(t, err)
	check.Equal(t, (*types.Bid)(nil), none)
}
