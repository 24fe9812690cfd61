package database

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/Martin-Hayot/bidding-engine/pkg/errors"
	"github.com/Martin-Hayot/bidding-engine/pkg/types"
	"github.com/google/uuid"
)

// memoryService is an in-process Service with the same conditional-update
// semantics as the postgres implementation. It backs the test suite and the
// -store=memory development mode. A single mutex stands in for the row-level
// atomicity the database provides.
type memoryService struct {
	mu      sync.Mutex
	lots    map[string]types.Lot
	bids    map[string][]types.Bid
	nextSeq int64
	now     func() time.Time
}

// NewMemory returns an empty in-memory Service.
func NewMemory() Service {
	return &memoryService{
		lots: make(map[string]types.Lot),
		bids: make(map[string][]types.Bid),
		now:  time.Now,
	}
}

// NewMemoryWithClock returns an in-memory Service whose commit timestamps
// come from the given clock.
func NewMemoryWithClock(now func() time.Time) Service {
	return &memoryService{
		lots: make(map[string]types.Lot),
		bids: make(map[string][]types.Bid),
		now:  now,
	}
}

func (m *memoryService) Health() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]string{
		"status":  "up",
		"message": "It's healthy",
		"lots":    strconv.Itoa(len(m.lots)),
	}
}

func (m *memoryService) Close() error { return nil }

func (m *memoryService) InitSchema(ctx context.Context) error { return nil }

func (m *memoryService) CreateLot(ctx context.Context, lot types.Lot) (types.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	lot.CurrentPrice = lot.StartingPrice
	lot.BidsCount = 0
	lot.CreatedAt = m.now()
	lot.UpdatedAt = lot.CreatedAt
	m.lots[lot.ID] = lot
	return lot, nil
}

func (m *memoryService) GetLotByID(ctx context.Context, lotID string) (types.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lot, ok := m.lots[lotID]
	if !ok {
		return types.Lot{}, apperrors.New(apperrors.ErrLotNotFound, "lot not found")
	}
	return lot, nil
}

func (m *memoryService) GetLotsByIDs(ctx context.Context, lotIDs []string) ([]types.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lots []types.Lot
	for _, id := range lotIDs {
		if lot, ok := m.lots[id]; ok {
			lots = append(lots, lot)
		}
	}
	return lots, nil
}

func (m *memoryService) RaiseLotPrice(ctx context.Context, lotID string, bid types.Bid) (RaiseOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lot, ok := m.lots[lotID]
	if !ok {
		return RaiseOutcome{}, apperrors.New(apperrors.ErrLotNotFound, "lot not found")
	}

	// Same condition as the SQL WHERE clause.
	if lot.Status != types.StatusActive || lot.CurrentPrice.GreaterThanOrEqual(bid.Amount) {
		return RaiseOutcome{Raised: false, CurrentPrice: lot.CurrentPrice}, nil
	}

	m.nextSeq++
	if bid.ID == "" {
		bid.ID = uuid.New().String()
	}
	bid.LotID = lotID
	bid.Sequence = m.nextSeq
	bid.CreatedAt = m.now()
	m.bids[lotID] = append(m.bids[lotID], bid)

	bidder := bid.BidderID
	lot.CurrentPrice = bid.Amount
	lot.CurrentBidderID = &bidder
	lot.BidsCount++
	lot.UpdatedAt = bid.CreatedAt
	m.lots[lotID] = lot

	return RaiseOutcome{Raised: true, CurrentPrice: bid.Amount, Bid: bid}, nil
}

func (m *memoryService) UpdateLotStatus(ctx context.Context, lotID string, from, to types.LotStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lot, ok := m.lots[lotID]
	if !ok {
		return false, apperrors.New(apperrors.ErrLotNotFound, "lot not found")
	}
	if lot.Status != from {
		return false, nil
	}
	lot.Status = to
	lot.UpdatedAt = m.now()
	m.lots[lotID] = lot
	return true, nil
}

func (m *memoryService) ExpireLotIfNoBids(ctx context.Context, lotID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lot, ok := m.lots[lotID]
	if !ok {
		return false, apperrors.New(apperrors.ErrLotNotFound, "lot not found")
	}
	if lot.Status != types.StatusActive || lot.BidsCount != 0 {
		return false, nil
	}
	lot.Status = types.StatusExpired
	lot.UpdatedAt = m.now()
	m.lots[lotID] = lot
	return true, nil
}

func (m *memoryService) SellLotToLeader(ctx context.Context, lotID string) (types.Lot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lot, ok := m.lots[lotID]
	if !ok {
		return types.Lot{}, false, apperrors.New(apperrors.ErrLotNotFound, "lot not found")
	}
	if lot.Status != types.StatusActive || lot.BidsCount == 0 {
		return types.Lot{}, false, nil
	}
	lot.Status = types.StatusSold
	lot.WinnerID = lot.CurrentBidderID
	lot.UpdatedAt = m.now()
	m.lots[lotID] = lot
	return lot, true, nil
}

func (m *memoryService) CancelLotIfNoBids(ctx context.Context, lotID string, from types.LotStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lot, ok := m.lots[lotID]
	if !ok {
		return false, apperrors.New(apperrors.ErrLotNotFound, "lot not found")
	}
	if lot.Status != from || lot.BidsCount != 0 {
		return false, nil
	}
	lot.Status = types.StatusCancelled
	lot.UpdatedAt = m.now()
	m.lots[lotID] = lot
	return true, nil
}

func (m *memoryService) GetBidsSince(ctx context.Context, lotID string, sinceSeq int64, limit int) ([]types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ledger := m.bids[lotID]
	idx := sort.Search(len(ledger), func(i int) bool {
		return ledger[i].Sequence > sinceSeq
	})

	var bids []types.Bid
	for _, bid := range ledger[idx:] {
		if limit > 0 && len(bids) >= limit {
			break
		}
		bids = append(bids, bid)
	}
	return bids, nil
}

func (m *memoryService) GetLatestBidByUser(ctx context.Context, lotID, userID string) (*types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ledger := m.bids[lotID]
	for i := len(ledger) - 1; i >= 0; i-- {
		if ledger[i].BidderID == userID {
			bid := ledger[i]
			return &bid, nil
		}
	}
	return nil, nil
}
