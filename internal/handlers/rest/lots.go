package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Martin-Hayot/bidding-engine/internal/auction"
	apperrors "github.com/Martin-Hayot/bidding-engine/pkg/errors"
	"github.com/Martin-Hayot/bidding-engine/pkg/types"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type createLotRequest struct {
	Title         string          `json:"title"`
	Currency      string          `json:"currency"`
	StartingPrice decimal.Decimal `json:"startingPrice"`
	StartDate     time.Time       `json:"startDate"`
	EndDate       time.Time       `json:"endDate"`
}

// CreateLot registers a new draft lot owned by the caller. Bidding opens
// only after an explicit publish.
func (h *Handler) CreateLot(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())

	var req createLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondAppError(w, apperrors.New(apperrors.ErrBadRequest, "invalid request body"))
		return
	}
	if req.Currency == "" || !req.StartingPrice.IsPositive() {
		respondAppError(w, apperrors.New(apperrors.ErrBadRequest, "currency and a positive starting price are required"))
		return
	}
	if !req.EndDate.After(req.StartDate) {
		respondAppError(w, apperrors.New(apperrors.ErrInvalidSchedule, "auction schedule must satisfy endDate > startDate"))
		return
	}

	lot, err := h.db.CreateLot(r.Context(), types.Lot{
		OwnerID:       identity.UserID,
		Title:         req.Title,
		Currency:      req.Currency,
		StartingPrice: req.StartingPrice,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Status:        types.StatusDraft,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, lot)
}

func (h *Handler) PublishLot(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	lotID := mux.Vars(r)["id"]

	lot, err := h.lifecycle.Publish(r.Context(), lotID, identity)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, lot)
}

func (h *Handler) CancelLot(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	lotID := mux.Vars(r)["id"]

	if err := h.lifecycle.Cancel(r.Context(), lotID, identity); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(types.StatusCancelled)})
}

type placeBidRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Message  string          `json:"message,omitempty"`
}

// PlaceBid handles bid placement requests. Idempotency is not guaranteed at
// the wire level; callers suppress duplicates client-side and, after a
// timeout, re-fetch the snapshot instead of blindly resubmitting.
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	lotID := mux.Vars(r)["id"]

	if !h.limiter(identity.UserID).Allow() {
		respondAppError(w, apperrors.New(apperrors.ErrRateLimited, "too many bids, slow down"))
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondAppError(w, apperrors.New(apperrors.ErrBadRequest, "invalid request body"))
		return
	}
	if !req.Amount.IsPositive() {
		respondAppError(w, apperrors.New(apperrors.ErrBadRequest, "bid amount must be positive"))
		return
	}

	bid, err := h.admission.PlaceBid(r.Context(), auction.PlaceBidRequest{
		LotID:    lotID,
		BidderID: identity.UserID,
		Role:     identity.Role,
		Amount:   req.Amount,
		Currency: req.Currency,
		Message:  req.Message,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, bid)
}

// GetLotSnapshot is the single-lot poll target used by the detail view.
func (h *Handler) GetLotSnapshot(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	lotID := mux.Vars(r)["id"]

	snapshot, err := h.feed.GetLotSnapshot(r.Context(), lotID, identity.UserID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

// GetBidHistory returns bids strictly after the "since" sequence cursor so
// pollers only transfer new entries each cycle.
func (h *Handler) GetBidHistory(w http.ResponseWriter, r *http.Request) {
	lotID := mux.Vars(r)["id"]

	var sinceSeq int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondAppError(w, apperrors.New(apperrors.ErrBadRequest, "since must be an integer sequence"))
			return
		}
		sinceSeq = parsed
	}

	bids, err := h.feed.GetBidHistory(r.Context(), lotID, sinceSeq)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"lotId": lotID,
		"bids":  bids,
	})
}

type watchlistRequest struct {
	LotIDs []string `json:"lotIds"`
}

// GetWatchlistSnapshot is the batched poll target for list views: one round
// trip regardless of how many lots are being watched.
func (h *Handler) GetWatchlistSnapshot(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())

	var req watchlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondAppError(w, apperrors.New(apperrors.ErrBadRequest, "invalid request body"))
		return
	}
	if len(req.LotIDs) == 0 {
		respondJSON(w, http.StatusOK, map[string]types.LotSnapshot{})
		return
	}

	snapshots, err := h.feed.GetWatchlistSnapshot(r.Context(), identity.UserID, req.LotIDs)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshots)
}
