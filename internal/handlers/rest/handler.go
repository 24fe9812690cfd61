// Package rest exposes the bidding engine over plain HTTP. All read
// endpoints are poll targets: cheap point lookups that clients may call at
// arbitrary frequency. State changes flow only through the write endpoints.
package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Martin-Hayot/bidding-engine/internal/auction"
	"github.com/Martin-Hayot/bidding-engine/internal/database"
	"github.com/Martin-Hayot/bidding-engine/internal/feed"
	apperrors "github.com/Martin-Hayot/bidding-engine/pkg/errors"
	"github.com/Martin-Hayot/bidding-engine/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// Authenticator resolves the caller identity from a request.
type Authenticator func(r *http.Request) (types.Identity, error)

type Handler struct {
	db           database.Service
	admission    *auction.Admission
	lifecycle    *auction.Lifecycle
	feed         *feed.Feed
	authenticate Authenticator

	limiters sync.Map // userID -> *rate.Limiter
}

func New(db database.Service, admission *auction.Admission, lifecycle *auction.Lifecycle, f *feed.Feed, authenticate Authenticator) *Handler {
	return &Handler{
		db:           db,
		admission:    admission,
		lifecycle:    lifecycle,
		feed:         f,
		authenticate: authenticate,
	}
}

// Routes configures all HTTP routes.
func (h *Handler) Routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(h.authMiddleware)

	api.HandleFunc("/lots", h.CreateLot).Methods("POST")
	api.HandleFunc("/lots/{id}/publish", h.PublishLot).Methods("POST")
	api.HandleFunc("/lots/{id}/cancel", h.CancelLot).Methods("POST")
	api.HandleFunc("/lots/{id}/bids", h.PlaceBid).Methods("POST")

	api.HandleFunc("/lots/{id}/snapshot", h.GetLotSnapshot).Methods("GET")
	api.HandleFunc("/lots/{id}/bids", h.GetBidHistory).Methods("GET")
	api.HandleFunc("/watchlist/snapshot", h.GetWatchlistSnapshot).Methods("POST")

	return router
}

// HealthCheck returns service health status, including store statistics.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.db.Health())
}

type contextKey string

const identityKey contextKey = "identity"

func identityFromContext(ctx context.Context) types.Identity {
	identity, _ := ctx.Value(identityKey).(types.Identity)
	return identity
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := h.authenticate(r)
		if err != nil {
			respondAppError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

// limiter returns the per-user write limiter, one token per second with a
// small burst. Read endpoints are unthrottled; only bid placement pays the
// token.
func (h *Handler) limiter(userID string) *rate.Limiter {
	if l, ok := h.limiters.Load(userID); ok {
		return l.(*rate.Limiter)
	}
	l, _ := h.limiters.LoadOrStore(userID, rate.NewLimiter(1, 3))
	return l.(*rate.Limiter)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debugf("%s %s (%s)", r.Method, r.RequestURI, time.Since(start))
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondAppError maps a typed admission/lifecycle error to its HTTP status
// and serializes it with its payload (e.g. currentPrice on a too-low bid).
func respondAppError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		log.Error("Unhandled error: ", err)
		appErr = apperrors.New(apperrors.ErrInternalServer, "internal server error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.HTTPStatus(appErr.Code))
	w.Write(appErr.ToJSON())
}
