package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

type AppError struct {
	Code    int    // Application error code
	Message string // User-facing message
	Err     error  // Underlying error (optional)

	// CurrentPrice carries the lot's latest price on ErrBidTooLow and
	// ErrConcurrentConflictExhausted so clients can re-prompt with a
	// corrected minimum instead of a generic failure.
	CurrentPrice decimal.Decimal
}

const (
	ErrInvalidToken                = 1001
	ErrLotNotFound                 = 1002
	ErrBidTooLow                   = 1003
	ErrAuctionClosed               = 1004
	ErrForbiddenRole               = 1005
	ErrSelfBid                     = 1006
	ErrBidImplausible              = 1007
	ErrTimeout                     = 1008
	ErrConcurrentConflictExhausted = 1009
	ErrLotNotCancellable           = 1010
	ErrInvalidSchedule             = 1011
	ErrRateLimited                 = 1012
	ErrBadRequest                  = 1013

	ErrInternalServer = 500
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Wrapping utility
func Wrap(err error, message string) *AppError {
	return &AppError{Message: message, Err: err}
}

// Error creation utility
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// BidTooLow builds an ErrBidTooLow carrying the price the bid lost to.
func BidTooLow(current decimal.Decimal) *AppError {
	return &AppError{
		Code:         ErrBidTooLow,
		Message:      fmt.Sprintf("bid must be strictly greater than the current price of %s", current.String()),
		CurrentPrice: current,
	}
}

// ConflictExhausted builds an ErrConcurrentConflictExhausted after the
// compare-and-raise retry budget runs out. Distinct from ErrBidTooLow so the
// client knows to re-fetch the snapshot before retrying.
func ConflictExhausted(current decimal.Decimal) *AppError {
	return &AppError{
		Code:         ErrConcurrentConflictExhausted,
		Message:      fmt.Sprintf("lot is receiving concurrent bids, current price is %s; refresh before retrying", current.String()),
		CurrentPrice: current,
	}
}

// Code extracts the application error code from err, or ErrInternalServer
// when err is not an AppError.
func Code(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternalServer
}

// As unwraps err into an *AppError when possible.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

func (e *AppError) ToJSON() []byte {
	payload := struct {
		Code         int    `json:"code"`
		Message      string `json:"message"`
		CurrentPrice string `json:"currentPrice,omitempty"`
	}{Code: e.Code, Message: e.Message}
	if !e.CurrentPrice.IsZero() {
		payload.CurrentPrice = e.CurrentPrice.String()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return []byte(`{"code":500,"message":"internal server error"}`)
	}
	return data
}

// HTTPStatus maps an application error code to an HTTP status for the REST
// handlers.
func HTTPStatus(code int) int {
	switch code {
	case ErrInvalidToken:
		return http.StatusUnauthorized
	case ErrForbiddenRole, ErrSelfBid:
		return http.StatusForbidden
	case ErrLotNotFound:
		return http.StatusNotFound
	case ErrAuctionClosed, ErrLotNotCancellable, ErrInvalidSchedule:
		return http.StatusConflict
	case ErrBidTooLow, ErrConcurrentConflictExhausted:
		return http.StatusConflict
	case ErrBidImplausible:
		return http.StatusUnprocessableEntity
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
