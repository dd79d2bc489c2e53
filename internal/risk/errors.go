package risk

import (
	"errors"
	"fmt"
)

var (
	ErrPositionNotFound    = errors.New("position not found")
	ErrInvalidPrice        = errors.New("entry and stop must be positive")
	ErrInvertedStop        = errors.New("stop is on the wrong side of entry")
	ErrInvalidBalance      = errors.New("account balance must be positive")
	ErrNonPositiveSize     = errors.New("computed position size is not positive")
	ErrMaxPositions        = errors.New("max open positions reached")
	ErrPortfolioRisk       = errors.New("portfolio risk limit exceeded")
	ErrDailyLossLimit      = errors.New("daily loss limit reached")
	ErrSignalAlreadyOpened = errors.New("signal already opened a position")
	ErrInvalidTakeProfits  = errors.New("take-profit levels not ordered away from entry")
	ErrSizeNotConserved    = errors.New("closed size does not match booked exits")
)

// RejectReason is the code attached to a refused position
type RejectReason string

const (
	RejectInvalidPrice    RejectReason = "INVALID_PRICE"
	RejectInvertedStop    RejectReason = "INVERTED_STOP"
	RejectInvalidBalance  RejectReason = "INVALID_BALANCE"
	RejectNonPositiveSize RejectReason = "NON_POSITIVE_SIZE"
	RejectMaxPositions    RejectReason = "MAX_POSITIONS"
	RejectPortfolioRisk   RejectReason = "PORTFOLIO_RISK"
	RejectDailyLoss       RejectReason = "DAILY_LOSS_LIMIT"
	RejectDuplicateSignal RejectReason = "DUPLICATE_SIGNAL"
	RejectInvalidTargets  RejectReason = "INVALID_TAKE_PROFITS"
)

var reasonErrors = map[RejectReason]error{
	RejectInvalidPrice:    ErrInvalidPrice,
	RejectInvertedStop:    ErrInvertedStop,
	RejectInvalidBalance:  ErrInvalidBalance,
	RejectNonPositiveSize: ErrNonPositiveSize,
	RejectMaxPositions:    ErrMaxPositions,
	RejectPortfolioRisk:   ErrPortfolioRisk,
	RejectDailyLoss:       ErrDailyLossLimit,
	RejectDuplicateSignal: ErrSignalAlreadyOpened,
	RejectInvalidTargets:  ErrInvalidTakeProfits,
}

// RejectionError reports why a position was refused. It unwraps to the
// matching sentinel so callers can use errors.Is.
type RejectionError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("position rejected: %s", e.Reason)
	}
	return fmt.Sprintf("position rejected: %s: %s", e.Reason, e.Detail)
}

// Unwrap returns the sentinel for the reason
func (e *RejectionError) Unwrap() error {
	return reasonErrors[e.Reason]
}

func rejectf(reason RejectReason, format string, args ...any) error {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// AsRejection extracts a RejectionError from err
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
