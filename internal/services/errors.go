// internal/services/errors.go
package services

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeLedgerUnavailable   ErrorCode = "LEDGER_UNAVAILABLE"
	CodePriceUnavailable    ErrorCode = "PRICE_UNAVAILABLE"
	CodeSoldOut             ErrorCode = "SOLD_OUT"
	CodeForbidden           ErrorCode = "FORBIDDEN"
	CodeInsufficientReserve ErrorCode = "INSUFFICIENT_RESERVE"
	CodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	CodeInvalidListing      ErrorCode = "INVALID_LISTING"
	CodeListingExists       ErrorCode = "LISTING_EXISTS"
	CodeDuplicateSettlement ErrorCode = "DUPLICATE_SETTLEMENT"
	CodeSubmissionRejected  ErrorCode = "SUBMISSION_REJECTED"
	CodeRecordFailed        ErrorCode = "RECORD_FAILED"
	CodeInvalidRequest      ErrorCode = "INVALID_REQUEST"
)

// SettlementError is a typed, user-actionable failure. Two errors match under
// errors.Is when their codes are equal, so callers compare against the
// sentinel values below.
type SettlementError struct {
	Code    ErrorCode
	Message string
	TxHash  string
	Err     error
}

var (
	ErrLedgerUnavailable   = &SettlementError{Code: CodeLedgerUnavailable, Message: "ledger is unavailable"}
	ErrPriceUnavailable    = &SettlementError{Code: CodePriceUnavailable, Message: "price is unavailable"}
	ErrSoldOut             = &SettlementError{Code: CodeSoldOut, Message: "listing is sold out"}
	ErrForbidden           = &SettlementError{Code: CodeForbidden, Message: "not allowed"}
	ErrInsufficientReserve = &SettlementError{Code: CodeInsufficientReserve, Message: "account cannot cover the ledger reserve and fees"}
	ErrInsufficientBalance = &SettlementError{Code: CodeInsufficientBalance, Message: "account does not hold enough tokens"}
	ErrInvalidListing      = &SettlementError{Code: CodeInvalidListing, Message: "listing not found"}
	ErrListingExists       = &SettlementError{Code: CodeListingExists, Message: "asset is already listed by this placer"}
	ErrDuplicateSettlement = &SettlementError{Code: CodeDuplicateSettlement, Message: "settlement already recorded"}
	ErrSubmissionRejected  = &SettlementError{Code: CodeSubmissionRejected, Message: "ledger rejected the transaction"}
	ErrRecordFailed        = &SettlementError{Code: CodeRecordFailed, Message: "payment submitted but could not be recorded, contact support"}
	ErrInvalidRequest      = &SettlementError{Code: CodeInvalidRequest, Message: "invalid request"}
)

func (e *SettlementError) Error() string {
	msg := e.Message
	if e.TxHash != "" {
		msg = fmt.Sprintf("%s (tx %s)", msg, e.TxHash)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

func (e *SettlementError) Is(target error) bool {
	var t *SettlementError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Retryable is true for transient infrastructure failures only.
func (e *SettlementError) Retryable() bool {
	return e.Code == CodeLedgerUnavailable || e.Code == CodePriceUnavailable
}

// withCause returns a copy of the sentinel carrying a message and cause.
func (e *SettlementError) withCause(message string, cause error) *SettlementError {
	out := *e
	if message != "" {
		out.Message = message
	}
	out.Err = cause
	return &out
}

func (e *SettlementError) withTx(txHash string) *SettlementError {
	out := *e
	out.TxHash = txHash
	return &out
}

// AsSettlementError extracts the typed error, if any.
func AsSettlementError(err error) (*SettlementError, bool) {
	var se *SettlementError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
