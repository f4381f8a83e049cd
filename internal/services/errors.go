package services

import (
	"errors"
	"net/http"
)

// Policy codes surfaced to callers. Each rejection leaves state untouched.
const (
	CodeBidTooLow             = "BID_TOO_LOW"
	CodeAuctionInactive       = "AUCTION_INACTIVE"
	CodeNotAnAuction          = "NOT_AN_AUCTION"
	CodeNotApproved           = "NOT_APPROVED"
	CodeSelfBid               = "SELF_BID"
	CodeDepositRequired       = "DEPOSIT_REQUIRED"
	CodeInvalidMaxBid         = "INVALID_MAX_BID"
	CodeDuplicateActiveOrder  = "DUPLICATE_ACTIVE_ORDER"
	CodeAuctionOnly           = "AUCTION_ONLY"
	CodeNotAvailable          = "NOT_AVAILABLE"
	CodeNotPaid               = "NOT_PAID"
	CodeMissingChargeRef      = "MISSING_CHARGE_REFERENCE"
	CodeAlreadyPaid           = "ALREADY_PAID"
)

// Sentinel errors shared across services.
var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is surfaced when a concurrent write still loses after the
	// single controller-level retry.
	ErrConflict = errors.New("concurrent update conflict")
)

// PolicyError is a business-rule rejection: the request was well formed but
// the current state disallows it.
type PolicyError struct {
	Code    string
	Message string
}

func (e *PolicyError) Error() string {
	return e.Message
}

// HTTPStatus maps a policy code to its response status.
func (e *PolicyError) HTTPStatus() int {
	if e.Code == CodeAlreadyPaid {
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

func policyErr(code, message string) *PolicyError {
	return &PolicyError{Code: code, Message: message}
}
