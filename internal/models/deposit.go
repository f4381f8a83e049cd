package models

import "time"

// Deposit statuses. Transitions only move forward: PENDING -> PAID via a
// confirmed charge event, PAID -> REFUNDED via a confirmed refund event,
// PAID -> APPLIED_TO_PURCHASE when the deposit is rolled into a winning
// purchase.
const (
	DepositPending  = "PENDING"
	DepositPaid     = "PAID"
	DepositRefunded = "REFUNDED"
	DepositApplied  = "APPLIED_TO_PURCHASE"
)

// Deposit is the refundable bidding deposit for one (user, listing) pair.
// The pair is unique; retrying initiation reuses the existing row.
type Deposit struct {
	ID        string    `json:"id" db:"id"`
	UserID    int       `json:"userId" db:"user_id"`
	ListingID string    `json:"listingId" db:"listing_id"`
	Amount    int64     `json:"amount" db:"amount"`
	Status    string    `json:"status" db:"status"`
	ChargeID  string    `json:"chargeId,omitempty" db:"charge_id"`
	PaymentID string    `json:"paymentId,omitempty" db:"payment_id"`
	RefundID  string    `json:"refundId,omitempty" db:"refund_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
