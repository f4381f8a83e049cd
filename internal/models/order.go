package models

import "time"

// Order statuses. PENDING and CONFIRMED are "active": at most one active
// order may exist per (user, listing) pair.
const (
	OrderPending   = "PENDING"
	OrderConfirmed = "CONFIRMED"
	OrderCompleted = "COMPLETED"
	OrderCancelled = "CANCELLED"
)

// Order is a purchase intent for a direct-sale listing.
type Order struct {
	ID         string    `json:"id" db:"id"`
	UserID     int       `json:"userId" db:"user_id"`
	ListingID  string    `json:"listingId" db:"listing_id"`
	TotalPrice int64     `json:"totalPrice" db:"total_price"`
	Status     string    `json:"status" db:"status"`
	ChargeID   string    `json:"chargeId,omitempty" db:"charge_id"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

// IsActive reports whether the order still blocks a new order for the same
// user and listing.
func (o *Order) IsActive() bool {
	return o.Status == OrderPending || o.Status == OrderConfirmed
}
