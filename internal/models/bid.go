package models

import "time"

// Bid is an immutable record of one admitted bid. Bids are never updated or
// deleted; the winner for a listing is the row with the highest amount.
type Bid struct {
	ID         string    `json:"id" db:"id"`
	ListingID  string    `json:"listingId" db:"listing_id"`
	UserID     int       `json:"userId" db:"user_id"`
	Amount     int64     `json:"amount" db:"amount"`
	MaxBid     *int64    `json:"maxBid,omitempty" db:"max_bid"`
	IsAutoBid  bool      `json:"isAutoBid" db:"is_auto_bid"`
	BidderName string    `json:"bidderName,omitempty" db:"-"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}
