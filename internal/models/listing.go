package models

import (
	"time"
)

// Sale types
const (
	SaleTypeDirect  = "DIRECT_SALE"
	SaleTypeAuction = "AUCTION"
)

// Listing statuses
const (
	ListingPending  = "PENDING"
	ListingApproved = "APPROVED"
	ListingRejected = "REJECTED"
	ListingSold     = "SOLD"
)

// Auction states, computed from the listing dates at read time
const (
	AuctionNotStarted = "NOT_STARTED"
	AuctionActive     = "ACTIVE"
	AuctionEnded      = "ENDED"
)

// Listing represents a vehicle for sale, either at a fixed price or by
// timed auction. Amounts are whole SAR.
type Listing struct {
	ID          string `json:"id" db:"id"`
	SellerID    int    `json:"sellerId" db:"seller_id"`
	Title       string `json:"title" db:"title"`
	Description string `json:"description,omitempty" db:"description"`
	Make        string `json:"make" db:"make"`
	Model       string `json:"model" db:"model"`
	Year        int    `json:"year" db:"year"`
	Mileage     int    `json:"mileage" db:"mileage"`
	SaleType    string `json:"saleType" db:"sale_type"`
	Status      string `json:"status" db:"status"`
	Price       int64  `json:"price" db:"price"`
	IsAvailable bool   `json:"isAvailable" db:"is_available"`

	// Auction fields, meaningful only when SaleType == AUCTION.
	ReservePrice      *int64     `json:"reservePrice,omitempty" db:"reserve_price"`
	BidIncrement      int64      `json:"bidIncrement,omitempty" db:"bid_increment"`
	AuctionStartDate  *time.Time `json:"auctionStartDate,omitempty" db:"auction_start_date"`
	AuctionEndDate    *time.Time `json:"auctionEndDate,omitempty" db:"auction_end_date"`
	AutoExtendMinutes int        `json:"autoExtendMinutes,omitempty" db:"auto_extend_minutes"`
	// CurrentBid is the highest committed bid amount, nil before the first
	// bid. When nil the effective floor is Price.
	CurrentBid *int64 `json:"currentBid" db:"current_bid"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// AuctionState reports where the auction sits relative to now. Extensions
// push AuctionEndDate forward, so a listing can re-enter ACTIVE.
func (l *Listing) AuctionState(now time.Time) string {
	if l.AuctionStartDate == nil || l.AuctionEndDate == nil {
		return AuctionNotStarted
	}
	if now.Before(*l.AuctionStartDate) {
		return AuctionNotStarted
	}
	if now.Before(*l.AuctionEndDate) {
		return AuctionActive
	}
	return AuctionEnded
}

// BidFloor is the amount the next bid must exceed by at least BidIncrement.
func (l *Listing) BidFloor() int64 {
	if l.CurrentBid != nil {
		return *l.CurrentBid
	}
	return l.Price
}
