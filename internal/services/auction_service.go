package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sayartak/backend/internal/config"
	"github.com/sayartak/backend/internal/models"
)

// AuctionService admits bids against the authoritative listing state. The
// whole read-validate-write for one bid runs inside a single transaction
// holding a row lock on the listing, so no interleaved bid can observe a
// stale floor.
type AuctionService struct {
	db        *sql.DB
	deposits  *DepositService
	notifier  *NotificationService
	validator *ValidationHelper
	cfg       *config.AuctionConfig
}

type placeBidRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	MaxBid *int64 `json:"maxBid,omitempty" validate:"omitempty,gt=0"`
}

func NewAuctionService(db *sql.DB, deposits *DepositService, notifier *NotificationService, cfg *config.AuctionConfig) *AuctionService {
	return &AuctionService{
		db:        db,
		deposits:  deposits,
		notifier:  notifier,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// PlaceBid handles bid submission for an auction listing
// @Summary Place a bid
// @Description Validate and commit a bid against the listing's current auction state
// @Tags bids
// @Accept json
// @Produce json
// @Param listingId path string true "Listing ID"
// @Param bid body placeBidRequest true "Bid data"
// @Success 201 {object} models.Bid
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /listings/{listingId}/bids [post]
func (s *AuctionService) PlaceBid(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingId")
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req placeBidRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	bid, err := s.Place(r.Context(), listingID, userID, req.Amount, req.MaxBid)
	if err != nil {
		s.writeBidError(w, listingID, userID, err)
		return
	}

	log.Printf("[BID] Bid committed: listing %s, user %d, amount %d", listingID, userID, bid.Amount)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(bid)
}

func (s *AuctionService) writeBidError(w http.ResponseWriter, listingID string, userID int, err error) {
	var pe *PolicyError
	switch {
	case errors.As(err, &pe):
		log.Printf("[BID] Rejected: listing %s, user %d, code %s", listingID, userID, pe.Code)
		SendPolicyError(w, pe)
	case errors.Is(err, ErrNotFound):
		SendErrorResponse(w, "Listing not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrConflict):
		SendErrorResponse(w, "Listing is being updated, retry the bid", http.StatusConflict, nil)
	default:
		log.Printf("[BID] Failed: listing %s, user %d: %v", listingID, userID, err)
		SendErrorResponse(w, "Failed to place bid", http.StatusInternalServerError, nil)
	}
}

// Place runs the bid admission state machine. A lost race (serialization
// failure or deadlock) is retried once before surfacing; the retry re-reads
// the listing, so it is re-validated against the floor the winner set.
func (s *AuctionService) Place(ctx context.Context, listingID string, userID int, amount int64, maxBid *int64) (*models.Bid, error) {
	bid, err := s.placeOnce(ctx, listingID, userID, amount, maxBid)
	if err != nil && isRetryableConflict(err) {
		log.Printf("[BID] Conflict on listing %s, retrying once", listingID)
		bid, err = s.placeOnce(ctx, listingID, userID, amount, maxBid)
		if err != nil && isRetryableConflict(err) {
			return nil, ErrConflict
		}
	}
	if err != nil {
		return nil, err
	}

	// Best effort; losing the notification never fails the bid.
	go s.notifier.NotifyOutbid(listingID, bid.ID, amount)

	return bid, nil
}

func (s *AuctionService) placeOnce(ctx context.Context, listingID string, userID int, amount int64, maxBid *int64) (*models.Bid, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		sellerID            int
		saleType, status    string
		price, bidIncrement int64
		startDate, endDate  sql.NullTime
		autoExtendMinutes   int
		currentBid          sql.NullInt64
	)
	err = tx.QueryRow(`
		SELECT seller_id, sale_type, status, price, bid_increment,
		       auction_start_date, auction_end_date, auto_extend_minutes, current_bid
		FROM listings
		WHERE id = $1
		FOR UPDATE`, listingID).Scan(
		&sellerID, &saleType, &status, &price, &bidIncrement,
		&startDate, &endDate, &autoExtendMinutes, &currentBid)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if saleType != models.SaleTypeAuction {
		return nil, policyErr(CodeNotAnAuction, "Listing is not an auction")
	}
	if status != models.ListingApproved {
		return nil, policyErr(CodeNotApproved, "Listing is not approved for bidding")
	}
	if !startDate.Valid || !endDate.Valid || now.Before(startDate.Time) || !now.Before(endDate.Time) {
		return nil, policyErr(CodeAuctionInactive, "Auction is not active")
	}
	if userID == sellerID {
		return nil, policyErr(CodeSelfBid, "Sellers cannot bid on their own listing")
	}

	eligible, reason, err := s.deposits.checkEligibilityTx(tx, userID, listingID)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, policyErr(CodeDepositRequired, reason)
	}

	floor := price
	if currentBid.Valid {
		floor = currentBid.Int64
	}
	minimum := floor + bidIncrement
	if amount < minimum {
		return nil, policyErr(CodeBidTooLow, fmt.Sprintf("Bid must be at least %d", minimum))
	}
	if maxBid != nil && *maxBid < amount {
		return nil, policyErr(CodeInvalidMaxBid, "maxBid must be greater than or equal to the bid amount")
	}

	bid := &models.Bid{
		ID:        uuid.NewString(),
		ListingID: listingID,
		UserID:    userID,
		Amount:    amount,
		MaxBid:    maxBid,
		CreatedAt: now,
	}

	_, err = tx.Exec(`
		INSERT INTO bids (id, listing_id, user_id, amount, max_bid, is_auto_bid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		bid.ID, bid.ListingID, bid.UserID, bid.Amount, bid.MaxBid, bid.IsAutoBid, bid.CreatedAt)
	if err != nil {
		return nil, err
	}

	// Anti-sniping: a bid inside the extension window pushes the end out to
	// exactly one window from now. Recomputed, not additive, so stacked late
	// bids cannot extend beyond one window past the latest bid.
	newEnd := endDate.Time
	window := time.Duration(autoExtendMinutes) * time.Minute
	if endDate.Time.Sub(now) <= window {
		newEnd = now.Add(window)
		log.Printf("[BID] Anti-snipe extension: listing %s end moved to %s", listingID, newEnd.Format(time.RFC3339))
	}

	_, err = tx.Exec(`
		UPDATE listings
		SET current_bid = $1, auction_end_date = $2, updated_at = NOW()
		WHERE id = $3`,
		amount, newEnd, listingID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	// Resolve the bidder name for display after the lock is released.
	if err := s.db.QueryRow(`SELECT name FROM users WHERE id = $1`, userID).Scan(&bid.BidderName); err != nil {
		log.Printf("[BID] Bidder name lookup failed for user %d: %v", userID, err)
	}

	return bid, nil
}

// GetBids lists all bids for a listing, newest first
// @Summary List bids
// @Description List all bids placed on a listing
// @Tags bids
// @Produce json
// @Param listingId path string true "Listing ID"
// @Success 200 {object} object{bids=[]models.Bid,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /listings/{listingId}/bids [get]
func (s *AuctionService) GetBids(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingId")

	rows, err := s.db.Query(`
		SELECT b.id, b.listing_id, b.user_id, b.amount, b.max_bid, b.is_auto_bid, b.created_at, u.name
		FROM bids b
		JOIN users u ON u.id = b.user_id
		WHERE b.listing_id = $1
		ORDER BY b.amount DESC, b.created_at DESC`, listingID)
	if err != nil {
		log.Printf("[BID] Failed to fetch bids for listing %s: %v", listingID, err)
		SendErrorResponse(w, "Failed to fetch bids", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	bids := []models.Bid{}
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.ListingID, &b.UserID, &b.Amount, &b.MaxBid, &b.IsAutoBid, &b.CreatedAt, &b.BidderName); err != nil {
			SendErrorResponse(w, "Failed to fetch bids", http.StatusInternalServerError, nil)
			return
		}
		bids = append(bids, b)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"bids":  bids,
		"count": len(bids),
	})
}

// GetHighestBid returns the current winning bid for a listing
// @Summary Get highest bid
// @Description Get the current winning bid for a listing
// @Tags bids
// @Produce json
// @Param listingId path string true "Listing ID"
// @Success 200 {object} models.Bid
// @Failure 404 {object} ErrorResponse
// @Router /listings/{listingId}/bids/highest [get]
func (s *AuctionService) GetHighestBid(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingId")

	var b models.Bid
	err := s.db.QueryRow(`
		SELECT b.id, b.listing_id, b.user_id, b.amount, b.max_bid, b.is_auto_bid, b.created_at, u.name
		FROM bids b
		JOIN users u ON u.id = b.user_id
		WHERE b.listing_id = $1
		ORDER BY b.amount DESC, b.created_at ASC
		LIMIT 1`, listingID).Scan(
		&b.ID, &b.ListingID, &b.UserID, &b.Amount, &b.MaxBid, &b.IsAutoBid, &b.CreatedAt, &b.BidderName)

	if err == sql.ErrNoRows {
		SendErrorResponse(w, "No bids on this listing", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[BID] Failed to fetch highest bid for listing %s: %v", listingID, err)
		SendErrorResponse(w, "Failed to fetch highest bid", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(b)
}

// isRetryableConflict reports whether the error is a lost concurrency race
// worth one transparent retry: Postgres serialization failure or deadlock.
func isRetryableConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// userIDFromContext resolves the authenticated user id placed in the request
// context by the auth middleware.
func userIDFromContext(ctx context.Context) (int, bool) {
	raw, ok := ctx.Value("userID").(string)
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}
