package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sayartak/backend/internal/config"
	"github.com/sayartak/backend/internal/models"
)

// ListingService is the thin listing collaborator. The auction engine only
// depends on the auction-relevant columns it maintains here.
type ListingService struct {
	db        *sql.DB
	validator *ValidationHelper
	cfg       *config.AuctionConfig
}

type createListingRequest struct {
	Title             string     `json:"title" validate:"required,min=3,max=200"`
	Description       string     `json:"description" validate:"max=2000"`
	Make              string     `json:"make" validate:"required,max=50"`
	Model             string     `json:"model" validate:"required,max=50"`
	Year              int        `json:"year" validate:"required,gte=1950,lte=2030"`
	Mileage           int        `json:"mileage" validate:"gte=0"`
	SaleType          string     `json:"saleType" validate:"required,oneof=DIRECT_SALE AUCTION"`
	Price             int64      `json:"price" validate:"required,gt=0"`
	ReservePrice      *int64     `json:"reservePrice,omitempty" validate:"omitempty,gt=0"`
	BidIncrement      *int64     `json:"bidIncrement,omitempty" validate:"omitempty,gt=0"`
	AuctionStartDate  *time.Time `json:"auctionStartDate,omitempty"`
	AuctionEndDate    *time.Time `json:"auctionEndDate,omitempty"`
	AutoExtendMinutes *int       `json:"autoExtendMinutes,omitempty" validate:"omitempty,gt=0"`
}

type setListingStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=APPROVED REJECTED"`
}

func NewListingService(db *sql.DB, cfg *config.AuctionConfig) *ListingService {
	return &ListingService{
		db:        db,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// CreateListing creates a vehicle listing pending review
// @Summary Create listing
// @Description Create a listing; auctions must carry a start and end date
// @Tags listings
// @Accept json
// @Produce json
// @Param listing body createListingRequest true "Listing data"
// @Success 201 {object} models.Listing
// @Failure 400 {object} ErrorResponse
// @Router /listings [post]
func (s *ListingService) CreateListing(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req createListingRequest
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

	if req.SaleType == models.SaleTypeAuction {
		if req.AuctionStartDate == nil || req.AuctionEndDate == nil {
			SendErrorResponse(w, "Auction listings require auctionStartDate and auctionEndDate", http.StatusBadRequest, nil)
			return
		}
		if !req.AuctionEndDate.After(*req.AuctionStartDate) {
			SendErrorResponse(w, "auctionEndDate must be after auctionStartDate", http.StatusBadRequest, nil)
			return
		}
	}

	bidIncrement := s.cfg.DefaultBidIncrement
	if req.BidIncrement != nil {
		bidIncrement = *req.BidIncrement
	}
	autoExtend := s.cfg.DefaultAutoExtendMin
	if req.AutoExtendMinutes != nil {
		autoExtend = *req.AutoExtendMinutes
	}

	listing := models.Listing{
		ID:                uuid.NewString(),
		SellerID:          userID,
		Title:             req.Title,
		Description:       req.Description,
		Make:              req.Make,
		Model:             req.Model,
		Year:              req.Year,
		Mileage:           req.Mileage,
		SaleType:          req.SaleType,
		Status:            models.ListingPending,
		Price:             req.Price,
		IsAvailable:       true,
		ReservePrice:      req.ReservePrice,
		BidIncrement:      bidIncrement,
		AuctionStartDate:  req.AuctionStartDate,
		AuctionEndDate:    req.AuctionEndDate,
		AutoExtendMinutes: autoExtend,
	}

	err := s.db.QueryRow(`
		INSERT INTO listings
		(id, seller_id, title, description, make, model, year, mileage, sale_type, status, price,
		 is_available, reserve_price, bid_increment, auction_start_date, auction_end_date, auto_extend_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at`,
		listing.ID, listing.SellerID, listing.Title, listing.Description, listing.Make, listing.Model,
		listing.Year, listing.Mileage, listing.SaleType, listing.Status, listing.Price,
		listing.IsAvailable, listing.ReservePrice, listing.BidIncrement,
		listing.AuctionStartDate, listing.AuctionEndDate, listing.AutoExtendMinutes).
		Scan(&listing.CreatedAt, &listing.UpdatedAt)
	if err != nil {
		log.Printf("[LISTING] Insert failed for seller %d: %v", userID, err)
		SendErrorResponse(w, "Failed to create listing", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[LISTING] Created: %s by seller %d (%s)", listing.ID, userID, listing.SaleType)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(listing)
}

// GetListing fetches a single listing with its computed auction state
// @Summary Get listing
// @Description Get one listing by id
// @Tags listings
// @Produce json
// @Param listingId path string true "Listing ID"
// @Success 200 {object} object{listing=models.Listing,auctionState=string}
// @Failure 404 {object} ErrorResponse
// @Router /listings/{listingId} [get]
func (s *ListingService) GetListing(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingId")

	listing, err := s.fetchListing(listingID)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Listing not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[LISTING] Fetch failed for %s: %v", listingID, err)
		SendErrorResponse(w, "Failed to fetch listing", http.StatusInternalServerError, nil)
		return
	}

	resp := map[string]any{"listing": listing}
	if listing.SaleType == models.SaleTypeAuction {
		resp["auctionState"] = listing.AuctionState(time.Now().UTC())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListListings returns approved listings with optional filters
// @Summary List listings
// @Description List approved, available listings, optionally filtered by sale type
// @Tags listings
// @Produce json
// @Param saleType query string false "DIRECT_SALE or AUCTION"
// @Success 200 {object} object{listings=[]models.Listing,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /listings [get]
func (s *ListingService) ListListings(w http.ResponseWriter, r *http.Request) {
	saleType := r.URL.Query().Get("saleType")
	limit := 50

	query := `
		SELECT id, seller_id, title, description, make, model, year, mileage, sale_type, status, price,
		       is_available, reserve_price, bid_increment, auction_start_date, auction_end_date,
		       auto_extend_minutes, current_bid, created_at, updated_at
		FROM listings
		WHERE status = 'APPROVED' AND is_available = TRUE`
	args := []any{}
	if saleType != "" {
		query += ` AND sale_type = $1`
		args = append(args, saleType)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[LISTING] List query failed: %v", err)
		SendErrorResponse(w, "Failed to fetch listings", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	listings := []models.Listing{}
	for rows.Next() {
		var l models.Listing
		if err := scanListing(rows.Scan, &l); err != nil {
			SendErrorResponse(w, "Failed to fetch listings", http.StatusInternalServerError, nil)
			return
		}
		listings = append(listings, l)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"listings": listings,
		"count":    len(listings),
	})
}

// SetListingStatus applies an admin review decision
// @Summary Approve or reject a listing
// @Description Admin review transition for a pending listing
// @Tags admin
// @Accept json
// @Produce json
// @Param listingId path string true "Listing ID"
// @Param status body setListingStatusRequest true "Review decision"
// @Success 200 {object} object{listingId=string,status=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/listings/{listingId}/status [put]
func (s *ListingService) SetListingStatus(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingId")

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req setListingStatusRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := s.db.Exec(`
		UPDATE listings SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'PENDING'`, req.Status, listingID)
	if err != nil {
		log.Printf("[LISTING] Review update failed for %s: %v", listingID, err)
		SendErrorResponse(w, "Failed to update listing", http.StatusInternalServerError, nil)
		return
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists bool
		if err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM listings WHERE id = $1)`, listingID).Scan(&exists); err != nil || !exists {
			SendErrorResponse(w, "Listing not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Listing has already been reviewed", http.StatusConflict, nil)
		return
	}

	log.Printf("[LISTING] Review decision: %s -> %s", listingID, req.Status)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"listingId": listingID,
		"status":    req.Status,
	})
}

func (s *ListingService) fetchListing(listingID string) (*models.Listing, error) {
	var l models.Listing
	err := scanListing(s.db.QueryRow(`
		SELECT id, seller_id, title, description, make, model, year, mileage, sale_type, status, price,
		       is_available, reserve_price, bid_increment, auction_start_date, auction_end_date,
		       auto_extend_minutes, current_bid, created_at, updated_at
		FROM listings WHERE id = $1`, listingID).Scan, &l)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// scanListing maps one listing row, normalizing nullable auction columns.
func scanListing(scan func(dest ...any) error, l *models.Listing) error {
	var (
		reservePrice, currentBid sql.NullInt64
		startDate, endDate       sql.NullTime
	)
	err := scan(
		&l.ID, &l.SellerID, &l.Title, &l.Description, &l.Make, &l.Model, &l.Year, &l.Mileage,
		&l.SaleType, &l.Status, &l.Price, &l.IsAvailable, &reservePrice, &l.BidIncrement,
		&startDate, &endDate, &l.AutoExtendMinutes, &currentBid, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return err
	}
	if reservePrice.Valid {
		l.ReservePrice = &reservePrice.Int64
	}
	if currentBid.Valid {
		l.CurrentBid = &currentBid.Int64
	}
	if startDate.Valid {
		l.AuctionStartDate = &startDate.Time
	}
	if endDate.Valid {
		l.AuctionEndDate = &endDate.Time
	}
	return nil
}
