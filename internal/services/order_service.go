package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sayartak/backend/internal/config"
	"github.com/sayartak/backend/internal/gateway"
	"github.com/sayartak/backend/internal/models"
)

// OrderService creates and settles purchase orders for direct-sale listings.
// Payment-driven confirmation happens through the webhook path; admin
// completion here mirrors it for manual or offline settlement.
type OrderService struct {
	db        *sql.DB
	gateway   gateway.Client
	qr        *QRService
	validator *ValidationHelper
	cfg       *config.AuctionConfig
}

type createOrderRequest struct {
	ListingID string `json:"listingId" validate:"required,uuid4"`
}

type setOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING CONFIRMED COMPLETED CANCELLED"`
}

func NewOrderService(db *sql.DB, gw gateway.Client, qr *QRService, cfg *config.AuctionConfig) *OrderService {
	return &OrderService{
		db:        db,
		gateway:   gw,
		qr:        qr,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// CreateOrder creates a purchase order for a direct-sale listing
// @Summary Create order
// @Description Create a PENDING order for a direct-sale listing at its current price
// @Tags orders
// @Accept json
// @Produce json
// @Param order body createOrderRequest true "Order data"
// @Success 201 {object} models.Order
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /orders [post]
func (s *OrderService) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req createOrderRequest
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

	tx, err := s.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	var (
		saleType, status string
		isAvailable      bool
		price            int64
	)
	err = tx.QueryRow(`
		SELECT sale_type, status, is_available, price
		FROM listings
		WHERE id = $1
		FOR UPDATE`, req.ListingID).Scan(&saleType, &status, &isAvailable, &price)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Listing not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[ORDER] Listing lookup failed for %s: %v", req.ListingID, err)
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}

	if saleType != models.SaleTypeDirect {
		SendPolicyError(w, policyErr(CodeAuctionOnly, "Auction listings are purchased through bidding"))
		return
	}
	if status != models.ListingApproved || !isAvailable {
		SendPolicyError(w, policyErr(CodeNotAvailable, "Listing is not available for purchase"))
		return
	}

	var hasActive bool
	err = tx.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM orders
			WHERE user_id = $1 AND listing_id = $2 AND status IN ('PENDING', 'CONFIRMED')
		)`, userID, req.ListingID).Scan(&hasActive)
	if err != nil {
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}
	if hasActive {
		SendPolicyError(w, policyErr(CodeDuplicateActiveOrder, "An active order already exists for this listing"))
		return
	}

	order := models.Order{
		ID:         uuid.NewString(),
		UserID:     userID,
		ListingID:  req.ListingID,
		TotalPrice: price,
		Status:     models.OrderPending,
	}

	err = tx.QueryRow(`
		INSERT INTO orders (id, user_id, listing_id, total_price, status)
		VALUES ($1, $2, $3, $4, 'PENDING')
		RETURNING created_at, updated_at`,
		order.ID, order.UserID, order.ListingID, order.TotalPrice).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		log.Printf("[ORDER] Insert failed for user %d, listing %s: %v", userID, req.ListingID, err)
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ORDER] Created: order %s, user %d, listing %s, total %d", order.ID, userID, req.ListingID, price)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

// PayOrder requests a gateway charge for a pending order
// @Summary Pay for an order
// @Description Create a gateway charge for a PENDING order; confirmation arrives via webhook
// @Tags orders
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} object{order=models.Order,paymentUrl=string,qrImage=string}
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /orders/{orderId}/pay [post]
func (s *OrderService) PayOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var order models.Order
	err := s.db.QueryRow(`
		SELECT id, user_id, listing_id, total_price, status, charge_id, created_at, updated_at
		FROM orders WHERE id = $1 AND user_id = $2`, orderID, userID).Scan(
		&order.ID, &order.UserID, &order.ListingID, &order.TotalPrice, &order.Status,
		&order.ChargeID, &order.CreatedAt, &order.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to initiate payment", http.StatusInternalServerError, nil)
		return
	}

	if order.Status == models.OrderConfirmed || order.Status == models.OrderCompleted {
		SendPolicyError(w, policyErr(CodeAlreadyPaid, "Order has already been paid"))
		return
	}
	if order.Status != models.OrderPending {
		SendPolicyError(w, policyErr(CodeNotAvailable, "Only pending orders can be paid"))
		return
	}

	var customerEmail string
	if err := s.db.QueryRow(`SELECT email FROM users WHERE id = $1`, userID).Scan(&customerEmail); err != nil {
		SendErrorResponse(w, "Failed to initiate payment", http.StatusInternalServerError, nil)
		return
	}

	charge, err := s.gateway.CreateCharge(r.Context(), gateway.ChargeRequest{
		Amount:      order.TotalPrice,
		Currency:    s.cfg.Currency,
		Customer:    customerEmail,
		Description: "Vehicle purchase",
		Metadata: map[string]string{
			"type":      gateway.TypeOrderPayment,
			"orderId":   order.ID,
			"userId":    strconv.Itoa(userID),
			"listingId": order.ListingID,
		},
	})
	if err != nil {
		log.Printf("[ORDER] Charge creation failed for order %s: %v", orderID, err)
		SendErrorResponse(w, "Payment gateway unavailable, retry later", http.StatusBadGateway, nil)
		return
	}

	if _, err := s.db.Exec(`UPDATE orders SET charge_id = $1, updated_at = NOW() WHERE id = $2`,
		charge.ID, orderID); err != nil {
		log.Printf("[ORDER] Failed to store charge reference for order %s: %v", orderID, err)
		SendErrorResponse(w, "Failed to initiate payment", http.StatusInternalServerError, nil)
		return
	}
	order.ChargeID = charge.ID

	qrImage := ""
	if s.qr != nil {
		if img, err := s.qr.GeneratePaymentQR(r.Context(), charge.ID, charge.RedirectURL); err == nil {
			qrImage = img
		} else {
			log.Printf("[ORDER] QR generation failed for charge %s: %v", charge.ID, err)
		}
	}

	log.Printf("[ORDER] Payment initiated: order %s, charge %s", orderID, charge.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"order":      order,
		"paymentUrl": charge.RedirectURL,
		"qrImage":    qrImage,
	})
}

// SetOrderStatus applies an administrative order status transition
// @Summary Set order status
// @Description Admin transition for an order; COMPLETED also marks the listing sold
// @Tags admin
// @Accept json
// @Produce json
// @Param orderId path string true "Order ID"
// @Param status body setOrderStatusRequest true "Target status"
// @Success 200 {object} object{orderId=string,status=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/orders/{orderId}/status [put]
func (s *OrderService) SetOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req setOrderStatusRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Failed to update order", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	// Transitions are conditional on an active prior status so concurrent
	// admin actions and webhook confirmations cannot double-settle.
	var listingID string
	err = tx.QueryRow(`
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ('PENDING', 'CONFIRMED')
		RETURNING listing_id`, req.Status, orderID).Scan(&listingID)

	if err == sql.ErrNoRows {
		var exists bool
		if err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil || !exists {
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Order is already settled", http.StatusConflict, nil)
		return
	}
	if err != nil {
		log.Printf("[ORDER] Status update failed for order %s: %v", orderID, err)
		SendErrorResponse(w, "Failed to update order", http.StatusInternalServerError, nil)
		return
	}

	if req.Status == models.OrderCompleted {
		_, err = tx.Exec(`
			UPDATE listings
			SET status = 'SOLD', is_available = FALSE, updated_at = NOW()
			WHERE id = $1 AND status <> 'SOLD'`, listingID)
		if err != nil {
			log.Printf("[ORDER] Listing settlement failed for listing %s: %v", listingID, err)
			SendErrorResponse(w, "Failed to update order", http.StatusInternalServerError, nil)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to update order", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ORDER] Status set: order %s -> %s", orderID, req.Status)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"orderId": orderID,
		"status":  req.Status,
	})
}
