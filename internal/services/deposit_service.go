package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sayartak/backend/internal/config"
	"github.com/sayartak/backend/internal/gateway"
	"github.com/sayartak/backend/internal/models"
)

// rowQuerier is satisfied by both *sql.DB and *sql.Tx so the eligibility
// check can run inside the bid admission transaction.
type rowQuerier interface {
	QueryRow(query string, args ...any) *sql.Row
}

// DepositService gates bidding behind a refundable deposit. A user with any
// prior bid on the listing is grandfathered and never needs a fresh deposit;
// everyone else needs a PAID deposit row for the (user, listing) pair.
type DepositService struct {
	db        *sql.DB
	gateway   gateway.Client
	qr        *QRService
	validator *ValidationHelper
	cfg       *config.AuctionConfig
}

func NewDepositService(db *sql.DB, gw gateway.Client, qr *QRService, cfg *config.AuctionConfig) *DepositService {
	return &DepositService{
		db:        db,
		gateway:   gw,
		qr:        qr,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// checkEligibilityTx decides whether the user may bid on the listing.
// Note the grandfathering clause covers bids that predate the deposit
// requirement; flagged for product review but preserved deliberately.
func (s *DepositService) checkEligibilityTx(q rowQuerier, userID int, listingID string) (bool, string, error) {
	var hasPriorBid bool
	err := q.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM bids WHERE listing_id = $1 AND user_id = $2)`,
		listingID, userID).Scan(&hasPriorBid)
	if err != nil {
		return false, "", err
	}
	if hasPriorBid {
		return true, "prior bidder", nil
	}

	var status string
	err = q.QueryRow(`
		SELECT status FROM deposits WHERE listing_id = $1 AND user_id = $2`,
		listingID, userID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, "A paid bidding deposit is required", nil
	}
	if err != nil {
		return false, "", err
	}
	if status != models.DepositPaid {
		return false, "A paid bidding deposit is required", nil
	}
	return true, "deposit paid", nil
}

// CheckEligibility reports whether the caller may bid on a listing
// @Summary Check bid eligibility
// @Description Check whether the authenticated user may bid without a fresh deposit
// @Tags deposits
// @Produce json
// @Param listingId path string true "Listing ID"
// @Success 200 {object} object{eligible=bool,reason=string}
// @Failure 401 {object} ErrorResponse
// @Router /listings/{listingId}/deposit/eligibility [get]
func (s *DepositService) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingId")
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	eligible, reason, err := s.checkEligibilityTx(s.db, userID, listingID)
	if err != nil {
		log.Printf("[DEPOSIT] Eligibility check failed for user %d, listing %s: %v", userID, listingID, err)
		SendErrorResponse(w, "Failed to check eligibility", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"eligible": eligible,
		"reason":   reason,
	})
}

// InitiateDeposit starts or retries deposit payment for an auction
// @Summary Initiate bidding deposit
// @Description Create (or reuse) a pending deposit and request a gateway charge for it
// @Tags deposits
// @Produce json
// @Param listingId path string true "Listing ID"
// @Success 200 {object} object{deposit=models.Deposit,paymentUrl=string,qrImage=string}
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /listings/{listingId}/deposit [post]
func (s *DepositService) InitiateDeposit(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingId")
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var saleType string
	err := s.db.QueryRow(`SELECT sale_type FROM listings WHERE id = $1`, listingID).Scan(&saleType)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Listing not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to initiate deposit", http.StatusInternalServerError, nil)
		return
	}
	if saleType != models.SaleTypeAuction {
		SendPolicyError(w, policyErr(CodeNotAnAuction, "Deposits apply to auction listings only"))
		return
	}

	// Idempotent: a PAID deposit short-circuits with the existing record.
	existing, err := s.fetchDeposit(userID, listingID)
	if err != nil && err != sql.ErrNoRows {
		SendErrorResponse(w, "Failed to initiate deposit", http.StatusInternalServerError, nil)
		return
	}
	if existing != nil && existing.Status == models.DepositPaid {
		log.Printf("[DEPOSIT] Already paid: user %d, listing %s", userID, listingID)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"deposit": existing,
			"message": "Deposit already paid",
		})
		return
	}

	// Upsert the PENDING row before touching the gateway so a gateway
	// failure leaves a retryable record behind. A REFUNDED deposit is
	// reopened as PENDING here; otherwise the webhook's PENDING -> PAID
	// transition could never apply to the new charge.
	depositID := uuid.NewString()
	var deposit models.Deposit
	err = s.db.QueryRow(`
		INSERT INTO deposits (id, user_id, listing_id, amount, status)
		VALUES ($1, $2, $3, $4, 'PENDING')
		ON CONFLICT (user_id, listing_id)
		DO UPDATE SET status = 'PENDING', updated_at = NOW()
		RETURNING id, user_id, listing_id, amount, status, charge_id, payment_id, refund_id, created_at, updated_at`,
		depositID, userID, listingID, s.cfg.DepositAmount).Scan(
		&deposit.ID, &deposit.UserID, &deposit.ListingID, &deposit.Amount, &deposit.Status,
		&deposit.ChargeID, &deposit.PaymentID, &deposit.RefundID, &deposit.CreatedAt, &deposit.UpdatedAt)
	if err != nil {
		log.Printf("[DEPOSIT] Upsert failed for user %d, listing %s: %v", userID, listingID, err)
		SendErrorResponse(w, "Failed to initiate deposit", http.StatusInternalServerError, nil)
		return
	}

	var customerEmail string
	if err := s.db.QueryRow(`SELECT email FROM users WHERE id = $1`, userID).Scan(&customerEmail); err != nil {
		SendErrorResponse(w, "Failed to initiate deposit", http.StatusInternalServerError, nil)
		return
	}

	charge, err := s.gateway.CreateCharge(r.Context(), gateway.ChargeRequest{
		Amount:      deposit.Amount,
		Currency:    s.cfg.Currency,
		Customer:    customerEmail,
		Description: "Bidding deposit",
		Metadata: map[string]string{
			"type":      gateway.TypeBidDeposit,
			"depositId": deposit.ID,
			"userId":    strconv.Itoa(userID),
			"listingId": listingID,
		},
	})
	if err != nil {
		// Deposit stays PENDING; the caller can retry initiation.
		log.Printf("[DEPOSIT] Charge creation failed for deposit %s: %v", deposit.ID, err)
		SendErrorResponse(w, "Payment gateway unavailable, retry later", http.StatusBadGateway, nil)
		return
	}

	if _, err := s.db.Exec(`UPDATE deposits SET charge_id = $1, updated_at = NOW() WHERE id = $2`,
		charge.ID, deposit.ID); err != nil {
		log.Printf("[DEPOSIT] Failed to store charge reference for deposit %s: %v", deposit.ID, err)
		SendErrorResponse(w, "Failed to initiate deposit", http.StatusInternalServerError, nil)
		return
	}
	deposit.ChargeID = charge.ID

	qrImage := ""
	if s.qr != nil {
		if img, err := s.qr.GeneratePaymentQR(r.Context(), charge.ID, charge.RedirectURL); err == nil {
			qrImage = img
		} else {
			log.Printf("[DEPOSIT] QR generation failed for charge %s: %v", charge.ID, err)
		}
	}

	log.Printf("[DEPOSIT] Initiated: deposit %s, user %d, listing %s, charge %s", deposit.ID, userID, listingID, charge.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"deposit":    deposit,
		"paymentUrl": charge.RedirectURL,
		"qrImage":    qrImage,
	})
}

// RefundDeposit requests a gateway refund for a paid deposit
// @Summary Refund a deposit
// @Description Request a refund for a PAID deposit; status flips to REFUNDED only when the refund event arrives
// @Tags deposits
// @Produce json
// @Param depositId path string true "Deposit ID"
// @Success 202 {object} object{deposit=models.Deposit,refundId=string}
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /deposits/{depositId}/refund [post]
func (s *DepositService) RefundDeposit(w http.ResponseWriter, r *http.Request) {
	depositID := chi.URLParam(r, "depositId")

	userID, ok := userIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var deposit models.Deposit
	err := s.db.QueryRow(`
		SELECT id, user_id, listing_id, amount, status, charge_id, payment_id, refund_id, created_at, updated_at
		FROM deposits WHERE id = $1`, depositID).Scan(
		&deposit.ID, &deposit.UserID, &deposit.ListingID, &deposit.Amount, &deposit.Status,
		&deposit.ChargeID, &deposit.PaymentID, &deposit.RefundID, &deposit.CreatedAt, &deposit.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Deposit not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to refund deposit", http.StatusInternalServerError, nil)
		return
	}

	// Only the deposit holder or an admin may trigger a refund.
	role, _ := r.Context().Value("userRole").(string)
	if deposit.UserID != userID && role != models.RoleAdmin {
		SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
		return
	}

	if deposit.Status != models.DepositPaid {
		SendPolicyError(w, policyErr(CodeNotPaid, "Only paid deposits can be refunded"))
		return
	}
	if deposit.ChargeID == "" {
		SendPolicyError(w, policyErr(CodeMissingChargeRef, "Deposit has no charge reference"))
		return
	}

	refund, err := s.gateway.CreateRefund(r.Context(), deposit.ChargeID, deposit.Amount, s.cfg.Currency)
	if err != nil {
		log.Printf("[DEPOSIT] Refund request failed for deposit %s: %v", depositID, err)
		SendErrorResponse(w, "Payment gateway unavailable, retry later", http.StatusBadGateway, nil)
		return
	}

	// Status stays PAID until the gateway confirms the refund through the
	// webhook; marking REFUNDED here would diverge from the gateway's
	// authoritative state.
	if _, err := s.db.Exec(`UPDATE deposits SET refund_id = $1, updated_at = NOW() WHERE id = $2`,
		refund.ID, depositID); err != nil {
		log.Printf("[DEPOSIT] Failed to store refund reference for deposit %s: %v", depositID, err)
	}

	log.Printf("[DEPOSIT] Refund requested: deposit %s, refund %s", depositID, refund.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"deposit":  deposit,
		"refundId": refund.ID,
	})
}

func (s *DepositService) fetchDeposit(userID int, listingID string) (*models.Deposit, error) {
	var d models.Deposit
	err := s.db.QueryRow(`
		SELECT id, user_id, listing_id, amount, status, charge_id, payment_id, refund_id, created_at, updated_at
		FROM deposits WHERE user_id = $1 AND listing_id = $2`, userID, listingID).Scan(
		&d.ID, &d.UserID, &d.ListingID, &d.Amount, &d.Status,
		&d.ChargeID, &d.PaymentID, &d.RefundID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
