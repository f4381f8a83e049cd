package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/sayartak/backend/internal/gateway"
	"github.com/sayartak/backend/internal/models"
)

// Processing results for an accepted event.
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultIgnored   = "ignored"
)

// paymentEvent is the signed payload the gateway delivers. Metadata carries
// the routing keys written at charge creation time.
type paymentEvent struct {
	ID       string            `json:"id"`
	Object   string            `json:"object"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// WebhookService reconciles asynchronous gateway events into durable state
// transitions. Events may arrive more than once and out of order; every
// transition is a conditional update from the expected prior status, so
// duplicates and races converge on the same terminal state.
type WebhookService struct {
	db       *sql.DB
	gateway  gateway.Client
	notifier *NotificationService
}

func NewWebhookService(db *sql.DB, gw gateway.Client, notifier *NotificationService) *WebhookService {
	return &WebhookService{
		db:       db,
		gateway:  gw,
		notifier: notifier,
	}
}

// HandleEvent ingests a signed payment gateway event
// @Summary Payment gateway webhook
// @Description Apply a signed gateway event to deposit and order state, exactly once
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} object{received=bool,result=string}
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /webhooks/payments [post]
func (s *WebhookService) HandleEvent(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		SendErrorResponse(w, "Failed to read request body", http.StatusBadRequest, nil)
		return
	}

	signature := r.Header.Get("X-Gateway-Signature")
	if !s.gateway.VerifyWebhookSignature(rawBody, signature) {
		log.Printf("[WEBHOOK] Signature verification failed from IP: %s", r.RemoteAddr)
		SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	var event paymentEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		log.Printf("[WEBHOOK] Malformed payload from IP %s: %v", r.RemoteAddr, err)
		SendErrorResponse(w, "Malformed payload", http.StatusBadRequest, nil)
		return
	}

	result, err := s.ApplyEvent(r.Context(), &event)
	if err != nil {
		log.Printf("[WEBHOOK] Failed to apply event %s: %v", event.ID, err)
		SendErrorResponse(w, "Failed to process event", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[WEBHOOK] Event %s (%s/%s): %s", event.ID, event.Object, event.Status, result)

	// Always 200 for accepted events, even unactionable ones, so the
	// gateway does not retry-storm unknown event types.
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"received": true,
		"result":   result,
	})
}

// ApplyEvent classifies the event by (object, status, metadata.type) and
// applies the matching transition.
func (s *WebhookService) ApplyEvent(ctx context.Context, event *paymentEvent) (string, error) {
	switch {
	case event.Object == "charge" && event.Status == gateway.ChargeCaptured:
		switch event.Metadata["type"] {
		case gateway.TypeBidDeposit:
			return s.applyDepositPaid(ctx, event)
		case gateway.TypeOrderPayment:
			return s.applyOrderPaid(event)
		}
	case event.Object == "charge" && (event.Status == gateway.ChargeFailed || event.Status == gateway.ChargeCancelled):
		// No state change: the deposit or order stays PENDING for a user
		// retry.
		log.Printf("[WEBHOOK] Charge %s reported %s, no transition", event.ID, event.Status)
		return ResultIgnored, nil
	case event.Object == "refund" && event.Status == gateway.ChargeCaptured:
		return s.applyDepositRefunded(event)
	}
	return ResultIgnored, nil
}

// applyDepositPaid moves a deposit PENDING -> PAID. The charge is re-fetched
// from the gateway first: a spoofed payload with a valid signature replay
// must not flip a deposit whose charge never captured.
func (s *WebhookService) applyDepositPaid(ctx context.Context, event *paymentEvent) (string, error) {
	depositID := event.Metadata["depositId"]
	if depositID == "" {
		return ResultIgnored, nil
	}

	charge, err := s.gateway.GetCharge(ctx, event.ID)
	if err != nil {
		return "", err
	}
	if charge.Status != gateway.ChargeCaptured {
		log.Printf("[WEBHOOK] Charge %s not captured on re-fetch (status %s), ignoring", event.ID, charge.Status)
		return ResultIgnored, nil
	}

	result, err := s.db.Exec(`
		UPDATE deposits
		SET status = 'PAID', payment_id = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'PENDING'`,
		event.ID, depositID)
	if err != nil {
		return "", err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return "", err
	}
	if rows == 0 {
		var status string
		err := s.db.QueryRow(`SELECT status FROM deposits WHERE id = $1`, depositID).Scan(&status)
		if err == sql.ErrNoRows {
			log.Printf("[WEBHOOK] Deposit %s not found for event %s", depositID, event.ID)
			return ResultIgnored, nil
		}
		if err != nil {
			return "", err
		}
		if status == models.DepositPaid || status == models.DepositApplied {
			return ResultDuplicate, nil
		}
		log.Printf("[WEBHOOK] Deposit %s in status %s, not transitioning on event %s", depositID, status, event.ID)
		return ResultIgnored, nil
	}

	log.Printf("[WEBHOOK] Deposit %s marked PAID (payment %s)", depositID, event.ID)
	return ResultApplied, nil
}

// applyOrderPaid confirms the order and marks its listing sold in the same
// transaction; the two writes must not be observable separately.
func (s *WebhookService) applyOrderPaid(event *paymentEvent) (string, error) {
	orderID := event.Metadata["orderId"]
	if orderID == "" {
		return ResultIgnored, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var listingID string
	err = tx.QueryRow(`
		UPDATE orders
		SET status = 'CONFIRMED', updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING listing_id`, orderID).Scan(&listingID)

	if err == sql.ErrNoRows {
		var status string
		err := s.db.QueryRow(`SELECT status FROM orders WHERE id = $1`, orderID).Scan(&status)
		if err == sql.ErrNoRows {
			log.Printf("[WEBHOOK] Order %s not found for event %s", orderID, event.ID)
			return ResultIgnored, nil
		}
		if err != nil {
			return "", err
		}
		if status == models.OrderConfirmed || status == models.OrderCompleted {
			return ResultDuplicate, nil
		}
		log.Printf("[WEBHOOK] Order %s in status %s, not transitioning on event %s", orderID, status, event.ID)
		return ResultIgnored, nil
	}
	if err != nil {
		return "", err
	}

	_, err = tx.Exec(`
		UPDATE listings
		SET status = 'SOLD', is_available = FALSE, updated_at = NOW()
		WHERE id = $1 AND status <> 'SOLD'`, listingID)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	log.Printf("[WEBHOOK] Order %s confirmed, listing %s sold", orderID, listingID)

	go s.notifier.NotifyOrderConfirmed(orderID)

	return ResultApplied, nil
}

// applyDepositRefunded moves a deposit PAID -> REFUNDED.
func (s *WebhookService) applyDepositRefunded(event *paymentEvent) (string, error) {
	depositID := event.Metadata["depositId"]
	if depositID == "" {
		return ResultIgnored, nil
	}

	result, err := s.db.Exec(`
		UPDATE deposits
		SET status = 'REFUNDED', refund_id = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'PAID'`,
		event.ID, depositID)
	if err != nil {
		return "", err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return "", err
	}
	if rows == 0 {
		var status string
		err := s.db.QueryRow(`SELECT status FROM deposits WHERE id = $1`, depositID).Scan(&status)
		if err == sql.ErrNoRows {
			log.Printf("[WEBHOOK] Deposit %s not found for refund event %s", depositID, event.ID)
			return ResultIgnored, nil
		}
		if err != nil {
			return "", err
		}
		if status == models.DepositRefunded {
			return ResultDuplicate, nil
		}
		log.Printf("[WEBHOOK] Deposit %s in status %s, not refunding on event %s", depositID, status, event.ID)
		return ResultIgnored, nil
	}

	log.Printf("[WEBHOOK] Deposit %s marked REFUNDED (refund %s)", depositID, event.ID)

	go s.notifier.NotifyDepositRefunded(depositID)

	return ResultApplied, nil
}
