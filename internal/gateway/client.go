package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/viper"
)

// Charge statuses as reported by the gateway.
const (
	ChargeInitiated = "initiated"
	ChargeCaptured  = "captured"
	ChargeFailed    = "failed"
	ChargeCancelled = "cancelled"
)

// Metadata type tags used to route webhook events back to their records.
const (
	TypeBidDeposit   = "bid_deposit"
	TypeOrderPayment = "order_payment"
)

// ErrUnavailable wraps every transport-level failure so callers can treat
// the gateway being down as a single retryable condition.
var ErrUnavailable = errors.New("payment gateway unavailable")

// ChargeRequest is the payload for creating a hosted-payment charge.
// Amounts are whole currency units (SAR); the gateway has no sub-unit
// precision in this domain.
type ChargeRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Customer    string            `json:"customer"`
	Description string            `json:"description,omitempty"`
	RedirectURL string            `json:"redirectUrl"`
	Metadata    map[string]string `json:"metadata"`
}

type Charge struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	RedirectURL string            `json:"redirectUrl"`
	Metadata    map[string]string `json:"metadata"`
}

type Refund struct {
	ID       string `json:"id"`
	ChargeID string `json:"chargeId"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
}

// Client is the narrow contract the engine needs from the payment gateway.
// Services hold this interface so tests can substitute a mock.
type Client interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	CreateRefund(ctx context.Context, chargeID string, amount int64, currency string) (*Refund, error)
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)
	VerifyWebhookSignature(rawBody []byte, signature string) bool
}

// HTTPClient talks to the gateway's REST API with a bounded timeout so a
// slow gateway can never hold a request (or a row lock) open indefinitely.
type HTTPClient struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	client        *http.Client
}

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	viper.SetDefault("gateway.base_url", "https://api.gateway.example.com/v1")

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPClient{
		baseURL:       viper.GetString("gateway.base_url"),
		apiKey:        viper.GetString("gateway.api_key"),
		webhookSecret: viper.GetString("gateway.webhook_secret"),
		client:        &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	var charge Charge
	if err := c.post(ctx, "/charges", req, &charge); err != nil {
		return nil, err
	}
	log.Printf("[GATEWAY] Charge created: %s, amount: %d %s", charge.ID, charge.Amount, charge.Currency)
	return &charge, nil
}

func (c *HTTPClient) CreateRefund(ctx context.Context, chargeID string, amount int64, currency string) (*Refund, error) {
	body := map[string]any{"amount": amount, "currency": currency}
	var refund Refund
	if err := c.post(ctx, fmt.Sprintf("/charges/%s/refunds", chargeID), body, &refund); err != nil {
		return nil, err
	}
	log.Printf("[GATEWAY] Refund requested: %s for charge %s", refund.ID, chargeID)
	return &refund, nil
}

func (c *HTTPClient) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/charges/"+chargeID, nil)
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(c.apiKey, "")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		log.Printf("[GATEWAY] Charge fetch failed for %s: %v", chargeID, err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d for charge %s", resp.StatusCode, chargeID)
	}

	var charge Charge
	if err := json.NewDecoder(resp.Body).Decode(&charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

// VerifyWebhookSignature checks the HMAC-SHA256 hex signature the gateway
// computes over the raw request body with the shared webhook secret.
func (c *HTTPClient) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	if c.webhookSecret == "" || signature == "" {
		return false
	}
	h := hmac.New(sha256.New, []byte(c.webhookSecret))
	h.Write(rawBody)
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.apiKey, "")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		log.Printf("[GATEWAY] Request to %s failed: %v", path, err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("gateway returned status %d for %s", resp.StatusCode, path)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
