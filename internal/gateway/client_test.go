package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func newTestClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:       baseURL,
		apiKey:        "test-key",
		webhookSecret: "test-secret",
		client:        &http.Client{Timeout: 2 * time.Second},
	}
}

func TestHTTPClient_CreateCharge(t *testing.T) {
	t.Run("posts the charge and decodes the response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/charges", r.URL.Path)
			user, _, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "test-key", user)

			var req ChargeRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, int64(200), req.Amount)
			assert.Equal(t, TypeBidDeposit, req.Metadata["type"])

			json.NewEncoder(w).Encode(Charge{
				ID:          "ch_1",
				Status:      ChargeInitiated,
				Amount:      req.Amount,
				Currency:    req.Currency,
				RedirectURL: "https://pay.example.com/ch_1",
			})
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		charge, err := client.CreateCharge(context.Background(), ChargeRequest{
			Amount:   200,
			Currency: "SAR",
			Customer: "bidder@example.com",
			Metadata: map[string]string{"type": TypeBidDeposit},
		})

		assert.NoError(t, err)
		assert.Equal(t, "ch_1", charge.ID)
		assert.Equal(t, "https://pay.example.com/ch_1", charge.RedirectURL)
	})

	t.Run("unreachable gateway reports ErrUnavailable", func(t *testing.T) {
		client := newTestClient("http://127.0.0.1:1")
		_, err := client.CreateCharge(context.Background(), ChargeRequest{Amount: 200})
		assert.True(t, errors.Is(err, ErrUnavailable))
	})

	t.Run("non-2xx status is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		_, err := client.CreateCharge(context.Background(), ChargeRequest{Amount: 200})
		assert.Error(t, err)
	})
}

func TestHTTPClient_GetCharge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charges/ch_1", r.URL.Path)
		json.NewEncoder(w).Encode(Charge{ID: "ch_1", Status: ChargeCaptured, Amount: 200})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	charge, err := client.GetCharge(context.Background(), "ch_1")

	assert.NoError(t, err)
	assert.Equal(t, ChargeCaptured, charge.Status)
}

func TestHTTPClient_CreateRefund(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charges/ch_1/refunds", r.URL.Path)
		json.NewEncoder(w).Encode(Refund{ID: "rf_1", ChargeID: "ch_1", Status: "initiated", Amount: 200})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	refund, err := client.CreateRefund(context.Background(), "ch_1", 200, "SAR")

	assert.NoError(t, err)
	assert.Equal(t, "rf_1", refund.ID)
}

func TestHTTPClient_VerifyWebhookSignature(t *testing.T) {
	client := newTestClient("http://unused")
	body := []byte(`{"id":"ch_1","object":"charge","status":"captured"}`)

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write(body)
	valid := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, client.VerifyWebhookSignature(body, valid))
	assert.False(t, client.VerifyWebhookSignature(body, "deadbeef"))
	assert.False(t, client.VerifyWebhookSignature(body, ""))
	assert.False(t, client.VerifyWebhookSignature([]byte("tampered"), valid))

	t.Run("missing secret never verifies", func(t *testing.T) {
		bare := &HTTPClient{}
		assert.False(t, bare.VerifyWebhookSignature(body, valid))
	})
}

func TestNewHTTPClient_Defaults(t *testing.T) {
	viper.Reset()

	t.Run("configured timeout is used", func(t *testing.T) {
		client := NewHTTPClient(25 * time.Second)

		assert.Equal(t, "https://api.gateway.example.com/v1", client.baseURL)
		assert.Equal(t, 25*time.Second, client.client.Timeout)
	})

	t.Run("non-positive timeout falls back to default", func(t *testing.T) {
		client := NewHTTPClient(0)

		assert.Equal(t, 10*time.Second, client.client.Timeout)
	})
}
