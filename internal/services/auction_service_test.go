package services

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/sayartak/backend/internal/config"
	"github.com/stretchr/testify/assert"
)

// afterTime matches any timestamp argument strictly after the reference.
type afterTime struct {
	ref time.Time
}

func (a afterTime) Match(v driver.Value) bool {
	ts, ok := v.(time.Time)
	return ok && ts.After(a.ref)
}

func testAuctionConfig() *config.AuctionConfig {
	return &config.AuctionConfig{
		DepositAmount:        200,
		Currency:             "SAR",
		DefaultBidIncrement:  500,
		DefaultAutoExtendMin: 5,
	}
}

func newAuctionService(db *sql.DB) *AuctionService {
	cfg := testAuctionConfig()
	deposits := NewDepositService(db, nil, nil, cfg)
	return NewAuctionService(db, deposits, NewNotificationService(db), cfg)
}

func newBidRequest(t *testing.T, listingID, userID string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	assert.NoError(t, err)

	r := httptest.NewRequest("POST", "/listings/"+listingID+"/bids", bytes.NewBuffer(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("listingId", listingID)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, "userID", userID)
	return r.WithContext(ctx)
}

func expectListingLock(mock sqlmock.Sqlmock, listingID string, sellerID int, saleType, status string, price, increment int64, start, end any, extendMin int, currentBid any) {
	mock.ExpectQuery("SELECT seller_id, sale_type, status, price, bid_increment").
		WithArgs(listingID).
		WillReturnRows(sqlmock.NewRows([]string{
			"seller_id", "sale_type", "status", "price", "bid_increment",
			"auction_start_date", "auction_end_date", "auto_extend_minutes", "current_bid",
		}).AddRow(sellerID, saleType, status, price, increment, start, end, extendMin, currentBid))
}

func expectGrandfathered(mock sqlmock.Sqlmock, listingID string, userID int, prior bool) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM bids")).
		WithArgs(listingID, userID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(prior))
}

func expectDepositStatus(mock sqlmock.Sqlmock, listingID string, userID int, status string) {
	mock.ExpectQuery("SELECT status FROM deposits").
		WithArgs(listingID, userID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(status))
}

func TestAuctionService_PlaceBid_FloorAndIncrement(t *testing.T) {
	listingID := "7b1c3c2a-0000-4000-8000-000000000001"
	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(time.Hour)

	t.Run("bid below floor plus increment is rejected", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newAuctionService(db)

		mock.ExpectBegin()
		expectListingLock(mock, listingID, 1, "AUCTION", "APPROVED", 100000, 500, start, end, 5, nil)
		expectGrandfathered(mock, listingID, 9, false)
		expectDepositStatus(mock, listingID, 9, "PAID")
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		service.PlaceBid(w, newBidRequest(t, listingID, "9", map[string]any{"amount": 100400}))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "BID_TOO_LOW", resp.Code)
		assert.Contains(t, resp.Error, "100500")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("bid meeting floor plus increment is committed", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newAuctionService(db)

		mock.ExpectBegin()
		expectListingLock(mock, listingID, 1, "AUCTION", "APPROVED", 100000, 500, start, end, 5, nil)
		expectGrandfathered(mock, listingID, 9, false)
		expectDepositStatus(mock, listingID, 9, "PAID")
		mock.ExpectExec("INSERT INTO bids").
			WithArgs(sqlmock.AnyArg(), listingID, 9, 100500, nil, false, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE listings").
			WithArgs(100500, sqlmock.AnyArg(), listingID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery("SELECT name FROM users").
			WithArgs(9).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Faisal"))

		w := httptest.NewRecorder()
		service.PlaceBid(w, newBidRequest(t, listingID, "9", map[string]any{"amount": 100500}))

		assert.Equal(t, http.StatusCreated, w.Code)
		var resp map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(100500), resp["amount"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("floor follows the current highest bid", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newAuctionService(db)

		mock.ExpectBegin()
		expectListingLock(mock, listingID, 1, "AUCTION", "APPROVED", 100000, 500, start, end, 5, 120000)
		expectGrandfathered(mock, listingID, 9, true)
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		service.PlaceBid(w, newBidRequest(t, listingID, "9", map[string]any{"amount": 120400}))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "BID_TOO_LOW", resp.Code)
		assert.Contains(t, resp.Error, "120500")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuctionService_PlaceBid_PolicyChecks(t *testing.T) {
	listingID := "7b1c3c2a-0000-4000-8000-000000000002"
	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(time.Hour)

	cases := []struct {
		name     string
		sellerID int
		saleType string
		status   string
		start    any
		end      any
		wantCode string
	}{
		{"direct sale listing", 1, "DIRECT_SALE", "APPROVED", start, end, "NOT_AN_AUCTION"},
		{"unapproved listing", 1, "AUCTION", "PENDING", start, end, "NOT_APPROVED"},
		{"auction not started", 1, "AUCTION", "APPROVED", time.Now().UTC().Add(time.Hour), time.Now().UTC().Add(2 * time.Hour), "AUCTION_INACTIVE"},
		{"auction ended", 1, "AUCTION", "APPROVED", time.Now().UTC().Add(-2 * time.Hour), time.Now().UTC().Add(-time.Hour), "AUCTION_INACTIVE"},
		{"seller bidding on own listing", 9, "AUCTION", "APPROVED", start, end, "SELF_BID"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			assert.NoError(t, err)
			defer db.Close()
			service := newAuctionService(db)

			mock.ExpectBegin()
			expectListingLock(mock, listingID, tc.sellerID, tc.saleType, tc.status, 100000, 500, tc.start, tc.end, 5, nil)
			mock.ExpectRollback()

			w := httptest.NewRecorder()
			service.PlaceBid(w, newBidRequest(t, listingID, "9", map[string]any{"amount": 100500}))

			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			var resp ErrorResponse
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantCode, resp.Code)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("deposit required without prior bid or paid deposit", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newAuctionService(db)

		mock.ExpectBegin()
		expectListingLock(mock, listingID, 1, "AUCTION", "APPROVED", 100000, 500, start, end, 5, nil)
		expectGrandfathered(mock, listingID, 9, false)
		expectDepositStatus(mock, listingID, 9, "PENDING")
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		service.PlaceBid(w, newBidRequest(t, listingID, "9", map[string]any{"amount": 100500}))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "DEPOSIT_REQUIRED", resp.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maxBid below bid amount is rejected", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newAuctionService(db)

		mock.ExpectBegin()
		expectListingLock(mock, listingID, 1, "AUCTION", "APPROVED", 100000, 500, start, end, 5, nil)
		expectGrandfathered(mock, listingID, 9, true)
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		service.PlaceBid(w, newBidRequest(t, listingID, "9", map[string]any{"amount": 100500, "maxBid": 100000}))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "INVALID_MAX_BID", resp.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown listing returns 404", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newAuctionService(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT seller_id, sale_type, status, price, bid_increment").
			WithArgs(listingID).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		service.PlaceBid(w, newBidRequest(t, listingID, "9", map[string]any{"amount": 100500}))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid request body", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newAuctionService(db)

		r := httptest.NewRequest("POST", "/listings/"+listingID+"/bids", bytes.NewBufferString("not json"))
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("listingId", listingID)
		ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
		ctx = context.WithValue(ctx, "userID", "9")

		w := httptest.NewRecorder()
		service.PlaceBid(w, r.WithContext(ctx))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuctionService_PlaceBid_AntiSnipe(t *testing.T) {
	listingID := "7b1c3c2a-0000-4000-8000-000000000003"
	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(2 * time.Minute)

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	service := newAuctionService(db)

	mock.ExpectBegin()
	expectListingLock(mock, listingID, 1, "AUCTION", "APPROVED", 100000, 500, start, end, 5, nil)
	expectGrandfathered(mock, listingID, 9, true)
	mock.ExpectExec("INSERT INTO bids").
		WithArgs(sqlmock.AnyArg(), listingID, 9, 100500, nil, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// A bid two minutes before the close must push the end past the old one.
	mock.ExpectExec("UPDATE listings").
		WithArgs(100500, afterTime{ref: end}, listingID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT name FROM users").
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Faisal"))

	w := httptest.NewRecorder()
	service.PlaceBid(w, newBidRequest(t, listingID, "9", map[string]any{"amount": 100500}))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuctionService_PlaceBid_RetriesConflictOnce(t *testing.T) {
	listingID := "7b1c3c2a-0000-4000-8000-000000000004"
	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(time.Hour)

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	service := newAuctionService(db)

	// First attempt loses a serialization race.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT seller_id, sale_type, status, price, bid_increment").
		WithArgs(listingID).
		WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()

	// The retry re-reads the floor the winner set and succeeds.
	mock.ExpectBegin()
	expectListingLock(mock, listingID, 1, "AUCTION", "APPROVED", 100000, 500, start, end, 5, 100500)
	expectGrandfathered(mock, listingID, 9, true)
	mock.ExpectExec("INSERT INTO bids").
		WithArgs(sqlmock.AnyArg(), listingID, 9, 101000, nil, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE listings").
		WithArgs(101000, sqlmock.AnyArg(), listingID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT name FROM users").
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Faisal"))

	w := httptest.NewRecorder()
	service.PlaceBid(w, newBidRequest(t, listingID, "9", map[string]any{"amount": 101000}))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuctionService_GetHighestBid(t *testing.T) {
	listingID := "7b1c3c2a-0000-4000-8000-000000000005"

	t.Run("returns the winning bid", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newAuctionService(db)

		created := time.Now().UTC()
		mock.ExpectQuery("SELECT b.id, b.listing_id, b.user_id, b.amount").
			WithArgs(listingID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "listing_id", "user_id", "amount", "max_bid", "is_auto_bid", "created_at", "name"}).
				AddRow("bid-1", listingID, 9, 120000, nil, false, created, "Faisal"))

		r := httptest.NewRequest("GET", "/listings/"+listingID+"/bids/highest", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("listingId", listingID)
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

		w := httptest.NewRecorder()
		service.GetHighestBid(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(120000), resp["amount"])
		assert.Equal(t, "Faisal", resp["bidderName"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no bids returns 404", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newAuctionService(db)

		mock.ExpectQuery("SELECT b.id, b.listing_id, b.user_id, b.amount").
			WithArgs(listingID).
			WillReturnError(sql.ErrNoRows)

		r := httptest.NewRequest("GET", "/listings/"+listingID+"/bids/highest", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("listingId", listingID)
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

		w := httptest.NewRecorder()
		service.GetHighestBid(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
