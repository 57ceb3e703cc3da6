package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldmarkets/settld/internal/domain"
	"github.com/foldmarkets/settld/internal/ledger"
	"github.com/foldmarkets/settld/internal/numeric"
	"github.com/foldmarkets/settld/internal/server/handler"
	"github.com/foldmarkets/settld/internal/store/memory"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	require.NoError(t, store.Create(context.Background(), domain.Market{
		ID:        "m1",
		Mechanism: domain.WeightedPool{Yes: 100, No: 100, P: 0.5},
		CloseTime: t0.Add(24 * time.Hour),
		Status:    domain.MarketStatusOpen,
		CreatedAt: t0,
	}))
	require.NoError(t, store.CreateAccount(context.Background(), domain.Account{
		ID:           "alice",
		BalanceUnits: numeric.ToUnits(1000),
		CreatedAt:    t0,
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := ledger.New(store, logger).
		WithClock(func() time.Time { return t0.Add(time.Hour) })

	handlers := Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Markets:  handler.NewMarketHandler(store.MarketStore(), store, coord, logger),
		Orders:   handler.NewOrderHandler(coord, logger),
		Accounts: handler.NewAccountHandler(store.AccountStore(), store, store.OrderStore(), logger),
	}

	return NewServer(Config{Port: 0}, handlers, nil, nil, logger), store
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestPlaceOrderEndpoint(t *testing.T) {
	srv, store := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/orders", map[string]any{
		"account_id": "alice",
		"market_id":  "m1",
		"outcome":    "YES",
		"side":       "buy",
		"amount":     10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var order struct {
		ID           string  `json:"id"`
		Status       string  `json:"status"`
		FilledShares float64 `json:"filled_shares"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "filled", order.Status)
	assert.Greater(t, order.FilledShares, 10.0)

	account, err := store.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.InDelta(t, 990, account.Balance(), 1e-9)
}

func TestPlaceOrderEndpointRejectsBadBody(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/orders", map[string]any{
		"account_id": "alice",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceOrderEndpointMapsDomainErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	// Amount beyond alice's balance.
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/orders", map[string]any{
		"account_id": "alice",
		"market_id":  "m1",
		"outcome":    "YES",
		"side":       "buy",
		"amount":     5000,
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Unknown market.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/orders", map[string]any{
		"account_id": "alice",
		"market_id":  "nope",
		"outcome":    "YES",
		"side":       "buy",
		"amount":     10,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrderEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	limit := 0.4
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/orders", map[string]any{
		"account_id": "alice",
		"market_id":  "m1",
		"outcome":    "YES",
		"side":       "buy",
		"amount":     10,
		"limit_prob": limit,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var order struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	require.Equal(t, "open", order.Status)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/orders/"+order.ID+"?account_id=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var cancelled struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, order.ID, cancelled.ID)
	assert.Equal(t, "cancelled", cancelled.Status)

	// A second cancel is a no-op and returns the same cancelled order.
	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/orders/"+order.ID+"?account_id=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, "cancelled", cancelled.Status)

	// Cancelling with the wrong account is forbidden.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/orders", map[string]any{
		"account_id": "alice",
		"market_id":  "m1",
		"outcome":    "YES",
		"side":       "buy",
		"amount":     10,
		"limit_prob": limit,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/orders/"+order.ID+"?account_id=mallory", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetMarketEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/markets/m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var market struct {
		ID          string   `json:"id"`
		Mechanism   string   `json:"mechanism"`
		Probability *float64 `json:"probability"`
		Status      string   `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &market))
	assert.Equal(t, "m1", market.ID)
	assert.Equal(t, "weighted-cpmm", market.Mechanism)
	require.NotNil(t, market.Probability)
	assert.InDelta(t, 0.5, *market.Probability, 1e-9)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/markets/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAccountEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/orders", map[string]any{
		"account_id": "alice",
		"market_id":  "m1",
		"outcome":    "YES",
		"side":       "buy",
		"amount":     10,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/accounts/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var account struct {
		ID        string            `json:"id"`
		Balance   float64           `json:"balance"`
		Positions []domain.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
	assert.Equal(t, "alice", account.ID)
	assert.InDelta(t, 990, account.Balance, 1e-9)
	require.Len(t, account.Positions, 1)
	assert.Equal(t, domain.OutcomeYes, account.Positions[0].Outcome)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/accounts/nobody", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRedeemEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/markets/m1/redeem", map[string]any{
		"account_id": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Credited float64 `json:"credited"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	// Nothing to net; redemption is a no-op, not an error.
	assert.Zero(t, body.Credited)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/markets/m1/redeem", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
