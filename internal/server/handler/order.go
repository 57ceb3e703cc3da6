package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/foldmarkets/settld/internal/domain"
	"github.com/foldmarkets/settld/internal/ledger"
)

// OrderService defines the methods that the order handler requires from the
// settlement layer. It is declared locally so the handler package does not
// depend on the concrete coordinator.
type OrderService interface {
	PlaceOrder(ctx context.Context, p ledger.PlaceOrderParams) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID, accountID string) (domain.Order, error)
}

// OrderHandler serves order placement and cancellation.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

// placeOrderRequest is the JSON body for order placement. Amount is the
// payment for buys and the share quantity for sells.
type placeOrderRequest struct {
	AccountID string     `json:"account_id"`
	MarketID  string     `json:"market_id"`
	AnswerID  string     `json:"answer_id,omitempty"`
	Outcome   string     `json:"outcome"`
	Side      string     `json:"side"`
	Amount    float64    `json:"amount"`
	LimitProb *float64   `json:"limit_prob,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// orderView is the wire shape of a committed order.
type orderView struct {
	ID           string             `json:"id"`
	AccountID    string             `json:"account_id"`
	MarketID     string             `json:"market_id"`
	AnswerID     string             `json:"answer_id,omitempty"`
	Outcome      domain.Outcome     `json:"outcome"`
	Side         domain.OrderSide   `json:"side"`
	Amount       float64            `json:"amount"`
	LimitProb    *float64           `json:"limit_prob,omitempty"`
	Status       domain.OrderStatus `json:"status"`
	FilledAmount float64            `json:"filled_amount"`
	FilledShares float64            `json:"filled_shares"`
	Fills        []domain.Fill      `json:"fills"`
	ExpiresAt    *time.Time         `json:"expires_at,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

func viewOrder(o domain.Order) orderView {
	fills := o.Fills
	if fills == nil {
		fills = []domain.Fill{}
	}
	return orderView{
		ID:           o.ID,
		AccountID:    o.AccountID,
		MarketID:     o.MarketID,
		AnswerID:     o.AnswerID,
		Outcome:      o.Outcome,
		Side:         o.Side,
		Amount:       o.Amount(),
		LimitProb:    o.LimitProb,
		Status:       o.Status,
		FilledAmount: o.FilledAmount(),
		FilledShares: o.FilledShares(),
		Fills:        fills,
		ExpiresAt:    o.ExpiresAt,
		CreatedAt:    o.CreatedAt,
	}
}

// PlaceOrder settles a new order from a JSON body.
// POST /api/v1/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.AccountID == "" || req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "account_id and market_id are required")
		return
	}

	order, err := h.orders.PlaceOrder(r.Context(), ledger.PlaceOrderParams{
		AccountID: req.AccountID,
		MarketID:  req.MarketID,
		AnswerID:  req.AnswerID,
		Outcome:   domain.Outcome(req.Outcome),
		Side:      domain.OrderSide(req.Side),
		Amount:    req.Amount,
		LimitProb: req.LimitProb,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "place order failed",
			slog.String("market_id", req.MarketID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, viewOrder(order))
}

// CancelOrder cancels a resting order. The caller proves ownership by
// passing its account id; cancelling an already cancelled order is a no-op.
// DELETE /api/v1/orders/{id}?account_id=...
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id query parameter required")
		return
	}

	order, err := h.orders.CancelOrder(r.Context(), id, accountID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "cancel order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, viewOrder(order))
}
