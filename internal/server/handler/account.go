package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/foldmarkets/settld/internal/domain"
)

// PositionStore is the read surface the account handler needs for holdings.
type PositionStore interface {
	ListPositions(ctx context.Context, accountID, marketID string) ([]domain.Position, error)
}

// AccountHandler serves account balance and holdings reads.
type AccountHandler struct {
	accounts  domain.AccountStore
	positions PositionStore
	orders    domain.OrderStore
	logger    *slog.Logger
}

// NewAccountHandler creates an AccountHandler with the given stores.
func NewAccountHandler(accounts domain.AccountStore, positions PositionStore, orders domain.OrderStore, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts:  accounts,
		positions: positions,
		orders:    orders,
		logger:    logger,
	}
}

// accountView is the wire shape of an account with its holdings and open
// orders.
type accountView struct {
	ID        string            `json:"id"`
	Balance   float64           `json:"balance"`
	Positions []domain.Position `json:"positions"`
	Orders    []orderView       `json:"orders"`
}

// GetAccount returns the account's balance, positions, and open orders. The
// market_id query parameter narrows positions to one market.
// GET /api/v1/accounts/{id}?market_id=...
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	account, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	positions, err := h.positions.ListPositions(r.Context(), id, r.URL.Query().Get("market_id"))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed",
			slog.String("account_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}

	orders, err := h.orders.ListByAccount(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list orders failed",
			slog.String("account_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, viewOrder(o))
	}

	writeJSON(w, http.StatusOK, accountView{
		ID:        account.ID,
		Balance:   account.Balance(),
		Positions: positions,
		Orders:    views,
	})
}
