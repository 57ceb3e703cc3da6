package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/foldmarkets/settld/internal/cpmm"
	"github.com/foldmarkets/settld/internal/domain"
)

// Redeemer nets opposing share pairs into cash for one account.
type Redeemer interface {
	RedeemShares(ctx context.Context, accountID, marketID string) (float64, error)
}

// MarketHandler serves market reads and redemption.
type MarketHandler struct {
	markets  domain.MarketStore
	trades   domain.TradeStore
	redeemer Redeemer
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given stores and logger.
func NewMarketHandler(markets domain.MarketStore, trades domain.TradeStore, redeemer Redeemer, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:  markets,
		trades:   trades,
		redeemer: redeemer,
		logger:   logger,
	}
}

// marketView is the wire shape of a market, pool internals replaced by the
// implied probabilities they encode.
type marketView struct {
	ID              string              `json:"id"`
	Mechanism       string              `json:"mechanism"`
	Probability     *float64            `json:"probability,omitempty"`
	Answers         []answerView        `json:"answers,omitempty"`
	Volume          float64             `json:"volume"`
	CollectedFees   float64             `json:"collected_fees"`
	CloseTime       *time.Time          `json:"close_time,omitempty"`
	Status          domain.MarketStatus `json:"status"`
	ResolvedOutcome string              `json:"resolved_outcome,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// answerView carries one answer's implied probability in a multi-pool
// market.
type answerView struct {
	AnswerID    string  `json:"answer_id"`
	Probability float64 `json:"probability"`
}

func viewMarket(m domain.Market) marketView {
	v := marketView{
		ID:              m.ID,
		Mechanism:       string(m.Mechanism.Kind()),
		Volume:          m.Volume,
		CollectedFees:   m.CollectedFees.Total(),
		Status:          m.Status,
		ResolvedOutcome: m.ResolvedOutcome,
		CreatedAt:       m.CreatedAt,
	}
	if !m.CloseTime.IsZero() {
		t := m.CloseTime
		v.CloseTime = &t
	}

	if answers := m.AnswerIDs(); answers != nil {
		sort.Strings(answers)
		for _, id := range answers {
			pricer, err := cpmm.ForMarket(m, id)
			if err != nil {
				continue
			}
			v.Answers = append(v.Answers, answerView{
				AnswerID:    id,
				Probability: pricer.Prob(domain.OutcomeYes),
			})
		}
	} else if pricer, err := cpmm.ForMarket(m, ""); err == nil {
		p := pricer.Prob(domain.OutcomeYes)
		v.Probability = &p
	}

	return v
}

// ListMarkets returns open markets with pagination.
// GET /api/v1/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListOpen(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list markets failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	views := make([]marketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, viewMarket(m))
	}

	writeJSON(w, http.StatusOK, map[string]any{"markets": views})
}

// GetMarket returns a single market by its ID.
// GET /api/v1/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, viewMarket(market))
}

// ListTrades returns the market's recent trades, newest first.
// GET /api/v1/markets/{id}/trades?limit=50&offset=0
func (h *MarketHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	trades, err := h.trades.ListByMarket(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// redeemRequest is the JSON body for redemption.
type redeemRequest struct {
	AccountID string `json:"account_id"`
}

// Redeem nets the account's opposing share pairs on the market into cash.
// Redeeming with nothing to net is a successful no-op.
// POST /api/v1/markets/{id}/redeem
func (h *MarketHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	credited, err := h.redeemer.RedeemShares(r.Context(), req.AccountID, id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "redeem failed",
			slog.String("market_id", id),
			slog.String("account_id", req.AccountID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":  id,
		"account_id": req.AccountID,
		"credited":   credited,
	})
}
