package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foldmarkets/settld/internal/domain"
	"github.com/foldmarkets/settld/internal/numeric"
)

// CancelOrder cancels a resting order. Only the owner may cancel; a second
// cancel of the same order is a no-op.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID, accountID string) (domain.Order, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Order{}, fmt.Errorf("ledger: cancel order: %v: %w", err, domain.ErrTimeout)
		}

		order, err := c.store.GetOrder(ctx, orderID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("ledger: get order %s: %w", orderID, err)
		}
		if order.AccountID != accountID {
			return domain.Order{}, fmt.Errorf("ledger: order %s belongs to another account: %w",
				orderID, domain.ErrNotOwner)
		}

		switch order.Status {
		case domain.OrderStatusCancelled:
			return order, nil
		case domain.OrderStatusFilled:
			return domain.Order{}, fmt.Errorf("ledger: order %s already filled: %w",
				orderID, domain.ErrInvalidOrder)
		}

		order.Status = domain.OrderStatusCancelled
		order.UpdatedAt = c.now()

		err = c.store.CommitCancel(ctx, order)
		if err == nil {
			c.logger.InfoContext(ctx, "order cancelled",
				slog.String("order_id", orderID),
				slog.String("account_id", accountID),
			)
			return order, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Order{}, fmt.Errorf("ledger: commit cancel: %w", err)
		}
		if attempt >= c.maxAttempts {
			return domain.Order{}, fmt.Errorf("ledger: cancel order: gave up after %d attempts: %w",
				attempt, domain.ErrContention)
		}
	}
}

// RedeemShares nets opposing share pairs back to cash: holding n YES and n
// NO of the same pool is worth exactly n regardless of the outcome, so the
// pairs are burned and the account credited. Idempotent; an account with
// nothing to net is a no-op. Returns the amount credited.
func (c *Coordinator) RedeemShares(ctx context.Context, accountID, marketID string) (float64, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("ledger: redeem: %v: %w", err, domain.ErrTimeout)
		}

		credited, err := c.tryRedeem(ctx, accountID, marketID)
		if err == nil {
			return credited, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return 0, err
		}
		if attempt >= c.maxAttempts {
			return 0, fmt.Errorf("ledger: redeem: gave up after %d attempts: %w",
				attempt, domain.ErrContention)
		}
	}
}

func (c *Coordinator) tryRedeem(ctx context.Context, accountID, marketID string) (float64, error) {
	now := c.now()

	market, err := c.store.GetMarket(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("ledger: get market %s: %w", marketID, err)
	}
	account, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("ledger: get account %s: %w", accountID, err)
	}
	positions, err := c.store.ListPositions(ctx, accountID, marketID)
	if err != nil {
		return 0, fmt.Errorf("ledger: list positions: %w", err)
	}

	type pair struct{ yes, no float64 }
	byAnswer := map[string]pair{}
	for _, pos := range positions {
		p := byAnswer[pos.AnswerID]
		if pos.Outcome == domain.OutcomeYes {
			p.yes += pos.Shares
		} else {
			p.no += pos.Shares
		}
		byAnswer[pos.AnswerID] = p
	}

	commit := domain.RedemptionCommit{
		AccountID:      accountID,
		Market:         market,
		AccountVersion: account.Version,
	}
	commit.Market.UpdatedAt = now

	var credited float64
	for answerID, p := range byAnswer {
		net := p.yes
		if p.no < net {
			net = p.no
		}
		if net <= numeric.Epsilon {
			continue
		}
		credited += net
		commit.PositionDeltas = append(commit.PositionDeltas,
			domain.PositionDelta{AccountID: accountID, MarketID: marketID, AnswerID: answerID, Outcome: domain.OutcomeYes, Shares: -net},
			domain.PositionDelta{AccountID: accountID, MarketID: marketID, AnswerID: answerID, Outcome: domain.OutcomeNo, Shares: -net},
		)
		commit.Trades = append(commit.Trades, domain.Trade{
			ID:             c.newID(),
			Kind:           domain.TradeKindRedemption,
			MarketID:       marketID,
			AnswerID:       answerID,
			TakerAccountID: accountID,
			MakerAccountID: domain.PoolCounterparty,
			Amount:         net,
			Shares:         net,
			Price:          1,
			CreatedAt:      now,
		})
	}

	if credited == 0 {
		return 0, nil
	}
	commit.CreditUnits = numeric.ToUnits(credited)

	if err := c.store.CommitRedemption(ctx, commit); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return 0, err
		}
		return 0, fmt.Errorf("ledger: commit redemption: %w", err)
	}

	c.logger.InfoContext(ctx, "shares redeemed",
		slog.String("account_id", accountID),
		slog.String("market_id", marketID),
		slog.Float64("credited", credited),
	)
	return credited, nil
}

// RetryWorker drains the redemption stream, re-running failed redemption
// fan-outs until each one lands. At-least-once: a redemption replayed after
// success nets zero and commits nothing.
type RetryWorker struct {
	coord    *Coordinator
	bus      domain.SignalBus
	logger   *slog.Logger
	interval time.Duration
	lastID   string
}

// NewRetryWorker creates a worker polling the redemption stream.
func NewRetryWorker(coord *Coordinator, bus domain.SignalBus, logger *slog.Logger, interval time.Duration) *RetryWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &RetryWorker{
		coord:    coord,
		bus:      bus,
		logger:   logger.With(slog.String("component", "redemption_worker")),
		interval: interval,
		lastID:   "0",
	}
}

// Run polls until the context is cancelled.
func (w *RetryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drain(ctx); err != nil {
				w.logger.WarnContext(ctx, "drain failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (w *RetryWorker) drain(ctx context.Context) error {
	msgs, err := w.bus.StreamRead(ctx, RedemptionStream, w.lastID, 64)
	if err != nil {
		return fmt.Errorf("ledger: read redemption stream: %w", err)
	}

	for _, msg := range msgs {
		var req RedemptionRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			w.logger.WarnContext(ctx, "bad redemption payload, skipping",
				slog.String("stream_id", msg.ID),
				slog.String("error", err.Error()),
			)
			w.lastID = msg.ID
			continue
		}

		if _, err := w.coord.RedeemShares(ctx, req.AccountID, req.MarketID); err != nil {
			// Leave lastID where it is so the entry is retried next tick.
			return fmt.Errorf("ledger: retry redemption %s/%s: %w", req.AccountID, req.MarketID, err)
		}
		w.lastID = msg.ID
	}
	return nil
}
