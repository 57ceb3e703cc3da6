// Package ledger is the transaction coordinator: the only writer of
// balances, positions, orders, and pool state. It reads a consistent
// snapshot, runs the pure matching engine over it, validates every
// invariant, and commits the full result atomically under optimistic
// version guards. A concurrent commit invalidates the snapshot and the
// whole read-compute-commit cycle is retried from scratch.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/foldmarkets/settld/internal/cpmm"
	"github.com/foldmarkets/settld/internal/domain"
	"github.com/foldmarkets/settld/internal/engine"
	"github.com/foldmarkets/settld/internal/numeric"
)

const (
	// defaultMaxAttempts bounds the optimistic retry loop before the
	// caller sees ErrContention.
	defaultMaxAttempts = 5

	// FillChannel carries fire-and-forget fill events for subscribers.
	FillChannel = "fills"

	// TradeStream is the durable stream the archiver drains.
	TradeStream = "trades"

	// RedemptionStream queues failed redemption fan-outs for the retry
	// worker.
	RedemptionStream = "redemptions"
)

// Coordinator settles orders against a versioned ledger store.
type Coordinator struct {
	store  domain.LedgerStore
	bus    domain.SignalBus
	probs  domain.ProbabilityCache
	logger *slog.Logger

	now         func() time.Time
	newID       func() string
	maxAttempts int
}

// New creates a Coordinator. The signal bus and probability cache are
// optional; without them commits succeed silently with no event fan-out.
func New(store domain.LedgerStore, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:       store,
		logger:      logger.With(slog.String("component", "ledger")),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		maxAttempts: defaultMaxAttempts,
	}
}

// WithSignalBus attaches the event bus used for fill events, the trade
// stream, and the redemption retry queue.
func (c *Coordinator) WithSignalBus(bus domain.SignalBus) *Coordinator {
	c.bus = bus
	return c
}

// WithProbabilityCache attaches the cache refreshed after every commit.
func (c *Coordinator) WithProbabilityCache(p domain.ProbabilityCache) *Coordinator {
	c.probs = p
	return c
}

// WithClock overrides the time source.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// WithIDSource overrides the id generator.
func (c *Coordinator) WithIDSource(f func() string) *Coordinator {
	c.newID = f
	return c
}

// WithMaxAttempts overrides the optimistic retry bound.
func (c *Coordinator) WithMaxAttempts(n int) *Coordinator {
	if n > 0 {
		c.maxAttempts = n
	}
	return c
}

// PlaceOrderParams describes one incoming order. Amount is the payment for
// buys and the share quantity for sells. LimitProb, when set, is the
// YES-probability bound the order will not trade past; without it the order
// takes available liquidity and must fill completely.
type PlaceOrderParams struct {
	AccountID string
	MarketID  string
	AnswerID  string
	Outcome   domain.Outcome
	Side      domain.OrderSide
	Amount    float64
	LimitProb *float64
	ExpiresAt *time.Time
}

func (p PlaceOrderParams) validate() error {
	if p.AccountID == "" || p.MarketID == "" {
		return fmt.Errorf("ledger: missing account or market id: %w", domain.ErrInvalidOrder)
	}
	if !p.Outcome.Valid() {
		return fmt.Errorf("ledger: outcome %q: %w", p.Outcome, domain.ErrInvalidOrder)
	}
	if p.Side != domain.OrderSideBuy && p.Side != domain.OrderSideSell {
		return fmt.Errorf("ledger: side %q: %w", p.Side, domain.ErrInvalidOrder)
	}
	if !numeric.IsFinitePositive(p.Amount) {
		return fmt.Errorf("ledger: amount %g: %w", p.Amount, domain.ErrInvalidOrder)
	}
	if p.LimitProb != nil {
		lp := *p.LimitProb
		if !numeric.IsFinite(lp) || lp <= 0 || lp >= 1 {
			return fmt.Errorf("ledger: limit probability %g: %w", lp, domain.ErrInvalidOrder)
		}
		// Limits are quoted at 0.01 granularity; reject rather than round.
		if !numeric.Equal(lp*100, math.Round(lp*100)) {
			return fmt.Errorf("ledger: limit probability %g not a whole percent: %w", lp, domain.ErrInvalidOrder)
		}
		if p.Side == domain.OrderSideSell {
			return fmt.Errorf("ledger: sells cannot carry a limit: %w", domain.ErrInvalidOrder)
		}
	}
	if p.ExpiresAt != nil && p.LimitProb == nil {
		return fmt.Errorf("ledger: expiry requires a limit: %w", domain.ErrInvalidOrder)
	}
	return nil
}

// PlaceOrder settles one order end to end and returns the committed order
// record, fills included. Conflicting concurrent commits are retried up to
// the attempt bound, after which the caller sees ErrContention.
func (c *Coordinator) PlaceOrder(ctx context.Context, p PlaceOrderParams) (domain.Order, error) {
	if err := p.validate(); err != nil {
		return domain.Order{}, err
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Order{}, fmt.Errorf("ledger: place order: %v: %w", err, domain.ErrTimeout)
		}

		order, err := c.tryPlace(ctx, p)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Order{}, err
		}
		if attempt >= c.maxAttempts {
			return domain.Order{}, fmt.Errorf("ledger: place order: gave up after %d attempts: %w",
				attempt, domain.ErrContention)
		}
		c.logger.DebugContext(ctx, "commit conflict, retrying",
			slog.String("market_id", p.MarketID),
			slog.Int("attempt", attempt),
		)
	}
}

// SellShares liquidates a held position. Equivalent to PlaceOrder with
// side sell.
func (c *Coordinator) SellShares(ctx context.Context, accountID, marketID, answerID string, outcome domain.Outcome, shares float64) (domain.Order, error) {
	return c.PlaceOrder(ctx, PlaceOrderParams{
		AccountID: accountID,
		MarketID:  marketID,
		AnswerID:  answerID,
		Outcome:   outcome,
		Side:      domain.OrderSideSell,
		Amount:    shares,
	})
}

// snapshot is one consistent read of everything a settlement touches.
type snapshot struct {
	market    domain.Market
	pricer    cpmm.Pricer
	taker     domain.Account
	resting   []domain.Order
	makers    map[string]domain.Account
	balances  map[string]float64
	positions []domain.Position // loaded for sells only
}

func (c *Coordinator) readSnapshot(ctx context.Context, p PlaceOrderParams, now time.Time) (snapshot, error) {
	market, err := c.store.GetMarket(ctx, p.MarketID)
	if err != nil {
		return snapshot{}, fmt.Errorf("ledger: get market %s: %w", p.MarketID, err)
	}
	if !market.OpenForTrading(now) {
		return snapshot{}, fmt.Errorf("ledger: market %s: %w", p.MarketID, domain.ErrMarketClosed)
	}

	pricer, err := cpmm.ForMarket(market, p.AnswerID)
	if err != nil {
		return snapshot{}, err
	}

	// Plain constant-product pools price an outcome against the sum of
	// both reserves, which does not order against resting limit prices.
	// Those markets trade against the pool alone.
	if _, ok := market.Mechanism.(domain.SimplePool); ok && p.LimitProb != nil {
		return snapshot{}, fmt.Errorf("ledger: market %s does not accept limit orders: %w",
			p.MarketID, domain.ErrInvalidOrder)
	}

	taker, err := c.store.GetAccount(ctx, p.AccountID)
	if err != nil {
		return snapshot{}, fmt.Errorf("ledger: get account %s: %w", p.AccountID, err)
	}

	resting, err := c.store.ListOpenOrders(ctx, p.MarketID, p.AnswerID)
	if err != nil {
		return snapshot{}, fmt.Errorf("ledger: list open orders: %w", err)
	}

	makerIDs := make([]string, 0, len(resting))
	seen := map[string]bool{p.AccountID: true}
	for _, o := range resting {
		if !seen[o.AccountID] {
			seen[o.AccountID] = true
			makerIDs = append(makerIDs, o.AccountID)
		}
	}
	makers, err := c.store.GetAccounts(ctx, makerIDs)
	if err != nil {
		return snapshot{}, fmt.Errorf("ledger: get maker accounts: %w", err)
	}

	balances := make(map[string]float64, len(makers))
	for id, a := range makers {
		balances[id] = a.Balance()
	}

	var positions []domain.Position
	if p.Side == domain.OrderSideSell {
		positions, err = c.store.ListPositions(ctx, p.AccountID, p.MarketID)
		if err != nil {
			return snapshot{}, fmt.Errorf("ledger: list positions: %w", err)
		}
	}

	return snapshot{
		market:    market,
		pricer:    pricer,
		taker:     taker,
		resting:   resting,
		makers:    makers,
		balances:  balances,
		positions: positions,
	}, nil
}

func (c *Coordinator) tryPlace(ctx context.Context, p PlaceOrderParams) (domain.Order, error) {
	now := c.now()

	snap, err := c.readSnapshot(ctx, p, now)
	if err != nil {
		return domain.Order{}, err
	}

	var commit domain.TradeCommit
	if p.Side == domain.OrderSideSell {
		commit, err = c.buildSale(p, snap, now)
	} else {
		commit, err = c.buildPurchase(p, snap, now)
	}
	if err != nil {
		return domain.Order{}, err
	}

	if err := c.checkCommit(snap, commit); err != nil {
		return domain.Order{}, err
	}

	if err := c.store.CommitTrade(ctx, commit); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("ledger: commit trade: %w", err)
	}

	c.logger.InfoContext(ctx, "order settled",
		slog.String("order_id", commit.TakerOrder.ID),
		slog.String("market_id", p.MarketID),
		slog.String("outcome", string(p.Outcome)),
		slog.String("side", string(p.Side)),
		slog.Float64("amount", p.Amount),
		slog.Float64("filled", commit.TakerOrder.FilledAmount()),
		slog.Int("maker_fills", len(commit.MakerOrders)),
	)

	c.afterCommit(ctx, p, commit)

	return commit.TakerOrder, nil
}

// buildPurchase runs the matching engine for a buy and assembles the
// commit: the taker order with its fills, updated maker orders, balance
// and position deltas, trade records, and the post-trade market.
func (c *Coordinator) buildPurchase(p PlaceOrderParams, snap snapshot, now time.Time) (domain.TradeCommit, error) {
	amountUnits := numeric.ToUnits(p.Amount)
	if snap.taker.BalanceUnits < amountUnits {
		return domain.TradeCommit{}, fmt.Errorf("ledger: account %s balance %d < %d: %w",
			p.AccountID, snap.taker.BalanceUnits, amountUnits, domain.ErrInsufficientBalance)
	}

	res, err := engine.ComputeFills(snap.pricer, engine.Request{
		AccountID: p.AccountID,
		Outcome:   p.Outcome,
		Amount:    p.Amount,
		LimitProb: p.LimitProb,
		Now:       now,
	}, snap.resting, snap.balances)
	if err != nil {
		return domain.TradeCommit{}, err
	}

	// An order without a limit has nothing to rest on the book: it either
	// fills completely or fails.
	if p.LimitProb == nil && !numeric.Equal(res.TakerAmount(), p.Amount) {
		return domain.TradeCommit{}, fmt.Errorf("ledger: market %s filled %.6f of %.6f: %w",
			p.MarketID, res.TakerAmount(), p.Amount, domain.ErrInsufficientLiquidity)
	}

	taker := domain.Order{
		ID:          c.newID(),
		AccountID:   p.AccountID,
		MarketID:    p.MarketID,
		AnswerID:    p.AnswerID,
		Outcome:     p.Outcome,
		Side:        domain.OrderSideBuy,
		AmountUnits: amountUnits,
		LimitProb:   p.LimitProb,
		ExpiresAt:   p.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, f := range res.Takers {
		taker.Fills = append(taker.Fills, domain.Fill{
			Amount:         f.Amount,
			Shares:         f.Shares,
			MatchedOrderID: f.MatchedOrderID,
			Timestamp:      f.Timestamp,
		})
	}
	taker.Status = taker.StatusAfterFill()

	commit, err := c.assembleCommit(p, snap, taker, res, now)
	if err != nil {
		return domain.TradeCommit{}, err
	}

	// Taker pays what matched; position grows on the bought outcome.
	commit.BalanceDeltas[p.AccountID] -= numeric.ToUnits(res.TakerAmount())
	if shares := res.TakerShares(); !numeric.Equal(shares, 0) {
		commit.PositionDeltas = append(commit.PositionDeltas, domain.PositionDelta{
			AccountID: p.AccountID,
			MarketID:  p.MarketID,
			AnswerID:  p.AnswerID,
			Outcome:   p.Outcome,
			Shares:    shares,
		})
	}
	return commit, nil
}

// buildSale liquidates held shares by buying the opposite outcome in the
// quantity that nets the position to zero, recorded as negative fills.
func (c *Coordinator) buildSale(p PlaceOrderParams, snap snapshot, now time.Time) (domain.TradeCommit, error) {
	var held float64
	for _, pos := range snap.positions {
		if pos.AnswerID == p.AnswerID && pos.Outcome == p.Outcome {
			held += pos.Shares
		}
	}
	if !numeric.GreaterEqual(held, p.Amount) {
		return domain.TradeCommit{}, fmt.Errorf("ledger: account %s holds %.6f %s shares, selling %.6f: %w",
			p.AccountID, held, p.Outcome, p.Amount, domain.ErrInsufficientBalance)
	}

	sale, err := engine.ComputeSale(snap.pricer, p.AccountID, p.Outcome, p.Amount,
		snap.resting, snap.balances, now)
	if err != nil {
		return domain.TradeCommit{}, err
	}

	taker := domain.Order{
		ID:          c.newID(),
		AccountID:   p.AccountID,
		MarketID:    p.MarketID,
		AnswerID:    p.AnswerID,
		Outcome:     p.Outcome,
		Side:        domain.OrderSideSell,
		AmountUnits: numeric.ToUnits(p.Amount),
		Status:      domain.OrderStatusFilled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, f := range sale.Takers {
		taker.Fills = append(taker.Fills, domain.Fill{
			Amount:         f.Amount,
			Shares:         f.Shares,
			MatchedOrderID: f.MatchedOrderID,
			Timestamp:      f.Timestamp,
		})
	}

	commit, err := c.assembleCommit(p, snap, taker, sale.Result, now)
	if err != nil {
		return domain.TradeCommit{}, err
	}

	// Seller receives the sale value and gives up the sold shares.
	commit.BalanceDeltas[p.AccountID] += numeric.ToUnits(sale.Value)
	commit.PositionDeltas = append(commit.PositionDeltas, domain.PositionDelta{
		AccountID: p.AccountID,
		MarketID:  p.MarketID,
		AnswerID:  p.AnswerID,
		Outcome:   p.Outcome,
		Shares:    -p.Amount,
	})
	return commit, nil
}

// assembleCommit builds the parts common to purchases and sales: maker
// order updates, cancellations, maker deltas, trade records, and the
// post-trade market row.
func (c *Coordinator) assembleCommit(p PlaceOrderParams, snap snapshot, taker domain.Order, res engine.Result, now time.Time) (domain.TradeCommit, error) {
	commit := domain.TradeCommit{
		TakerOrder:      taker,
		BalanceDeltas:   map[string]int64{p.AccountID: 0},
		AccountVersions: map[string]int64{p.AccountID: snap.taker.Version},
	}

	cancelled := map[string]bool{}
	for _, o := range res.CancelOrders {
		cancelled[o.ID] = true
	}

	// Expired resting orders are swept in the same commit.
	for _, o := range snap.resting {
		if o.ExpiresAt != nil && !now.Before(*o.ExpiresAt) {
			cancelled[o.ID] = true
		}
	}

	for _, mf := range res.Makers {
		maker, ok := snap.makers[mf.Order.AccountID]
		if !ok {
			return domain.TradeCommit{}, fmt.Errorf("ledger: maker account %s missing from snapshot: %w",
				mf.Order.AccountID, domain.ErrNumericInvariant)
		}

		order := mf.Order
		order.Fills = append(order.Fills, domain.Fill{
			Amount:         mf.Amount,
			Shares:         mf.Shares,
			MatchedOrderID: taker.ID,
			Timestamp:      mf.Timestamp,
		})
		if cancelled[order.ID] {
			// The fill that exhausted the maker's balance and the
			// cancellation land in one order update.
			order.Status = domain.OrderStatusCancelled
			delete(cancelled, order.ID)
		} else {
			order.Status = order.StatusAfterFill()
		}
		order.UpdatedAt = now
		commit.MakerOrders = append(commit.MakerOrders, order)

		commit.BalanceDeltas[maker.ID] -= numeric.ToUnits(mf.Amount)
		commit.AccountVersions[maker.ID] = maker.Version
		commit.PositionDeltas = append(commit.PositionDeltas, domain.PositionDelta{
			AccountID: maker.ID,
			MarketID:  p.MarketID,
			AnswerID:  p.AnswerID,
			Outcome:   mf.Order.Outcome,
			Shares:    mf.Shares,
		})
	}

	for _, o := range snap.resting {
		if !cancelled[o.ID] {
			continue
		}
		o.Status = domain.OrderStatusCancelled
		o.UpdatedAt = now
		commit.CancelOrders = append(commit.CancelOrders, o)
	}

	for _, f := range taker.Fills {
		trade := domain.Trade{
			ID:             c.newID(),
			Kind:           domain.TradeKindFill,
			MarketID:       p.MarketID,
			AnswerID:       p.AnswerID,
			Outcome:        p.Outcome,
			TakerAccountID: p.AccountID,
			TakerOrderID:   taker.ID,
			MakerAccountID: domain.PoolCounterparty,
			Amount:         f.Amount,
			Shares:         f.Shares,
			CreatedAt:      now,
		}
		if f.MatchedOrderID != "" {
			trade.MakerOrderID = f.MatchedOrderID
			for _, mo := range commit.MakerOrders {
				if mo.ID == f.MatchedOrderID {
					trade.MakerAccountID = mo.AccountID
				}
			}
		}
		if price, err := numeric.SafeDiv(f.Amount, f.Shares); err == nil {
			trade.Price = price
		}
		commit.Trades = append(commit.Trades, trade)
	}

	mech, err := cpmm.UpdateMechanism(snap.market.Mechanism, p.AnswerID, res.Pool)
	if err != nil {
		return domain.TradeCommit{}, err
	}

	market := snap.market
	market.Mechanism = mech
	market.Volume += volumeOf(taker)
	market.CollectedFees = market.CollectedFees.Add(res.Fees)
	market.UpdatedAt = now
	commit.Market = market

	return commit, nil
}

// volumeOf is the unsigned matched amount an order contributes to market
// volume.
func volumeOf(o domain.Order) float64 {
	var total float64
	for _, f := range o.Fills {
		if f.Amount < 0 {
			total -= f.Amount
		} else {
			total += f.Amount
		}
	}
	return total
}

// checkCommit enforces the settlement invariants one last time before the
// write: a valid post-trade pool, no balance driven negative, and share
// conservation across every order-matched fill.
func (c *Coordinator) checkCommit(snap snapshot, commit domain.TradeCommit) error {
	pricer, err := cpmm.ForMarket(commit.Market, commit.TakerOrder.AnswerID)
	if err != nil {
		return err
	}
	if err := cpmm.CheckState(pricer); err != nil {
		return err
	}

	for id, delta := range commit.BalanceDeltas {
		var current int64
		if id == snap.taker.ID {
			current = snap.taker.BalanceUnits
		} else if a, ok := snap.makers[id]; ok {
			current = a.BalanceUnits
		} else {
			return fmt.Errorf("ledger: delta for unknown account %s: %w", id, domain.ErrNumericInvariant)
		}
		if current+delta < 0 {
			return fmt.Errorf("ledger: account %s balance would go negative (%d%+d): %w",
				id, current, delta, domain.ErrNumericInvariant)
		}
	}

	// Each order-matched buy fill mints one YES and one NO share per unit
	// of combined payment: taker and maker share counts match and their
	// payments sum to the share count. Sale fills are recorded negated and
	// are checked on the buy side they were computed from.
	for _, t := range commit.Trades {
		if t.MakerAccountID == domain.PoolCounterparty || t.Shares < 0 {
			continue
		}
		for _, mo := range commit.MakerOrders {
			if mo.ID != t.MakerOrderID || len(mo.Fills) == 0 {
				continue
			}
			last := mo.Fills[len(mo.Fills)-1]
			if !numeric.ApproxEqual(t.Shares, last.Shares, 1e-6) ||
				!numeric.ApproxEqual(t.Amount+last.Amount, t.Shares, 1e-6) {
				return fmt.Errorf("ledger: fill on order %s does not conserve shares: %w",
					mo.ID, domain.ErrNumericInvariant)
			}
		}
	}

	return nil
}

// afterCommit runs the best-effort side effects: probability cache refresh,
// fill-event publication, the durable trade stream, and the redemption
// fan-out. None of these can fail the settled trade.
func (c *Coordinator) afterCommit(ctx context.Context, p PlaceOrderParams, commit domain.TradeCommit) {
	if c.probs != nil {
		if pricer, err := cpmm.ForMarket(commit.Market, p.AnswerID); err == nil {
			prob := pricer.Prob(domain.OutcomeYes)
			if err := c.probs.SetProbability(ctx, p.MarketID, p.AnswerID, prob, commit.Market.UpdatedAt); err != nil {
				c.logger.WarnContext(ctx, "probability cache write failed",
					slog.String("market_id", p.MarketID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if c.bus != nil {
		evt, _ := json.Marshal(fillEvent{
			Event:    "order_filled",
			OrderID:  commit.TakerOrder.ID,
			MarketID: p.MarketID,
			AnswerID: p.AnswerID,
			Outcome:  string(p.Outcome),
			Side:     string(p.Side),
			Amount:   commit.TakerOrder.FilledAmount(),
			Shares:   commit.TakerOrder.FilledShares(),
		})
		if err := c.bus.Publish(ctx, FillChannel, evt); err != nil {
			c.logger.WarnContext(ctx, "fill event publish failed",
				slog.String("order_id", commit.TakerOrder.ID),
				slog.String("error", err.Error()),
			)
		}

		for _, t := range commit.Trades {
			payload, _ := json.Marshal(t)
			if err := c.bus.StreamAppend(ctx, TradeStream, payload); err != nil {
				c.logger.WarnContext(ctx, "trade stream append failed",
					slog.String("trade_id", t.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	c.redeemTouched(ctx, p.MarketID, commit)
}

// fillEvent is the JSON payload published on the fill channel.
type fillEvent struct {
	Event    string  `json:"event"`
	OrderID  string  `json:"order_id"`
	MarketID string  `json:"market_id"`
	AnswerID string  `json:"answer_id,omitempty"`
	Outcome  string  `json:"outcome"`
	Side     string  `json:"side"`
	Amount   float64 `json:"amount"`
	Shares   float64 `json:"shares"`
}

// redeemTouched nets opposing shares back to cash for every account the
// commit touched. Failures are queued on the redemption stream for the
// retry worker rather than surfaced to the trader.
func (c *Coordinator) redeemTouched(ctx context.Context, marketID string, commit domain.TradeCommit) {
	touched := map[string]bool{commit.TakerOrder.AccountID: true}
	for _, mo := range commit.MakerOrders {
		touched[mo.AccountID] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	for accountID := range touched {
		g.Go(func() error {
			if _, err := c.RedeemShares(gctx, accountID, marketID); err != nil {
				c.logger.WarnContext(gctx, "redemption failed, queuing retry",
					slog.String("account_id", accountID),
					slog.String("market_id", marketID),
					slog.String("error", err.Error()),
				)
				c.queueRedemptionRetry(gctx, accountID, marketID)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) queueRedemptionRetry(ctx context.Context, accountID, marketID string) {
	if c.bus == nil {
		return
	}
	payload, _ := json.Marshal(RedemptionRequest{AccountID: accountID, MarketID: marketID})
	if err := c.bus.StreamAppend(ctx, RedemptionStream, payload); err != nil {
		c.logger.ErrorContext(ctx, "redemption retry enqueue failed",
			slog.String("account_id", accountID),
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

// RedemptionRequest is the payload queued on the redemption stream.
type RedemptionRequest struct {
	AccountID string `json:"account_id"`
	MarketID  string `json:"market_id"`
}
