package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foldmarkets/settld/internal/domain"
	"github.com/foldmarkets/settld/internal/ledger"
	"github.com/foldmarkets/settld/internal/numeric"
	"github.com/foldmarkets/settld/internal/server"
	"github.com/foldmarkets/settld/internal/server/handler"
	"github.com/foldmarkets/settld/internal/server/ws"
	"github.com/foldmarkets/settld/internal/store/memory"
)

// ServeMode runs the HTTP + WebSocket API against Postgres and Redis.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	coord := ledger.New(deps.LedgerStore, a.logger).
		WithSignalBus(deps.SignalBus).
		WithProbabilityCache(deps.ProbCache).
		WithMaxAttempts(a.cfg.Engine.MaxAttempts)

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": deps.PG,
			"redis":    deps.Redis,
		}, a.logger),
		Markets:  handler.NewMarketHandler(deps.MarketStore, deps.TradeStore, coord, a.logger),
		Orders:   handler.NewOrderHandler(coord, a.logger),
		Accounts: handler.NewAccountHandler(deps.AccountStore, deps.LedgerStore, deps.OrderStore, a.logger),
	}

	a.startHTTPServer(ctx, g, handlers, hub, deps.RateLimiter)

	return g.Wait()
}

// WorkerMode runs the background redemption retry worker and, when enabled,
// the trade archiver. No HTTP surface.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)

	coord := ledger.New(deps.LedgerStore, a.logger).
		WithSignalBus(deps.SignalBus).
		WithProbabilityCache(deps.ProbCache).
		WithMaxAttempts(a.cfg.Engine.MaxAttempts)

	retry := ledger.NewRetryWorker(coord, deps.SignalBus, a.logger, a.cfg.Engine.RedemptionPoll.Duration)
	g.Go(func() error {
		return retry.Run(ctx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}

	return g.Wait()
}

// PaperMode runs the full engine against the in-memory versioned store with
// no external backends. A demo market and funded accounts are seeded so the
// API is usable immediately.
func (a *App) PaperMode(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	store := memory.New()
	if err := seedPaperFixtures(ctx, store, a.logger); err != nil {
		return fmt.Errorf("app: seed paper fixtures: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	coord := ledger.New(store, a.logger).
		WithMaxAttempts(a.cfg.Engine.MaxAttempts)

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(nil, a.logger),
		Markets:  handler.NewMarketHandler(store.MarketStore(), store, coord, a.logger),
		Orders:   handler.NewOrderHandler(coord, a.logger),
		Accounts: handler.NewAccountHandler(store.AccountStore(), store, store.OrderStore(), a.logger),
	}

	// No signal bus in paper mode, so no WebSocket hub and no limiter.
	a.startHTTPServer(ctx, g, handlers, nil, nil)

	return g.Wait()
}

// startHTTPServer adds the HTTP server goroutine plus a shutdown watcher to
// the given errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, handlers server.Handlers, hub *ws.Hub, limiter domain.RateLimiter) {
	srv := server.NewServer(server.Config{
		Port:       a.cfg.Server.Port,
		RateLimit:  a.cfg.Server.RateLimit,
		RateWindow: a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, limiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}

// seedPaperFixtures creates a demo market and funded accounts on a fresh
// in-memory store.
func seedPaperFixtures(ctx context.Context, store *memory.Store, logger *slog.Logger) error {
	now := time.Now().UTC()

	if err := store.Create(ctx, domain.Market{
		ID:        "demo",
		Mechanism: domain.WeightedPool{Yes: 100, No: 100, P: 0.5},
		Status:    domain.MarketStatusOpen,
		CreatedAt: now,
	}); err != nil {
		return err
	}

	for _, id := range []string{"alice", "bob"} {
		if err := store.CreateAccount(ctx, domain.Account{
			ID:           id,
			BalanceUnits: numeric.ToUnits(1000),
			CreatedAt:    now,
		}); err != nil {
			return err
		}
	}

	logger.InfoContext(ctx, "seeded paper fixtures",
		slog.String("market_id", "demo"),
		slog.Any("accounts", []string{"alice", "bob"}),
	)
	return nil
}
