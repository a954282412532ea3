package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/execution"
	"github.com/alanyoungcy/perpbot/internal/executor"
	"github.com/alanyoungcy/perpbot/internal/feed"
	"github.com/alanyoungcy/perpbot/internal/market"
	"github.com/alanyoungcy/perpbot/internal/monitor"
	"github.com/alanyoungcy/perpbot/internal/server"
	"github.com/alanyoungcy/perpbot/internal/server/handler"
	"github.com/alanyoungcy/perpbot/internal/server/ws"
	"github.com/alanyoungcy/perpbot/internal/service"
)

// core holds the services every mode runs on.
type core struct {
	pairs    *market.Pairs
	ledger   *service.PositionService
	prices   *service.PriceService
	funding  *service.FundingService // nil without a funding feed
	executor *executor.Executor
	intents  chan domain.OrderIntent
}

// PaperMode runs the ledger on in-memory storage with simulated fills, fed by
// the price feed, with the HTTP API in front.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting paper mode")

	c, err := a.buildCore(deps, true)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startScheduler(ctx, g, deps, c); err != nil {
		return err
	}
	a.startBackground(ctx, g, deps, c)
	a.startMonitor(ctx, g, deps, c)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	}
	return g.Wait()
}

// EngineMode runs everything: feed, monitor, asynchronous order intake,
// scheduled maintenance and the HTTP API, on the configured backend.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting engine mode")

	c, err := a.buildCore(deps, false)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startScheduler(ctx, g, deps, c); err != nil {
		return err
	}
	a.startBackground(ctx, g, deps, c)
	a.startMonitor(ctx, g, deps, c)

	intake := executor.NewStreamIntake(deps.SignalBus, a.cfg.Engine.OrderStream, c.intents, a.logger)
	if deps.SharedBus {
		// Replaying a shared stream from the start would resubmit intents
		// other processes already handled.
		intake.SetStartID("$")
	}
	g.Go(func() error {
		return intake.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	}
	return g.Wait()
}

// ServerMode serves the HTTP API only. Prices come from the shared cache
// written by an engine process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting server mode")

	c, err := a.buildCore(deps, false)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps, c)
	a.startHTTPServer(ctx, g, deps, c)
	return g.Wait()
}

// buildCore constructs the pair registry, execution router, ledger and
// executor. paper forces simulated fills.
func (a *App) buildCore(deps *Dependencies, paper bool) (*core, error) {
	extra := make([]domain.TradingPair, 0, len(a.cfg.Engine.Pairs))
	for _, p := range a.cfg.Engine.Pairs {
		extra = append(extra, domain.TradingPair{
			Symbol:      p.Symbol,
			MaxLeverage: p.MaxLeverage,
			TickSize:    p.TickSize,
			MinSize:     p.MinSize,
		})
	}
	pairs, err := market.NewPairs(extra...)
	if err != nil {
		return nil, fmt.Errorf("app: pairs: %w", err)
	}

	mode := domain.ExecutionMode(a.cfg.Engine.ExecutionMode)
	var remote execution.Remote
	if paper {
		mode = domain.ModePaper
	} else if a.cfg.Execution.ServiceURL != "" {
		var auth *execution.HMACAuth
		if a.cfg.Execution.APIKey != "" {
			auth = execution.NewHMACAuth(a.cfg.Execution.APIKey, a.cfg.Execution.APISecret)
		}
		remote = execution.NewClient(a.cfg.Execution.ServiceURL, a.cfg.Execution.Timeout.Duration, auth)
	}
	router := execution.NewRouter(remote, execution.RouterConfig{
		Slippage: a.cfg.Engine.PaperSlippage,
		Source:   a.cfg.Execution.Source,
	}, a.logger)

	ledger := service.NewPositionService(
		deps.AccountStore,
		pairs,
		router,
		deps.PriceCache,
		deps.SignalBus,
		deps.AuditStore,
		service.LedgerConfig{
			DefaultAccount:        a.cfg.Engine.DefaultAccount,
			DefaultMode:           mode,
			InitialBalance:        a.cfg.Engine.PaperBalance,
			MaintenanceMarginRate: a.cfg.Engine.MaintenanceMarginRate,
			HistoryLimit:          a.cfg.Engine.HistoryLimit,
			Fallback:              execution.FallbackPolicy(a.cfg.Engine.Fallback),
		},
		a.logger,
	)
	if deps.Archiver != nil {
		ledger.SetArchiver(deps.Archiver)
	}
	if deps.LockManager != nil {
		ledger.SetLockManager(deps.LockManager)
	}
	ledger.SetAlerter(deps.Notifier)

	c := &core{
		pairs:   pairs,
		ledger:  ledger,
		prices:  service.NewPriceService(deps.PriceCache, deps.SignalBus, a.logger),
		intents: make(chan domain.OrderIntent, 64),
	}
	if a.cfg.Feed.FundingURL != "" {
		c.funding = service.NewFundingService(a.cfg.Feed.FundingURL, a.cfg.Feed.FundingInterval.Duration, a.logger)
	}
	c.executor = executor.NewExecutor(c.intents, ledger, deps.SignalBus, a.logger)
	c.executor.SetDedupTTL(a.cfg.Engine.OrderDedupTTL.Duration)

	a.logger.Info("app: core built",
		slog.String("execution_mode", string(mode)),
		slog.Bool("remote_execution", remote != nil),
		slog.Int("pairs", len(pairs.List())),
	)
	return c, nil
}

// startBackground launches the notifier, the executor and the funding poller.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	g.Go(func() error {
		return deps.Notifier.Run(ctx)
	})
	g.Go(func() error {
		return c.executor.Run(ctx)
	})
	if c.funding != nil {
		g.Go(func() error {
			return c.funding.Run(ctx)
		})
	}
}

// startMonitor connects a tick source to the monitoring loop. The websocket
// feed is preferred; otherwise ticks published on a shared bus by another
// process are consumed. Bus ticks are not written back through the price
// service, which would republish them.
func (a *App) startMonitor(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	ticks := make(chan domain.PriceTick, 64)
	var sink monitor.TickSink = c.prices

	switch {
	case a.cfg.Feed.PriceWSURL != "":
		pf := feed.NewPriceFeed(a.cfg.Feed.PriceWSURL, ticks, a.logger)
		g.Go(func() error {
			return pf.Run(ctx)
		})
	case deps.SharedBus:
		bf := feed.NewBusFeeder(deps.SignalBus, ticks, a.logger)
		g.Go(func() error {
			return bf.Run(ctx)
		})
		sink = nil
	default:
		a.logger.WarnContext(ctx, "app: no price source configured, monitor will idle")
	}

	mon := monitor.New(c.ledger, sink, nil, a.logger)
	g.Go(func() error {
		return mon.Run(ctx, ticks)
	})
}

// startScheduler registers protection fee accrual and, with an archive,
// daily account snapshots.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) error {
	sched := newScheduler(a.logger)

	err := sched.add(ctx, a.cfg.Engine.ProtectionFeeCron, "protection_fees", func(ctx context.Context) error {
		total, err := c.ledger.ChargeProtectionFees(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "app: protection fees charged", slog.Float64("total", total))
		return nil
	})
	if err != nil {
		return fmt.Errorf("app: schedule protection fees: %w", err)
	}

	if deps.Archiver != nil {
		err = sched.add(ctx, a.cfg.Engine.SnapshotCron, "account_snapshots", func(ctx context.Context) error {
			return a.snapshotAccounts(ctx, c.ledger, deps.Archiver)
		})
		if err != nil {
			return fmt.Errorf("app: schedule snapshots: %w", err)
		}
	}

	g.Go(func() error {
		return sched.run(ctx)
	})
	return nil
}

// snapshotAccounts archives the current state of every account. One failing
// account does not stop the others.
func (a *App) snapshotAccounts(ctx context.Context, ledger *service.PositionService, archiver domain.HistoryArchiver) error {
	ids, err := ledger.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	var errs []error
	for _, id := range ids {
		state, err := ledger.Account(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", id, err))
			continue
		}
		if err := archiver.ArchiveSnapshot(ctx, state); err != nil {
			errs = append(errs, fmt.Errorf("snapshot %s: %w", id, err))
		}
	}
	a.logger.InfoContext(ctx, "app: account snapshots archived",
		slog.Int("accounts", len(ids)),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

// startHTTPServer builds the REST and websocket surface and runs it until ctx
// is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	hub := ws.NewHub(deps.SignalBus, strings.ToLower(a.cfg.Mode), a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var funding handler.FundingSource
	if c.funding != nil {
		funding = c.funding
	}
	var archive handler.HistoryArchive
	if deps.Archiver != nil {
		archive = deps.Archiver
	}
	var orderLimit *handler.OrderLimit
	if a.cfg.Server.OrderRateLimit > 0 {
		orderLimit = &handler.OrderLimit{
			Limiter: deps.RateLimiter,
			Limit:   a.cfg.Server.OrderRateLimit,
			Window:  a.cfg.Server.RateWindow.Duration,
		}
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(strings.ToLower(a.cfg.Mode), deps.HealthChecks, a.logger),
		Markets:   handler.NewMarketHandler(c.pairs, funding, a.logger),
		Accounts:  handler.NewAccountHandler(c.ledger, archive, a.logger),
		Positions: handler.NewPositionHandler(c.ledger, a.logger),
		Orders:    handler.NewOrderHandler(c.executor, orderLimit, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
