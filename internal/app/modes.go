package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kordes/polymirror/internal/copier"
	"github.com/kordes/polymirror/internal/crypto"
	"github.com/kordes/polymirror/internal/domain"
	"github.com/kordes/polymirror/internal/executor"
	"github.com/kordes/polymirror/internal/feed"
	"github.com/kordes/polymirror/internal/platform/goldsky"
	"github.com/kordes/polymirror/internal/platform/polymarket"
	"github.com/kordes/polymirror/internal/reconcile"
	"github.com/kordes/polymirror/internal/resolution"
	"github.com/kordes/polymirror/internal/server"
	"github.com/kordes/polymirror/internal/server/handler"
	"github.com/kordes/polymirror/internal/server/ws"
	"github.com/kordes/polymirror/internal/service"
	"github.com/kordes/polymirror/internal/sizing"
)

const (
	// tradeBuffer absorbs poll bursts without blocking the feed.
	tradeBuffer = 256

	// orderBuffer decouples ledger writes from exchange round-trips.
	orderBuffer = 64

	// dedupTTL must outlive the poll window overlap so rows redelivered by
	// adjacent fetches stay suppressed.
	dedupTTL = 10 * time.Minute
)

// CopyMode runs the mirror pipeline: trade feed, copier, executor, and the
// resolution detector.
func (a *App) CopyMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting copy mode",
		slog.String("target_wallet", a.cfg.Copy.TargetWallet),
		slog.Bool("dry_run", a.cfg.Copy.DryRun),
	)

	g, ctx := errgroup.WithContext(ctx)

	a.startMirror(ctx, g, deps, a.cfg.Copy.DryRun)
	if a.cfg.Resolution.Enabled {
		a.startResolution(ctx, g, deps)
	}
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}

	return g.Wait()
}

// MonitorMode mirrors the watched wallet on paper: fills flow through the
// ledgers as usual but the executor is forced into dry run, whatever the
// config says.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.String("target_wallet", a.cfg.Copy.TargetWallet),
	)

	g, ctx := errgroup.WithContext(ctx)

	a.startMirror(ctx, g, deps, true)
	if a.cfg.Resolution.Enabled {
		a.startResolution(ctx, g, deps)
	}
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}

	return g.Wait()
}

// ServeMode runs only the status API and WebSocket hub against the shared
// store and caches; a copy or full instance elsewhere does the writing. The
// price refresher runs here too so unrealized P&L stays current even when
// the writer is down.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode", slog.Int("port", a.cfg.Server.Port))

	g, ctx := errgroup.WithContext(ctx)

	a.startServer(ctx, g, deps)
	a.startPrices(ctx, g, deps)

	return g.Wait()
}

// FullMode runs everything: the mirror pipeline, resolution detection,
// on-chain reconciliation, price refresh, archive sweeps, and the status API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.String("target_wallet", a.cfg.Copy.TargetWallet),
		slog.Bool("dry_run", a.cfg.Copy.DryRun),
	)

	g, ctx := errgroup.WithContext(ctx)

	a.startMirror(ctx, g, deps, a.cfg.Copy.DryRun)
	if a.cfg.Resolution.Enabled {
		a.startResolution(ctx, g, deps)
	}
	if a.cfg.Reconcile.Enabled {
		a.startReconcile(ctx, g, deps)
	}
	a.startPrices(ctx, g, deps)
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps)
	}

	return g.Wait()
}

// startMirror wires the source wallet's fill feed into the copier and, when
// key material allows, the executor behind it. dryRun true builds and signs
// orders but never submits them.
func (a *App) startMirror(ctx context.Context, g *errgroup.Group, deps *Dependencies, dryRun bool) {
	trades := make(chan domain.Trade, tradeBuffer)
	dedup := feed.NewDedup(dedupTTL)

	data := polymarket.NewDataClient(a.cfg.Polymarket.DataHost)
	poller := feed.NewPoller(
		data,
		deps.RateLimiter,
		dedup,
		a.cfg.Copy.TargetWallet,
		a.cfg.Copy.PollInterval.Duration,
		trades,
		a.logger,
	)
	g.Go(func() error { return poller.Run(ctx) })

	// Without a wallet key the mirror still books every position on paper;
	// only exchange submission needs to sign.
	var orders chan domain.CopyOrder
	if a.cfg.Wallet.PrivateKey != "" || a.cfg.Wallet.EncryptedKeyPath != "" {
		orders = make(chan domain.CopyOrder, orderBuffer)
		exec, clob, err := a.buildExecutor(ctx, deps, orders, dryRun)
		if err != nil {
			a.logger.WarnContext(ctx, "executor unavailable, mirroring on paper only",
				slog.String("error", err.Error()),
			)
			orders = nil
		} else {
			g.Go(func() error { return exec.Run(ctx) })
			a.startLiveFeed(ctx, g, clob, dedup, trades)
		}
	} else {
		a.logger.InfoContext(ctx, "no wallet key configured, mirroring on paper only")
	}

	sizer := sizing.New(sizing.Config{
		Multiplier:   a.cfg.Copy.Multiplier,
		MaxTradeUSDC: a.cfg.Copy.MaxTradeUSDC,
		MinOrderUSDC: a.cfg.Copy.MinOrderUSDC,
	}, a.logger)

	cop := copier.New(
		trades,
		orders,
		deps.Registry,
		sizer,
		deps.Notifier,
		deps.SignalBus,
		deps.LockManager,
		copier.Config{
			Wallet:         a.cfg.Copy.TargetWallet,
			PrimaryAccount: a.cfg.Copy.AccountKey,
			StaleAfter:     a.cfg.Copy.StaleAfter.Duration,
		},
		a.logger,
	)
	g.Go(func() error { return cop.Run(ctx) })
}

// startLiveFeed attaches the websocket user channel to the shared trade
// stream when enabled. It rides the executor's CLOB credentials; the poller
// remains the delivery guarantee either way.
func (a *App) startLiveFeed(ctx context.Context, g *errgroup.Group, clob *polymarket.ClobClient, dedup *feed.Dedup, trades chan<- domain.Trade) {
	if !a.cfg.Copy.UseWebsocket {
		return
	}
	auth := clob.Auth()
	if auth == nil {
		a.logger.WarnContext(ctx, "websocket feed needs CLOB credentials, falling back to polling only")
		return
	}

	wsc := polymarket.NewWSClient(a.cfg.Polymarket.WsHost+"/ws/user", polymarket.WSAuth{
		ApiKey:     auth.Key,
		Secret:     auth.Secret,
		Passphrase: auth.Passphrase,
	})
	live := feed.NewLiveFeed(wsc, dedup, trades, a.logger)
	g.Go(func() error { return live.Run(ctx) })
}

// buildExecutor creates the execution path: wallet key -> signer -> CLOB
// client -> executor. The returned client carries the credentials the live
// feed shares.
func (a *App) buildExecutor(ctx context.Context, deps *Dependencies, orders <-chan domain.CopyOrder, dryRun bool) (*executor.Executor, *polymarket.ClobClient, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build executor: %w", err)
	}
	signer, err := crypto.NewSigner(key, a.cfg.Polymarket.ChainID)
	if err != nil {
		return nil, nil, fmt.Errorf("build executor: create signer: %w", err)
	}

	var hmac *crypto.HMACAuth
	if a.cfg.ClobAuth.ApiKey != "" && a.cfg.ClobAuth.ApiSecret != "" && a.cfg.ClobAuth.ApiPassphrase != "" {
		hmac = &crypto.HMACAuth{
			Key:        a.cfg.ClobAuth.ApiKey,
			Secret:     a.cfg.ClobAuth.ApiSecret,
			Passphrase: a.cfg.ClobAuth.ApiPassphrase,
		}
	}

	clob := polymarket.NewClobClient(a.cfg.Polymarket.ClobHost, signer, hmac, a.cfg.Polymarket.SignatureType)
	if hmac == nil {
		if err := clob.DeriveAPIKey(ctx); err != nil {
			if !dryRun {
				return nil, nil, fmt.Errorf("build executor: derive api key: %w", err)
			}
			// Dry run never posts, so unauthenticated is fine.
			a.logger.WarnContext(ctx, "derive API key failed, dry run continues unauthenticated",
				slog.String("error", err.Error()),
			)
		}
	}

	exec := executor.New(orders, signer, clob, clob, deps.Notifier, executor.Config{
		Funder:         a.cfg.Wallet.FunderAddress,
		SignatureType:  a.cfg.Polymarket.SignatureType,
		DryRun:         dryRun,
		MaxSlippageBps: int(a.cfg.Copy.MaxSlippageBps),
	}, a.logger)
	return exec, clob, nil
}

// startResolution runs the settlement detector against Gamma and the books.
func (a *App) startResolution(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	gamma := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost)
	det := resolution.New(
		deps.Registry,
		gamma,
		a.publicClob(),
		deps.MarketCache,
		deps.Notifier,
		deps.SignalBus,
		deps.AuditStore,
		resolution.Config{
			CheckInterval: a.cfg.Resolution.CheckInterval.Duration,
			MinWinnerBid:  a.cfg.Resolution.MinWinnerBid,
		},
		a.logger,
	)
	g.Go(func() error { return det.Run(ctx) })
}

// startReconcile periodically diffs the ledgers against the follower
// wallet's on-chain balances read from the Goldsky subgraph.
func (a *App) startReconcile(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	wallet := a.cfg.Wallet.FunderAddress
	if wallet == "" {
		a.logger.WarnContext(ctx, "reconcile enabled but wallet.funder_address is empty, skipping")
		return
	}

	chain := goldsky.NewClient(a.cfg.Reconcile.GoldskyURL, a.cfg.Reconcile.GoldskyAPIKey)
	rec := reconcile.New(deps.Registry, chain, reconcile.Config{
		Wallet:   wallet,
		Interval: a.cfg.Reconcile.Interval.Duration,
	}, a.logger)
	g.Go(func() error { return rec.Run(ctx) })
}

// startPrices keeps the price cache warm for every held token so unrealized
// P&L and the dashboard read recent marks.
func (a *App) startPrices(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	svc := service.NewPriceService(
		deps.Registry,
		a.publicClob(),
		deps.PriceCache,
		deps.SignalBus,
		deps.RateLimiter,
		0,
		a.logger,
	)
	g.Go(func() error { return svc.Run(ctx) })
}

// startServer exposes the read-only status API and the WebSocket hub.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:         a.cfg.Mode,
		SourceWallet: a.cfg.Copy.TargetWallet,
		StartedAt:    time.Now().UTC(),
	})
	g.Go(func() error { return hub.Run(ctx) })

	ledgers := service.NewLedgerService(deps.Registry, deps.PriceCache, a.logger)
	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, a.cfg.Copy.TargetWallet, a.effectiveDryRun()),
		Accounts: handler.NewAccountHandler(ledgers, a.logger),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	if deps.BlobReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(
		server.Config{
			Port:          a.cfg.Server.Port,
			CORSOrigins:   a.cfg.Server.CORSOrigins,
			APIKey:        a.cfg.Server.APIKey,
			RatePerMinute: a.cfg.Server.RatePerMinute,
		},
		handlers,
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// publicClob returns an unauthenticated CLOB client for book and midpoint
// reads.
func (a *App) publicClob() *polymarket.ClobClient {
	return polymarket.NewClobClient(a.cfg.Polymarket.ClobHost, nil, nil, a.cfg.Polymarket.SignatureType)
}
