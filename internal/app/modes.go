package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/easybet/internal/bank"
	"github.com/alanyoungcy/easybet/internal/config"
	"github.com/alanyoungcy/easybet/internal/crypto"
	"github.com/alanyoungcy/easybet/internal/domain"
	"github.com/alanyoungcy/easybet/internal/events"
	"github.com/alanyoungcy/easybet/internal/ledger"
	"github.com/alanyoungcy/easybet/internal/registry"
	"github.com/alanyoungcy/easybet/internal/server"
	"github.com/alanyoungcy/easybet/internal/server/handler"
	"github.com/alanyoungcy/easybet/internal/server/ws"
	"github.com/alanyoungcy/easybet/internal/snapshot"
)

// ledgerLockKey names the redis lock that makes a server process the only
// writer of the ledger.
const ledgerLockKey = "easybet:ledger"

// core is the in-process ledger with its collaborators.
type core struct {
	ledger   *ledger.Ledger
	bank     *bank.Bank
	registry *registry.Registry
	fanout   *events.Fanout
}

// resolveAdmin returns the admin address from config, deriving it from the
// admin key when no address is given.
func resolveAdmin(cfg config.AdminConfig) (common.Address, error) {
	src := crypto.KeySource{
		PrivateKey: cfg.PrivateKey,
		KeyFile:    cfg.KeyFile,
		Password:   cfg.KeyPassword,
	}
	if src.Empty() {
		if !common.IsHexAddress(cfg.Address) {
			return common.Address{}, fmt.Errorf("admin address %q is not a hex address", cfg.Address)
		}
		return common.HexToAddress(cfg.Address), nil
	}

	key, err := crypto.LoadKey(src)
	if err != nil {
		return common.Address{}, fmt.Errorf("load admin key: %w", err)
	}
	derived := crypto.NewSigner(key).Address()
	if cfg.Address != "" && common.HexToAddress(cfg.Address) != derived {
		return common.Address{}, fmt.Errorf("admin address %s does not match the admin key (%s)", cfg.Address, derived.Hex())
	}
	return derived, nil
}

// buildCore assembles bank, registry and ledger, publishing committed events
// through a Fanout over the wired sinks.
func buildCore(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*core, error) {
	admin, err := resolveAdmin(cfg.Admin)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	escrow := common.HexToAddress(cfg.Ledger.EscrowAddress)
	faucet, err := cfg.Ledger.Faucet()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	b := bank.New(bank.Config{
		Escrow:       escrow,
		Admin:        admin,
		FaucetAmount: faucet,
		Symbol:       cfg.Ledger.TokenSymbol,
	}, logger)
	r := registry.New(escrow)

	// A notifier without senders is left out so the fanout skips queueing.
	var notifier events.Notifier
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		notifier = deps.Notifier
	}
	fanout := events.NewFanout(deps.EventStore, deps.SignalBus, notifier, logger)

	l, err := ledger.New(ledger.Config{Admin: admin, Escrow: escrow}, b, r, domain.SystemClock, fanout, logger)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	logger.InfoContext(ctx, "app: ledger ready",
		slog.String("admin", admin.Hex()),
		slog.String("escrow", escrow.Hex()),
		slog.String("token", b.Symbol()),
	)
	return &core{ledger: l, bank: b, registry: r, fanout: fanout}, nil
}

// resumeSeq keeps event numbering monotonic across restarts.
func (c *core) resumeSeq(ctx context.Context, store domain.EventStore, logger *slog.Logger) error {
	if store == nil {
		return nil
	}
	last, err := store.LastSeq(ctx)
	if err != nil {
		return fmt.Errorf("app: read last event seq: %w", err)
	}
	if last > c.ledger.Seq() {
		logger.InfoContext(ctx, "app: resuming event sequence",
			slog.Uint64("journal_seq", last),
			slog.Uint64("ledger_seq", c.ledger.Seq()),
		)
	}
	c.ledger.ResumeSeq(last)
	return nil
}

// ServerMode runs the ledger as the single writer behind the HTTP API, with
// the postgres journal, the redis event feed and optional S3 snapshots.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	ttl := a.cfg.Redis.LockTTL.Duration
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	release, lost, err := deps.LockManager.Hold(ctx, ledgerLockKey, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("server mode: another instance owns the ledger: %w", err)
		}
		return fmt.Errorf("server mode: %w", err)
	}
	defer release()

	c, err := buildCore(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return err
	}

	var archiver *snapshot.Archiver
	if deps.Blobs != nil {
		archiver = snapshot.NewArchiver(snapshot.Config{
			Prefix:             a.cfg.Snapshot.Prefix,
			Interval:           a.cfg.Snapshot.Interval.Duration,
			Keep:               a.cfg.Snapshot.Keep,
			MultipartThreshold: a.cfg.Snapshot.MultipartThreshold,
			PartSize:           a.cfg.Snapshot.PartSize,
		}, c.ledger, c.bank, c.registry, deps.Blobs, domain.SystemClock, a.logger)

		if a.cfg.Snapshot.RestoreOnStart {
			restored, err := archiver.Restore(ctx)
			if err != nil {
				return fmt.Errorf("server mode: %w", err)
			}
			if !restored {
				a.logger.InfoContext(ctx, "no snapshot found, starting with an empty ledger")
			}
		}
	}
	if err := c.resumeSeq(ctx, deps.EventStore, a.logger); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-lost:
			return errors.New("server mode: ledger lock lost")
		case <-ctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		return c.fanout.Run(ctx)
	})

	if archiver != nil {
		g.Go(func() error {
			return archiver.Run(ctx)
		})
	}

	hub := ws.NewHub(deps.SignalBus, ws.Config{AllowedOrigins: a.cfg.Server.CORSOrigins}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	a.startHTTPServer(ctx, g, c, deps, hub, deps.RateLimiter)

	return g.Wait()
}

// LocalMode runs the ledger in-process for development: sqlite journal, no
// redis, no snapshots.
func (a *App) LocalMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting local mode", slog.String("sqlite", a.cfg.SQLite.Path))

	c, err := buildCore(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return err
	}
	if err := c.resumeSeq(ctx, deps.EventStore, a.logger); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.fanout.Run(ctx)
	})
	a.startHTTPServer(ctx, g, c, deps, nil, nil)

	return g.Wait()
}

// MigrateMode applies the postgres migrations and exits.
func (a *App) MigrateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting migrate mode")
	if err := deps.Postgres.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrate mode: %w", err)
	}
	a.logger.InfoContext(ctx, "migrations applied")
	return nil
}

// startHTTPServer adds the HTTP server goroutines to g. The server is shut
// down gracefully when ctx is cancelled. hub and limiter may be nil.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	c *core,
	deps *Dependencies,
	hub *ws.Hub,
	limiter domain.RateLimiter,
) {
	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.Checks, a.logger),
		Status:     handler.NewStatusHandler(a.cfg.Mode, c.bank.Symbol(), c.ledger),
		Activities: handler.NewActivityHandler(c.ledger, domain.SystemClock, a.logger),
		Tickets:    handler.NewTicketHandler(c.ledger, c.registry, a.logger),
		Accounts:   handler.NewAccountHandler(c.bank, c.ledger.Escrow(), a.logger),
	}
	if deps.EventStore != nil {
		handlers.Events = handler.NewEventHandler(deps.EventStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		RateLimit:         a.cfg.Server.RateLimit,
		RateWindow:        a.cfg.Server.RateWindow.Duration,
		SignatureWindow:   a.cfg.Server.SignatureWindow.Duration,
		TrustCallerHeader: a.cfg.Server.TrustCallerHeader,
		ReadTimeout:       a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout:      a.cfg.Server.WriteTimeout.Duration,
	}, handlers, hub, limiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
