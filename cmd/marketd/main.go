// marketd serves the NFT marketplace: the HTTP API, the WebSocket event
// feed, the event journal and the stale-listing reconciler.
//
// Usage: marketd --config configs/marketd.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/nft-marketplace/internal/api"
	"github.com/rickgao/nft-marketplace/internal/auth"
	"github.com/rickgao/nft-marketplace/internal/config"
	"github.com/rickgao/nft-marketplace/internal/custody"
	"github.com/rickgao/nft-marketplace/internal/events"
	"github.com/rickgao/nft-marketplace/internal/feed"
	"github.com/rickgao/nft-marketplace/internal/journal"
	"github.com/rickgao/nft-marketplace/internal/market"
	"github.com/rickgao/nft-marketplace/internal/metrics"
	"github.com/rickgao/nft-marketplace/internal/reconciler"
	"github.com/rickgao/nft-marketplace/internal/settlement"
	"github.com/rickgao/nft-marketplace/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var showVersion bool

	flagSet := pflag.NewFlagSet("marketd", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "configs/marketd.yaml", "path to config file")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println("marketd", version.String())
		return nil
	}

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting marketd",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Journal: open and replay before accepting traffic.
	store, err := journal.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	history, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}

	payments, err := newSettlement(cfg.Settlement, logger)
	if err != nil {
		return err
	}

	bus := events.NewBus(logger)
	assets := custody.NewRegistry(logger)
	svc := market.NewService(market.NewRegistry(), market.NewLedger(), assets, payments,
		market.WithPublisher(bus),
		market.WithLogger(logger),
	)
	if err := svc.Restore(history); err != nil {
		return fmt.Errorf("restore marketplace: %w", err)
	}

	journalSub, err := bus.Subscribe("journal", 0)
	if err != nil {
		return fmt.Errorf("subscribe journal: %w", err)
	}
	writer := journal.NewWriter(journal.WriterConfig{
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: cfg.Journal.FlushInterval,
		BacklogWarn:   cfg.Journal.BufferSize,
	}, journalSub, store, logger)

	verifier, err := auth.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return fmt.Errorf("create token verifier: %w", err)
	}

	hub := feed.NewHub(feed.HubConfig{
		PingInterval: cfg.Feed.PingInterval,
		WriteTimeout: cfg.Feed.WriteTimeout,
		BufferSize:   cfg.Feed.BufferSize,
	}, bus, logger)

	rec := reconciler.New(reconciler.Config{
		Interval:     cfg.Reconciler.Interval,
		Concurrency:  cfg.Reconciler.Concurrency,
		CheckTimeout: cfg.Reconciler.CheckTimeout,
	}, svc, logger)

	m := metrics.New()
	m.Gauge("listings", func() int64 { return int64(len(svc.Listings())) })
	m.Gauge("seq", func() int64 { return int64(svc.Seq()) })
	m.Gauge("events_published", bus.Published)
	m.Gauge("feed_clients", func() int64 { return int64(hub.Clients()) })
	m.Gauge("feed_slow_drops", hub.SlowDrops)
	m.Gauge("journal_pending", func() int64 { return writer.Stats().Pending })
	m.Gauge("journal_errors", func() int64 { return writer.Stats().Errors })
	m.Gauge("reconciler_pruned", func() int64 { return rec.Stats().Pruned })

	opts := []api.ServerOption{
		api.WithFeed(hub),
		api.WithMetrics(m),
		api.WithCurrency(api.Currency{Symbol: cfg.Currency.Symbol, Decimals: cfg.Currency.Decimals}),
		api.WithInstanceID(cfg.Instance.ID),
		api.WithServerLogger(logger),
	}
	if cfg.Custody.DevEndpoints {
		logger.Warn("dev custody endpoints enabled")
		opts = append(opts, api.WithCustodyEndpoints(assets))
	}
	server := api.NewServer(svc, verifier, opts...)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	if err := writer.Start(ctx); err != nil {
		return fmt.Errorf("start journal writer: %w", err)
	}
	if err := rec.Start(ctx); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		return shutdown(cfg.Server.ShutdownTimeout, logger, httpServer, hub, rec, writer, bus)
	})

	err = g.Wait()
	logger.Info("marketd stopped", "seq", svc.Seq())
	return err
}

// shutdown stops components outermost first so the journal writer sees
// every event committed by in-flight requests.
func shutdown(timeout time.Duration, logger *slog.Logger, srv *http.Server, hub *feed.Hub, rec *reconciler.Reconciler, writer *journal.Writer, bus *events.Bus) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := hub.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("feed shutdown: %w", err))
	}
	if err := rec.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reconciler shutdown: %w", err))
	}
	if err := writer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("journal shutdown: %w", err))
	}
	bus.Close()

	stats := writer.Stats()
	logger.Info("journal flushed",
		"inserts", stats.Inserts,
		"conflicts", stats.Conflicts,
		"errors", stats.Errors,
		"pending", stats.Pending,
	)
	return errors.Join(errs...)
}

func newSettlement(cfg config.SettlementConfig, logger *slog.Logger) (market.PaymentSettlement, error) {
	switch cfg.Driver {
	case config.SettlementHTTP:
		opts := []settlement.HTTPOption{
			settlement.WithTimeout(cfg.Timeout),
			settlement.WithRetries(cfg.MaxRetries, time.Second),
			settlement.WithLogger(logger),
		}
		if cfg.KeyID != "" {
			creds, err := auth.LoadCredentials(cfg.KeyID, cfg.PrivateKeyPath)
			if err != nil {
				return nil, fmt.Errorf("load settlement credentials: %w", err)
			}
			opts = append(opts, settlement.WithCredentials(creds))
		}
		d, err := settlement.NewHTTPDriver(cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("create settlement driver: %w", err)
		}
		logger.Info("settlement driver", "driver", cfg.Driver, "url", cfg.URL)
		return d, nil
	default:
		logger.Warn("settlement driver logs payouts only", "driver", cfg.Driver)
		return settlement.NewLogDriver(logger), nil
	}
}
