package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/nft-marketplace/internal/market"
	"github.com/rickgao/nft-marketplace/internal/model"
)

// Marketplace is the subset of *market.Service the reconciler uses.
type Marketplace interface {
	Listings() []market.ListingEntry
	PruneStale(ctx context.Context, key model.AssetKey) (model.Event, bool, error)
}

// Config holds reconciler configuration.
type Config struct {
	Interval     time.Duration // Cycle interval (default: 5m)
	Concurrency  int           // Max concurrent checks (default: 8)
	CheckTimeout time.Duration // Per-listing timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		Concurrency:  8,
		CheckTimeout: 5 * time.Second,
	}
}

// CycleResult summarizes one pass over the listings.
type CycleResult struct {
	Checked  int
	Pruned   int
	Errors   int
	Duration time.Duration
}

// Stats are cumulative counters across cycles.
type Stats struct {
	Cycles  int64
	Checked int64
	Pruned  int64
	Errors  int64
}

// Reconciler prunes stale listings on a timer.
type Reconciler struct {
	cfg    Config
	market Marketplace
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles  atomic.Int64
	checked atomic.Int64
	pruned  atomic.Int64
	errors  atomic.Int64
}

// New creates a Reconciler. Zero config fields take their defaults.
func New(cfg Config, m Marketplace, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	return &Reconciler{
		cfg:    cfg,
		market: m,
		logger: logger,
	}
}

// Start begins the reconcile loop. The first cycle runs immediately.
func (r *Reconciler) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("listing reconciler started",
		"interval", r.cfg.Interval,
		"concurrency", r.cfg.Concurrency,
	)

	return nil
}

// Stop cancels the loop and waits for the current cycle to finish.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("listing reconciler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns cumulative counters.
func (r *Reconciler) Stats() Stats {
	return Stats{
		Cycles:  r.cycles.Load(),
		Checked: r.checked.Load(),
		Pruned:  r.pruned.Load(),
		Errors:  r.errors.Load(),
	}
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.RunOnce(r.ctx)

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(r.ctx)
		}
	}
}

// RunOnce checks every active listing once. Check failures are counted and
// logged; they do not stop the cycle.
func (r *Reconciler) RunOnce(ctx context.Context) CycleResult {
	start := time.Now()

	listings := r.market.Listings()
	if len(listings) == 0 {
		r.logger.Debug("no listings to reconcile")
		r.cycles.Add(1)
		return CycleResult{Duration: time.Since(start)}
	}

	var checked, pruned, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, entry := range listings {
		if gctx.Err() != nil {
			break
		}
		key := entry.Key
		g.Go(func() error {
			removed, err := r.check(gctx, key)
			checked.Add(1)
			if err != nil {
				r.logger.Warn("failed to reconcile listing",
					"key", key.String(),
					"err", err,
				)
				failed.Add(1)
				return nil
			}
			if removed {
				pruned.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := CycleResult{
		Checked:  int(checked.Load()),
		Pruned:   int(pruned.Load()),
		Errors:   int(failed.Load()),
		Duration: time.Since(start),
	}
	r.cycles.Add(1)
	r.checked.Add(int64(res.Checked))
	r.pruned.Add(int64(res.Pruned))
	r.errors.Add(int64(res.Errors))

	r.logger.Info("reconcile cycle complete",
		"listings", len(listings),
		"checked", res.Checked,
		"pruned", res.Pruned,
		"errors", res.Errors,
		"duration", res.Duration,
	)
	return res
}

func (r *Reconciler) check(ctx context.Context, key model.AssetKey) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CheckTimeout)
	defer cancel()

	_, removed, err := r.market.PruneStale(ctx, key)
	return removed, err
}
