package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/nft-marketplace/internal/events"
	"github.com/rickgao/nft-marketplace/internal/model"
)

// WriterConfig contains configuration for the journal writer.
type WriterConfig struct {
	// BatchSize is the number of events to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BacklogWarn logs a warning once this many events are held after
	// failed flushes. Zero disables the warning.
	BacklogWarn int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
		BacklogWarn:   10000,
	}
}

// WriterMetrics holds counters for a writer.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Pending   int64
}

// Writer consumes events from a bus subscription and appends them to a Store.
// A failed flush keeps its events and retries them on the next flush.
type Writer struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the event bus
	input *events.Subscription

	store Store

	// Batching
	batch   []model.Event
	batchMu sync.Mutex
	flushMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewWriter creates a Writer.
func NewWriter(cfg WriterConfig, input *events.Subscription, store Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &Writer{
		cfg:    cfg,
		input:  input,
		store:  store,
		logger: logger,
		batch:  make([]model.Event, 0, cfg.BatchSize),
	}
}

// Start begins consuming events and writing them to the store.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued events, flushes them with ctx and shuts down.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

	// Anything still queued was committed and must reach the store.
	if rest := w.input.DrainTo(0); len(rest) > 0 {
		w.batchMu.Lock()
		w.batch = append(w.batch, rest...)
		w.batchMu.Unlock()
	}

	if err := w.flush(ctx); err != nil {
		w.logger.Error("final journal flush failed", "error", err, "pending", w.Stats().Pending)
		return err
	}

	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	m := w.metrics
	m.Pending = int64(len(w.batch))
	return m
}

// Flush writes the pending batch now.
func (w *Writer) Flush(ctx context.Context) error {
	return w.flush(ctx)
}

// consumeLoop reads from the subscription and accumulates batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		ev, ok := w.input.Receive(w.ctx)
		if !ok {
			return
		}
		w.handleEvent(ev)
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.flush(w.ctx); err != nil {
				w.logger.Debug("journal flush deferred to next tick", "error", err)
			}
		}
	}
}

// handleEvent adds an event to the batch.
func (w *Writer) handleEvent(ev model.Event) {
	w.batchMu.Lock()
	w.batch = append(w.batch, ev)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	// After cancel, Stop performs the final flush with its own context.
	if shouldFlush && w.ctx.Err() == nil {
		if err := w.flush(w.ctx); err != nil {
			w.logger.Debug("journal batch flush deferred", "error", err)
		}
	}
}

// flush writes the current batch to the store. On failure the batch is put
// back ahead of events that arrived meanwhile.
func (w *Writer) flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]model.Event, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.store.Append(ctx, batch)
	if err != nil {
		w.logger.Error("journal append failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batch = append(batch, w.batch...)
		pending := len(w.batch)
		w.batchMu.Unlock()
		if w.cfg.BacklogWarn > 0 && pending >= w.cfg.BacklogWarn {
			w.logger.Warn("journal backlog high", "pending", pending)
		}
		return err
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal",
		"count", len(batch),
		"conflicts", conflicts,
		"first_seq", batch[0].Seq,
		"duration", time.Since(start),
	)
	return nil
}
