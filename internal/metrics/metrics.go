package metrics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/nft-marketplace/internal/market"
)

type opStats struct {
	ok      int64
	failed  map[market.Class]int64
	totalUs int64
}

// Metrics aggregates counters for one process. The zero value is not usable;
// call New.
type Metrics struct {
	started time.Time
	logger  *slog.Logger

	mu     sync.Mutex
	ops    map[string]*opStats
	gauges map[string]func() int64

	volume  atomic.Uint64
	payouts atomic.Uint64
}

// Option configures Metrics.
type Option func(*Metrics)

// WithLogger sets the logger used for handler errors.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Metrics) {
		m.logger = logger
	}
}

// New creates an empty Metrics.
func New(opts ...Option) *Metrics {
	m := &Metrics{
		started: time.Now(),
		logger:  slog.Default(),
		ops:     make(map[string]*opStats),
		gauges:  make(map[string]func() int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record counts one completed operation.
func (m *Metrics) Record(op string, err error, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.ops[op]
	if !ok {
		s = &opStats{failed: make(map[market.Class]int64)}
		m.ops[op] = s
	}
	if err == nil {
		s.ok++
	} else {
		s.failed[market.ClassOf(err)]++
	}
	s.totalUs += d.Microseconds()
}

// AddVolume adds a settled sale amount.
func (m *Metrics) AddVolume(amount uint64) {
	m.volume.Add(amount)
}

// AddPayout adds a withdrawn amount.
func (m *Metrics) AddPayout(amount uint64) {
	m.payouts.Add(amount)
}

// Gauge registers f to be sampled on every snapshot under name.
func (m *Metrics) Gauge(name string, f func() int64) {
	m.mu.Lock()
	m.gauges[name] = f
	m.mu.Unlock()
}

// OpSnapshot is the state of one operation's counters.
type OpSnapshot struct {
	OK           int64            `json:"ok"`
	Failed       map[string]int64 `json:"failed,omitempty"`
	AvgLatencyUs int64            `json:"avg_latency_us"`
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Operations    map[string]OpSnapshot `json:"operations"`
	Volume        uint64                `json:"volume"`
	Payouts       uint64                `json:"payouts"`
	Gauges        map[string]int64      `json:"gauges"`
}

// Snapshot copies the current counters and samples every gauge.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	ops := make(map[string]OpSnapshot, len(m.ops))
	for name, s := range m.ops {
		snap := OpSnapshot{OK: s.ok}
		total := s.ok
		if len(s.failed) > 0 {
			snap.Failed = make(map[string]int64, len(s.failed))
			for class, n := range s.failed {
				snap.Failed[string(class)] = n
				total += n
			}
		}
		if total > 0 {
			snap.AvgLatencyUs = s.totalUs / total
		}
		ops[name] = snap
	}
	gauges := make(map[string]func() int64, len(m.gauges))
	for name, f := range m.gauges {
		gauges[name] = f
	}
	m.mu.Unlock()

	// Gauges may take other locks; sample outside ours.
	sampled := make(map[string]int64, len(gauges))
	for name, f := range gauges {
		sampled[name] = f()
	}

	return Snapshot{
		UptimeSeconds: int64(time.Since(m.started).Seconds()),
		Operations:    ops,
		Volume:        m.volume.Load(),
		Payouts:       m.payouts.Load(),
		Gauges:        sampled,
	}
}

// GaugeNames returns registered gauge names, sorted.
func (m *Metrics) GaugeNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.gauges))
	for name := range m.gauges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handler serves the snapshot as JSON.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(m.Snapshot()); err != nil {
			m.logger.Debug("metrics encode failed", "remote", r.RemoteAddr, "error", err)
		}
	})
}
