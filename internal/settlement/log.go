package settlement

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/nft-marketplace/internal/model"
)

// Payout is one completed transfer of funds.
type Payout struct {
	ID     uuid.UUID
	To     model.Identity
	Amount uint64
	At     time.Time
}

// LogDriver records payouts instead of moving money.
type LogDriver struct {
	logger *slog.Logger

	mu      sync.Mutex
	payouts []Payout
	total   map[model.Identity]uint64
}

// NewLogDriver creates a LogDriver.
func NewLogDriver(logger *slog.Logger) *LogDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDriver{
		logger: logger,
		total:  make(map[model.Identity]uint64),
	}
}

// SendFunds records a payout to to.
func (d *LogDriver) SendFunds(ctx context.Context, to model.Identity, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := Payout{ID: uuid.New(), To: to, Amount: amount, At: time.Now()}

	d.mu.Lock()
	d.payouts = append(d.payouts, p)
	d.total[to] += amount
	d.mu.Unlock()

	d.logger.Info("payout recorded", "id", p.ID, "to", to, "amount", amount)
	return nil
}

// Payouts returns every recorded payout in order.
func (d *LogDriver) Payouts() []Payout {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Payout, len(d.payouts))
	copy(out, d.payouts)
	return out
}

// TotalPaid returns the sum paid out to id.
func (d *LogDriver) TotalPaid(id model.Identity) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total[id]
}
