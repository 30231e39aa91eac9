package market

import (
	"math"
	"sync"

	"github.com/rickgao/nft-marketplace/internal/model"
)

// Ledger holds withdrawable proceeds per seller. Only Service mutates it.
type Ledger struct {
	mu       sync.Mutex
	balances map[model.Identity]uint64
}

// NewLedger creates an empty proceeds ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[model.Identity]uint64),
	}
}

// Balance returns the accrued balance for id (zero if none).
func (l *Ledger) Balance(id model.Identity) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[id]
}

// Snapshot returns a copy of all non-zero balances.
func (l *Ledger) Snapshot() map[model.Identity]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make(map[model.Identity]uint64, len(l.balances))
	for id, b := range l.balances {
		result[id] = b
	}
	return result
}

// canCredit reports whether crediting amount to id would fit in a uint64.
func (l *Ledger) canCredit(id model.Identity, amount uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[id] <= math.MaxUint64-amount
}

// credit adds amount to the balance of id. Callers check canCredit first
// while holding the identity lock.
func (l *Ledger) credit(id model.Identity, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[id] += amount
}

// takeAll zeroes the balance of id and returns the prior amount.
func (l *Ledger) takeAll(id model.Identity) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	amount := l.balances[id]
	if amount == 0 {
		return 0, ErrNoProceeds
	}
	delete(l.balances, id)
	return amount, nil
}
