package market

import (
	"sort"
	"sync"

	"github.com/rickgao/nft-marketplace/internal/model"
)

// ListingEntry pairs a listing with its asset key.
type ListingEntry struct {
	Key model.AssetKey
	model.Listing
}

// Registry holds the active listings. Only Service mutates it.
type Registry struct {
	mu       sync.RWMutex
	listings map[model.AssetKey]model.Listing
}

// NewRegistry creates an empty listing registry.
func NewRegistry() *Registry {
	return &Registry{
		listings: make(map[model.AssetKey]model.Listing),
	}
}

// Get returns the listing for key (read-locked).
func (r *Registry) Get(key model.AssetKey) (model.Listing, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.listings[key]
	return l, ok
}

// Len returns the number of active listings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listings)
}

// Snapshot returns a copy of all listings sorted by key.
func (r *Registry) Snapshot() []ListingEntry {
	r.mu.RLock()
	result := make([]ListingEntry, 0, len(r.listings))
	for k, l := range r.listings {
		result = append(result, ListingEntry{Key: k, Listing: l})
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key.Less(result[j].Key)
	})
	return result
}

// create inserts a listing. Price is checked before existence.
func (r *Registry) create(key model.AssetKey, seller model.Identity, price uint64) error {
	if price == 0 {
		return ErrInvalidPrice
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.listings[key]; ok {
		return ErrAlreadyListed
	}
	r.listings[key] = model.Listing{Seller: seller, Price: price}
	return nil
}

// read returns the listing or ErrNotListed.
func (r *Registry) read(key model.AssetKey) (model.Listing, error) {
	l, ok := r.Get(key)
	if !ok {
		return model.Listing{}, ErrNotListed
	}
	return l, nil
}

// update replaces the price of an existing listing, keeping the seller.
func (r *Registry) update(key model.AssetKey, price uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.listings[key]
	if !ok {
		return ErrNotListed
	}
	if price == 0 {
		return ErrInvalidPrice
	}
	l.Price = price
	r.listings[key] = l
	return nil
}

// remove deletes the listing and returns what was removed.
func (r *Registry) remove(key model.AssetKey) (model.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.listings[key]
	if !ok {
		return model.Listing{}, ErrNotListed
	}
	delete(r.listings, key)
	return l, nil
}
