package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rickgao/nft-marketplace/internal/model"
)

var (
	// ErrUnknownAsset is returned for assets that were never minted.
	ErrUnknownAsset = fmt.Errorf("custody: %w", model.ErrAssetNotFound)

	ErrAlreadyMinted = errors.New("custody: asset already minted")
	ErrNotTokenOwner = errors.New("custody: caller is not the token owner")
	ErrEmptyOwner    = errors.New("custody: owner is required")
)

// Asset is the custody state of one token.
type Asset struct {
	Key      model.AssetKey
	Owner    model.Identity
	Approved bool
}

type record struct {
	owner    model.Identity
	approved bool
}

// Registry tracks asset ownership and marketplace approval.
type Registry struct {
	logger *slog.Logger

	mu     sync.RWMutex
	assets map[model.AssetKey]*record
	nextID map[string]uint64
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		assets: make(map[model.AssetKey]*record),
		nextID: make(map[string]uint64),
	}
}

// Mint creates an asset owned by owner.
func (r *Registry) Mint(key model.AssetKey, owner model.Identity) error {
	if owner == "" {
		return ErrEmptyOwner
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.assets[key]; ok {
		return fmt.Errorf("mint %s: %w", key, ErrAlreadyMinted)
	}
	r.assets[key] = &record{owner: owner}
	if key.TokenID >= r.nextID[key.Collection] {
		r.nextID[key.Collection] = key.TokenID + 1
	}

	r.logger.Debug("asset minted", "key", key.String(), "owner", owner)
	return nil
}

// MintNext mints the next unused token id in collection.
func (r *Registry) MintNext(collection string, owner model.Identity) (model.AssetKey, error) {
	if owner == "" {
		return model.AssetKey{}, ErrEmptyOwner
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := model.AssetKey{Collection: collection, TokenID: r.nextID[collection]}
	for {
		if _, ok := r.assets[key]; !ok {
			break
		}
		key.TokenID++
	}
	r.assets[key] = &record{owner: owner}
	r.nextID[collection] = key.TokenID + 1

	r.logger.Debug("asset minted", "key", key.String(), "owner", owner)
	return key, nil
}

// NextTokenID returns the token id MintNext would assign in collection.
func (r *Registry) NextTokenID(collection string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextID[collection]
}

// Approve grants or revokes the marketplace's right to move key. Only the
// owner may change approval.
func (r *Registry) Approve(key model.AssetKey, owner model.Identity, approved bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.assets[key]
	if !ok {
		return fmt.Errorf("approve %s: %w", key, ErrUnknownAsset)
	}
	if rec.owner != owner {
		return fmt.Errorf("approve %s by %s: %w", key, owner, ErrNotTokenOwner)
	}
	rec.approved = approved
	return nil
}

// Asset returns the custody state of key.
func (r *Registry) Asset(key model.AssetKey) (Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.assets[key]
	if !ok {
		return Asset{}, fmt.Errorf("asset %s: %w", key, ErrUnknownAsset)
	}
	return Asset{Key: key, Owner: rec.owner, Approved: rec.approved}, nil
}

// AssetsOf returns the assets owned by owner, sorted by key.
func (r *Registry) AssetsOf(owner model.Identity) []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Asset
	for key, rec := range r.assets {
		if rec.owner == owner {
			out = append(out, Asset{Key: key, Owner: rec.owner, Approved: rec.approved})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// OwnerOf implements market.AssetCustody.
func (r *Registry) OwnerOf(ctx context.Context, key model.AssetKey) (model.Identity, error) {
	a, err := r.Asset(key)
	if err != nil {
		return "", err
	}
	return a.Owner, nil
}

// IsApprovedForMarketplace implements market.AssetCustody.
func (r *Registry) IsApprovedForMarketplace(ctx context.Context, key model.AssetKey) (bool, error) {
	a, err := r.Asset(key)
	if err != nil {
		return false, err
	}
	return a.Approved, nil
}

// Transfer moves key from from to to and clears marketplace approval.
func (r *Registry) Transfer(ctx context.Context, key model.AssetKey, from, to model.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" {
		return ErrEmptyOwner
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.assets[key]
	if !ok {
		return fmt.Errorf("transfer %s: %w", key, ErrUnknownAsset)
	}
	if rec.owner != from {
		return fmt.Errorf("transfer %s from %s: %w", key, from, ErrNotTokenOwner)
	}
	rec.owner = to
	rec.approved = false

	r.logger.Debug("asset transferred", "key", key.String(), "from", from, "to", to)
	return nil
}
