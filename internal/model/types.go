package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Ledger Types
// -----------------------------------------------------------------------------

// Identity is an opaque party identifier (seller, buyer, withdrawer).
type Identity string

// AssetKey identifies a non-fungible asset: a collection plus a token id
// unique within it.
type AssetKey struct {
	Collection string // Collection identifier (e.g. contract address)
	TokenID    uint64 // Token id within the collection
}

// String renders the key as "collection/token".
func (k AssetKey) String() string {
	return k.Collection + "/" + strconv.FormatUint(k.TokenID, 10)
}

// Less orders keys by collection, then token id.
func (k AssetKey) Less(other AssetKey) bool {
	if k.Collection != other.Collection {
		return k.Collection < other.Collection
	}
	return k.TokenID < other.TokenID
}

// ErrInvalidAssetKey is returned by ParseAssetKey for malformed input.
var ErrInvalidAssetKey = errors.New("invalid asset key")

// ParseAssetKey parses the "collection/token" form produced by String.
// The collection may itself contain slashes; the token is the last segment.
func ParseAssetKey(s string) (AssetKey, error) {
	i := strings.LastIndexByte(s, '/')
	if i <= 0 || i == len(s)-1 {
		return AssetKey{}, fmt.Errorf("%w: %q", ErrInvalidAssetKey, s)
	}
	id, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return AssetKey{}, fmt.Errorf("%w: %q", ErrInvalidAssetKey, s)
	}
	return AssetKey{Collection: s[:i], TokenID: id}, nil
}

// Listing is an active sale offer. Price is always > 0 while it exists.
type Listing struct {
	Seller Identity
	Price  uint64
}

// -----------------------------------------------------------------------------
// Notification Types
// -----------------------------------------------------------------------------

// EventKind names a marketplace state transition.
type EventKind string

const (
	EventItemListed        EventKind = "item_listed"
	EventItemRemoved       EventKind = "item_removed"
	EventItemBought        EventKind = "item_bought"
	EventProceedsWithdrawn EventKind = "proceeds_withdrawn"
)

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventItemListed, EventItemRemoved, EventItemBought, EventProceedsWithdrawn:
		return true
	}
	return false
}

// Event is a committed state transition, published to subscribers and
// persisted by the journal.
type Event struct {
	ID     uuid.UUID // Unique event id
	Seq    uint64    // Global commit order, starting at 1
	Kind   EventKind // Transition kind
	Key    AssetKey  // Asset (zero for proceeds_withdrawn)
	Actor  Identity  // Caller that triggered the transition
	Seller Identity  // Listing seller (listed, removed, bought)
	Price  uint64    // Listing price (listed, bought)
	Amount uint64    // Credited or withdrawn amount (bought, proceeds_withdrawn)
	Reason string    // "cancelled" or "stale" for item_removed
	At     int64     // Commit time (µs since epoch)
}

// Removal reasons carried by item_removed events.
const (
	ReasonCancelled = "cancelled"
	ReasonStale     = "stale"
)

// ErrAssetNotFound is returned (wrapped) by custody implementations for an
// asset that does not exist.
var ErrAssetNotFound = errors.New("asset not found")
