package api

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/rickgao/nft-marketplace/internal/feed"
)

// ListingJSON is one active listing.
type ListingJSON struct {
	Collection   string `json:"collection"`
	TokenID      string `json:"token_id"`
	Seller       string `json:"seller"`
	Price        string `json:"price"`
	PriceDisplay string `json:"price_display"`
	Currency     string `json:"currency"`
}

// ListingsResponse from GET /v1/listings
type ListingsResponse struct {
	Listings []ListingJSON `json:"listings"`
	Count    int           `json:"count"`
}

// ListRequest for POST /v1/listings
type ListRequest struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Price      string `json:"price"`
}

// UpdateRequest for PUT /v1/listings/{collection}/{token}
type UpdateRequest struct {
	Price string `json:"price"`
}

// BuyRequest for POST /v1/listings/{collection}/{token}/buy
type BuyRequest struct {
	Paid string `json:"paid"`
}

// EventResponse wraps the event committed by a mutation.
type EventResponse struct {
	Event feed.EventMessage `json:"event"`
}

// ErrorResponse is the body of every non-2xx response. Event is set when the
// marketplace committed a change but a downstream step failed.
type ErrorResponse struct {
	Error   string             `json:"error"`
	Message string             `json:"message"`
	Event   *feed.EventMessage `json:"event,omitempty"`
}

// ProceedsResponse from GET /v1/proceeds/{identity}
type ProceedsResponse struct {
	Identity      string `json:"identity"`
	Amount        string `json:"amount"`
	AmountDisplay string `json:"amount_display"`
	Currency      string `json:"currency"`
}

// MintRequest for POST /v1/assets/{collection}/mint. TokenID is optional;
// the next unused id is assigned when empty.
type MintRequest struct {
	TokenID string `json:"token_id,omitempty"`
}

// ApproveRequest for POST /v1/assets/{collection}/{token}/approve
type ApproveRequest struct {
	Approved bool `json:"approved"`
}

// AssetResponse describes custody state of one asset.
type AssetResponse struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Owner      string `json:"owner"`
	Approved   bool   `json:"approved"`
}

// HealthResponse from GET /health
type HealthResponse struct {
	Status   string `json:"status"`
	Instance string `json:"instance,omitempty"`
	Seq      uint64 `json:"seq"`
	Listings int    `json:"listings"`
}

// Currency renders integer base-unit amounts for display.
type Currency struct {
	Symbol   string
	Decimals int32
}

// Display formats amount scaled down by Decimals, trimming trailing zeros.
func (c Currency) Display(amount uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -c.Decimals).String()
}

// Parse converts a display amount such as "1.5" back to base units. It
// fails on negative values, excess precision, or values beyond uint64.
func (c Currency) Parse(display string) (uint64, error) {
	d, err := decimal.NewFromString(display)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, errNegativeAmount
	}
	scaled := d.Shift(c.Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, errExcessPrecision
	}
	n := scaled.BigInt()
	if !n.IsUint64() {
		return 0, errAmountOverflow
	}
	return n.Uint64(), nil
}
