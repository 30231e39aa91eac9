package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rickgao/nft-marketplace/internal/feed"
	"github.com/rickgao/nft-marketplace/internal/model"
)

// ListingsOptions filters GetListings.
type ListingsOptions struct {
	Collection string
	Seller     model.Identity
}

func listingPath(key model.AssetKey) string {
	return "/v1/listings/" + url.PathEscape(key.Collection) + "/" + strconv.FormatUint(key.TokenID, 10)
}

// GetListings returns active listings matching opts.
func (c *Client) GetListings(ctx context.Context, opts ListingsOptions) ([]ListingJSON, error) {
	query := url.Values{}
	if opts.Collection != "" {
		query.Set("collection", opts.Collection)
	}
	if opts.Seller != "" {
		query.Set("seller", string(opts.Seller))
	}

	var resp ListingsResponse
	if err := c.get(ctx, "/v1/listings", query, &resp); err != nil {
		return nil, fmt.Errorf("get listings: %w", err)
	}
	return resp.Listings, nil
}

// GetListing returns the listing for key.
func (c *Client) GetListing(ctx context.Context, key model.AssetKey) (*ListingJSON, error) {
	var resp ListingJSON
	if err := c.get(ctx, listingPath(key), nil, &resp); err != nil {
		return nil, fmt.Errorf("get listing %s: %w", key, err)
	}
	return &resp, nil
}

// ListItem lists key at price base units.
func (c *Client) ListItem(ctx context.Context, key model.AssetKey, price uint64) (*feed.EventMessage, error) {
	req := ListRequest{
		Collection: key.Collection,
		TokenID:    strconv.FormatUint(key.TokenID, 10),
		Price:      strconv.FormatUint(price, 10),
	}
	var resp EventResponse
	if err := c.send(ctx, http.MethodPost, "/v1/listings", req, &resp); err != nil {
		return nil, fmt.Errorf("list %s: %w", key, err)
	}
	return &resp.Event, nil
}

// UpdateListing changes the price of key.
func (c *Client) UpdateListing(ctx context.Context, key model.AssetKey, price uint64) (*feed.EventMessage, error) {
	req := UpdateRequest{Price: strconv.FormatUint(price, 10)}
	var resp EventResponse
	if err := c.send(ctx, http.MethodPut, listingPath(key), req, &resp); err != nil {
		return nil, fmt.Errorf("update listing %s: %w", key, err)
	}
	return &resp.Event, nil
}

// CancelListing removes the caller's listing for key.
func (c *Client) CancelListing(ctx context.Context, key model.AssetKey) (*feed.EventMessage, error) {
	var resp EventResponse
	if err := c.send(ctx, http.MethodDelete, listingPath(key), nil, &resp); err != nil {
		return nil, fmt.Errorf("cancel listing %s: %w", key, err)
	}
	return &resp.Event, nil
}

// BuyItem buys key, paying exactly paid base units. When the sale commits
// but the transfer fails, the returned *APIError carries the event.
func (c *Client) BuyItem(ctx context.Context, key model.AssetKey, paid uint64) (*feed.EventMessage, error) {
	req := BuyRequest{Paid: strconv.FormatUint(paid, 10)}
	var resp EventResponse
	if err := c.send(ctx, http.MethodPost, listingPath(key)+"/buy", req, &resp); err != nil {
		return nil, fmt.Errorf("buy %s: %w", key, err)
	}
	return &resp.Event, nil
}
