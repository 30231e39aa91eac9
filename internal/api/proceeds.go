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

// GetProceeds returns the withdrawable balance of id in base units.
func (c *Client) GetProceeds(ctx context.Context, id model.Identity) (uint64, error) {
	var resp ProceedsResponse
	if err := c.get(ctx, "/v1/proceeds/"+url.PathEscape(string(id)), nil, &resp); err != nil {
		return 0, fmt.Errorf("get proceeds %s: %w", id, err)
	}
	amount, err := strconv.ParseUint(resp.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse proceeds amount %q: %w", resp.Amount, err)
	}
	return amount, nil
}

// WithdrawProceeds pays out the caller's balance.
func (c *Client) WithdrawProceeds(ctx context.Context) (*feed.EventMessage, error) {
	var resp EventResponse
	if err := c.send(ctx, http.MethodPost, "/v1/proceeds/withdraw", nil, &resp); err != nil {
		return nil, fmt.Errorf("withdraw proceeds: %w", err)
	}
	return &resp.Event, nil
}
