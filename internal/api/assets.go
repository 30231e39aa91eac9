package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rickgao/nft-marketplace/internal/model"
)

func assetPath(key model.AssetKey) string {
	return "/v1/assets/" + url.PathEscape(key.Collection) + "/" + strconv.FormatUint(key.TokenID, 10)
}

// MintAsset mints a token in collection to the caller. A nil tokenID lets
// the server assign the next id.
func (c *Client) MintAsset(ctx context.Context, collection string, tokenID *uint64) (model.AssetKey, error) {
	var req MintRequest
	if tokenID != nil {
		req.TokenID = strconv.FormatUint(*tokenID, 10)
	}
	var resp AssetResponse
	path := "/v1/assets/" + url.PathEscape(collection) + "/mint"
	if err := c.send(ctx, http.MethodPost, path, req, &resp); err != nil {
		return model.AssetKey{}, fmt.Errorf("mint in %s: %w", collection, err)
	}
	id, err := strconv.ParseUint(resp.TokenID, 10, 64)
	if err != nil {
		return model.AssetKey{}, fmt.Errorf("parse minted token id %q: %w", resp.TokenID, err)
	}
	return model.AssetKey{Collection: resp.Collection, TokenID: id}, nil
}

// ApproveMarketplace grants or revokes marketplace approval for key.
func (c *Client) ApproveMarketplace(ctx context.Context, key model.AssetKey, approved bool) (*AssetResponse, error) {
	var resp AssetResponse
	if err := c.send(ctx, http.MethodPost, assetPath(key)+"/approve", ApproveRequest{Approved: approved}, &resp); err != nil {
		return nil, fmt.Errorf("approve %s: %w", key, err)
	}
	return &resp, nil
}

// GetAsset returns the custody state of key.
func (c *Client) GetAsset(ctx context.Context, key model.AssetKey) (*AssetResponse, error) {
	var resp AssetResponse
	if err := c.get(ctx, assetPath(key), nil, &resp); err != nil {
		return nil, fmt.Errorf("get asset %s: %w", key, err)
	}
	return &resp, nil
}
