// Package api exposes the marketplace over HTTP and provides a Go client for
// it.
//
// Server routes:
//   - GET /health, /metrics, /version
//   - GET /v1/listings, GET/PUT/DELETE /v1/listings/{collection}/{token}
//   - POST /v1/listings, POST /v1/listings/{collection}/{token}/buy
//   - GET /v1/proceeds/{identity}, POST /v1/proceeds/withdraw
//   - POST /v1/assets/{collection}/mint, POST /v1/assets/{collection}/{token}/approve,
//     GET /v1/assets/{collection}/{token} (dev custody only)
//   - GET /v1/feed (WebSocket)
//
// Mutating routes require an HS256 bearer token; its subject is the caller
// identity. Amounts travel as decimal strings in base currency units, with a
// price_display rendering scaled by the configured currency decimals.
package api
