// Package model defines shared data types used across the marketplace.
//
// Conventions:
//   - Prices and balances: uint64 in the smallest currency unit (e.g. wei)
//   - Timestamps: int64 microseconds since Unix epoch
//   - Assets: AssetKey{Collection, TokenID}, rendered as "collection/token"
//   - Event IDs: uuid.UUID, ordered by Seq
package model
