// Package reconciler periodically re-checks every active listing against
// asset custody and prunes the ones whose seller no longer owns the asset
// or has revoked marketplace approval.
//
// A stale listing cannot be bought (the purchase fails with
// market.ErrListingStale), so pruning is housekeeping: it keeps the
// listing view and the event feed honest. Checks run with bounded
// concurrency; each gets its own timeout.
package reconciler
