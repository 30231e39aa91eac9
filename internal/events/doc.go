// Package events fans committed marketplace events out to subscribers.
//
// The Bus:
//   - Never blocks the publisher (Publish is called with ledger locks held)
//   - Gives each subscriber its own growable queue
//   - Drops a bounded subscriber whose queue overflows (slow feed clients)
//   - Keeps unbounded subscribers (the journal) lossless
package events
