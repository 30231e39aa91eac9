// Package market implements the marketplace ledger.
//
// The ledger consists of:
//   - Registry: (collection, token) -> Listing{seller, price}
//   - Ledger: seller -> withdrawable proceeds
//   - Service: listItem, updateListing, cancelItem, buyItem, withdrawProceeds
//
// Every operation validates its preconditions before mutating anything and
// commits internal state before calling asset custody or payment settlement.
// Operations on the same asset (or, for proceeds, the same identity) are
// serialized; disjoint keys run in parallel.
package market
