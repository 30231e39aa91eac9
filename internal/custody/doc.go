// Package custody is an in-memory asset registry that implements
// market.AssetCustody.
//
// It follows ERC-721 ownership rules: each asset has one owner, the owner
// may approve the marketplace to move it, and a transfer clears that
// approval. Used by marketd in single-node deployments and by tests.
package custody
