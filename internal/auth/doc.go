// Package auth authenticates marketplace traffic in both directions.
//
// Inbound, API callers present HS256 bearer tokens; Verifier checks them and
// yields the caller's model.Identity from the subject claim. Inbound tokens
// are minted with Issue.
//
// Outbound, Credentials sign requests to the payments provider with RSA-PSS
// over timestamp, method, path and body.
package auth
