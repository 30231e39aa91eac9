// Package settlement implements market.PaymentSettlement.
//
// Drivers:
//   - LogDriver: records payouts in memory and logs them (dev and tests)
//   - HTTPDriver: posts payouts to a payments provider with signed,
//     idempotent requests and jittered exponential backoff
package settlement
