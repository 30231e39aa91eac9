// Package metrics keeps in-process counters for marketd and serves them as
// JSON on /metrics.
//
// Key metrics:
//   - Operation outcomes (ok, or failed by error class) and latency
//   - Sale volume and payout totals
//   - Gauges sampled at snapshot time (active listings, journal backlog,
//     feed clients)
package metrics
