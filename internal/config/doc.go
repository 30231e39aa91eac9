// Package config handles YAML configuration loading for marketd.
//
// Loading happens in four steps:
//   - ${VAR} references in the file are expanded from the environment
//   - the YAML is decoded into MarketConfig
//   - MARKET_* environment variables override individual fields
//   - defaults fill unset fields, then Validate checks the result
package config
