// Package core defines the indicator domain model for the CRITs indicator layer.
//
// # Architecture Overview
//
// The core package provides:
//   - Domain types (Indicator, Domain, IP, Object and the registry records)
//   - Rating and campaign confidence enums with their ordering rules
//   - Field normalization against whitelists of valid values
//   - Indicator identity resolution for loosely structured fields
//   - Hostname parsing against the public suffix list
//
// # Merge Semantics
//
// Every merge method on a record is idempotent: sources gain instances,
// campaigns upgrade confidence, bucket lists and tickets deduplicate, and
// ratings only move upward. Persistence and orchestration live in the
// storage and service packages.
package core
