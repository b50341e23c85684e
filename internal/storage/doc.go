// Package storage owns the durable, ordered collection of accepted notices.
//
// It supports:
//   - Load: the full previously persisted collection (empty when none exists)
//   - Persist: atomic replacement of the whole collection
//   - Merge / IdentitySet: the ordering and identity rules shared by all drivers
//
// Drivers: "file" (a single human-diffable JSON array) and "sqlite".
package storage
