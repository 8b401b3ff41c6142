// Package storage defines the persistence interfaces and record types for the
// authorization server: clients, authorization codes, refresh token families,
// users and identities, and the project/membership model with its per-tenant
// partition registry.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/sqlite: durable SQLite-backed storage for production
package storage
