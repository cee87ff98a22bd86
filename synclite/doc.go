// Package synclite provides an offline-first synchronization core for
// resource-oriented REST APIs backed by a local SQLite document cache.
//
// The package composes a per-resource-type Repository (HTTP access with
// optimistic fallback), a durable Outbox replayed with capped exponential
// backoff, an IDMapper that exchanges client-generated temporary ids for
// server-assigned permanent ids, a WebSocket Handler that reconciles
// server-pushed change events, and a Retention policy that bounds local
// cache growth. All local state lives in a single SQLite database so that
// multi-document operations (id rename plus foreign-reference rewrite) can
// run in one transaction.
package synclite
