// Package storage provides the persistent key-value layer duitvault keeps its
// records in.
//
// Data is organized in named collections of id -> opaque blob:
//   - one collection per entity kind (accounts, transactions, ...), holding
//     encrypted record envelopes
//   - _settings: crypto metadata, sentinel, lock state (unencrypted)
//   - _shadow.<kind>: staging area used while re-encrypting under a new key
//
// Two backends implement Store:
//   - BoltStore (default): one BBolt bucket per collection. BBolt provides
//     ACID transactions, file locking, and corruption detection.
//   - SQLiteStore: a single records table in WAL mode.
//
// Update runs its function in one atomic transaction on both backends.
package storage
