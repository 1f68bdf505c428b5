// Package lock implements the session gate in front of the encrypted store.
//
// Phases:
//   - Uninitialized: no crypto metadata, the vault was never set up
//   - AwaitingMaster: metadata exists but no key was derived this session
//   - Unlocked: the master passphrase was verified against the sentinel
//   - QuickLocked: the key is still held but the session is re-gated
//     behind a PIN or password
//
// Failed unlocks are counted and persisted. From the fifth consecutive
// failure on, every further attempt is refused until an exponentially
// growing cooldown has passed. The cooldown only deters guessing through
// this API; it is not a cryptographic boundary.
//
// The PIN/password quick-unlock is a convenience layer. It re-opens a
// session whose key is already in memory and adds no cryptographic
// protection over the passphrase.
package lock
