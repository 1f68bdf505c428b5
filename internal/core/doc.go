// Package core wires the vault together and exposes the operations the CLI runs.
//
// Core operations include:
//   - Init: derive the first key and seal the key-check sentinel
//   - Unlock/Lock: open and close the session through the lock machine
//   - ChangePassphrase: rotate the key and re-encrypt every record
//   - Export/Import/Diff: encrypted backups confined to the backup directory
//   - Status: vault state that needs no passphrase
//
// A Vault owns the session key. Close drops it and closes the store.
package core
