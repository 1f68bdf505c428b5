// Package crypto provides key derivation and authenticated encryption for duitvault.
//
// Encryption uses AES-256-GCM with:
//   - 32-byte key derived from the master passphrase via PBKDF2
//   - 12-byte random IV per encryption operation
//   - 16-byte authentication tag stored separately from the ciphertext
//
// Key derivation uses PBKDF2-HMAC-SHA256 with:
//   - 16-byte random salt (stored unencrypted in Metadata)
//   - 250,000 iterations by default
//
// Memory safety:
//   - Derived keys live in a memguard Enclave and are only decrypted for the
//     duration of a single Seal or Open call
//   - Use ClearBytes() to zero passphrases after use
//   - Engine holds the session key; ClearKey() destroys it
package crypto
