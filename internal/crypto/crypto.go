package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/illarion/duitvault/internal/errors"
)

const (
	SaltSize          = 16     // Salt size in bytes
	KeySize           = 32     // AES-256 key size
	NonceSize         = 12     // GCM nonce size
	TagSize           = 16     // GCM authentication tag size
	DefaultIterations = 250000 // Default PBKDF2 iterations
	InitialKeyVersion = 1

	KDFPBKDF2 = "pbkdf2"
)

// Metadata holds the non-secret parameters a key was derived from.
type Metadata struct {
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations"`
	KDF        string `json:"kdf"`
	KeyVersion int    `json:"keyVersion"`
}

// NewMetadata creates metadata with a random salt
func NewMetadata(iterations, keyVersion int) (*Metadata, error) {
	salt, err := GenerateRandom(SaltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	return &Metadata{
		Salt:       salt,
		Iterations: iterations,
		KDF:        KDFPBKDF2,
		KeyVersion: keyVersion,
	}, nil
}

// Validate checks that the metadata can be used to derive a key
func (m *Metadata) Validate() error {
	switch {
	case m == nil:
		return fmt.Errorf("%w: metadata missing", apperrors.ErrInvalidInput)
	case m.KDF != KDFPBKDF2:
		return fmt.Errorf("%w: unsupported kdf %q", apperrors.ErrInvalidInput, m.KDF)
	case len(m.Salt) == 0:
		return fmt.Errorf("%w: empty salt", apperrors.ErrInvalidInput)
	case m.Iterations <= 0:
		return fmt.Errorf("%w: iterations must be positive", apperrors.ErrInvalidInput)
	case m.KeyVersion < InitialKeyVersion:
		return fmt.Errorf("%w: invalid key version %d", apperrors.ErrInvalidInput, m.KeyVersion)
	}
	return nil
}

// Clone returns a deep copy
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Salt = append([]byte(nil), m.Salt...)
	return &c
}

// DeriveKey derives an encryption key from a passphrase
func (m *Metadata) DeriveKey(passphrase []byte) (*Key, error) {
	if len(passphrase) == 0 {
		return nil, apperrors.ErrMissingPassphrase
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	raw := pbkdf2.Key(passphrase, m.Salt, m.Iterations, KeySize, sha256.New)
	return newKey(raw, m.KeyVersion), nil
}

// Key is a derived AES-256 key sealed in a memguard enclave.
type Key struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
	version int
}

// newKey takes ownership of raw and wipes it
func newKey(raw []byte, version int) *Key {
	return &Key{
		enclave: memguard.NewEnclave(raw),
		version: version,
	}
}

// Version returns the key version stamped on payloads
func (k *Key) Version() int {
	return k.version
}

// withAEAD opens the enclave for the duration of fn
func (k *Key) withAEAD(fn func(cipher.AEAD) error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.enclave == nil {
		return apperrors.ErrNoActiveKey
	}

	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer buf.Destroy()

	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	return fn(gcm)
}

// SealBytes encrypts plaintext using AES-256-GCM with a fresh random IV
func (k *Key) SealBytes(plaintext []byte, schemaVersion int) (*Payload, error) {
	var payload *Payload
	err := k.withAEAD(func(gcm cipher.AEAD) error {
		iv, err := GenerateRandom(NonceSize)
		if err != nil {
			return fmt.Errorf("failed to generate IV: %w", err)
		}

		// Seal appends the tag to the ciphertext
		sealed := gcm.Seal(nil, iv, plaintext, nil)
		split := len(sealed) - TagSize

		payload = &Payload{
			IV:            iv,
			Ciphertext:    sealed[:split],
			AuthTag:       sealed[split:],
			KeyVersion:    k.version,
			SchemaVersion: schemaVersion,
		}
		return nil
	})
	return payload, err
}

// Seal serializes value as JSON and encrypts it
func (k *Key) Seal(value any, schemaVersion int) (*Payload, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize value: %w", err)
	}
	defer ClearBytes(plaintext)

	return k.SealBytes(plaintext, schemaVersion)
}

// OpenBytes decrypts and verifies a payload
func (k *Key) OpenBytes(p *Payload) ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	var plaintext []byte
	err := k.withAEAD(func(gcm cipher.AEAD) error {
		combined := make([]byte, 0, len(p.Ciphertext)+TagSize)
		combined = append(combined, p.Ciphertext...)
		combined = append(combined, p.AuthTag...)

		out, err := gcm.Open(nil, p.IV, combined, nil)
		if err != nil {
			return apperrors.ErrDecryption
		}
		plaintext = out
		return nil
	})
	return plaintext, err
}

// Open decrypts a payload and unmarshals the JSON plaintext into out
func (k *Key) Open(p *Payload, out any) error {
	plaintext, err := k.OpenBytes(p)
	if err != nil {
		return err
	}
	defer ClearBytes(plaintext)

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: invalid plaintext: %v", apperrors.ErrDecryption, err)
	}
	return nil
}

// Destroy drops the enclave; further use returns ErrNoActiveKey
func (k *Key) Destroy() {
	if k == nil {
		return
	}
	k.mu.Lock()
	k.enclave = nil
	k.mu.Unlock()
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
