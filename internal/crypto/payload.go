package crypto

import (
	"fmt"

	apperrors "github.com/illarion/duitvault/internal/errors"
)

// Payload is the at-rest form of every encrypted value.
// Byte fields are base64 encoded in JSON.
type Payload struct {
	IV            []byte `json:"iv"`
	Ciphertext    []byte `json:"ct"`
	AuthTag       []byte `json:"tag"`
	KeyVersion    int    `json:"ver"`
	SchemaVersion int    `json:"schemaVersion"`
}

func (p *Payload) validate() error {
	if p == nil {
		return fmt.Errorf("%w: empty payload", apperrors.ErrDecryption)
	}
	if len(p.IV) != NonceSize {
		return fmt.Errorf("%w: iv must be %d bytes", apperrors.ErrDecryption, NonceSize)
	}
	if len(p.AuthTag) != TagSize {
		return fmt.Errorf("%w: tag must be %d bytes", apperrors.ErrDecryption, TagSize)
	}
	return nil
}
