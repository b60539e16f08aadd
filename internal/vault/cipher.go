package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/desertthunder/spotsync/internal/shared"
)

// Sealer encrypts and authenticates token strings with XChaCha20-Poly1305.
//
// Sealed values are base64(nonce || ciphertext). Opening a tampered value, or one sealed
// under another key, fails with a [shared.CryptoError].
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a [Sealer] from a 32 byte key.
func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, &shared.CryptoError{Op: "init", Err: err}
	}
	return &Sealer{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (s *Sealer) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", &shared.CryptoError{Op: "encrypt", Err: fmt.Errorf("read nonce: %w", err)}
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by [Sealer.Encrypt].
func (s *Sealer) Decrypt(ciphertext string) (string, error) {
	payload, err := base64.RawStdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &shared.CryptoError{Op: "decrypt", Err: fmt.Errorf("decode: %w", err)}
	}

	nonceSize := s.aead.NonceSize()
	if len(payload) < nonceSize+s.aead.Overhead() {
		return "", &shared.CryptoError{Op: "decrypt", Err: fmt.Errorf("sealed value is too short")}
	}

	plaintext, err := s.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return "", &shared.CryptoError{Op: "decrypt", Err: err}
	}
	return string(plaintext), nil
}
