// Package crypto implements at-rest encryption of API keys under a single
// process-wide symmetric key, per the Persona Store contract in spec.md §4.1.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrEmptyKey is returned when constructing a KeyBox without a key material.
var ErrEmptyKey = errors.New("crypto: encryption key must not be empty")

// KeyBox encrypts and decrypts API keys with a single process-wide key. The
// supplied key material is normalized to 32 bytes via SHA-256 so operators
// can configure `encryption_key` as an arbitrary passphrase, matching the
// teacher's habit of normalizing user-supplied secrets before use.
type KeyBox struct {
	aead chacha20poly1305.AEAD
}

// NewKeyBox derives a 32-byte AEAD key from keyMaterial.
func NewKeyBox(keyMaterial string) (*KeyBox, error) {
	if keyMaterial == "" {
		return nil, ErrEmptyKey
	}
	sum := sha256.Sum256([]byte(keyMaterial))
	aead, err := chacha20poly1305.New(sum[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: building aead: %w", err)
	}
	return &KeyBox{aead: aead}, nil
}

// Encrypt returns base64(nonce‖ciphertext). Each call uses a fresh random
// nonce, so encrypting the same plaintext twice yields different output —
// callers must never compare ciphertexts for equality.
func (k *KeyBox) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}
	sealed := k.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. The returned plaintext lives only in the
// caller's stack frame; callers must not log, return over the external API,
// or persist it anywhere beyond the single dispatch call that needs it.
func (k *KeyBox) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}
	nonceSize := k.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("crypto: ciphertext too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := k.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypting: %w", err)
	}
	return string(plaintext), nil
}

// Preview returns a display-safe "****last4" form without decrypting.
func Preview(plaintext string) string {
	if len(plaintext) <= 4 {
		return "****" + plaintext
	}
	return "****" + plaintext[len(plaintext)-4:]
}
