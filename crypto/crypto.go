// Package crypto provides server-side encryption for data the gateway keeps
// at rest, using the XChaCha20-Poly1305 AEAD cipher. Audit records store user
// emails and client addresses only in encrypted form; a deterministic mode
// produces stable ciphertexts so encrypted emails remain searchable.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Service provides encryption and decryption operations using a server key.
type Service struct {
	serverKey []byte
}

// NewService creates a new crypto Service with the provided server key.
// The key must be at least 32 bytes.
func NewService(key []byte) *Service {
	return &Service{serverKey: key}
}

// Encrypt encrypts plaintext using XChaCha20-Poly1305 with a random nonce.
// Returns the nonce prepended to the ciphertext.
func (s *Service) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.serverKey[:32])
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, ciphertext...), nil
}

// Decrypt decrypts ciphertext that was encrypted with Encrypt.
// Expects the nonce to be prepended to the ciphertext.
func (s *Service) Decrypt(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.serverKey[:32])
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce := ciphertext[:aead.NonceSize()]
	ciphertext = ciphertext[aead.NonceSize():]

	return aead.Open(nil, nonce, ciphertext, nil)
}

// EncryptDeterministic encrypts plaintext so that the same plaintext and
// context always produce the same ciphertext. Used for audit-log email
// columns that must support equality lookups.
func (s *Service) EncryptDeterministic(plaintext []byte, context string) ([]byte, error) {
	h := sha256.New()
	h.Write(s.serverKey[:32])
	h.Write([]byte(context))
	h.Write(plaintext)
	deterministicKey := h.Sum(nil)[:32]

	aead, err := chacha20poly1305.NewX(deterministicKey)
	if err != nil {
		return nil, err
	}

	h2 := sha256.New()
	h2.Write(deterministicKey)
	h2.Write(plaintext)
	nonce := h2.Sum(nil)[:aead.NonceSize()]

	return aead.Seal(nil, nonce, plaintext, nil), nil
}
