// Package secrets obscures stored third-party API credentials at rest.
// This mitigates casual exposure of the database file; it is not a security
// boundary against an attacker who also holds the passphrase.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keySize    = 32 // AES-256
	iterations = 100_000
)

// ErrDecrypt is returned when a ciphertext cannot be decrypted, typically
// because the passphrase changed or the stored value is corrupt.
var ErrDecrypt = errors.New("decryption failed")

// Box encrypts and decrypts short strings with a key derived from a
// passphrase.
type Box struct {
	passphrase string
}

// New creates a Box for the given passphrase.
func New(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("encryption passphrase must not be empty")
	}
	return &Box{passphrase: passphrase}, nil
}

// Encrypt returns a base64 token containing salt, nonce, and AES-256-GCM
// ciphertext. A fresh salt and nonce are drawn for every call.
func (b *Box) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	gcm, err := b.cipherFor(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	token := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	token = append(token, salt...)
	token = append(token, nonce...)
	token = append(token, sealed...)
	return base64.StdEncoding.EncodeToString(token), nil
}

// Decrypt reverses Encrypt. Tampered or foreign tokens yield ErrDecrypt.
func (b *Box) Decrypt(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < saltSize {
		return "", ErrDecrypt
	}

	salt, rest := raw[:saltSize], raw[saltSize:]
	gcm, err := b.cipherFor(salt)
	if err != nil {
		return "", err
	}
	if len(rest) < gcm.NonceSize() {
		return "", ErrDecrypt
	}

	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

func (b *Box) cipherFor(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(b.passphrase), salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
