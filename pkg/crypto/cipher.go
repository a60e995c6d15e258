// Package crypto provides encryption utilities for secrets stored in
// configuration files.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SecretPrefix marks a configuration value as an encrypted secret.
const SecretPrefix = "enc:"

// Encryptor provides encryption and decryption capabilities.
type Encryptor interface {
	// EncryptString encrypts plaintext and returns base64-encoded ciphertext.
	EncryptString(plaintext string) (string, error)
	// DecryptString decrypts base64-encoded ciphertext and returns plaintext.
	DecryptString(encoded string) (string, error)
}

var (
	// ErrInvalidKey is returned when the encryption key is invalid.
	ErrInvalidKey = errors.New("crypto: invalid encryption key")
	// ErrInvalidCiphertext is returned when the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext")
	// ErrDecryptionFailed is returned when decryption fails.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
	// ErrNoKey is returned when an encrypted secret is found but no key is configured.
	ErrNoKey = errors.New("crypto: encrypted secret found but no encryption key configured")
)

// Cipher provides AES-256-GCM encryption and decryption.
type Cipher struct {
	aead cipher.AEAD
}

var _ Encryptor = (*Cipher)(nil)

// NewCipher creates a new Cipher with the given key.
// The key must be exactly 32 bytes for AES-256.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: key must be exactly 32 bytes, got %d", ErrInvalidKey, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM cipher: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// NewCipherFromHex creates a new Cipher from a hex-encoded key.
func NewCipherFromHex(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex key: %v", ErrInvalidKey, err)
	}
	return NewCipher(key)
}

// Encrypt encrypts plaintext and returns base64-encoded ciphertext.
// The ciphertext includes the nonce prepended to it.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// EncryptString encrypts a string and returns base64-encoded ciphertext.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	return c.Encrypt([]byte(plaintext))
}

// Decrypt decrypts base64-encoded ciphertext and returns plaintext.
func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrInvalidCiphertext, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrInvalidCiphertext)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// DecryptString decrypts base64-encoded ciphertext and returns a string.
func (c *Cipher) DecryptString(encoded string) (string, error) {
	plaintext, err := c.Decrypt(encoded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// IsSealed reports whether value carries the encrypted-secret prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SecretPrefix)
}

// Seal encrypts plaintext into an "enc:"-prefixed configuration value.
func Seal(enc Encryptor, plaintext string) (string, error) {
	ct, err := enc.EncryptString(plaintext)
	if err != nil {
		return "", err
	}
	return SecretPrefix + ct, nil
}

// Open returns value unchanged unless it is sealed, in which case it is
// decrypted with enc. A nil enc with a sealed value yields ErrNoKey.
func Open(enc Encryptor, value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if enc == nil {
		return "", ErrNoKey
	}
	return enc.DecryptString(strings.TrimPrefix(value, SecretPrefix))
}
