// Package secret seals credential material at rest with AES-256-GCM.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLen = 32
	// prefix versions the envelope so the format can change without guessing.
	prefix = "v1:"
)

// DefaultIterations is the PBKDF2 work factor used when none is configured.
const DefaultIterations = 100000

// ErrDecrypt is returned when a sealed value cannot be opened.
var ErrDecrypt = errors.New("secret: unable to decrypt value")

// Cipher encrypts and decrypts short strings. The key is derived once from a
// passphrase and salt so each Seal only pays for GCM.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives an AES-256 key from passphrase and salt.
func NewCipher(passphrase, salt string, iterations int) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("secret: passphrase is required")
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	key := pbkdf2.Key([]byte(passphrase), []byte(salt), iterations, keyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secret: creating block cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secret: creating GCM: %w", err)
	}
	return &Cipher{aead: gcm}, nil
}

// Seal encrypts plaintext into a printable envelope: v1:base64(nonce|ciphertext).
// The empty string seals to the empty string so absent tokens stay absent.
func (c *Cipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secret: generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (c *Cipher) Open(envelope string) (string, error) {
	if envelope == "" {
		return "", nil
	}
	if len(envelope) < len(prefix) || envelope[:len(prefix)] != prefix {
		return "", ErrDecrypt
	}
	raw, err := base64.StdEncoding.DecodeString(envelope[len(prefix):])
	if err != nil {
		return "", ErrDecrypt
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", ErrDecrypt
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
