// Package secretbox is the shared symmetric encryption primitive used for
// values stored at rest under the site secret (emergency password blob,
// channel credentials).
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrNoSecret is returned when the site secret is empty; callers must treat
// this as a hard failure, never as permission to store plaintext.
var ErrNoSecret = errors.New("secretbox: no site secret configured")

// Box encrypts and decrypts strings with AES-256-GCM under a key derived
// from the site secret. Output framing: base64(nonce || ciphertext).
type Box struct {
	key []byte
}

// New derives a Box from the site secret. Returns ErrNoSecret for an empty
// secret.
func New(siteSecret string) (*Box, error) {
	if siteSecret == "" {
		return nil, ErrNoSecret
	}
	sum := sha256.Sum256([]byte(siteSecret))
	return &Box{key: sum[:]}, nil
}

// Encrypt seals the plaintext and returns the framed ciphertext.
func (b *Box) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// Decrypt opens a framed ciphertext produced by Encrypt.
func (b *Box) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("secretbox: invalid framing: %w", err)
	}
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	ns := gcm.NonceSize()
	if len(raw) < ns {
		return "", errors.New("secretbox: ciphertext too short")
	}
	nonce, ciphertext := raw[:ns], raw[ns:]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.New("secretbox: decryption failed (wrong key or tampered data)")
	}
	return string(plain), nil
}
