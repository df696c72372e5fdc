// Package secret encrypts small opaque values (LLM provider API keys) at
// rest using NaCl secretbox, so a leaked config file alone doesn't expose
// plaintext credentials.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the required length of a secretbox key.
const KeySize = 32

const nonceSize = 24

var ErrInvalidKeySize = fmt.Errorf("secret: key must be %d bytes", KeySize)

// LoadKey reads a secretbox key from path. The file may hold either the raw
// 32 bytes or a base64-encoded representation of them.
func LoadKey(path string) (*[KeySize]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secret: read key file: %w", err)
	}

	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) != KeySize {
		decoded, decErr := base64.StdEncoding.DecodeString(string(raw))
		if decErr != nil || len(decoded) != KeySize {
			return nil, ErrInvalidKeySize
		}
		raw = decoded
	}

	var key [KeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// GenerateKey returns a fresh random secretbox key, for bootstrapping a new
// deployment's key file.
func GenerateKey() (*[KeySize]byte, error) {
	var key [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, fmt.Errorf("secret: generate key: %w", err)
	}
	return &key, nil
}

// Encrypt seals plaintext under key and returns a base64-encoded
// nonce||ciphertext blob suitable for storing in a config file.
func Encrypt(key *[KeySize]byte, plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("secret: generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(key *[KeySize]byte, blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("secret: decode blob: %w", err)
	}
	if len(raw) < nonceSize {
		return "", errors.New("secret: blob too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, key)
	if !ok {
		return "", errors.New("secret: decryption failed (wrong key or corrupt blob)")
	}
	return string(plaintext), nil
}
