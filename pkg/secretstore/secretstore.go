// Package secretstore seals and opens credential material with AES-256-GCM,
// and projects decrypted secrets into the HTTP auth headers the Prober sends.
package secretstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

// keySize is the AES-256 key length in bytes.
const keySize = 32

// nonceSize is the GCM standard nonce length (96 bits).
const nonceSize = 12

// ErrCrypto is returned for any sealing/opening failure: missing key,
// tamper detection, truncation, or wrong key.
var ErrCrypto = errors.New("secretstore: crypto error")

// Store seals and opens secrets with a single AES-256-GCM key derived from a
// configured passphrase.
//
// Key derivation right-pads/truncates the passphrase to exactly 32 bytes.
// This matches the source system for compatibility with operator-supplied
// 32-character secrets; it is not a proper KDF (no salt, no stretching) and
// should not be treated as one — see DESIGN.md.
type Store struct {
	gcm cipher.AEAD
}

// New derives a 32-byte key from secret and constructs a Store.
// Returns ErrCrypto if secret is empty.
func New(secret string) (*Store, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: encryption secret not configured", ErrCrypto)
	}

	key := deriveKey(secret)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	return &Store{gcm: gcm}, nil
}

// deriveKey right-pads/truncates secret to exactly keySize bytes.
func deriveKey(secret string) []byte {
	key := make([]byte, keySize)
	copy(key, secret)
	return key
}

// Seal encrypts plaintext with a fresh random nonce. The output is
// base64(nonce || ciphertext || tag).
func (s *Store) Seal(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrCrypto, err)
	}

	sealed := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. It authenticates the GCM tag and
// fails on any tamper, truncation, or wrong-key condition.
func (s *Store) Open(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding ciphertext: %v", ErrCrypto, err)
	}

	if len(raw) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrCrypto)
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	return string(plaintext), nil
}

// Mask returns a display-safe representation of plaintext: exactly "****"
// when len(plaintext) < 5, otherwise "****" followed by the last 4
// characters. Mask is lossy by design and leaks at most 4 characters.
func Mask(plaintext string) string {
	chars := []rune(plaintext)
	if len(chars) < 5 {
		return "****"
	}
	return "****" + string(chars[len(chars)-4:])
}

// ConstantTimeEqual compares a and b without leaking timing information
// about where they first differ. It returns false immediately on a length
// mismatch (lengths are not secret), but never short-circuits on the first
// byte mismatch once lengths match.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Credential type discriminants, mirrored from the monitor package's data
// model. Duplicated here (rather than imported) to keep secretstore
// dependency-free of the storage layer it feeds.
const (
	CredentialBearerToken = "BEARER_TOKEN"
	CredentialAPIKey      = "API_KEY"
	CredentialBasicAuth   = "BASIC_AUTH"
)

// defaultAPIKeyHeader is used when a credential of type API_KEY carries no
// explicit header_name.
const defaultAPIKeyHeader = "X-API-Key"

// ProjectAuthHeader derives the HTTP header name/value pair the Prober must
// set for a decrypted credential. value is the decrypted secret; username is
// only consulted for BASIC_AUTH and may be empty otherwise. headerName is the
// credential's configured header_name, relevant only for API_KEY.
func ProjectAuthHeader(credType, headerName, username, value string) (name, headerValue string, err error) {
	switch credType {
	case CredentialBearerToken:
		return "Authorization", "Bearer " + value, nil
	case CredentialAPIKey:
		if headerName == "" {
			headerName = defaultAPIKeyHeader
		}
		return headerName, value, nil
	case CredentialBasicAuth:
		encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + value))
		return "Authorization", "Basic " + encoded, nil
	default:
		return "", "", fmt.Errorf("%w: unknown credential type %q", ErrCrypto, credType)
	}
}
