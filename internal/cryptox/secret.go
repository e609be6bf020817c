// Package cryptox implements the secret codec used to protect brokerage
// credentials at rest. Values are sealed with AES-256-GCM and stored as a
// single opaque base64 string so the surrounding profile code never handles
// nonces or tags directly.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	keyLen   = 32 // AES-256
	nonceLen = 12 // standard GCM nonce
	tagLen   = 16 // GCM authentication tag

	// MaskDefault is how many trailing characters Mask leaves visible.
	MaskDefault = 4
)

// ErrInvalidMasterKey indicates a malformed master key. It is a deployment
// problem: callers must treat it as fatal at startup, never per-request.
var ErrInvalidMasterKey = errors.New("master key must be 64 hex chars (32 bytes)")

// ErrAuthenticationFailed indicates that a stored ciphertext did not
// authenticate under the master key. Decryption fails closed; no partial
// plaintext is ever returned.
var ErrAuthenticationFailed = errors.New("secret authentication failed")

// ParseMasterKey decodes and validates the 64-hex-char master encryption key.
func ParseMasterKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil || len(key) != keyLen {
		return nil, ErrInvalidMasterKey
	}
	return key, nil
}

// EncryptSecret seals plaintext under key and packs the result as
// base64(nonce || tag || ciphertext). A fresh random nonce is drawn from
// crypto/rand on every call; nonces must never repeat under one key.
func EncryptSecret(plaintext string, key []byte) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	// Seal returns ciphertext||tag; the stored layout is nonce||tag||ciphertext.
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	packed := make([]byte, 0, nonceLen+tagLen+len(ct))
	packed = append(packed, nonce...)
	packed = append(packed, tag...)
	packed = append(packed, ct...)
	return base64.StdEncoding.EncodeToString(packed), nil
}

// DecryptSecret reverses EncryptSecret. Any tampering, truncation, or wrong
// key yields ErrAuthenticationFailed.
func DecryptSecret(encoded string, key []byte) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}
	packed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(packed) < nonceLen+tagLen {
		return "", ErrAuthenticationFailed
	}
	nonce := packed[:nonceLen]
	tag := packed[nonceLen : nonceLen+tagLen]
	ct := packed[nonceLen+tagLen:]

	sealed := make([]byte, 0, len(ct)+tagLen)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrAuthenticationFailed
	}
	return string(plaintext), nil
}

// Mask replaces all but the last visible characters with '*'. It exists for
// logging and API responses only; masked values carry no authority.
func Mask(value string, visible int) string {
	if value == "" {
		return ""
	}
	if visible < 0 {
		visible = 0
	}
	keep := visible
	if keep > len(value) {
		keep = len(value)
	}
	return strings.Repeat("*", len(value)-keep) + value[len(value)-keep:]
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != keyLen {
		return nil, ErrInvalidMasterKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
