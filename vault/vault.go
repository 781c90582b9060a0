// Package vault encrypts OAuth credentials at rest with AES-256-GCM.
// It is pure and synchronous: no retries, no storage, no knowledge of
// sync logic. The key is injected at construction so the vault carries
// no implicit global dependency.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

var (
	ErrInvalidKey       = errors.New("vault: encryption key must be 64 hex characters (32 bytes)")
	ErrMalformedPayload = errors.New("vault: malformed payload")
	ErrDecryptFailed    = errors.New("vault: decryption failed")
)

// Payload is one encrypted value. All three fields are hex-encoded; the
// authentication tag is kept explicit so tampering with stored ciphertext
// is detectable, not just unreadable.
type Payload struct {
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
}

// Encode packs the payload into a single iv:ciphertext:tag column value.
func (p Payload) Encode() string {
	return p.IV + ":" + p.Ciphertext + ":" + p.Tag
}

// ParsePayload is the inverse of Encode.
func ParsePayload(s string) (Payload, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return Payload{}, ErrMalformedPayload
	}
	return Payload{IV: parts[0], Ciphertext: parts[1], Tag: parts[2]}, nil
}

type Vault struct {
	key []byte
}

func New(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil || len(key) != keySize {
		return nil, ErrInvalidKey
	}
	return &Vault{key: key}, nil
}

func (v *Vault) Encrypt(plaintext string) (Payload, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return Payload{}, fmt.Errorf("vault: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Payload{}, fmt.Errorf("vault: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Payload{}, fmt.Errorf("vault: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return Payload{
		IV:         hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(ciphertext),
		Tag:        hex.EncodeToString(tag),
	}, nil
}

// Decrypt fails closed: any tag mismatch, truncated field or bad encoding
// surfaces as a typed error, never as garbage plaintext.
func (v *Vault) Decrypt(p Payload) (string, error) {
	nonce, err := hex.DecodeString(p.IV)
	if err != nil || len(nonce) != nonceSize {
		return "", ErrMalformedPayload
	}
	ciphertext, err := hex.DecodeString(p.Ciphertext)
	if err != nil {
		return "", ErrMalformedPayload
	}
	tag, err := hex.DecodeString(p.Tag)
	if err != nil || len(tag) != tagSize {
		return "", ErrMalformedPayload
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

// EncryptToString is a convenience for the common store-in-one-column case.
func (v *Vault) EncryptToString(plaintext string) (string, error) {
	p, err := v.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return p.Encode(), nil
}

// DecryptFromString decrypts a value produced by EncryptToString.
func (v *Vault) DecryptFromString(encoded string) (string, error) {
	p, err := ParsePayload(encoded)
	if err != nil {
		return "", err
	}
	return v.Decrypt(p)
}
