package vault

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestNew_RejectsBadKeys(t *testing.T) {
	cases := []string{
		"",
		"abcd",
		strings.Repeat("0", 63),
		strings.Repeat("0", 66),
		strings.Repeat("z", 64), // not hex
	}
	for _, key := range cases {
		if _, err := New(key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("New(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatal(err)
	}

	plaintexts := []string{
		"sq0atp-abc123",
		"",
		"a much longer refresh token value with spaces and unicode ★",
	}
	for _, plaintext := range plaintexts {
		payload, err := v.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		got, err := v.Decrypt(payload)
		if err != nil {
			t.Fatalf("Decrypt round trip (%q): %v", plaintext, err)
		}
		if got != plaintext {
			t.Errorf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	v, _ := New(testKey)
	a, err := v.Encrypt("same plaintext")
	if err != nil {
		t.Fatal(err)
	}
	b, err := v.Encrypt("same plaintext")
	if err != nil {
		t.Fatal(err)
	}
	if a.IV == b.IV {
		t.Error("two encryptions reused the same nonce")
	}
	if a.Ciphertext == b.Ciphertext {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestDecrypt_TamperedCiphertextFails(t *testing.T) {
	v, _ := New(testKey)
	payload, err := v.Encrypt("access-token-value")
	if err != nil {
		t.Fatal(err)
	}

	raw, _ := hex.DecodeString(payload.Ciphertext)
	raw[0] ^= 0xff
	payload.Ciphertext = hex.EncodeToString(raw)

	if _, err := v.Decrypt(payload); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("expected ErrDecryptFailed for tampered ciphertext, got %v", err)
	}
}

func TestDecrypt_TamperedTagFails(t *testing.T) {
	v, _ := New(testKey)
	payload, err := v.Encrypt("access-token-value")
	if err != nil {
		t.Fatal(err)
	}

	raw, _ := hex.DecodeString(payload.Tag)
	raw[3] ^= 0x01
	payload.Tag = hex.EncodeToString(raw)

	if _, err := v.Decrypt(payload); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("expected ErrDecryptFailed for tampered tag, got %v", err)
	}
}

func TestDecrypt_TruncatedFieldsFailClosed(t *testing.T) {
	v, _ := New(testKey)
	payload, _ := v.Encrypt("access-token-value")

	truncatedIV := payload
	truncatedIV.IV = truncatedIV.IV[:8]
	if _, err := v.Decrypt(truncatedIV); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("truncated IV: expected ErrMalformedPayload, got %v", err)
	}

	truncatedTag := payload
	truncatedTag.Tag = truncatedTag.Tag[:10]
	if _, err := v.Decrypt(truncatedTag); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("truncated tag: expected ErrMalformedPayload, got %v", err)
	}
}

func TestPayloadEncodeParse(t *testing.T) {
	v, _ := New(testKey)
	encoded, err := v.EncryptToString("refresh-token-value")
	if err != nil {
		t.Fatal(err)
	}
	got, err := v.DecryptFromString(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if got != "refresh-token-value" {
		t.Errorf("got %q want %q", got, "refresh-token-value")
	}

	if _, err := ParsePayload("not-a-payload"); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
}
