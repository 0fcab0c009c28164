package secrets

import (
	"errors"
	"testing"
)

func testKey(b byte) [32]byte {
	var key [32]byte
	for i := range key {
		key[i] = b
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box := NewBox(testKey(1))

	ct, err := box.Encrypt("sip-password-123")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if ct == "sip-password-123" {
		t.Fatalf("ciphertext equals plaintext")
	}

	pt, err := box.Decrypt(ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if pt != "sip-password-123" {
		t.Fatalf("round trip mismatch: %q", pt)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	box := NewBox(testKey(1))
	a, _ := box.Encrypt("x")
	b, _ := box.Encrypt("x")
	if a == b {
		t.Fatalf("expected fresh nonce per encryption")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	ct, err := NewBox(testKey(1)).Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	_, err = NewBox(testKey(2)).Decrypt(ct)
	if !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
}

func TestDecryptGarbageFails(t *testing.T) {
	box := NewBox(testKey(1))
	for _, in := range []string{"", "notbase64%%%", "AAAA"} {
		if _, err := box.Decrypt(in); !errors.Is(err, ErrDecryptFailed) {
			t.Fatalf("input %q: expected ErrDecryptFailed, got %v", in, err)
		}
	}
}
