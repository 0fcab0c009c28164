package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Box encrypts and decrypts small secrets (SIP passwords) for at-rest storage.
//
// Format: base64(nonce[24] || sealed). The key lives in config and is the
// only thing that can open previously stored values; a rotated key makes
// old ciphertexts undecryptable, which callers must surface as
// ErrDecryptFailed (re-enter credentials), never as a crash.
type Box struct {
	key [32]byte
}

// ErrDecryptFailed indicates the stored ciphertext cannot be opened with the
// current key (corruption or key rotation).
var ErrDecryptFailed = errors.New("secrets: decrypt failed")

func NewBox(key [32]byte) *Box {
	return &Box{key: key}
}

const nonceLen = 24

// Encrypt seals plaintext and returns a base64 string safe for a TEXT column.
func (b *Box) Encrypt(plaintext string) (string, error) {
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (b *Box) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(raw) < nonceLen {
		return "", ErrDecryptFailed
	}
	var nonce [nonceLen]byte
	copy(nonce[:], raw[:nonceLen])
	plain, ok := secretbox.Open(nil, raw[nonceLen:], &nonce, &b.key)
	if !ok {
		return "", ErrDecryptFailed
	}
	return string(plain), nil
}
