package cryptox

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretSize is the smallest configured secret we accept for deriving
// signing keys.
const MinSecretSize = 32

// ErrWeakSecret is returned when a configured secret is too short.
var ErrWeakSecret = errors.New("cryptox: secret must be at least 32 bytes")

// DeriveKey stretches an operator supplied secret into a fixed size key with
// HKDF-SHA256. The info string scopes the key to one purpose so the same
// secret can't be turned into a key for something else.
func DeriveKey(secret []byte, info string, size int) ([]byte, error) {
	if len(secret) < MinSecretSize {
		return nil, ErrWeakSecret
	}
	if size <= 0 {
		return nil, fmt.Errorf("cryptox: key size must be positive, got %d", size)
	}

	key := make([]byte, size)
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("cryptox: derive key: %w", err)
	}

	return key, nil
}
