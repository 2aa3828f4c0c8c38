package keycrypt

import (
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives a key using HKDF-SHA-512.
//
// Parameters:
//   - secret: the input key material
//   - salt: optional salt value; if empty, a zero-filled salt is used
//   - info: context/application-specific info for domain separation
//   - length: desired output key length in bytes
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	if len(salt) == 0 {
		salt = make([]byte, sha512.Size)
	}

	reader := hkdf.New(sha512.New, secret, salt, info)
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// MessageKey derives an epoch's symmetric message key from its secret key.
// Messages and titles stamped with an epoch number are encrypted under this
// key, so anyone who can unwrap (or chain-derive) the epoch secret can read
// them.
func MessageKey(epochSecret []byte) ([]byte, error) {
	if len(epochSecret) != MLKEMSecretKeySize {
		return nil, ErrInvalidSecretKeySize
	}
	return DeriveKey(epochSecret, nil, []byte(MessageContext), AESKeySize)
}
