package keycrypt

import "errors"

var (
	// ErrInvalidSecretKeySize is returned when the secret key size is invalid.
	ErrInvalidSecretKeySize = errors.New("invalid secret key size")

	// ErrInvalidPublicKeySize is returned when the public key size is invalid.
	ErrInvalidPublicKeySize = errors.New("invalid public key size")

	// ErrInvalidWrap is returned when a wrap blob is too short to contain the
	// KEM ciphertext, nonce, and tag.
	ErrInvalidWrap = errors.New("invalid wrap")

	// ErrUnwrapFailed is returned when unwrapping fails authentication.
	ErrUnwrapFailed = errors.New("unwrap failed")

	// ErrDecryptionFailed is returned when symmetric decryption fails.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidKeySize is returned when the AES key size is invalid.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidNonceSize is returned when the nonce size is invalid.
	ErrInvalidNonceSize = errors.New("invalid nonce size")

	// ErrInvalidCiphertext is returned when a symmetric blob is too short to
	// contain the nonce and tag.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)
