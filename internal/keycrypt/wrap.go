package keycrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/hkdf"
)

// Wrap seals a secret to a recipient's ML-KEM-768 public key.
//
// The wrapping process:
//  1. ML-KEM-768 encapsulation against the recipient key
//  2. HKDF-SHA-512 key derivation from the shared secret and KEM ciphertext
//  3. AES-256-GCM encryption of the secret
//
// Output framing: ctKEM (1088 bytes) || nonce (12 bytes) || ciphertext+tag.
//
// The same construction serves both epoch-key wraps (secret = epoch secret
// key, recipient = member public key) and chain links (secret = previous
// epoch's secret key, recipient = current epoch's public key).
func Wrap(secret, recipientPub []byte) ([]byte, error) {
	if len(recipientPub) != MLKEMPublicKeySize {
		return nil, ErrInvalidPublicKeySize
	}

	var pub mlkem768.PublicKey
	if err := pub.Unpack(recipientPub); err != nil {
		return nil, fmt.Errorf("unpack public key: %w", err)
	}

	ctKem := make([]byte, MLKEMCiphertextSize)
	sharedSecret := make([]byte, MLKEMSharedKeySize)
	pub.EncapsulateTo(ctKem, sharedSecret, nil)

	aesKey, err := deriveWrapKey(sharedSecret, ctKem)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, AESNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, secret, nil)

	out := make([]byte, 0, MLKEMCiphertextSize+AESNonceSize+len(sealed))
	out = append(out, ctKem...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Unwrap recovers a secret wrapped to the holder of recipientSecret.
func Unwrap(wrap, recipientSecret []byte) ([]byte, error) {
	if len(recipientSecret) != MLKEMSecretKeySize {
		return nil, ErrInvalidSecretKeySize
	}
	if len(wrap) < WrapOverhead {
		return nil, ErrInvalidWrap
	}

	ctKem := wrap[:MLKEMCiphertextSize]
	nonce := wrap[MLKEMCiphertextSize : MLKEMCiphertextSize+AESNonceSize]
	sealed := wrap[MLKEMCiphertextSize+AESNonceSize:]

	var priv mlkem768.PrivateKey
	if err := priv.Unpack(recipientSecret); err != nil {
		return nil, fmt.Errorf("unpack secret key: %w", err)
	}

	sharedSecret := make([]byte, MLKEMSharedKeySize)
	priv.DecapsulateTo(sharedSecret, ctKem)

	aesKey, err := deriveWrapKey(sharedSecret, ctKem)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	plaintext, err := decryptAESGCM(aesKey, nonce, nil, sealed)
	if err != nil {
		return nil, ErrUnwrapFailed
	}
	return plaintext, nil
}

// deriveWrapKey performs HKDF-SHA-512 key derivation for the wrap scheme.
//
// IKM is the KEM shared secret, salt is the SHA-256 hash of the KEM
// ciphertext, and info is the wrap context string.
func deriveWrapKey(sharedSecret, ctKem []byte) ([]byte, error) {
	saltHash := sha256.Sum256(ctKem)

	reader := hkdf.New(sha512.New, sharedSecret, saltHash[:], []byte(WrapContext))
	key := make([]byte, AESKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
