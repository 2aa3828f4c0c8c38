package keycrypt

const (
	// WrapContext is the HKDF domain-separation context for key wraps and
	// chain links.
	WrapContext = "hushbox:wrap:v1"

	// MessageContext is the HKDF domain-separation context for deriving an
	// epoch's symmetric message key from its secret key.
	MessageContext = "hushbox:msg:v1"

	// ConfirmContext is the domain-separation prefix for epoch confirmation
	// hashes.
	ConfirmContext = "hushbox:confirm:v1"

	// MLKEMPublicKeySize is the size of an ML-KEM-768 public key in bytes.
	MLKEMPublicKeySize = 1184
	// MLKEMSecretKeySize is the size of an ML-KEM-768 secret key in bytes.
	MLKEMSecretKeySize = 2400
	// MLKEMCiphertextSize is the size of an ML-KEM-768 ciphertext in bytes.
	MLKEMCiphertextSize = 1088
	// MLKEMSharedKeySize is the size of the shared secret from ML-KEM-768 in bytes.
	MLKEMSharedKeySize = 32

	// AESKeySize is the size of an AES-256 key in bytes.
	AESKeySize = 32
	// AESNonceSize is the size of an AES-GCM nonce in bytes.
	AESNonceSize = 12
	// AESTagSize is the size of an AES-GCM authentication tag in bytes.
	AESTagSize = 16

	// ConfirmationHashSize is the size of an epoch confirmation hash in bytes.
	ConfirmationHashSize = 32

	// PublicKeyOffset is the byte offset where the public key is embedded
	// within an ML-KEM-768 secret key.
	PublicKeyOffset = 1152
)

// WrapOverhead is the fixed size added to a secret by Wrap:
// KEM ciphertext || nonce || GCM tag.
const WrapOverhead = MLKEMCiphertextSize + AESNonceSize + AESTagSize
