package keycrypt

import "crypto/sha256"

// ConfirmationHash computes the confirmation hash binding an epoch's public
// material. Participants compare this value to verify they converged on the
// same epoch without exchanging the secret.
func ConfirmationHash(epochPub []byte) []byte {
	h := sha256.New()
	h.Write([]byte(ConfirmContext))
	h.Write(epochPub)
	return h.Sum(nil)
}

// VerifyConfirmationHash reports whether hash matches the confirmation hash
// of epochPub.
func VerifyConfirmationHash(epochPub, hash []byte) bool {
	want := ConfirmationHash(epochPub)
	if len(hash) != len(want) {
		return false
	}
	var diff byte
	for i := range want {
		diff |= want[i] ^ hash[i]
	}
	return diff == 0
}
