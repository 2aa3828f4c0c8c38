package keycrypt

import (
	"bytes"
	"testing"
)

func TestGenerateKeypair(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}

	if len(kp.PublicKey) != MLKEMPublicKeySize {
		t.Errorf("PublicKey length = %d, want %d", len(kp.PublicKey), MLKEMPublicKeySize)
	}
	if len(kp.SecretKey) != MLKEMSecretKeySize {
		t.Errorf("SecretKey length = %d, want %d", len(kp.SecretKey), MLKEMSecretKeySize)
	}
	if kp.PublicKeyB64 == "" {
		t.Error("PublicKeyB64 is empty")
	}

	decoded, err := FromBase64URL(kp.PublicKeyB64)
	if err != nil {
		t.Fatalf("FromBase64URL() error = %v", err)
	}
	if !bytes.Equal(decoded, kp.PublicKey) {
		t.Error("PublicKeyB64 does not decode to PublicKey")
	}
}

func TestGenerateKeypair_Unique(t *testing.T) {
	a, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a.PublicKey, b.PublicKey) {
		t.Error("two generated keypairs share a public key")
	}
}

func TestKeypairFromSecretKey(t *testing.T) {
	original, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}

	restored, err := KeypairFromSecretKey(original.SecretKey)
	if err != nil {
		t.Fatalf("KeypairFromSecretKey() error = %v", err)
	}
	if !bytes.Equal(restored.PublicKey, original.PublicKey) {
		t.Error("restored public key differs from original")
	}
}

func TestKeypairFromSecretKey_InvalidSize(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"too short", MLKEMSecretKeySize - 1},
		{"too long", MLKEMSecretKeySize + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := KeypairFromSecretKey(make([]byte, tt.size))
			if err != ErrInvalidSecretKeySize {
				t.Errorf("error = %v, want ErrInvalidSecretKeySize", err)
			}
		})
	}
}

func TestValidatePublicKey(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}

	if !ValidatePublicKey(kp.PublicKey) {
		t.Error("ValidatePublicKey() = false for a generated key")
	}
	if ValidatePublicKey(nil) {
		t.Error("ValidatePublicKey(nil) = true")
	}
	if ValidatePublicKey(make([]byte, 32)) {
		t.Error("ValidatePublicKey() = true for a 32-byte key")
	}
}
