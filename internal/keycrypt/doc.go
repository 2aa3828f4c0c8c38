// Package keycrypt implements the cryptographic primitives consumed by the
// epoch rotation engine: ML-KEM-768 keypairs, asymmetric key wrapping
// (KEM encapsulation + HKDF-SHA-512 + AES-256-GCM), symmetric payload
// encryption under an epoch's message key, and epoch confirmation hashes.
//
// The engine itself treats every output of this package as an opaque blob;
// only clients (and the test suites simulating them) ever look inside.
package keycrypt
