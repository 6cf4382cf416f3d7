package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// SaltSize is the length of the per-vault KDF salt.
	SaltSize = 16
	// KeySize is the length of data keys and verifier hashes.
	KeySize = 32
)

// KDFParams holds the Argon2id cost parameters. The salt lives in the
// credential registry, not here; derivation is a pure function of
// (secret, salt, params).
type KDFParams struct {
	M uint32 // memory in KiB
	T uint32 // passes
	P uint8  // lanes
}

// DefaultKDF returns parameters sized so one derivation takes well over
// 150ms on commodity mobile hardware.
func DefaultKDF() KDFParams {
	return KDFParams{M: 64 * 1024, T: 3, P: 2}
}

// NewSalt draws a fresh random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

const (
	keyInfo      = "securevault/key/v1"
	verifierInfo = "securevault/verify/v1"
)

// DeriveBoth runs Argon2id once over (secret, salt) and expands the root
// into the data key and the verifier hash with domain-separated HKDF info
// labels. The verifier exposes no usable bits of the key.
func DeriveBoth(secret, salt []byte, p KDFParams) (key, verifier [32]byte) {
	root := argon2.IDKey(secret, salt, p.T, p.M, p.P, KeySize)
	key = expand(root, salt, keyInfo)
	verifier = expand(root, salt, verifierInfo)
	Zero(root)
	return key, verifier
}

// DeriveKey derives only the 32-byte data key.
func DeriveKey(secret, salt []byte, p KDFParams) [32]byte {
	key, verifier := DeriveBoth(secret, salt, p)
	Zero32(&verifier)
	return key
}

// DeriveVerifier derives only the 32-byte verifier hash.
func DeriveVerifier(secret, salt []byte, p KDFParams) [32]byte {
	key, verifier := DeriveBoth(secret, salt, p)
	Zero32(&key)
	return verifier
}

func expand(root, salt []byte, info string) (out [32]byte) {
	stream := hkdf.New(sha256.New, root, salt, []byte(info))
	if _, err := io.ReadFull(stream, out[:]); err != nil {
		// HKDF-SHA256 cannot fail for a 32-byte read; parameters are fixed
		// at compile time, so any error here is programmer error.
		panic("crypto: hkdf expand: " + err.Error())
	}
	return out
}

// VerifierEqual compares a candidate verifier against a stored one in
// constant time.
func VerifierEqual(a, b []byte) bool {
	if len(a) != KeySize || len(b) != KeySize {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
