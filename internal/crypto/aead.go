package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// On-disk envelope layout, bit-exact:
//
//	version(1) || nonce(12) || ciphertext(n) || tag(16)
//
// Associated data is the single version byte. Total overhead is 29 bytes.
const (
	EnvelopeVersion = 0x01

	envelopeNonceSize = chacha20poly1305.NonceSize // 12
	envelopeTagSize   = chacha20poly1305.Overhead  // 16
	envelopeMinSize   = 1 + envelopeNonceSize + envelopeTagSize

	// EnvelopeOverhead is the fixed size added to a plaintext by Seal.
	EnvelopeOverhead = envelopeMinSize
)

var (
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrUnknownVersion     = errors.New("crypto: unknown envelope version")
	// ErrAuth signals a tag mismatch: wrong key or corrupted envelope.
	// Non-recoverable for that blob.
	ErrAuth = errors.New("crypto: message authentication failed")
)

// Seal encrypts plaintext under key with ChaCha20-Poly1305 and a fresh
// random nonce, producing a self-contained envelope. A new buffer is
// allocated every call; the plaintext is left untouched.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, envelopeNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(plaintext)+EnvelopeOverhead)
	out = append(out, EnvelopeVersion)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, out[:1]), nil
}

// Open authenticates and decrypts an envelope produced by Seal. Returns
// ErrAuth on any tag mismatch; callers must treat that as terminal for
// the blob and must not log the ciphertext.
func Open(key, envelope []byte) ([]byte, error) {
	if len(envelope) < envelopeMinSize {
		return nil, ErrCiphertextTooShort
	}
	if envelope[0] != EnvelopeVersion {
		return nil, ErrUnknownVersion
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := envelope[1 : 1+envelopeNonceSize]
	ct := envelope[1+envelopeNonceSize:]
	pt, err := aead.Open(nil, nonce, ct, envelope[:1])
	if err != nil {
		return nil, ErrAuth
	}
	return pt, nil
}
