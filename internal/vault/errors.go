package vault

import "errors"

// Closed error set of the vault core. Callers match with errors.Is;
// wrapped variants carry detail but never ciphertext or key material.
var (
	ErrNotInitialized     = errors.New("vault: not initialized")
	ErrAlreadyInitialized = errors.New("vault: already initialized")
	ErrInvalidCredential  = errors.New("vault: invalid credential")
	ErrLocked             = errors.New("vault: locked")
	ErrDecoyForbidden     = errors.New("vault: operation forbidden in decoy session")
	ErrConstraintViolated = errors.New("vault: constraint violated")
	ErrNotFound           = errors.New("vault: item not found")
	// ErrCrypto is an AEAD tag mismatch: wrong key or corrupted blob.
	// Non-recoverable for that object.
	ErrCrypto       = errors.New("vault: decryption failed")
	ErrCancelled    = errors.New("vault: operation cancelled")
	ErrThrottled    = errors.New("vault: too many unlock attempts")
	ErrInvalidToken = errors.New("vault: invalid preview token")
)
