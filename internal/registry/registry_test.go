package registry

import (
	"crypto/rand"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rajnish8869/SecureVault-Manager/internal/crypto"
)

func randVerifier(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, crypto.KeySize)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return b
}

func openTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth.json")
	r, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return r, path
}

func TestInitAndReload(t *testing.T) {
	r, path := openTestRegistry(t)
	if r.IsInitialized() {
		t.Fatal("fresh registry reports initialized")
	}
	salt := randVerifier(t)[:crypto.SaltSize]
	real := randVerifier(t)
	if err := r.Init(salt, real, LockTypePassword); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := r.Init(salt, real, LockTypePassword); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}

	r2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !r2.IsInitialized() {
		t.Fatal("reloaded registry lost the record")
	}
	gotSalt, err := r2.Salt()
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	if string(gotSalt) != string(salt) {
		t.Fatal("salt did not survive reload")
	}
	lt, err := r2.LockType()
	if err != nil {
		t.Fatalf("lock type: %v", err)
	}
	if lt != LockTypePassword {
		t.Fatalf("lock type %q", lt)
	}
}

func TestIdentify(t *testing.T) {
	r, _ := openTestRegistry(t)
	salt := randVerifier(t)[:crypto.SaltSize]
	real := randVerifier(t)
	decoy := randVerifier(t)
	if err := r.Init(salt, real, LockTypePIN); err != nil {
		t.Fatalf("init: %v", err)
	}

	id, err := r.Identify(real)
	if err != nil || id != IdentityReal {
		t.Fatalf("real identify = %v, %v", id, err)
	}
	id, err = r.Identify(decoy)
	if err != nil || id != IdentityNone {
		t.Fatalf("unknown identify = %v, %v", id, err)
	}

	if err := r.SetDecoy(decoy); err != nil {
		t.Fatalf("set decoy: %v", err)
	}
	id, err = r.Identify(decoy)
	if err != nil || id != IdentityDecoy {
		t.Fatalf("decoy identify = %v, %v", id, err)
	}

	// A zero-filled candidate must not match the dummy decoy slot.
	if err := r.ClearDecoy(); err != nil {
		t.Fatalf("clear decoy: %v", err)
	}
	id, err = r.Identify(make([]byte, crypto.KeySize))
	if err != nil || id != IdentityNone {
		t.Fatalf("zero candidate identify = %v, %v", id, err)
	}
}

func TestSetDecoyRejectsClash(t *testing.T) {
	r, _ := openTestRegistry(t)
	salt := randVerifier(t)[:crypto.SaltSize]
	real := randVerifier(t)
	if err := r.Init(salt, real, LockTypePIN); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := r.SetDecoy(real); !errors.Is(err, ErrVerifierClash) {
		t.Fatalf("expected ErrVerifierClash, got %v", err)
	}
}

func TestRotateClearsDecoy(t *testing.T) {
	r, _ := openTestRegistry(t)
	salt := randVerifier(t)[:crypto.SaltSize]
	real := randVerifier(t)
	decoy := randVerifier(t)
	if err := r.Init(salt, real, LockTypePIN); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := r.SetDecoy(decoy); err != nil {
		t.Fatalf("set decoy: %v", err)
	}

	newSalt := randVerifier(t)[:crypto.SaltSize]
	newReal := randVerifier(t)
	if err := r.Rotate(newSalt, newReal, LockTypePassword); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if r.HasDecoy() {
		t.Fatal("rotate left the decoy verifier in place")
	}
	id, err := r.Identify(real)
	if err != nil || id != IdentityNone {
		t.Fatalf("old verifier still matches after rotate: %v, %v", id, err)
	}
	id, err = r.Identify(newReal)
	if err != nil || id != IdentityReal {
		t.Fatalf("new verifier does not match after rotate: %v, %v", id, err)
	}
}

func TestWipe(t *testing.T) {
	r, path := openTestRegistry(t)
	salt := randVerifier(t)[:crypto.SaltSize]
	if err := r.Init(salt, randVerifier(t), LockTypePIN); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := r.Wipe(); err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if r.IsInitialized() {
		t.Fatal("registry still initialized after wipe")
	}
	r2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if r2.IsInitialized() {
		t.Fatal("wiped record came back after reload")
	}
}

func TestAuxiliarySettings(t *testing.T) {
	r, _ := openTestRegistry(t)
	salt := randVerifier(t)[:crypto.SaltSize]
	if err := r.Init(salt, randVerifier(t), LockTypePIN); err != nil {
		t.Fatalf("init: %v", err)
	}
	if r.BiometricEnabled() {
		t.Fatal("biometric enabled by default")
	}
	if err := r.SetBiometricEnabled(true); err != nil {
		t.Fatalf("set biometric: %v", err)
	}
	if !r.BiometricEnabled() {
		t.Fatal("biometric flag lost")
	}
	blob := []byte(`{"captures":3}`)
	if err := r.SetIntruderSettings(blob); err != nil {
		t.Fatalf("set intruder settings: %v", err)
	}
	got, err := r.IntruderSettings()
	if err != nil {
		t.Fatalf("intruder settings: %v", err)
	}
	if string(got) != string(blob) {
		t.Fatal("intruder settings mismatch")
	}
}
