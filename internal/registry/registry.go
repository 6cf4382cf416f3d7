// Package registry owns the persisted auth record: salt, verifiers,
// lock type, and the opaque collaborator settings. It never sees a
// plaintext secret or a data key, so it lives outside the encrypted
// object tree and is readable before any secret is known.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rajnish8869/SecureVault-Manager/internal/crypto"
)

type Identity int

const (
	IdentityNone Identity = iota
	IdentityReal
	IdentityDecoy
)

func (i Identity) String() string {
	switch i {
	case IdentityReal:
		return "REAL"
	case IdentityDecoy:
		return "DECOY"
	default:
		return "NONE"
	}
}

type LockType string

const (
	LockTypePIN      LockType = "PIN"
	LockTypePassword LockType = "PASSWORD"
)

var (
	ErrAlreadyInitialized = errors.New("registry: already initialized")
	ErrNotInitialized     = errors.New("registry: not initialized")
	ErrVerifierClash      = errors.New("registry: decoy verifier equals real verifier")
)

// record is the on-disk auth record. []byte fields marshal as base64.
type record struct {
	Salt             []byte   `json:"salt"`
	VerifierReal     []byte   `json:"verifier_real"`
	VerifierDecoy    []byte   `json:"verifier_decoy,omitempty"`
	LockType         LockType `json:"lock_type"`
	BiometricEnabled bool     `json:"biometric_enabled"`
	IntruderSettings []byte   `json:"intruder_settings,omitempty"`
}

// Registry is the file-backed credential registry. All mutations are
// flushed with a write-temp-then-rename so a crash never leaves a
// half-written auth record.
type Registry struct {
	mu   sync.Mutex
	path string
	rec  *record
}

func Open(path string) (*Registry, error) {
	r := &Registry{path: path}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	r.rec = &rec
	return r, nil
}

func (r *Registry) IsInitialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec != nil
}

func (r *Registry) Init(salt, verifierReal []byte, lt LockType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec != nil {
		return ErrAlreadyInitialized
	}
	rec := &record{
		Salt:         append([]byte(nil), salt...),
		VerifierReal: append([]byte(nil), verifierReal...),
		LockType:     lt,
	}
	if err := r.flush(rec); err != nil {
		return err
	}
	r.rec = rec
	return nil
}

// Identify compares a candidate verifier against both stored verifiers
// in constant time. When no decoy is set, the comparison still runs
// against a dummy so timing does not reveal decoy presence.
func (r *Registry) Identify(candidate []byte) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return IdentityNone, ErrNotInitialized
	}
	decoy := r.rec.VerifierDecoy
	hasDecoy := len(decoy) == crypto.KeySize
	if !hasDecoy {
		decoy = make([]byte, crypto.KeySize)
	}
	matchReal := crypto.VerifierEqual(candidate, r.rec.VerifierReal)
	matchDecoy := crypto.VerifierEqual(candidate, decoy)
	switch {
	case matchReal:
		return IdentityReal, nil
	case matchDecoy && hasDecoy:
		return IdentityDecoy, nil
	default:
		return IdentityNone, nil
	}
}

func (r *Registry) Salt() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return nil, ErrNotInitialized
	}
	return append([]byte(nil), r.rec.Salt...), nil
}

func (r *Registry) LockType() (LockType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return "", ErrNotInitialized
	}
	return r.rec.LockType, nil
}

func (r *Registry) HasDecoy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec != nil && len(r.rec.VerifierDecoy) == crypto.KeySize
}

func (r *Registry) SetDecoy(verifierDecoy []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return ErrNotInitialized
	}
	if crypto.VerifierEqual(verifierDecoy, r.rec.VerifierReal) {
		return ErrVerifierClash
	}
	next := *r.rec
	next.VerifierDecoy = append([]byte(nil), verifierDecoy...)
	if err := r.flush(&next); err != nil {
		return err
	}
	r.rec = &next
	return nil
}

func (r *Registry) ClearDecoy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return ErrNotInitialized
	}
	next := *r.rec
	next.VerifierDecoy = nil
	if err := r.flush(&next); err != nil {
		return err
	}
	r.rec = &next
	return nil
}

// Rotate replaces salt, real verifier, and lock type in one flush. The
// decoy verifier is cleared: the old salt is gone, so the old decoy key
// is no longer reachable from any secret.
func (r *Registry) Rotate(newSalt, newVerifierReal []byte, lt LockType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return ErrNotInitialized
	}
	next := *r.rec
	next.Salt = append([]byte(nil), newSalt...)
	next.VerifierReal = append([]byte(nil), newVerifierReal...)
	next.VerifierDecoy = nil
	next.LockType = lt
	if err := r.flush(&next); err != nil {
		return err
	}
	r.rec = &next
	return nil
}

func (r *Registry) Wipe() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := os.Remove(r.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	r.rec = nil
	return nil
}

func (r *Registry) BiometricEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec != nil && r.rec.BiometricEnabled
}

func (r *Registry) SetBiometricEnabled(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return ErrNotInitialized
	}
	next := *r.rec
	next.BiometricEnabled = enabled
	if err := r.flush(&next); err != nil {
		return err
	}
	r.rec = &next
	return nil
}

// IntruderSettings returns the opaque blob the intruder-capture
// collaborator stores here. The core never interprets it.
func (r *Registry) IntruderSettings() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return nil, ErrNotInitialized
	}
	return append([]byte(nil), r.rec.IntruderSettings...), nil
}

func (r *Registry) SetIntruderSettings(blob []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return ErrNotInitialized
	}
	next := *r.rec
	next.IntruderSettings = append([]byte(nil), blob...)
	if err := r.flush(&next); err != nil {
		return err
	}
	r.rec = &next
	return nil
}

func (r *Registry) flush(rec *record) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return err
	}
	var suffix [8]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return err
	}
	tmp := r.path + ".tmp-" + hex.EncodeToString(suffix[:])
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
