// Package vault implements the state machine that owns the session key
// and the metadata index, and orchestrates init, unlock, import,
// export, preview, delete, rotation, and reset across the KDF, the
// AEAD codec, the object store, and the credential registry.
package vault

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajnish8869/SecureVault-Manager/internal/audit"
	cr "github.com/rajnish8869/SecureVault-Manager/internal/crypto"
	"github.com/rajnish8869/SecureVault-Manager/internal/metrics"
	"github.com/rajnish8869/SecureVault-Manager/internal/platform"
	"github.com/rajnish8869/SecureVault-Manager/internal/registry"
	"github.com/rajnish8869/SecureVault-Manager/internal/storage"
)

const defaultMetaBound = 4 << 20

// Options wires the manager's collaborators. Store and Registry are
// required; everything else has working defaults.
type Options struct {
	Store    storage.ObjectStore
	Registry *registry.Registry

	KDF           cr.KDFParams
	MetaBound     int // max decoded metadata size, default 4 MiB
	RotateRetries int // per-file retries during rotation, default 3

	// Unlock throttling; see throttle.go. UnlockInterval <= 0 keeps
	// the default of one attempt per second; UnlockBurst <= 0 keeps the
	// default burst of 20.
	UnlockInterval time.Duration
	UnlockBurst    int

	Logger  *slog.Logger
	Privacy platform.PrivacyGuard
	Metrics *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.KDF == (cr.KDFParams{}) {
		o.KDF = cr.DefaultKDF()
	}
	if o.MetaBound <= 0 {
		o.MetaBound = defaultMetaBound
	}
	if o.RotateRetries <= 0 {
		o.RotateRetries = 3
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Privacy == nil {
		o.Privacy = platform.NewPrivacyGuard()
	}
}

// Manager is the single logical owner of a vault. Operations are
// serialized through its mutex; bulk work inside rotation parallelizes
// internally without holding it across progress callbacks.
type Manager struct {
	mu       sync.Mutex
	rotating bool

	store    storage.ObjectStore
	reg      *registry.Registry
	kdf      cr.KDFParams
	bound    int
	retries  int
	log      *slog.Logger
	privacy  platform.PrivacyGuard
	metrics  *metrics.Metrics
	audit    *audit.Log
	throttle *throttle

	sess *session
}

func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("vault: nil object store")
	}
	if opts.Registry == nil {
		return nil, errors.New("vault: nil credential registry")
	}
	opts.setDefaults()
	return &Manager{
		store:    opts.Store,
		reg:      opts.Registry,
		kdf:      opts.KDF,
		bound:    opts.MetaBound,
		retries:  opts.RotateRetries,
		log:      opts.Logger,
		privacy:  opts.Privacy,
		metrics:  opts.Metrics,
		audit:    audit.New(),
		throttle: newThrottle(opts.UnlockInterval, opts.UnlockBurst),
	}, nil
}

func (m *Manager) IsInitialized() bool { return m.reg.IsInitialized() }

// AuditLog exposes the hash-chained operation log for inspection.
func (m *Manager) AuditLog() *audit.Log { return m.audit }

// Init provisions a fresh vault: generates the salt, records the real
// verifier, and writes an empty metadata envelope under the derived
// data key. The vault is left locked.
func (m *Manager) Init(ctx context.Context, secret []byte, lt registry.LockType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rotating {
		return ErrLocked
	}
	if m.reg.IsInitialized() {
		return ErrAlreadyInitialized
	}
	if err := validateSecret(secret, lt); err != nil {
		return err
	}

	salt, err := cr.NewSalt()
	if err != nil {
		return err
	}
	key, verifier := cr.DeriveBoth(secret, salt, m.kdf)
	defer cr.Zero32(&key)
	defer cr.Zero32(&verifier)

	if err := m.writeIndex(ctx, &key, metaRealName, nil); err != nil {
		return err
	}
	if err := m.reg.Init(salt, verifier[:], lt); err != nil {
		// Roll the empty envelope back so a retry starts clean.
		_ = m.store.Delete(ctx, metaRealName)
		if errors.Is(err, registry.ErrAlreadyInitialized) {
			return ErrAlreadyInitialized
		}
		return err
	}
	m.audit.Append("init")
	m.log.Info("vault initialized", "lock_type", string(lt))
	return nil
}

// Unlock derives the data key from the supplied secret, identifies the
// credential against the registry, and loads that identity's metadata
// index. Returns the identity entered.
func (m *Manager) Unlock(ctx context.Context, secret []byte) (registry.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rotating {
		return registry.IdentityNone, ErrLocked
	}
	if !m.reg.IsInitialized() {
		return registry.IdentityNone, ErrNotInitialized
	}
	if !m.throttle.allow() {
		return registry.IdentityNone, ErrThrottled
	}
	if m.sess != nil {
		m.lockLocked()
	}
	if m.metrics != nil {
		m.metrics.UnlockAttempts.Inc()
	}

	salt, err := m.reg.Salt()
	if err != nil {
		return registry.IdentityNone, err
	}
	start := time.Now()
	key, verifier := cr.DeriveBoth(secret, salt, m.kdf)
	defer cr.Zero32(&key)
	defer cr.Zero32(&verifier)
	if m.metrics != nil {
		m.metrics.KDFSeconds.Observe(time.Since(start).Seconds())
	}

	identity, err := m.reg.Identify(verifier[:])
	if err != nil {
		return registry.IdentityNone, err
	}
	if identity == registry.IdentityNone {
		if m.metrics != nil {
			m.metrics.UnlockFailures.Inc()
		}
		m.audit.Append("unlock.denied")
		return registry.IdentityNone, ErrInvalidCredential
	}

	if identity == registry.IdentityReal {
		// Finish or roll back a rotation interrupted by a crash before
		// the registry was switched over.
		if err := m.recoverRotation(ctx, &key); err != nil {
			return registry.IdentityNone, err
		}
	}

	index, err := m.readIndex(ctx, &key, metaName(identity))
	if err != nil {
		// An unopenable metadata envelope means the vault cannot be
		// entered with this secret; stay locked.
		return registry.IdentityNone, err
	}

	sess, err := newSession(identity, &key, index)
	if err != nil {
		return registry.IdentityNone, err
	}
	m.sess = sess
	m.audit.Append("unlock")
	m.log.Info("vault unlocked")
	return identity, nil
}

// Lock zeroes the data key and drops all transient state.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockLocked()
}

func (m *Manager) lockLocked() {
	if m.sess == nil {
		return
	}
	if len(m.sess.previews) > 0 {
		m.privacy.Disengage()
	}
	m.sess.destroy()
	m.sess = nil
	m.audit.Append("lock")
	m.log.Info("vault locked")
}

// List returns an immutable snapshot of the current identity's index,
// optionally filtered.
func (m *Manager) List(q Query) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rotating || m.sess == nil {
		return nil, ErrLocked
	}
	items := m.sess.snapshot()
	if q == (Query{}) {
		return items, nil
	}
	out := items[:0]
	for _, it := range items {
		if q.MimeType != "" && it.MimeType != q.MimeType {
			continue
		}
		if q.NameContains != "" && !strings.Contains(it.OriginalName, q.NameContains) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// Import encrypts a payload into the vault and prepends its record to
// the metadata index. If the index write fails after the payload write
// succeeded, the payload envelope is deleted again so the vault stays
// consistent.
func (m *Manager) Import(ctx context.Context, data []byte, name, mime string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rotating || m.sess == nil {
		return Item{}, ErrLocked
	}
	if err := ctxErr(ctx); err != nil {
		return Item{}, err
	}

	item := Item{
		ID:           newItemID(),
		OriginalName: name,
		MimeType:     mime,
		Size:         int64(len(data)),
		ImportedAt:   time.Now().Unix(),
	}

	envelope, err := cr.Seal(m.sess.key[:], data)
	if err != nil {
		return Item{}, err
	}
	if err := m.store.Put(ctx, filePrefix+item.ID, envelope); err != nil {
		return Item{}, err
	}

	next := make([]Item, 0, len(m.sess.index)+1)
	next = append(next, item)
	next = append(next, m.sess.index...)
	if err := m.writeIndex(ctx, &m.sess.key, metaName(m.sess.identity), next); err != nil {
		_ = m.store.Delete(ctx, filePrefix+item.ID)
		return Item{}, err
	}
	m.sess.index = next
	if m.metrics != nil {
		m.metrics.Imports.Inc()
	}
	return item, nil
}

// Export decrypts an item and returns the plaintext. The caller owns
// the buffer and should zero it when done.
func (m *Manager) Export(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pt, _, err := m.openItem(ctx, id)
	return pt, err
}

// Delete removes an item's envelope and rewrites the index. A file
// that is already gone does not fail the operation.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rotating || m.sess == nil {
		return ErrLocked
	}
	if _, ok := m.sess.find(id); !ok {
		return ErrNotFound
	}
	if err := m.store.Delete(ctx, filePrefix+id); err != nil {
		return err
	}
	next := make([]Item, 0, len(m.sess.index))
	for _, it := range m.sess.index {
		if it.ID != id {
			next = append(next, it)
		}
	}
	if err := m.writeIndex(ctx, &m.sess.key, metaName(m.sess.identity), next); err != nil {
		// On-disk index still references the blob; the dangling id
		// surfaces as NotFound on later preview/export.
		return err
	}
	m.sess.index = next
	if m.metrics != nil {
		m.metrics.Deletes.Inc()
	}
	return nil
}

// SetDecoy establishes the decoy identity under the shared salt and
// writes its empty metadata envelope. Real sessions only.
func (m *Manager) SetDecoy(ctx context.Context, decoySecret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rotating || m.sess == nil {
		return ErrLocked
	}
	if m.sess.identity != registry.IdentityReal {
		return ErrDecoyForbidden
	}
	// The decoy secret may be a PIN even on a password vault; it only
	// has to be a well-formed secret of either kind.
	if validateSecret(decoySecret, registry.LockTypePIN) != nil &&
		validateSecret(decoySecret, registry.LockTypePassword) != nil {
		return fmt.Errorf("%w: decoy secret is neither a 6-digit PIN nor a password", ErrConstraintViolated)
	}
	salt, err := m.reg.Salt()
	if err != nil {
		return err
	}
	decoyKey, decoyVerifier := cr.DeriveBoth(decoySecret, salt, m.kdf)
	defer cr.Zero32(&decoyKey)
	defer cr.Zero32(&decoyVerifier)

	// The decoy metadata envelope is written before the verifier is
	// recorded so a half-done SetDecoy leaves no reachable identity.
	if err := m.writeIndex(ctx, &decoyKey, metaDecoyName, nil); err != nil {
		return err
	}
	if err := m.reg.SetDecoy(decoyVerifier[:]); err != nil {
		_ = m.store.Delete(ctx, metaDecoyName)
		if errors.Is(err, registry.ErrVerifierClash) {
			return fmt.Errorf("%w: decoy secret equals real secret", ErrConstraintViolated)
		}
		return err
	}
	m.audit.Append("decoy.set")
	return nil
}

// RemoveDecoy clears the decoy credential and eagerly deletes the
// decoy metadata envelope and every file envelope the real index does
// not reference. The decoy index cannot be decrypted from a real
// session, so decoy-only files are computed by set difference.
func (m *Manager) RemoveDecoy(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rotating || m.sess == nil {
		return ErrLocked
	}
	if m.sess.identity != registry.IdentityReal {
		return ErrDecoyForbidden
	}
	// Clear the verifier first: once it is gone the decoy corpus is
	// unreachable even if the deletions below are interrupted.
	if err := m.reg.ClearDecoy(); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, metaDecoyName); err != nil {
		return err
	}
	if err := m.deleteUnreferenced(ctx, m.sess.index); err != nil {
		return err
	}
	m.audit.Append("decoy.removed")
	return nil
}

// Reset wipes the entire vault: object tree and credential registry.
// Requires the real secret; a decoy session cannot reset, and a decoy
// secret presented while locked is indistinguishable from a wrong one.
func (m *Manager) Reset(ctx context.Context, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rotating {
		return ErrLocked
	}
	if !m.reg.IsInitialized() {
		return ErrNotInitialized
	}
	if m.sess != nil && m.sess.identity == registry.IdentityDecoy {
		return ErrDecoyForbidden
	}
	if !m.throttle.allow() {
		return ErrThrottled
	}

	salt, err := m.reg.Salt()
	if err != nil {
		return err
	}
	verifier := cr.DeriveVerifier(secret, salt, m.kdf)
	defer cr.Zero32(&verifier)
	identity, err := m.reg.Identify(verifier[:])
	if err != nil {
		return err
	}
	if identity != registry.IdentityReal {
		return ErrInvalidCredential
	}

	m.lockLocked()
	if err := m.store.WipeTree(ctx); err != nil {
		return err
	}
	if err := m.reg.Wipe(); err != nil {
		return err
	}
	m.audit.Append("reset")
	m.log.Info("vault reset")
	return nil
}

// Identity reports the current session identity, or IdentityNone when
// locked.
func (m *Manager) Identity() registry.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return registry.IdentityNone
	}
	return m.sess.identity
}

// Pass-throughs for the external collaborators; opaque to the core.

func (m *Manager) BiometricEnabled() bool { return m.reg.BiometricEnabled() }

func (m *Manager) SetBiometricEnabled(enabled bool) error {
	return m.reg.SetBiometricEnabled(enabled)
}

func (m *Manager) IntruderSettings() ([]byte, error) { return m.reg.IntruderSettings() }

func (m *Manager) SetIntruderSettings(blob []byte) error {
	return m.reg.SetIntruderSettings(blob)
}

func (m *Manager) LockType() (registry.LockType, error) {
	lt, err := m.reg.LockType()
	if errors.Is(err, registry.ErrNotInitialized) {
		return "", ErrNotInitialized
	}
	return lt, err
}

// ----- internals -----

// openItem reads and decrypts one item. Caller holds m.mu.
func (m *Manager) openItem(ctx context.Context, id string) ([]byte, Item, error) {
	if m.rotating || m.sess == nil {
		return nil, Item{}, ErrLocked
	}
	item, ok := m.sess.find(id)
	if !ok {
		return nil, Item{}, ErrNotFound
	}
	envelope, err := m.store.Get(ctx, filePrefix+id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Item{}, ErrNotFound
		}
		return nil, Item{}, err
	}
	pt, err := cr.Open(m.sess.key[:], envelope)
	if err != nil {
		// The session stays intact; only this blob is lost.
		return nil, Item{}, ErrCrypto
	}
	return pt, item, nil
}

func metaName(identity registry.Identity) string {
	if identity == registry.IdentityDecoy {
		return metaDecoyName
	}
	return metaRealName
}

func newItemID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// writeIndex seals the index (newest first) under key and stores it at
// name. A nil index writes an empty sequence.
func (m *Manager) writeIndex(ctx context.Context, key *[32]byte, name string, index []Item) error {
	if index == nil {
		index = []Item{}
	}
	pt, err := json.Marshal(index)
	if err != nil {
		return err
	}
	defer cr.Zero(pt)
	envelope, err := cr.Seal(key[:], pt)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, name, envelope)
}

func (m *Manager) readIndex(ctx context.Context, key *[32]byte, name string) ([]Item, error) {
	envelope, err := m.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	// Bound the decode before any allocation happens.
	if len(envelope) > m.bound+cr.EnvelopeOverhead {
		return nil, fmt.Errorf("%w: metadata envelope exceeds %d bytes", ErrConstraintViolated, m.bound)
	}
	pt, err := cr.Open(key[:], envelope)
	if err != nil {
		return nil, ErrCrypto
	}
	defer cr.Zero(pt)
	var index []Item
	if err := json.Unmarshal(pt, &index); err != nil {
		return nil, fmt.Errorf("%w: malformed metadata index", ErrConstraintViolated)
	}
	return index, nil
}

// deleteUnreferenced removes every file envelope not present in keep.
func (m *Manager) deleteUnreferenced(ctx context.Context, keep []Item) error {
	referenced := make(map[string]struct{}, len(keep))
	for _, it := range keep {
		referenced[filePrefix+it.ID] = struct{}{}
	}
	names, err := m.store.List(ctx, filePrefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, ok := referenced[name]; ok {
			continue
		}
		if err := m.store.Delete(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func validateSecret(secret []byte, lt registry.LockType) error {
	switch lt {
	case registry.LockTypePIN:
		if len(secret) != 6 {
			return fmt.Errorf("%w: PIN must be exactly 6 digits", ErrConstraintViolated)
		}
		for _, c := range secret {
			if c < '0' || c > '9' {
				return fmt.Errorf("%w: PIN must be decimal digits", ErrConstraintViolated)
			}
		}
	case registry.LockTypePassword:
		if len(secret) < 8 {
			return fmt.Errorf("%w: password must be at least 8 bytes", ErrConstraintViolated)
		}
	default:
		return fmt.Errorf("%w: unknown lock type %q", ErrConstraintViolated, lt)
	}
	return nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	default:
		return nil
	}
}
