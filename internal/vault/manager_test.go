package vault

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cr "github.com/rajnish8869/SecureVault-Manager/internal/crypto"
	"github.com/rajnish8869/SecureVault-Manager/internal/registry"
	"github.com/rajnish8869/SecureVault-Manager/internal/storage"
)

const (
	realPassword = "correct horse battery staple"
	newPassword  = "p@ssw0rd-2025"
	decoyPIN     = "000000"
)

// fastKDF keeps the scenario tests quick; parameter choice does not
// affect the behavior under test.
func fastKDF() cr.KDFParams { return cr.KDFParams{M: 64, T: 1, P: 1} }

func newManagerWithStore(t *testing.T, store storage.ObjectStore) *Manager {
	t.Helper()
	reg, err := registry.Open(filepath.Join(t.TempDir(), "auth.json"))
	require.NoError(t, err)
	m, err := New(Options{
		Store:          store,
		Registry:       reg,
		KDF:            fastKDF(),
		UnlockInterval: time.Nanosecond,
		UnlockBurst:    1 << 20,
	})
	require.NoError(t, err)
	return m
}

func newTestManager(t *testing.T) (*Manager, *storage.MemoryObjectStore) {
	t.Helper()
	store := storage.NewMemoryObjectStore()
	return newManagerWithStore(t, store), store
}

func initRealVault(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.Init(context.Background(), []byte(realPassword), registry.LockTypePassword))
}

func unlockReal(t *testing.T, m *Manager) {
	t.Helper()
	id, err := m.Unlock(context.Background(), []byte(realPassword))
	require.NoError(t, err)
	require.Equal(t, registry.IdentityReal, id)
}

func TestInitUnlockEmpty(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	require.False(t, m.IsInitialized())

	initRealVault(t, m)
	require.True(t, m.IsInitialized())

	require.ErrorIs(t, m.Init(ctx, []byte(realPassword), registry.LockTypePassword), ErrAlreadyInitialized)

	unlockReal(t, m)
	items, err := m.List(Query{})
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestInitValidatesSecret(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	require.ErrorIs(t, m.Init(ctx, []byte("short"), registry.LockTypePassword), ErrConstraintViolated)
	require.ErrorIs(t, m.Init(ctx, []byte("12345"), registry.LockTypePIN), ErrConstraintViolated)
	require.ErrorIs(t, m.Init(ctx, []byte("12345a"), registry.LockTypePIN), ErrConstraintViolated)
	require.NoError(t, m.Init(ctx, []byte("123456"), registry.LockTypePIN))
}

// S1: init, import, relock, unlock, read.
func TestImportSurvivesRelock(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	initRealVault(t, m)
	unlockReal(t, m)

	item, err := m.Import(ctx, []byte("hello"), "greet.txt", "text/plain")
	require.NoError(t, err)
	require.EqualValues(t, 5, item.Size)
	require.Len(t, item.ID, 32)

	m.Lock()
	_, err = m.List(Query{})
	require.ErrorIs(t, err, ErrLocked)

	unlockReal(t, m)
	items, err := m.List(Query{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, item.ID, items[0].ID)
	require.Equal(t, "greet.txt", items[0].OriginalName)

	pt, err := m.Export(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), pt)
}

// S2: wrong secret fails, right secret still works afterwards.
func TestWrongSecret(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	initRealVault(t, m)

	_, err := m.Unlock(ctx, []byte("wrong"))
	require.ErrorIs(t, err, ErrInvalidCredential)

	unlockReal(t, m)
}

func TestUnlockBeforeInit(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Unlock(context.Background(), []byte(realPassword))
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestListNewestFirstAndQuery(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	initRealVault(t, m)
	unlockReal(t, m)

	first, err := m.Import(ctx, []byte("a"), "a.txt", "text/plain")
	require.NoError(t, err)
	second, err := m.Import(ctx, []byte("b"), "b.png", "image/png")
	require.NoError(t, err)

	items, err := m.List(Query{})
	require.NoError(t, err)
	require.Equal(t, []string{second.ID, first.ID}, []string{items[0].ID, items[1].ID})

	images, err := m.List(Query{MimeType: "image/png"})
	require.NoError(t, err)
	require.Len(t, images, 1)
	require.Equal(t, second.ID, images[0].ID)

	named, err := m.List(Query{NameContains: "a.t"})
	require.NoError(t, err)
	require.Len(t, named, 1)
	require.Equal(t, first.ID, named[0].ID)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)
	initRealVault(t, m)
	unlockReal(t, m)

	item, err := m.Import(ctx, []byte("bye"), "x.txt", "text/plain")
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, item.ID))
	require.ErrorIs(t, m.Delete(ctx, item.ID), ErrNotFound)

	names, err := store.List(ctx, "file/")
	require.NoError(t, err)
	require.Empty(t, names)

	// The deletion is durable across relock.
	m.Lock()
	unlockReal(t, m)
	items, err := m.List(Query{})
	require.NoError(t, err)
	require.Empty(t, items)
}

// S5: a flipped envelope byte surfaces as ErrCrypto for that item only.
func TestTamperedFileDetected(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)
	initRealVault(t, m)
	unlockReal(t, m)

	victim, err := m.Import(ctx, []byte("hello"), "greet.txt", "text/plain")
	require.NoError(t, err)
	intact, err := m.Import(ctx, []byte("fine"), "ok.txt", "text/plain")
	require.NoError(t, err)

	require.True(t, store.Corrupt("file/"+victim.ID, 20))

	m.Lock()
	unlockReal(t, m)

	_, err = m.Export(ctx, victim.ID)
	require.ErrorIs(t, err, ErrCrypto)

	// Session and the other item are unaffected.
	items, err := m.List(Query{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	pt, err := m.Export(ctx, intact.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("fine"), pt)
}

func TestTamperedMetadataLocksOut(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)
	initRealVault(t, m)
	require.True(t, store.Corrupt("meta/real", 7))

	_, err := m.Unlock(ctx, []byte(realPassword))
	require.ErrorIs(t, err, ErrCrypto)
	require.Equal(t, registry.IdentityNone, m.Identity())
}

// S6: reset wipes the object tree and the registry.
func TestResetWipesEverything(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)
	initRealVault(t, m)
	unlockReal(t, m)
	_, err := m.Import(ctx, []byte("hello"), "greet.txt", "text/plain")
	require.NoError(t, err)

	require.NoError(t, m.Reset(ctx, []byte(realPassword)))
	require.False(t, m.IsInitialized())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, names)

	_, err = m.Unlock(ctx, []byte(realPassword))
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestResetRejectsWrongSecret(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	initRealVault(t, m)
	require.ErrorIs(t, m.Reset(ctx, []byte("not-the-secret")), ErrInvalidCredential)
	require.True(t, m.IsInitialized())
}

func TestOperationsRequireUnlock(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	initRealVault(t, m)

	_, err := m.Import(ctx, []byte("x"), "x", "text/plain")
	require.ErrorIs(t, err, ErrLocked)
	_, err = m.Export(ctx, "deadbeef")
	require.ErrorIs(t, err, ErrLocked)
	require.ErrorIs(t, m.Delete(ctx, "deadbeef"), ErrLocked)
	_, err = m.PreviewItem(ctx, "deadbeef")
	require.ErrorIs(t, err, ErrLocked)
	require.ErrorIs(t, m.SetDecoy(ctx, []byte(decoyPIN)), ErrLocked)
	require.ErrorIs(t, m.RemoveDecoy(ctx), ErrLocked)
}

func TestImportCancelled(t *testing.T) {
	m, store := newTestManager(t)
	initRealVault(t, m)
	unlockReal(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Import(ctx, []byte("x"), "x", "text/plain")
	require.ErrorIs(t, err, ErrCancelled)

	names, err := store.List(context.Background(), "file/")
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestUnlockThrottle(t *testing.T) {
	store := storage.NewMemoryObjectStore()
	reg, err := registry.Open(filepath.Join(t.TempDir(), "auth.json"))
	require.NoError(t, err)
	m, err := New(Options{
		Store:          store,
		Registry:       reg,
		KDF:            fastKDF(),
		UnlockInterval: time.Hour,
		UnlockBurst:    2,
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx, []byte(realPassword), registry.LockTypePassword))

	_, err = m.Unlock(ctx, []byte("wrong"))
	require.ErrorIs(t, err, ErrInvalidCredential)
	_, err = m.Unlock(ctx, []byte("wrong"))
	require.ErrorIs(t, err, ErrInvalidCredential)
	_, err = m.Unlock(ctx, []byte(realPassword))
	require.ErrorIs(t, err, ErrThrottled)
}

func TestAuxiliaryPassThroughs(t *testing.T) {
	m, _ := newTestManager(t)
	initRealVault(t, m)

	require.False(t, m.BiometricEnabled())
	require.NoError(t, m.SetBiometricEnabled(true))
	require.True(t, m.BiometricEnabled())

	blob := []byte(`{"selfie_count":2}`)
	require.NoError(t, m.SetIntruderSettings(blob))
	got, err := m.IntruderSettings()
	require.NoError(t, err)
	require.Equal(t, blob, got)

	lt, err := m.LockType()
	require.NoError(t, err)
	require.Equal(t, registry.LockTypePassword, lt)

	require.NoError(t, m.AuditLog().Verify())
	var inits int
	for _, e := range m.AuditLog().Entries() {
		if e.Op == "init" {
			inits++
		}
	}
	require.Equal(t, 1, inits)
}

// The session key buffer is zeroed by Lock; nothing readable remains.
func TestLockZeroesKey(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	initRealVault(t, m)
	unlockReal(t, m)

	_, err := m.Import(ctx, []byte("hello"), "greet.txt", "text/plain")
	require.NoError(t, err)

	sess := m.sess
	require.NotEqual(t, [32]byte{}, sess.key)
	m.Lock()
	require.Equal(t, [32]byte{}, sess.key)
	require.Nil(t, sess.index)
	require.Empty(t, sess.previews)
	require.Equal(t, registry.IdentityNone, m.Identity())
}

func TestExportMissingBlobIsNotFound(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)
	initRealVault(t, m)
	unlockReal(t, m)

	item, err := m.Import(ctx, []byte("hello"), "greet.txt", "text/plain")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "file/"+item.ID))

	_, err = m.Export(ctx, item.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

// A failed metadata write rolls the freshly written payload back.
func TestImportRollsBackOnMetaFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryObjectStore: storage.NewMemoryObjectStore()}
	m := newManagerWithStore(t, store)
	require.NoError(t, m.Init(ctx, []byte(realPassword), registry.LockTypePassword))
	id, err := m.Unlock(ctx, []byte(realPassword))
	require.NoError(t, err)
	require.Equal(t, registry.IdentityReal, id)

	store.failPut = "meta/real"
	_, err = m.Import(ctx, []byte("doomed"), "d.txt", "text/plain")
	require.Error(t, err)
	store.failPut = ""

	names, err := store.List(ctx, "file/")
	require.NoError(t, err)
	require.Empty(t, names)
	items, err := m.List(Query{})
	require.NoError(t, err)
	require.Empty(t, items)
}

// failingStore fails Put for one configured name.
type failingStore struct {
	*storage.MemoryObjectStore
	failPut string
}

func (s *failingStore) Put(ctx context.Context, name string, data []byte) error {
	if s.failPut != "" && name == s.failPut {
		return errors.New("injected put failure")
	}
	return s.MemoryObjectStore.Put(ctx, name, data)
}
