package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	cr "github.com/rajnish8869/SecureVault-Manager/internal/crypto"
	"github.com/rajnish8869/SecureVault-Manager/internal/registry"
	"github.com/rajnish8869/SecureVault-Manager/internal/storage"
)

// journalBody is the rotation journal plaintext, sealed under the OLD
// data key at meta/rotation before any file is rewritten. After a
// crash the old secret still unlocks the vault (the registry is only
// switched after the last file), so the journal is decryptable and the
// recovery pass can move half-migrated files back under the old key.
type journalBody struct {
	NewKey []byte   `json:"new_key"`
	IDs    []string `json:"ids"`
}

// Rotate re-keys the entire corpus: every file envelope and the real
// metadata envelope are re-encrypted under a key derived from the new
// secret and a fresh salt, then the registry is switched over in one
// step. The decoy identity does not survive rotation: its verifier and
// data key hang off the old salt and become unreachable, so the decoy
// corpus is wiped deterministically. Ends in the LOCKED state.
func (m *Manager) Rotate(ctx context.Context, oldSecret, newSecret []byte, newType registry.LockType, progress Progress) error {
	m.mu.Lock()
	if m.rotating || m.sess == nil {
		m.mu.Unlock()
		return ErrLocked
	}
	if m.sess.identity != registry.IdentityReal {
		m.mu.Unlock()
		return ErrDecoyForbidden
	}
	if err := validateSecret(newSecret, newType); err != nil {
		m.mu.Unlock()
		return err
	}

	salt, err := m.reg.Salt()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	oldKey, oldVerifier := cr.DeriveBoth(oldSecret, salt, m.kdf)
	defer cr.Zero32(&oldKey)
	identity, err := m.reg.Identify(oldVerifier[:])
	cr.Zero32(&oldVerifier)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if identity != registry.IdentityReal {
		m.mu.Unlock()
		return ErrInvalidCredential
	}

	// Reload the authoritative index from disk under the old key.
	index, err := m.readIndex(ctx, &oldKey, metaRealName)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	newSalt, err := cr.NewSalt()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	newKey, newVerifier := cr.DeriveBoth(newSecret, newSalt, m.kdf)
	defer cr.Zero32(&newKey)
	defer cr.Zero32(&newVerifier)

	ids := make([]string, len(index))
	for i, it := range index {
		ids[i] = it.ID
	}
	if err := m.writeJournal(ctx, &oldKey, &newKey, ids); err != nil {
		m.mu.Unlock()
		return err
	}

	// Bulk work happens without the manager lock; concurrent calls
	// observe the rotating flag and fail fast.
	m.rotating = true
	m.mu.Unlock()

	finish := func(err error) error {
		m.mu.Lock()
		m.rotating = false
		m.lockLocked()
		m.mu.Unlock()
		return err
	}

	if err := m.migrateFiles(ctx, ids, &oldKey, &newKey, progress); err != nil {
		m.log.Warn("rotation aborted, reversing migrated files")
		if rerr := m.reverseMigration(ctx, ids, &oldKey, &newKey); rerr != nil {
			// The journal stays behind for the next unlock's recovery
			// pass.
			return finish(errors.Join(err, rerr))
		}
		_ = m.store.Delete(ctx, rotationJournal)
		return finish(err)
	}

	if err := m.writeIndex(ctx, &newKey, metaRealName, index); err != nil {
		if rerr := m.reverseMigration(ctx, ids, &oldKey, &newKey); rerr == nil {
			_ = m.store.Delete(ctx, rotationJournal)
		}
		return finish(err)
	}
	if err := m.reg.Rotate(newSalt, newVerifier[:], newType); err != nil {
		return finish(err)
	}
	// The old salt is gone; wipe the now-unreachable decoy corpus.
	if err := m.store.Delete(ctx, metaDecoyName); err != nil {
		return finish(err)
	}
	if err := m.deleteUnreferenced(ctx, index); err != nil {
		return finish(err)
	}
	if err := m.store.Delete(ctx, rotationJournal); err != nil {
		return finish(err)
	}

	if m.metrics != nil {
		m.metrics.Rotations.Inc()
	}
	m.audit.Append("rotate")
	m.log.Info("master secret rotated", "items", len(ids))
	return finish(nil)
}

func (m *Manager) writeJournal(ctx context.Context, oldKey, newKey *[32]byte, ids []string) error {
	body, err := json.Marshal(journalBody{NewKey: newKey[:], IDs: ids})
	if err != nil {
		return err
	}
	defer cr.Zero(body)
	envelope, err := cr.Seal(oldKey[:], body)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, rotationJournal, envelope)
}

// migrateFiles re-encrypts every listed envelope under the new key
// using a worker pool bounded by CPU count. Progress is reported at
// item granularity with no manager lock held.
func (m *Manager) migrateFiles(ctx context.Context, ids []string, oldKey, newKey *[32]byte, progress Progress) error {
	total := len(ids)
	if total == 0 {
		return ctxErr(ctx)
	}
	workers := runtime.NumCPU()
	if workers > total {
		workers = total
	}

	var (
		wg      sync.WaitGroup
		done    atomic.Int64
		mu      sync.Mutex
		bulkErr error
	)
	fail := func(err error) {
		mu.Lock()
		if bulkErr == nil {
			bulkErr = err
		}
		mu.Unlock()
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return bulkErr != nil
	}

	tasks := make(chan string, total)
	for _, id := range ids {
		tasks <- id
	}
	close(tasks)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range tasks {
				if err := ctxErr(ctx); err != nil {
					fail(err)
					return
				}
				if failed() {
					return
				}
				if err := m.migrateOne(ctx, id, oldKey, newKey); err != nil {
					fail(err)
					return
				}
				if progress != nil {
					progress(int(done.Add(1)), total)
				}
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return bulkErr
}

func (m *Manager) migrateOne(ctx context.Context, id string, oldKey, newKey *[32]byte) error {
	name := filePrefix + id
	var lastErr error
	for attempt := 0; attempt <= m.retries; attempt++ {
		envelope, err := m.store.Get(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			// Dangling index entry; nothing to migrate.
			return nil
		}
		if err != nil {
			lastErr = err
			continue
		}
		pt, err := cr.Open(oldKey[:], envelope)
		if err != nil {
			// Already migrated on a prior attempt, or corrupt.
			if _, nerr := cr.Open(newKey[:], envelope); nerr == nil {
				return nil
			}
			return fmt.Errorf("%w: item %s", ErrCrypto, id)
		}
		sealed, err := cr.Seal(newKey[:], pt)
		cr.Zero(pt)
		if err != nil {
			lastErr = err
			continue
		}
		if err := m.store.Put(ctx, name, sealed); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// reverseMigration puts every envelope that already moved to the new
// key back under the old key, restoring the pre-rotation state.
func (m *Manager) reverseMigration(ctx context.Context, ids []string, oldKey, newKey *[32]byte) error {
	for _, id := range ids {
		name := filePrefix + id
		envelope, err := m.store.Get(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := cr.Open(oldKey[:], envelope); err == nil {
			continue // never migrated
		}
		pt, err := cr.Open(newKey[:], envelope)
		if err != nil {
			return fmt.Errorf("%w: item %s", ErrCrypto, id)
		}
		sealed, err := cr.Seal(oldKey[:], pt)
		cr.Zero(pt)
		if err != nil {
			return err
		}
		if err := m.store.Put(ctx, name, sealed); err != nil {
			return err
		}
	}
	return nil
}

// recoverRotation runs at real unlock when a rotation journal is
// present: a crash interrupted a rotation before the registry switch,
// so the supplied key is the old data key and the journal opens under
// it. Every half-migrated envelope is moved back under the old key.
// A journal that does not open under the session key is a leftover
// from a completed rotation and is simply discarded.
func (m *Manager) recoverRotation(ctx context.Context, key *[32]byte) error {
	envelope, err := m.store.Get(ctx, rotationJournal)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	body, err := cr.Open(key[:], envelope)
	if err != nil {
		return m.store.Delete(ctx, rotationJournal)
	}
	defer cr.Zero(body)
	var j journalBody
	if err := json.Unmarshal(body, &j); err != nil {
		return m.store.Delete(ctx, rotationJournal)
	}
	var newKey [32]byte
	copy(newKey[:], j.NewKey)
	defer cr.Zero32(&newKey)

	m.log.Warn("recovering interrupted rotation", "items", len(j.IDs))
	if err := m.reverseMigration(ctx, j.IDs, key, &newKey); err != nil {
		return err
	}
	// The metadata envelope may itself have moved to the new key.
	metaEnv, err := m.store.Get(ctx, metaRealName)
	if err != nil {
		return err
	}
	if _, err := cr.Open(key[:], metaEnv); err != nil {
		pt, nerr := cr.Open(newKey[:], metaEnv)
		if nerr != nil {
			return ErrCrypto
		}
		sealed, serr := cr.Seal(key[:], pt)
		cr.Zero(pt)
		if serr != nil {
			return serr
		}
		if err := m.store.Put(ctx, metaRealName, sealed); err != nil {
			return err
		}
	}
	m.audit.Append("rotate.recovered")
	return m.store.Delete(ctx, rotationJournal)
}
