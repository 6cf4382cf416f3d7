package vault

import (
	"crypto/rand"

	cr "github.com/rajnish8869/SecureVault-Manager/internal/crypto"
	"github.com/rajnish8869/SecureVault-Manager/internal/registry"
)

// session holds the transient state of one unlocked identity: the data
// key, the in-memory metadata index, and any retained preview buffers.
// It is created by a successful unlock and destroyed, with the key
// buffer zeroed, on lock, reset, rotate, and fatal-error paths.
type session struct {
	identity registry.Identity
	key      [32]byte
	index    []Item

	// previews maps token ids to retained plaintext buffers awaiting
	// release by the renderer.
	previews map[string][]byte
	// tokenKey signs preview release tokens; it dies with the session.
	tokenKey []byte
}

func newSession(identity registry.Identity, key *[32]byte, index []Item) (*session, error) {
	tokenKey := make([]byte, 32)
	if _, err := rand.Read(tokenKey); err != nil {
		return nil, err
	}
	s := &session{
		identity: identity,
		index:    index,
		previews: make(map[string][]byte),
		tokenKey: tokenKey,
	}
	s.key = *key
	// Best effort: keep the key page out of swap.
	_ = cr.LockMemory(s.key[:])
	return s, nil
}

// destroy zeroes every secret the session holds. Safe to call twice.
func (s *session) destroy() {
	for id, buf := range s.previews {
		cr.Zero(buf)
		delete(s.previews, id)
	}
	cr.Zero(s.tokenKey)
	_ = cr.UnlockMemory(s.key[:])
	cr.Zero32(&s.key)
	s.index = nil
}

// snapshot returns an immutable copy of the metadata index.
func (s *session) snapshot() []Item {
	out := make([]Item, len(s.index))
	copy(out, s.index)
	return out
}

func (s *session) find(id string) (Item, bool) {
	for _, it := range s.index {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}
