package vault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"

	cr "github.com/rajnish8869/SecureVault-Manager/internal/crypto"
)

const previewTokenTTL = 5 * time.Minute

// PreviewItem decrypts an item for rendering. The returned token must
// be presented to ReleasePreview when the renderer is done so the
// manager can wipe the retained buffer. While any preview is open the
// platform privacy guard is engaged (screen hidden in task switcher,
// screenshots blocked — advisory only).
func (m *Manager) PreviewItem(ctx context.Context, id string) (Preview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pt, item, err := m.openItem(ctx, id)
	if err != nil {
		return Preview{}, err
	}

	var jti [16]byte
	if _, err := rand.Read(jti[:]); err != nil {
		cr.Zero(pt)
		return Preview{}, err
	}
	tokenID := hex.EncodeToString(jti[:])

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   id,
		ID:        tokenID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(previewTokenTTL)),
	})
	signed, err := token.SignedString(m.sess.tokenKey)
	if err != nil {
		cr.Zero(pt)
		return Preview{}, err
	}

	if len(m.sess.previews) == 0 {
		m.privacy.Engage()
	}
	m.sess.previews[tokenID] = pt
	if m.metrics != nil {
		m.metrics.Previews.Inc()
	}
	return Preview{Item: item, Data: pt, Token: signed}, nil
}

// ReleasePreview verifies a preview token and wipes the buffer it
// refers to. Tokens are signed with a per-session key, so previews
// from a previous session cannot be released into this one.
func (m *Manager) ReleasePreview(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ErrLocked
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return m.sess.tokenKey, nil
	})
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	buf, ok := m.sess.previews[claims.ID]
	if !ok {
		return ErrInvalidToken
	}
	cr.Zero(buf)
	delete(m.sess.previews, claims.ID)
	if len(m.sess.previews) == 0 {
		m.privacy.Disengage()
	}
	return nil
}
