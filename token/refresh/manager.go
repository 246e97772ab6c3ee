package refresh

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/jrsteele09/go-dashboard-session/internal/config"
	sessionerrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/pkg/errors"
)

// Manager handles refresh token creation, validation, and rotation
type Manager struct {
	repo    Repo
	config  config.TokenConfig
	nowFunc func() time.Time
}

type Option func(*Manager)

func WithNowFunc(nowFunc func() time.Time) Option {
	return func(m *Manager) {
		m.nowFunc = nowFunc
	}
}

func NewManager(repo Repo, cfg config.TokenConfig, options ...Option) *Manager {
	m := &Manager{
		repo:    repo,
		config:  cfg,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Create issues a new refresh token for the subject, replacing any it held.
func (m *Manager) Create(subject, role string) (string, error) {
	if existing, err := m.repo.GetBySubject(subject); err == nil && existing != nil {
		if err := m.repo.Delete(existing.Token); err != nil {
			return "", errors.Wrap(err, "[Manager.Create] delete existing refresh token")
		}
	}

	tokenBytes := make([]byte, m.config.GetRefreshTokenLength())
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", errors.Wrap(err, "[Manager.Create] rand.Read")
	}

	token := hex.EncodeToString(tokenBytes)
	if err := m.repo.Upsert(&StoredRefreshToken{
		Token:   token,
		Subject: subject,
		Role:    role,
		Iat:     m.nowFunc(),
	}); err != nil {
		return "", errors.Wrap(err, "[Manager.Create] store refresh token")
	}
	return token, nil
}

// Rotate spends token and issues its replacement. Unknown and expired tokens
// return ErrInvalidRefreshToken; an expired token is also removed.
func (m *Manager) Rotate(token string) (*StoredRefreshToken, string, error) {
	stored, err := m.repo.Get(token)
	if err != nil || stored == nil {
		return nil, "", errors.Wrap(sessionerrors.ErrInvalidRefreshToken, "[Manager.Rotate]")
	}
	if m.IsExpired(stored) {
		_ = m.repo.Delete(token)
		return nil, "", errors.Wrap(sessionerrors.ErrInvalidRefreshToken, "[Manager.Rotate] expired")
	}

	next, err := m.Create(stored.Subject, stored.Role)
	if err != nil {
		return nil, "", errors.Wrap(err, "[Manager.Rotate]")
	}
	return stored, next, nil
}

func (m *Manager) Get(token string) (*StoredRefreshToken, error) {
	return m.repo.Get(token)
}

func (m *Manager) Delete(token string) error {
	return m.repo.Delete(token)
}

func (m *Manager) IsExpired(rt *StoredRefreshToken) bool {
	return m.nowFunc().Sub(rt.Iat) > m.config.GetRefreshTokenExpiry()
}
