package refresh

import (
	"time"
)

// StoredRefreshToken is the server side record behind an opaque refresh token.
// The client only ever sees Token.
type StoredRefreshToken struct {
	Token   string
	Subject string
	Role    string
	Iat     time.Time
}

// Repo stores refresh token records keyed by the token string. A subject holds
// at most one refresh token.
type Repo interface {
	Upsert(refreshToken *StoredRefreshToken) error
	Delete(token string) error
	Get(token string) (*StoredRefreshToken, error)
	GetBySubject(subject string) (*StoredRefreshToken, error)
}
