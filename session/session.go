// Package session holds the authenticated state of a dashboard session and
// drives its lifecycle: login, token refresh, idle and expiry logout.
//
// AdminStore and UserStore are independent. Each instance stands for one open
// dashboard; several instances sharing a relay channel keep each other alive
// while any one of them is in use.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-dashboard-session/authapi"
	"github.com/jrsteele09/go-dashboard-session/internal/clock"
	"github.com/jrsteele09/go-dashboard-session/internal/config"
	"github.com/jrsteele09/go-dashboard-session/internal/metrics"
	"github.com/jrsteele09/go-dashboard-session/relay"
	"github.com/jrsteele09/go-dashboard-session/storage"
)

type Reason string

const (
	ReasonUser         Reason = "user"
	ReasonIdle         Reason = "idle"
	ReasonExpired      Reason = "expired"
	ReasonUnauthorized Reason = "unauthorized"
)

const (
	variantAdmin = "admin"
	variantUser  = "user"
)

const defaultRequestTimeout = 15 * time.Second

// Config is the timing configuration both stores read.
type Config interface {
	config.IdleConfig
	config.ExpiryConfig
}

type AdminAPI interface {
	AdminLogin(ctx context.Context, adminToken string) (*authapi.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*authapi.TokenResponse, error)
	RevokeAdmin(ctx context.Context, accessToken, refreshToken string) error
}

type UserAPI interface {
	UserLogin(ctx context.Context, email, subscriptionKey string) (*authapi.UserLoginResponse, error)
	VerifyUserToken(ctx context.Context, accessToken string) error
	UserLogout(ctx context.Context, accessToken string) error
}

var (
	_ AdminAPI = (*authapi.Client)(nil)
	_ UserAPI  = (*authapi.Client)(nil)
)

// Hooks surface session events to whatever presents the dashboard. They are
// never called with a store lock held.
type Hooks struct {
	OnExpiryWarning func(secondsRemaining int)
	OnIdleWarning   func(secondsRemaining int)
	OnCountdown     func(secondsRemaining int)
	OnLogout        func(reason Reason)
}

type options struct {
	storage        storage.Storage
	relay          relay.ActivityRelay
	notifier       *authapi.UnauthorizedNotifier
	metrics        metrics.Recorder
	clock          clock.Clock
	tabID          string
	requestTimeout time.Duration
	hooks          Hooks
}

type Option func(*options)

func WithStorage(s storage.Storage) Option {
	return func(o *options) {
		o.storage = s
	}
}

func WithRelay(r relay.ActivityRelay) Option {
	return func(o *options) {
		o.relay = r
	}
}

// WithUnauthorizedNotifier logs the session out whenever n reports a 401 for
// the session's current access token.
func WithUnauthorizedNotifier(n *authapi.UnauthorizedNotifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func WithTabID(id string) Option {
	return func(o *options) {
		o.tabID = id
	}
}

// WithRequestTimeout bounds background calls to the Auth API such as
// proactive refresh and revocation.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = d
	}
}

func WithHooks(h Hooks) Option {
	return func(o *options) {
		o.hooks = h
	}
}

func newOptions(opts []Option) options {
	o := options{
		storage:        storage.NewMemory(),
		relay:          relay.Noop(),
		metrics:        metrics.Nop(),
		clock:          clock.Real(),
		tabID:          uuid.NewString(),
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// flightKey names a singleflight call by operation and credentials, hashed so
// the group never holds a credential in plain text.
func flightKey(op string, credentials ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(credentials, "\x00")))
	return op + ":" + hex.EncodeToString(sum[:])
}
