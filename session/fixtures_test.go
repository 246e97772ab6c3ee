package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-dashboard-session/authapi"
	"github.com/jrsteele09/go-dashboard-session/internal/clock/clockfake"
	sessionerrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/session"
	"github.com/jrsteele09/go-dashboard-session/token/jwt"
	"github.com/pkg/errors"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fakeAdminAPI struct {
	creator  *jwt.Creator
	lifetime time.Duration

	// validToken, when set, is the only admin token AdminLogin accepts.
	validToken string

	lock       sync.Mutex
	loginErr   error
	refreshErr error
	noRefresh  bool
	logins     int
	refreshes  int
	issued     int
	revoked    []string
	entered    chan struct{}
	release    chan struct{}
}

func newFakeAdminAPI(c *clockfake.Clock, lifetime time.Duration) *fakeAdminAPI {
	return &fakeAdminAPI{
		creator:  jwt.NewCreator("test-secret", jwt.WithNowFunc(c.Now)),
		lifetime: lifetime,
	}
}

func (f *fakeAdminAPI) mint() (*authapi.TokenResponse, error) {
	issued, err := f.creator.CreateAccessToken("admin", jwt.RoleAdmin, f.lifetime)
	if err != nil {
		return nil, err
	}
	f.issued++
	resp := &authapi.TokenResponse{
		AccessToken: issued.Raw,
		ExpiresIn:   int(f.lifetime.Seconds()),
		TokenType:   "bearer",
	}
	if !f.noRefresh {
		resp.RefreshToken = fmt.Sprintf("refresh-%d", f.issued)
	}
	return resp, nil
}

func (f *fakeAdminAPI) AdminLogin(ctx context.Context, adminToken string) (*authapi.TokenResponse, error) {
	f.lock.Lock()
	f.logins++
	entered, release := f.entered, f.release
	f.lock.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	if f.validToken != "" && adminToken != f.validToken {
		return nil, errors.Wrap(sessionerrors.ErrInvalidCredentials, "POST /login")
	}
	return f.mint()
}

func (f *fakeAdminAPI) Refresh(ctx context.Context, refreshToken string) (*authapi.TokenResponse, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.mint()
}

func (f *fakeAdminAPI) RevokeAdmin(ctx context.Context, accessToken, refreshToken string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.revoked = append(f.revoked, accessToken)
	return nil
}

func (f *fakeAdminAPI) setRefreshErr(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.refreshErr = err
}

func (f *fakeAdminAPI) counts() (logins, refreshes int, revoked []string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.logins, f.refreshes, append([]string(nil), f.revoked...)
}

type fakeUserAPI struct {
	lifetime time.Duration

	lock      sync.Mutex
	loginErr  error
	verifyErr error
	verified  []string
	loggedOut []string
	entered   chan struct{}
	release   chan struct{}
}

func (f *fakeUserAPI) UserLogin(ctx context.Context, email, subscriptionKey string) (*authapi.UserLoginResponse, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &authapi.UserLoginResponse{
		Success:     true,
		AccessToken: "user-token-" + email,
		ExpiresIn:   int(f.lifetime.Seconds()),
		UserInfo:    &authapi.UserInfo{Email: email, SubscriptionKey: subscriptionKey},
	}, nil
}

func (f *fakeUserAPI) VerifyUserToken(ctx context.Context, accessToken string) error {
	f.lock.Lock()
	f.verified = append(f.verified, accessToken)
	entered, release := f.entered, f.release
	err := f.verifyErr
	f.lock.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	return err
}

func (f *fakeUserAPI) UserLogout(ctx context.Context, accessToken string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.loggedOut = append(f.loggedOut, accessToken)
	return nil
}

func (f *fakeUserAPI) calls() (verified, loggedOut []string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.verified...), append([]string(nil), f.loggedOut...)
}

type logoutRecorder struct {
	lock    sync.Mutex
	reasons []session.Reason
	expiry  []int
	idle    []int
}

func (r *logoutRecorder) hooks() session.Hooks {
	return session.Hooks{
		OnExpiryWarning: func(s int) { r.lock.Lock(); r.expiry = append(r.expiry, s); r.lock.Unlock() },
		OnIdleWarning:   func(s int) { r.lock.Lock(); r.idle = append(r.idle, s); r.lock.Unlock() },
		OnLogout:        func(reason session.Reason) { r.lock.Lock(); r.reasons = append(r.reasons, reason); r.lock.Unlock() },
	}
}

func (r *logoutRecorder) logouts() []session.Reason {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]session.Reason(nil), r.reasons...)
}

type countingRecorder struct {
	lock    sync.Mutex
	relayed int
	logins  map[string]int
	logouts map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{logins: map[string]int{}, logouts: map[string]int{}}
}

func (c *countingRecorder) RecordLogin(variant string, success bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.logins[fmt.Sprintf("%s/%t", variant, success)]++
}

func (c *countingRecorder) RecordLogout(variant, reason string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.logouts[variant+"/"+reason]++
}

func (c *countingRecorder) RecordRefresh(bool)   {}
func (c *countingRecorder) RecordExpiryWarning() {}
func (c *countingRecorder) RecordIdleWarning()   {}
func (c *countingRecorder) RecordRelayedActivity() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.relayed++
}

func unauthorized() error {
	return errors.Wrap(sessionerrors.ErrUnauthorized, "GET /user/verify-token")
}

func requestFailed() error {
	return errors.Wrap(sessionerrors.ErrRequestFailed, "connection refused")
}

func helperContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
