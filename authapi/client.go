// Package authapi is the HTTP client for the dashboard's Auth API.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	sessionerrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

const (
	PathAdminLogin      = "/login"
	PathAdminRefresh    = "/refresh"
	PathAdminLogout     = "/logout"
	PathUserLogin       = "/user/login"
	PathUserVerifyToken = "/user/verify-token"
	PathUserLogout      = "/user/logout"
)

const defaultTimeout = 15 * time.Second

// maxErrorBody bounds how much of an error response is kept in the error text.
const maxErrorBody = 512

type Client struct {
	baseURL    string
	httpClient *http.Client
	notifier   *UnauthorizedNotifier
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithNotifier reports every 401 on an authenticated request to n.
func WithNotifier(n *UnauthorizedNotifier) Option {
	return func(client *Client) {
		client.notifier = n
	}
}

func New(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range options {
		opt(c)
	}
	if c.notifier != nil {
		c.httpClient = &http.Client{
			Timeout:   c.httpClient.Timeout,
			Transport: NewUnauthorizedTransport(c.httpClient.Transport, c.notifier),
		}
	}
	return c
}

// Notifier returns the notifier the client reports 401s to, or nil.
func (c *Client) Notifier() *UnauthorizedNotifier {
	return c.notifier
}

// AdminLogin exchanges the admin token for an access/refresh pair.
func (c *Client) AdminLogin(ctx context.Context, adminToken string) (*TokenResponse, error) {
	var resp TokenResponse
	err := c.do(ctx, http.MethodPost, PathAdminLogin, strings.NewReader(adminToken), "text/plain", "", &resp)
	if errors.Is(err, sessionerrors.ErrUnauthorized) {
		return nil, errors.Wrap(sessionerrors.ErrInvalidCredentials, "[Client.AdminLogin]")
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Client.AdminLogin]")
	}
	if resp.AccessToken == "" {
		return nil, errors.Wrap(sessionerrors.ErrInvalidToken, "[Client.AdminLogin] empty access token")
	}
	return &resp, nil
}

// Refresh exchanges a refresh token for a new pair. The old refresh token is
// spent whether or not the caller keeps the response.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var resp TokenResponse
	err := c.do(ctx, http.MethodPost, PathAdminRefresh, strings.NewReader(refreshToken), "text/plain", "", &resp)
	if errors.Is(err, sessionerrors.ErrUnauthorized) {
		return nil, errors.Wrap(sessionerrors.ErrInvalidRefreshToken, "[Client.Refresh]")
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh]")
	}
	if resp.AccessToken == "" {
		return nil, errors.Wrap(sessionerrors.ErrInvalidToken, "[Client.Refresh] empty access token")
	}
	return &resp, nil
}

// RevokeAdmin revokes the access token and, when given, the refresh token.
func (c *Client) RevokeAdmin(ctx context.Context, accessToken, refreshToken string) error {
	err := c.do(ctx, http.MethodPost, PathAdminLogout, strings.NewReader(refreshToken), "text/plain", accessToken, nil)
	return errors.Wrap(err, "[Client.RevokeAdmin]")
}

func (c *Client) UserLogin(ctx context.Context, email, subscriptionKey string) (*UserLoginResponse, error) {
	body, err := json.Marshal(UserLoginRequest{Email: email, SubscriptionKey: subscriptionKey})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.UserLogin] marshal")
	}

	var resp UserLoginResponse
	err = c.do(ctx, http.MethodPost, PathUserLogin, bytes.NewReader(body), "application/json", "", &resp)
	if errors.Is(err, sessionerrors.ErrUnauthorized) {
		return nil, errors.Wrap(sessionerrors.ErrInvalidCredentials, "[Client.UserLogin]")
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Client.UserLogin]")
	}
	if !resp.Success || resp.AccessToken == "" {
		return nil, errors.Wrapf(sessionerrors.ErrInvalidCredentials, "[Client.UserLogin] %s", resp.Error)
	}
	return &resp, nil
}

// VerifyUserToken returns nil when the server still accepts the token and an
// error wrapping ErrUnauthorized when it does not.
func (c *Client) VerifyUserToken(ctx context.Context, accessToken string) error {
	err := c.do(ctx, http.MethodGet, PathUserVerifyToken, nil, "", accessToken, nil)
	return errors.Wrap(err, "[Client.VerifyUserToken]")
}

func (c *Client) UserLogout(ctx context.Context, accessToken string) error {
	err := c.do(ctx, http.MethodPost, PathUserLogout, nil, "", accessToken, nil)
	return errors.Wrap(err, "[Client.UserLogout]")
}

// Authenticated returns an HTTP client for calling the dashboard's APIs. Each
// request carries the source's current bearer token and 401s are reported to
// the client's notifier.
func (c *Client) Authenticated(ts oauth2.TokenSource) *http.Client {
	return &http.Client{
		Timeout: c.httpClient.Timeout,
		Transport: &oauth2.Transport{
			Base:   c.httpClient.Transport,
			Source: ts,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType, bearer string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(sessionerrors.ErrRequestFailed, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errors.Wrapf(sessionerrors.ErrUnauthorized, "%s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errors.Wrapf(sessionerrors.ErrRequestFailed, "%s %s: status %d: %s", method, path, resp.StatusCode, errorText(detail))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(sessionerrors.ErrRequestFailed, "%s %s: decode response: %v", method, path, err)
	}
	return nil
}

func errorText(body []byte) string {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		if er.ErrorDescription != "" {
			return fmt.Sprintf("%s: %s", er.Error, er.ErrorDescription)
		}
		return er.Error
	}
	return strings.TrimSpace(string(body))
}
