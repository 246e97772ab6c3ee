package authapi

import "time"

// TokenResponse is returned by the admin /login and /refresh endpoints.
type TokenResponse struct {
	// AccessToken is the JWT bearer token. Its exp claim is authoritative.
	AccessToken string `json:"access_token"`

	// RefreshToken is opaque and single use; every refresh rotates it.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the access token lifetime in seconds, used when the exp
	// claim cannot be read.
	ExpiresIn int `json:"expires_in,omitempty"`

	TokenType string `json:"token_type,omitempty"`
}

func (t TokenResponse) Lifetime() time.Duration {
	return time.Duration(t.ExpiresIn) * time.Second
}

type UserInfo struct {
	Email           string `json:"email"`
	SubscriptionKey string `json:"subscription_key,omitempty"`
}

type UserLoginRequest struct {
	Email           string `json:"email"`
	SubscriptionKey string `json:"subscription_key"`
}

type UserLoginResponse struct {
	Success     bool      `json:"success"`
	AccessToken string    `json:"access_token,omitempty"`
	ExpiresIn   int       `json:"expires_in,omitempty"`
	UserInfo    *UserInfo `json:"user_info,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func (r UserLoginResponse) Lifetime() time.Duration {
	return time.Duration(r.ExpiresIn) * time.Second
}

// ErrorResponse is the body of every non-2xx response from the Auth API.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
