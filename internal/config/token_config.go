package config

import "time"

// TokenConfig drives the reference Auth API server.
type TokenConfig interface {
	GetSigningSecret() string
	GetAccessTokenExpiry() time.Duration
	GetUserTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetRefreshTokenLength() int
	GetBootstrapAdminToken() string
	GetDemoUserEmail() string
	GetDemoSubscriptionKey() string
}

type Token struct{}

var _ TokenConfig = Token{}

func (Token) GetSigningSecret() string {
	return GetEnv("SIGNING_SECRET", "dev-signing-secret")
}

func (Token) GetAccessTokenExpiry() time.Duration {
	return GetEnvDuration("ACCESS_TOKEN_EXPIRY", 1*time.Hour)
}

func (Token) GetUserTokenExpiry() time.Duration {
	return GetEnvDuration("USER_TOKEN_EXPIRY", 8*time.Hour)
}

func (Token) GetRefreshTokenExpiry() time.Duration {
	return GetEnvDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour) // 7 days
}

func (Token) GetRefreshTokenLength() int {
	return 32 // 32 bytes = 256 bits
}

// GetBootstrapAdminToken is the admin credential the reference server accepts at /login
func (Token) GetBootstrapAdminToken() string {
	return GetEnv("BOOTSTRAP_ADMIN_TOKEN", "")
}

// GetDemoUserEmail together with GetDemoSubscriptionKey seeds one subscriber when both are set
func (Token) GetDemoUserEmail() string {
	return GetEnv("DEMO_USER_EMAIL", "")
}

func (Token) GetDemoSubscriptionKey() string {
	return GetEnv("DEMO_SUBSCRIPTION_KEY", "")
}
