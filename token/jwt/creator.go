package jwt

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Creator mints and verifies HS256 access tokens for the reference Auth API.
type Creator struct {
	secret  []byte
	issuer  string
	nowFunc func() time.Time
}

type CreatorOption func(*Creator)

func WithIssuer(issuer string) CreatorOption {
	return func(c *Creator) {
		c.issuer = issuer
	}
}

func WithNowFunc(now func() time.Time) CreatorOption {
	return func(c *Creator) {
		c.nowFunc = now
	}
}

// NewCreator creates a new JWT creator signing with the given secret
func NewCreator(secret string, options ...CreatorOption) *Creator {
	c := &Creator{
		secret:  []byte(secret),
		issuer:  "dashboard-api",
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// IssuedToken is a freshly signed access token
type IssuedToken struct {
	Raw       string
	ID        string
	ExpiresAt time.Time
}

// CreateAccessToken signs a token for subject carrying role, valid for expiry
func (c *Creator) CreateAccessToken(subject, role string, expiry time.Duration) (*IssuedToken, error) {
	now := c.nowFunc()
	jti := uuid.New().String()
	exp := now.Add(expiry)

	claims := jwtlib.MapClaims{
		"iss":  c.issuer,   // The issuer of the token
		"sub":  subject,    // Admin identifier or user email
		"role": role,       // admin or user
		"iat":  now.Unix(), // Issued At
		"exp":  exp.Unix(), // Expiry
		"jti":  jti,        // Unique token ID for revocation
	}

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return &IssuedToken{Raw: signed, ID: jti, ExpiresAt: time.Unix(exp.Unix(), 0)}, nil
}

// VerifiedClaims are the claims of a token whose signature and expiry checked out
type VerifiedClaims struct {
	Subject   string
	Role      string
	ID        string
	ExpiresAt time.Time
}

// Verify checks signature and expiry and extracts the claims the API needs
func (c *Creator) Verify(rawToken string) (*VerifiedClaims, error) {
	parser := jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithTimeFunc(c.nowFunc),
		jwtlib.WithExpirationRequired(),
	)
	token, err := parser.Parse(rawToken, func(*jwtlib.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, fmt.Errorf("error extracting claims from token")
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	jti, _ := claims["jti"].(string)
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("token missing exp claim")
	}

	return &VerifiedClaims{Subject: sub, Role: role, ID: jti, ExpiresAt: exp.Time}, nil
}
