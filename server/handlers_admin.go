package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/jrsteele09/go-dashboard-session/authapi"
	sessionerrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/token/jwt"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// AdminLoginHandler exchanges the bootstrap admin token for an access/refresh pair.
func (s *Server) AdminLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminToken, err := readTokenBody(r)
		if err != nil {
			writeJSONError(w, "invalid_request", "unreadable admin token", http.StatusBadRequest)
			return
		}

		expected := s.config.GetBootstrapAdminToken()
		if expected == "" || subtle.ConstantTimeCompare([]byte(adminToken), []byte(expected)) != 1 {
			log.Warn().Str("remote", r.RemoteAddr).Msg("admin login rejected")
			writeJSONError(w, "invalid_grant", "invalid admin token", http.StatusUnauthorized)
			return
		}

		resp, err := s.issueAdminTokens(AdminSubject, jwt.RoleAdmin)
		if err != nil {
			logError(r.Method, r.URL.Path, err)
			writeJSONError(w, "server_error", "failed to issue tokens", http.StatusInternalServerError)
			return
		}
		log.Info().Msg("admin logged in")
		writeJSON(w, http.StatusOK, resp)
	}
}

// AdminRefreshHandler spends a refresh token and issues a new pair.
func (s *Server) AdminRefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refreshToken, err := readTokenBody(r)
		if err != nil || refreshToken == "" {
			writeJSONError(w, "invalid_request", "refresh token is required", http.StatusBadRequest)
			return
		}

		stored, next, err := s.refresh.Rotate(refreshToken)
		if errors.Is(err, sessionerrors.ErrInvalidRefreshToken) {
			writeJSONError(w, "invalid_grant", "refresh token is invalid or expired", http.StatusUnauthorized)
			return
		}
		if err != nil {
			logError(r.Method, r.URL.Path, err)
			writeJSONError(w, "server_error", "failed to rotate refresh token", http.StatusInternalServerError)
			return
		}

		access, err := s.tokens.CreateAccessToken(stored.Subject, stored.Role, s.config.GetAccessTokenExpiry())
		if err != nil {
			logError(r.Method, r.URL.Path, err)
			writeJSONError(w, "server_error", "failed to issue access token", http.StatusInternalServerError)
			return
		}
		log.Debug().Str("subject", stored.Subject).Msg("admin tokens refreshed")
		writeJSON(w, http.StatusOK, authapi.TokenResponse{
			AccessToken:  access.Raw,
			RefreshToken: next,
			ExpiresIn:    int(s.config.GetAccessTokenExpiry().Seconds()),
			TokenType:    "Bearer",
		})
	}
}

// AdminLogoutHandler revokes the bearer access token and the refresh token in
// the body. Either credential on its own is enough.
func (s *Server) AdminLogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		revoked := false
		subject := ""

		if raw, ok := bearerToken(r); ok {
			if claims, err := s.tokens.Verify(raw); err == nil && claims.Role == jwt.RoleAdmin {
				s.revoke(claims)
				subject = claims.Subject
				revoked = true
			}
		}

		if refreshToken, err := readTokenBody(r); err == nil && refreshToken != "" {
			if stored, err := s.refresh.Get(refreshToken); err == nil && (subject == "" || stored.Subject == subject) {
				if err := s.refresh.Delete(refreshToken); err == nil {
					revoked = true
				}
			}
		}

		if !revoked {
			writeJSONError(w, "invalid_token", "no valid credential to revoke", http.StatusUnauthorized)
			return
		}
		log.Info().Msg("admin logged out")
		w.WriteHeader(http.StatusNoContent)
	}
}

// WhoAmIHandler is a minimal protected resource for exercising admin bearer tokens.
func (s *Server) WhoAmIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		writeJSON(w, http.StatusOK, map[string]string{
			"subject": claims.Subject,
			"role":    claims.Role,
		})
	}
}

func (s *Server) issueAdminTokens(subject, role string) (*authapi.TokenResponse, error) {
	access, err := s.tokens.CreateAccessToken(subject, role, s.config.GetAccessTokenExpiry())
	if err != nil {
		return nil, errors.Wrap(err, "[Server.issueAdminTokens] CreateAccessToken")
	}
	refreshToken, err := s.refresh.Create(subject, role)
	if err != nil {
		return nil, errors.Wrap(err, "[Server.issueAdminTokens] refresh.Create")
	}
	return &authapi.TokenResponse{
		AccessToken:  access.Raw,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.config.GetAccessTokenExpiry().Seconds()),
		TokenType:    "Bearer",
	}, nil
}

func (s *Server) revoke(claims *jwt.VerifiedClaims) {
	s.repos.Revoked.Cleanup()
	if err := s.repos.Revoked.Add(claims.ID, claims.ExpiresAt); err != nil {
		log.Error().Err(err).Str("jti", claims.ID).Msg("failed to revoke access token")
	}
}
