package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-dashboard-session/authapi"
	"github.com/jrsteele09/go-dashboard-session/token/jwt"
	"github.com/jrsteele09/go-dashboard-session/users"
	"github.com/rs/zerolog/log"
)

const invalidUserCredentials = "invalid email or subscription key"

// UserLoginHandler authenticates a subscriber by email and subscription key.
// Failures are reported in the body with success=false as well as by status.
func (s *Server) UserLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authapi.UserLoginRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, authapi.UserLoginResponse{Error: "malformed login request"})
			return
		}
		req.Email = users.NormaliseEmail(req.Email)
		req.SubscriptionKey = strings.TrimSpace(req.SubscriptionKey)
		if req.Email == "" || req.SubscriptionKey == "" {
			writeJSON(w, http.StatusBadRequest, authapi.UserLoginResponse{Error: "email and subscription_key are required"})
			return
		}

		user, err := s.repos.Users.GetByEmail(req.Email)
		if err != nil || user.Blocked || !user.CheckSubscriptionKey(req.SubscriptionKey) {
			log.Warn().Str("email", req.Email).Msg("user login rejected")
			writeJSON(w, http.StatusUnauthorized, authapi.UserLoginResponse{Error: invalidUserCredentials})
			return
		}

		expiry := s.config.GetUserTokenExpiry()
		access, err := s.tokens.CreateAccessToken(user.Email, jwt.RoleUser, expiry)
		if err != nil {
			logError(r.Method, r.URL.Path, err)
			writeJSON(w, http.StatusInternalServerError, authapi.UserLoginResponse{Error: "failed to issue access token"})
			return
		}
		if err := s.repos.Users.SetLastLogin(user.Email, s.nowFunc()); err != nil {
			log.Warn().Err(err).Str("email", user.Email).Msg("failed to record last login")
		}

		log.Info().Str("email", user.Email).Msg("user logged in")
		writeJSON(w, http.StatusOK, authapi.UserLoginResponse{
			Success:     true,
			AccessToken: access.Raw,
			ExpiresIn:   int(expiry.Seconds()),
			UserInfo: &authapi.UserInfo{
				Email:           user.Email,
				SubscriptionKey: req.SubscriptionKey,
			},
		})
	}
}

// UserVerifyTokenHandler answers 200 while the bearer user token is still
// accepted. RequireAuth has already rejected anything else.
func (s *Server) UserVerifyTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid":      true,
			"email":      claims.Subject,
			"expires_at": claims.ExpiresAt.UTC(),
		})
	}
}

func (s *Server) UserLogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		s.revoke(claims)
		log.Info().Str("email", claims.Subject).Msg("user logged out")
		w.WriteHeader(http.StatusNoContent)
	}
}
