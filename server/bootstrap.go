package server

import (
	"github.com/jrsteele09/go-dashboard-session/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Bootstrap seeds the demo subscriber when one is configured. An existing user
// with the same email is left untouched.
func (s *Server) Bootstrap() error {
	if s.config.GetBootstrapAdminToken() == "" {
		log.Warn().Msg("BOOTSTRAP_ADMIN_TOKEN is not set, admin login is disabled")
	}

	email, key := s.config.GetDemoUserEmail(), s.config.GetDemoSubscriptionKey()
	if email == "" || key == "" {
		return nil
	}
	if _, err := s.repos.Users.GetByEmail(email); err == nil {
		return nil
	}
	return errors.Wrap(s.AddUser(email, key), "[Server.Bootstrap]")
}

// AddUser registers a subscriber, storing only the hash of subscriptionKey.
func (s *Server) AddUser(email, subscriptionKey string) error {
	user, err := users.NewUser(email, subscriptionKey, s.nowFunc())
	if err != nil {
		return errors.Wrap(err, "[Server.AddUser] NewUser")
	}
	if err := s.repos.Users.Upsert(user); err != nil {
		return errors.Wrap(err, "[Server.AddUser] Upsert")
	}
	log.Info().Str("email", user.Email).Msg("user registered")
	return nil
}
