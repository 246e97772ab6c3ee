// Package server is a reference implementation of the Auth API the dashboard
// session stores talk to. It is meant for local development and end-to-end tests.
package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-dashboard-session/internal/config"
	"github.com/jrsteele09/go-dashboard-session/token"
	"github.com/jrsteele09/go-dashboard-session/token/jwt"
	"github.com/jrsteele09/go-dashboard-session/token/refresh"
	"github.com/jrsteele09/go-dashboard-session/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// AdminSubject is the subject of every admin access token.
const AdminSubject = "admin"

type Config interface {
	config.EnvConfig
	config.CorsConfig
	config.TokenConfig
}

// Repos are the stores behind the API
type Repos struct {
	Users         users.UserRepo
	RefreshTokens refresh.Repo
	Revoked       token.RevokedTokenCache
}

type Server struct {
	env     string // Environment (e.g., "DEV", "PROD")
	mux     *http.ServeMux
	routes  []string
	config  Config
	repos   Repos
	tokens  *jwt.Creator
	refresh *refresh.Manager
	nowFunc func() time.Time
}

type Option func(*Server)

func WithNowFunc(nowFunc func() time.Time) Option {
	return func(s *Server) {
		s.nowFunc = nowFunc
	}
}

func New(cfg Config, repos Repos, options ...Option) (*Server, error) {
	if repos.Users == nil || repos.RefreshTokens == nil || repos.Revoked == nil {
		return nil, errors.New("[server.New] all repos are required")
	}
	if cfg.GetSigningSecret() == "" {
		return nil, errors.New("[server.New] signing secret is empty")
	}

	s := &Server{
		env:     cfg.GetEnv(),
		mux:     http.NewServeMux(),
		config:  cfg,
		repos:   repos,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	s.tokens = jwt.NewCreator(cfg.GetSigningSecret(), jwt.WithIssuer(cfg.GetAppName()), jwt.WithNowFunc(s.nowFunc))
	s.refresh = refresh.NewManager(repos.RefreshTokens, cfg, refresh.WithNowFunc(s.nowFunc))

	if err := s.Bootstrap(); err != nil {
		return nil, errors.Wrap(err, "[server.New] Bootstrap")
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Debug().Msgf("[%-19s] %s", displayMethod, path)
}

func logError(method, path string, err error) {
	log.Error().Err(err).Str("method", method).Msg(Red + path + ResetColor)
}
