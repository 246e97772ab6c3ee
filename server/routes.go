package server

import (
	"github.com/jrsteele09/go-dashboard-session/token/jwt"
)

func (s *Server) initRoutes() {
	// Admin session
	s.RegisterRouteHandler("POST "+RouteAdminLogin, ChainMiddleware(s.AdminLoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAdminRefresh, ChainMiddleware(s.AdminRefreshHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAdminLogout, ChainMiddleware(s.AdminLogoutHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAdminWhoAmI, ChainMiddleware(s.WhoAmIHandler(), s.APIMiddleware(s.RequireAuth(jwt.RoleAdmin))...))

	// User session
	s.RegisterRouteHandler("POST "+RouteUserLogin, ChainMiddleware(s.UserLoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteUserVerifyToken, ChainMiddleware(s.UserVerifyTokenHandler(), s.APIMiddleware(s.RequireAuth(jwt.RoleUser))...))
	s.RegisterRouteHandler("POST "+RouteUserLogout, ChainMiddleware(s.UserLogoutHandler(), s.APIMiddleware(s.RequireAuth(jwt.RoleUser))...))

	// Preflight for every route
	s.RegisterRouteHandler("OPTIONS /", ChainMiddleware(s.preflightHandler(), s.APIMiddleware()...))
}
