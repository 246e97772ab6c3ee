package server

import "github.com/jrsteele09/go-dashboard-session/authapi"

// Route path constants. The paths are shared with the client so the two
// cannot drift apart.
const (
	// Admin Routes
	RouteAdminLogin   = authapi.PathAdminLogin
	RouteAdminRefresh = authapi.PathAdminRefresh
	RouteAdminLogout  = authapi.PathAdminLogout
	RouteAdminWhoAmI  = "/admin/whoami"

	// User Routes
	RouteUserLogin       = authapi.PathUserLogin
	RouteUserVerifyToken = authapi.PathUserVerifyToken
	RouteUserLogout      = authapi.PathUserLogout
)
