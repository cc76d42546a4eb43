package api

import "github.com/jrsteele09/parrot-session/users"

// Endpoint paths of the Parrot Analyzer API consumed by the session client.
const (
	RouteAuthLogin     = "/auth/login"
	RouteAuthRefresh   = "/auth/refresh"
	RouteAuthCheckRole = "/auth/check-role"

	// Appended to users.RoleType.NotificationsPath()
	RouteRegisterDevice   = "/register-device"
	RouteUnregisterDevice = "/unregister-device"
)

type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"` // Email or phone number
	Password   string `json:"password" validate:"required"`
}

// LoginResponse is returned by POST /auth/login.
type LoginResponse struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	User         users.User `json:"user"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse is returned by POST /auth/refresh. User is only present
// when the server has newer profile data; RefreshToken only when it rotates.
type RefreshResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	User         *users.User `json:"user,omitempty"`
}

// CheckRoleResponse is the body of GET /auth/check-role. Older servers send an empty body.
type CheckRoleResponse struct {
	Role users.RoleType `json:"role,omitempty"`
}

type DeviceRegistration struct {
	Token      string `json:"token"`
	DeviceID   string `json:"deviceId,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
}

type deviceUnregistration struct {
	Token string `json:"token"`
}

// errorBody covers the error shapes the API returns: {"error": "..."} and {"message": "...", "code": "..."}.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}
