// Package backendfake is an in-process stand-in for the Parrot Analyzer API,
// implementing the authentication and device registration endpoints plus a
// protected echo resource. It records call counts and exposes switches for
// the failure modes the session client must handle.
package backendfake

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jrsteele09/parrot-session/api"
	"github.com/jrsteele09/parrot-session/users"
)

// RouteEcho is a protected resource: it requires a valid access token and echoes the request body.
const RouteEcho = "/api/echo"

type Account struct {
	Identifier      string
	Password        string
	User            users.User
	CompanyDisabled bool
}

type EchoResponse struct {
	UserID string `json:"userId"`
	Method string `json:"method"`
	Body   string `json:"body"`
}

type Server struct {
	*httptest.Server

	signingKey []byte
	lock       sync.Mutex
	accounts   map[string]*Account // identifier -> account
	byUserID   map[string]*Account
	access     map[string]string // access token -> user ID
	refresh    map[string]string // refresh token -> user ID
	devices    map[string]string // push token -> user ID

	accessTTL     time.Duration
	rotateRefresh bool
	refreshUser   *users.User
	rejectEcho    bool
	failDevices   bool
	refreshDelay  time.Duration

	logins       atomic.Int64
	refreshes    atomic.Int64
	checkRoles   atomic.Int64
	registers    atomic.Int64
	unregisters  atomic.Int64
	echoes       atomic.Int64
	unauthorized atomic.Int64
}

func New() *Server {
	s := &Server{
		signingKey: []byte(uuid.NewString()),
		accounts:   make(map[string]*Account),
		byUserID:   make(map[string]*Account),
		access:     make(map[string]string),
		refresh:    make(map[string]string),
		devices:    make(map[string]string),
		accessTTL:  15 * time.Minute,
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(api.RouteAuthLogin, chainMiddleware(s.loginHandler, s.apiMiddleware()...)).Methods(http.MethodPost)
	r.HandleFunc(api.RouteAuthRefresh, chainMiddleware(s.refreshHandler, s.apiMiddleware()...)).Methods(http.MethodPost)
	r.HandleFunc(api.RouteAuthCheckRole, chainMiddleware(s.requireAuth(s.checkRoleHandler), s.apiMiddleware()...)).Methods(http.MethodGet)
	r.HandleFunc("/api/{role}-notifications"+api.RouteRegisterDevice, chainMiddleware(s.requireAuth(s.registerDeviceHandler), s.apiMiddleware()...)).Methods(http.MethodPost)
	r.HandleFunc("/api/{role}-notifications"+api.RouteUnregisterDevice, chainMiddleware(s.requireAuth(s.unregisterDeviceHandler), s.apiMiddleware()...)).Methods(http.MethodDelete)
	r.HandleFunc(RouteEcho, chainMiddleware(s.requireAuth(s.echoHandler), s.apiMiddleware()...))
	return r
}

func (s *Server) AddAccount(a Account) {
	s.lock.Lock()
	defer s.lock.Unlock()
	acc := a
	s.accounts[a.Identifier] = &acc
	s.byUserID[a.User.ID] = &acc
}

// IssueTokens mints a token pair for an existing account without counting a login.
func (s *Server) IssueTokens(identifier string) (accessToken, refreshToken string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	acc := s.accounts[identifier]
	if acc == nil {
		return "", ""
	}
	return s.mintAccess(acc.User), s.mintRefresh(acc.User.ID)
}

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.access = make(map[string]string)
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.refresh = make(map[string]string)
}

func (s *Server) SetAccessTTL(ttl time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.accessTTL = ttl
}

// SetRotateRefresh makes refresh responses carry a new refresh token.
func (s *Server) SetRotateRefresh(rotate bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.rotateRefresh = rotate
}

// SetRefreshUser makes refresh responses carry u as updated profile data.
func (s *Server) SetRefreshUser(u *users.User) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.refreshUser = u
}

// SetRejectEcho makes the echo resource answer 401 even for valid tokens.
func (s *Server) SetRejectEcho(reject bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.rejectEcho = reject
}

// SetFailDevices makes device registration endpoints answer 500.
func (s *Server) SetFailDevices(fail bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failDevices = fail
}

// SetRefreshDelay holds every refresh response for d.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.refreshDelay = d
}

func (s *Server) HasDevice(pushToken string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.devices[pushToken]
	return ok
}

func (s *Server) Logins() int       { return int(s.logins.Load()) }
func (s *Server) Refreshes() int    { return int(s.refreshes.Load()) }
func (s *Server) CheckRoles() int   { return int(s.checkRoles.Load()) }
func (s *Server) Registers() int    { return int(s.registers.Load()) }
func (s *Server) Unregisters() int  { return int(s.unregisters.Load()) }
func (s *Server) Echoes() int       { return int(s.echoes.Load()) }
func (s *Server) Unauthorized() int { return int(s.unauthorized.Load()) }

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	s.logins.Add(1)

	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "", "invalid request body", http.StatusBadRequest)
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	acc, ok := s.accounts[req.Identifier]
	if !ok || acc.Password != req.Password {
		writeJSONError(w, api.CodeInvalidCredentials, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if acc.CompanyDisabled {
		writeJSONError(w, api.CodeCompanyDisabled, "Your company account has been disabled", http.StatusForbidden)
		return
	}

	writeJSON(w, api.LoginResponse{
		AccessToken:  s.mintAccess(acc.User),
		RefreshToken: s.mintRefresh(acc.User.ID),
		User:         acc.User,
	})
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	s.refreshes.Add(1)

	if r.Header.Get("Authorization") != "" {
		writeJSONError(w, "", "refresh must not carry an access token", http.StatusBadRequest)
		return
	}

	var req api.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "", "invalid request body", http.StatusBadRequest)
		return
	}

	s.lock.Lock()
	delay := s.refreshDelay
	s.lock.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	userID, ok := s.refresh[req.RefreshToken]
	acc := s.byUserID[userID]
	if !ok || acc == nil {
		writeJSONError(w, "", "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	resp := api.RefreshResponse{AccessToken: s.mintAccess(acc.User)}
	if s.rotateRefresh {
		delete(s.refresh, req.RefreshToken)
		resp.RefreshToken = s.mintRefresh(userID)
	}
	if s.refreshUser != nil {
		u := *s.refreshUser
		resp.User = &u
	}
	writeJSON(w, resp)
}

func (s *Server) checkRoleHandler(w http.ResponseWriter, r *http.Request, acc *Account) {
	s.checkRoles.Add(1)
	writeJSON(w, api.CheckRoleResponse{Role: acc.User.Role})
}

func (s *Server) registerDeviceHandler(w http.ResponseWriter, r *http.Request, acc *Account) {
	s.registers.Add(1)
	if !s.roleMatches(r, acc) {
		writeJSONError(w, "", "wrong role", http.StatusForbidden)
		return
	}

	var reg api.DeviceRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil || reg.Token == "" {
		writeJSONError(w, "", "token is required", http.StatusBadRequest)
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.failDevices {
		writeJSONError(w, "", "notification service unavailable", http.StatusInternalServerError)
		return
	}
	s.devices[reg.Token] = acc.User.ID
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) unregisterDeviceHandler(w http.ResponseWriter, r *http.Request, acc *Account) {
	s.unregisters.Add(1)
	if !s.roleMatches(r, acc) {
		writeJSONError(w, "", "wrong role", http.StatusForbidden)
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		writeJSONError(w, "", "token is required", http.StatusBadRequest)
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.failDevices {
		writeJSONError(w, "", "notification service unavailable", http.StatusInternalServerError)
		return
	}
	delete(s.devices, body.Token)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) echoHandler(w http.ResponseWriter, r *http.Request, acc *Account) {
	s.lock.Lock()
	reject := s.rejectEcho
	s.lock.Unlock()
	if reject {
		s.unauthorized.Add(1)
		writeJSONError(w, "", "Token expired", http.StatusUnauthorized)
		return
	}

	body, _ := io.ReadAll(r.Body)
	s.echoes.Add(1)
	writeJSON(w, EchoResponse{UserID: acc.User.ID, Method: r.Method, Body: string(body)})
}

func (s *Server) roleMatches(r *http.Request, acc *Account) bool {
	return mux.Vars(r)["role"] == string(acc.User.Role)
}

func (s *Server) requireAuth(next func(http.ResponseWriter, *http.Request, *Account)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		s.lock.Lock()
		userID, ok := s.access[raw]
		acc := s.byUserID[userID]
		s.lock.Unlock()

		if raw == "" || !ok || acc == nil {
			s.unauthorized.Add(1)
			writeJSONError(w, "", "Token expired", http.StatusUnauthorized)
			return
		}
		next(w, r, acc)
	}
}

// mintAccess must be called with s.lock held.
func (s *Server) mintAccess(u users.User) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  u.ID,
		"role": string(u.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(s.accessTTL).Unix(),
		"jti":  uuid.NewString(),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		panic("backendfake: sign access token: " + err.Error())
	}
	s.access[raw] = u.ID
	return raw
}

// mintRefresh must be called with s.lock held.
func (s *Server) mintRefresh(userID string) string {
	raw := uuid.NewString()
	s.refresh[raw] = userID
	return raw
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}
