package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/parrot-session/api"
	"github.com/jrsteele09/parrot-session/events"
	sessionerrors "github.com/jrsteele09/parrot-session/internal/errors"
	"github.com/jrsteele09/parrot-session/sessions"
	"github.com/jrsteele09/parrot-session/storage"
	"github.com/jrsteele09/parrot-session/token"
	"github.com/jrsteele09/parrot-session/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Auxiliary device keys kept alongside the session record.
const (
	KeyPushToken = "push_token"
	KeyDeviceID  = "device_id"
)

const refreshFlight = "refresh"

var _ oauth2.TokenSource = (*Manager)(nil)

// Manager owns the single authenticated identity of the app: it persists the
// token pair, refreshes the access token silently, and ends the session when
// the backend stops accepting it.
type Manager struct {
	client     *api.Client    // Unauthenticated calls (login, refresh, check-role)
	authed     *api.Client    // Calls routed through the session Transport
	repo       *sessions.Repo // Persisted session record
	store      storage.Store  // Device storage for auxiliary keys
	bus        *events.Bus    // Expiry broadcast
	navigator  Navigator      // UI collaborator
	limiter    *rate.Limiter  // Throttles refresh calls
	refreshes  singleflight.Group
	skew       time.Duration    // Proactive refresh window
	timeout    time.Duration    // Bound on one shared refresh
	deviceType string           // Reported on push registration
	nowFunc    func() time.Time // nowFunc (injectable for testing)

	unsubscribe func()

	// transition serialises every change of session state together with its
	// persistence; mu guards the in-memory fields for readers.
	transition sync.Mutex
	mu         sync.RWMutex
	session    *sessions.Session
	generation uint64
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

func WithNavigator(n Navigator) ManagerOption {
	return func(m *Manager) {
		m.navigator = n
	}
}

// WithRefreshSkew refreshes JWT access tokens this long before they expire. Zero disables proactive refresh.
func WithRefreshSkew(skew time.Duration) ManagerOption {
	return func(m *Manager) {
		m.skew = skew
	}
}

// WithRefreshLimit allows r refresh calls per second with the given burst.
func WithRefreshLimit(r rate.Limit, burst int) ManagerOption {
	return func(m *Manager) {
		m.limiter = rate.NewLimiter(r, burst)
	}
}

// WithRefreshTimeout bounds a shared refresh, including time spent throttled.
func WithRefreshTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

func WithDeviceType(deviceType string) ManagerOption {
	return func(m *Manager) {
		m.deviceType = deviceType
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// NewManager creates a session manager and subscribes it to events.TokenExpired on bus.
// Call Initialize to restore a persisted session and Close to unsubscribe.
func NewManager(client *api.Client, store storage.Store, bus *events.Bus, options ...ManagerOption) (*Manager, error) {
	if client == nil {
		return nil, errors.New("[NewManager] client is required")
	}
	if store == nil {
		return nil, errors.New("[NewManager] store is required")
	}
	if bus == nil {
		return nil, errors.New("[NewManager] bus is required")
	}

	m := &Manager{
		client:     client,
		repo:       sessions.NewRepo(store),
		store:      store,
		bus:        bus,
		navigator:  noopNavigator{},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 5),
		skew:       30 * time.Second,
		timeout:    30 * time.Second,
		deviceType: "unknown",
		nowFunc:    time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	if m.navigator == nil {
		m.navigator = noopNavigator{}
	}

	m.authed = client.WithTransport(func(base http.RoundTripper) http.RoundTripper {
		return m.Transport(base)
	})
	m.unsubscribe = bus.Subscribe(events.TokenExpired, m.onTokenExpired)
	return m, nil
}

// Close stops listening for expiry events.
func (m *Manager) Close() {
	m.unsubscribe()
}

// Current returns a copy of the active session, or nil when signed out.
func (m *Manager) Current() *sessions.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Clone()
}

// Token implements oauth2.TokenSource with the current access token.
func (m *Manager) Token() (*oauth2.Token, error) {
	s := m.Current()
	if s == nil {
		return nil, sessionerrors.ErrNoSession
	}
	return s.OAuth2Token(), nil
}

// HTTPClient returns a client whose requests carry the session credential
// and are retried once after a silent refresh when rejected with 401.
func (m *Manager) HTTPClient(base http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{Transport: m.Transport(base), Timeout: timeout}
}

// Initialize restores the persisted session. The restored session is trusted
// immediately and then validated against the backend; if the backend rejects
// the access token one silent refresh is attempted before giving up.
func (m *Manager) Initialize(ctx context.Context) (*sessions.Session, error) {
	restored, err := m.repo.Load(ctx)
	if err != nil {
		log.Info().Msg("auth: no persisted session")
		return nil, err
	}
	if sub := token.Subject(restored.AccessToken); sub != "" && sub != restored.User.ID {
		log.Warn().Str("user_id", restored.User.ID).Str("sub", sub).Msg("auth: access token subject does not match stored user")
	}

	m.transition.Lock()
	m.commit(restored)
	m.transition.Unlock()
	log.Info().Str("user_id", restored.User.ID).Str("role", string(restored.User.Role)).Msg("auth: session restored")

	_, err = m.client.CheckRole(ctx, restored.AccessToken)
	if err == nil {
		return m.Current(), nil
	}

	var apiErr *api.Error
	if !errors.As(err, &apiErr) || !apiErr.Rejected() {
		log.Warn().Err(err).Msg("auth: unable to validate restored session, keeping it")
		return m.Current(), nil
	}

	log.Info().Int("status", apiErr.StatusCode).Msg("auth: restored access token rejected, refreshing")
	return m.refresh(ctx, restored.AccessToken)
}

// Login signs in with an email or phone identifier. Failures are classified
// into the returned LoginResult; storage is only written on success.
func (m *Manager) Login(ctx context.Context, identifier, password string) LoginResult {
	resp, err := m.client.Login(ctx, api.LoginRequest{
		Identifier: strings.TrimSpace(identifier),
		Password:   password,
	})
	if err != nil {
		result := classifyLoginError(err)
		log.Warn().Err(err).Str("status", result.Status.String()).Msg("auth: login failed")
		return result
	}

	s := &sessions.Session{
		User:         resp.User,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}

	m.transition.Lock()
	if err := m.repo.Save(ctx, s); err != nil {
		m.transition.Unlock()
		log.Err(err).Msg("auth: failed to persist session")
		return LoginResult{Status: LoginUnknownError, Message: MessageUnknownError, Err: err}
	}
	m.commit(s)
	m.transition.Unlock()

	log.Info().Str("user_id", s.User.ID).Str("role", string(s.User.Role)).Msg("auth: signed in")
	m.bus.Publish(events.SessionStarted)
	m.navigator.RoleHome(s.User.Role)
	return LoginResult{Status: LoginSucceeded}
}

// Logout unregisters the device push token when one is stored, then clears
// the session. Unregistration is best effort and never blocks logout.
func (m *Manager) Logout(ctx context.Context) error {
	if current := m.Current(); current != nil {
		m.unregisterDevice(ctx, current)
	}
	return m.end(ctx, 0)
}

// Refresh exchanges the stored refresh token for a new access token. On
// failure the session is ended and nil is returned.
func (m *Manager) Refresh(ctx context.Context) (*sessions.Session, error) {
	return m.refresh(ctx, "")
}

// UpdateUser merges a partial profile change into the signed in user without
// re-authenticating. The persisted user record is rewritten to match.
func (m *Manager) UpdateUser(ctx context.Context, update users.Update) (*users.User, error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	current := m.Current()
	if current == nil {
		return nil, sessionerrors.ErrNoSession
	}

	merged := current.User.Merge(update)
	if err := merged.Validate(); err != nil {
		return nil, errors.Wrap(sessionerrors.ErrInvalidRequest, "[Manager.UpdateUser] "+err.Error())
	}
	if err := m.repo.SaveUser(ctx, merged); err != nil {
		return nil, errors.Wrap(err, "[Manager.UpdateUser]")
	}

	m.mu.Lock()
	m.session.User = merged
	m.mu.Unlock()
	return &merged, nil
}

// RegisterPushToken registers the device push token for the signed in user
// and remembers it so Logout can unregister it.
func (m *Manager) RegisterPushToken(ctx context.Context, pushToken string) error {
	current := m.Current()
	if current == nil {
		return sessionerrors.ErrNoSession
	}

	deviceID, err := m.deviceID(ctx)
	if err != nil {
		return errors.Wrap(err, "[Manager.RegisterPushToken] deviceID")
	}
	reg := api.DeviceRegistration{Token: pushToken, DeviceID: deviceID, DeviceType: m.deviceType}
	if err := m.authed.RegisterDevice(ctx, "", current.User.Role, reg); err != nil {
		return errors.Wrap(err, "[Manager.RegisterPushToken]")
	}
	if err := m.store.Set(ctx, KeyPushToken, pushToken); err != nil {
		return errors.Wrap(err, "[Manager.RegisterPushToken] store")
	}
	return nil
}

func (m *Manager) deviceID(ctx context.Context) (string, error) {
	id, err := m.store.Get(ctx, KeyDeviceID)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}
	id = uuid.NewString()
	return id, m.store.Set(ctx, KeyDeviceID, id)
}

func (m *Manager) unregisterDevice(ctx context.Context, current *sessions.Session) {
	pushToken, err := m.store.Get(ctx, KeyPushToken)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("auth: unable to read push token")
		return
	}

	if err := m.authed.UnregisterDevice(ctx, "", current.User.Role, pushToken); err != nil {
		log.Warn().Err(err).Msg("auth: failed to unregister device, continuing logout")
	}
	if err := m.store.Delete(ctx, KeyPushToken); err != nil {
		log.Warn().Err(err).Msg("auth: failed to forget push token")
	}
}

// refresh runs at most one refresh at a time. staleAccessToken is the token
// the caller saw rejected; if it has already been replaced the current
// session is returned without calling the backend. The shared refresh runs
// detached from the caller's context, bounded by the refresh timeout, so a
// caller that gives up does not fail the others waiting on it.
func (m *Manager) refresh(ctx context.Context, staleAccessToken string) (*sessions.Session, error) {
	flight := m.refreshes.DoChan(refreshFlight, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return m.doRefresh(flightCtx, staleAccessToken)
	})

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "[Manager.Refresh]")
	case res := <-flight:
		if res.Shared {
			log.Debug().Msg("auth: joined in-flight refresh")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sessions.Session).Clone(), nil
	}
}

func (m *Manager) doRefresh(ctx context.Context, staleAccessToken string) (*sessions.Session, error) {
	m.mu.RLock()
	current, generation := m.session.Clone(), m.generation
	m.mu.RUnlock()

	if current == nil {
		return nil, sessionerrors.ErrNoSession
	}
	if staleAccessToken != "" && current.AccessToken != staleAccessToken {
		return current, nil
	}

	// A refresh the limiter cannot admit within the refresh timeout is not a
	// verdict on the session: it is kept and the caller sees the original 401.
	if err := m.limiter.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("auth: refresh throttled, keeping session")
		return nil, errors.Wrap(err, "[Manager.Refresh] limiter")
	}

	resp, err := m.client.Refresh(ctx, current.RefreshToken)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "[Manager.Refresh]")
		}
		log.Warn().Err(err).Msg("auth: silent refresh failed, ending session")
		_ = m.end(context.WithoutCancel(ctx), generation)
		return nil, sessionerrors.WithSentinel(sessionerrors.ErrRefreshFailed, err)
	}

	m.transition.Lock()
	if m.generation != generation {
		m.transition.Unlock()
		return nil, sessionerrors.ErrSessionEnded
	}

	// Start from the latest in-memory state so a concurrent UpdateUser is kept.
	next := m.Current()
	next.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		next.RefreshToken = resp.RefreshToken
	}
	if resp.User != nil {
		next.User = *resp.User
	}

	if err := m.repo.Save(ctx, next); err != nil {
		m.transition.Unlock()
		log.Err(err).Msg("auth: failed to persist refreshed session, ending session")
		_ = m.end(context.WithoutCancel(ctx), generation)
		return nil, sessionerrors.WithSentinel(sessionerrors.ErrRefreshFailed, err)
	}
	m.commit(next)
	m.transition.Unlock()

	log.Debug().Str("user_id", next.User.ID).Msg("auth: access token refreshed")
	return next, nil
}

// accessToken returns the token to send with a request, refreshing first
// when a JWT access token is about to expire. Returns "" when signed out.
func (m *Manager) accessToken(ctx context.Context) string {
	current := m.Current()
	if current == nil {
		return ""
	}
	if m.skew <= 0 || !token.ExpiresWithin(current.AccessToken, m.skew, m.nowFunc()) {
		return current.AccessToken
	}

	refreshed, err := m.refresh(ctx, current.AccessToken)
	if err != nil {
		if s := m.Current(); s != nil {
			return s.AccessToken
		}
		return ""
	}
	return refreshed.AccessToken
}

func (m *Manager) onTokenExpired(events.Topic) {
	if m.Current() == nil {
		return
	}
	log.Warn().Msg("auth: access token expired, ending session")
	_ = m.end(context.Background(), 0)
}

// commit must be called with m.transition held.
func (m *Manager) commit(s *sessions.Session) {
	m.mu.Lock()
	m.session = s.Clone()
	m.generation++
	m.mu.Unlock()
}

// end clears in-memory and persisted state. A non-zero generation only ends
// the session if no other transition happened since it was observed.
func (m *Manager) end(ctx context.Context, generation uint64) error {
	m.transition.Lock()
	if generation != 0 && generation != m.generation {
		m.transition.Unlock()
		return nil
	}

	m.mu.Lock()
	hadSession := m.session != nil
	m.session = nil
	m.generation++
	m.mu.Unlock()

	err := m.repo.Clear(ctx)
	m.transition.Unlock()

	if err != nil {
		log.Err(err).Msg("auth: failed to clear persisted session")
	}
	if hadSession {
		log.Info().Msg("auth: session ended")
		m.bus.Publish(events.SessionEnded)
		m.navigator.Login()
	}
	return errors.Wrap(err, "[Manager.end]")
}
