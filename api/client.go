package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jrsteele09/parrot-session/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const maxErrorBody = 64 << 10

// Client calls the Parrot Analyzer authentication endpoints. It holds no
// credentials: every authenticated call is given its access token
// explicitly, and refresh calls carry no Authorization header at all.
type Client struct {
	baseURL    string
	httpClient *http.Client
	validate   *validator.Validate
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. It must not be a client
// wrapped by the session Transport, otherwise refresh calls would recurse.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

func New(baseURL string, options ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		validate:   validator.New(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// WithTransport returns a copy of the client whose round tripper is wrapped
// by wrap. The copy shares the timeout but not the underlying http.Client.
func (c *Client) WithTransport(wrap func(http.RoundTripper) http.RoundTripper) *Client {
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := *c.httpClient
	hc.Transport = wrap(base)

	clone := *c
	clone.httpClient = &hc
	return &clone
}

// Login exchanges an identifier and password for a token pair and user record.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, errors.Wrap(err, "[Client.Login] invalid request")
	}

	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, RouteAuthLogin, "", req, &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.Login]")
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, errors.New("[Client.Login] response missing tokens")
	}
	if err := resp.User.Validate(); err != nil {
		return nil, errors.Wrap(err, "[Client.Login] response user")
	}
	return &resp, nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	if refreshToken == "" {
		return nil, errors.New("[Client.Refresh] refresh token is required")
	}

	var resp RefreshResponse
	if err := c.do(ctx, http.MethodPost, RouteAuthRefresh, "", RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh]")
	}
	if resp.AccessToken == "" {
		return nil, errors.New("[Client.Refresh] response missing access token")
	}
	if resp.User != nil {
		if err := resp.User.Validate(); err != nil {
			log.Warn().Err(err).Msg("api: ignoring invalid user in refresh response")
			resp.User = nil
		}
	}
	return &resp, nil
}

// CheckRole validates accessToken against the server. A nil error means the token is accepted.
func (c *Client) CheckRole(ctx context.Context, accessToken string) (*CheckRoleResponse, error) {
	var resp CheckRoleResponse
	if err := c.do(ctx, http.MethodGet, RouteAuthCheckRole, accessToken, nil, &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.CheckRole]")
	}
	return &resp, nil
}

// RegisterDevice associates a push notification token with the signed in user.
func (c *Client) RegisterDevice(ctx context.Context, accessToken string, role users.RoleType, reg DeviceRegistration) error {
	if reg.Token == "" {
		return errors.New("[Client.RegisterDevice] push token is required")
	}
	path := role.NotificationsPath() + RouteRegisterDevice
	if err := c.do(ctx, http.MethodPost, path, accessToken, reg, nil); err != nil {
		return errors.Wrap(err, "[Client.RegisterDevice]")
	}
	return nil
}

// UnregisterDevice stops push notifications for pushToken.
func (c *Client) UnregisterDevice(ctx context.Context, accessToken string, role users.RoleType, pushToken string) error {
	path := role.NotificationsPath() + RouteUnregisterDevice
	if err := c.do(ctx, http.MethodDelete, path, accessToken, deviceUnregistration{Token: pushToken}, nil); err != nil {
		return errors.Wrap(err, "[Client.UnregisterDevice]")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, method+" "+path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
		if apiErr.Message == "" {
			apiErr.Message = body.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
