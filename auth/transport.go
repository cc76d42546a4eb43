package auth

import (
	"bytes"
	"io"
	"net/http"

	"github.com/jrsteele09/parrot-session/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Transport is an http.RoundTripper that attaches the session access token
// to each request. A request rejected with 401 is retried exactly once after
// a silent refresh; if the retry is rejected too, events.TokenExpired is
// published and the rejected response is returned to the caller.
type Transport struct {
	Base    http.RoundTripper
	manager *Manager
}

// Transport wraps base (http.DefaultTransport when nil) with the session credential.
func (m *Manager) Transport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, manager: m}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, replay, err := replayableBody(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Transport.RoundTrip] read body")
	}

	ctx := req.Context()
	accessToken := t.manager.accessToken(ctx)
	resp, err := t.send(req, body, accessToken)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || accessToken == "" {
		return resp, err
	}

	refreshed, err := t.manager.refresh(ctx, accessToken)
	if err != nil {
		log.Debug().Err(err).Str("path", req.URL.Path).Msg("auth: refresh after 401 failed")
		return resp, nil
	}

	retryBody, err := replay()
	if err != nil {
		return resp, nil
	}
	drain(resp)

	resp, err = t.send(req, retryBody, refreshed.AccessToken)
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		log.Warn().Str("path", req.URL.Path).Msg("auth: request rejected after refresh")
		t.manager.bus.Publish(events.TokenExpired)
	}
	return resp, err
}

func (t *Transport) send(req *http.Request, body io.ReadCloser, accessToken string) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Body = body
	if accessToken != "" {
		(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(out)
	}
	return t.Base.RoundTrip(out)
}

// replayableBody returns the body for the first attempt and a func producing
// an identical body for the retry.
func replayableBody(req *http.Request) (io.ReadCloser, func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req.Body, func() (io.ReadCloser, error) { return req.Body, nil }, nil
	}
	if req.GetBody != nil {
		return req.Body, req.GetBody, nil
	}

	b, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, nil, err
	}
	return io.NopCloser(bytes.NewReader(b)), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
