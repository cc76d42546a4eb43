package auth_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/parrot-session/auth"
	"github.com/jrsteele09/parrot-session/backendfake"
	"github.com/jrsteele09/parrot-session/events"
	"github.com/stretchr/testify/require"
)

func (f *testFixture) echo(t *testing.T, method string, body io.Reader) (*http.Response, backendfake.EchoResponse) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, f.backend.URL+backendfake.RouteEcho, body)
	require.NoError(t, err)

	resp, err := f.manager.HTTPClient(nil, 5*time.Second).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out backendfake.EchoResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestTransport_AttachesAccessToken(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	resp, out := f.echo(t, http.MethodGet, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, testUser.ID, out.UserID)
	require.Equal(t, 1, f.backend.Echoes())
	require.Zero(t, f.backend.Refreshes())
}

func TestTransport_SignedOutRequestIsNotRetried(t *testing.T) {
	f := setupTestFixture(t)

	resp, _ := f.echo(t, http.MethodGet, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Zero(t, f.backend.Refreshes())
	require.Equal(t, 1, f.backend.Unauthorized())
}

func TestTransport_RetriesOnceAfterRefresh(t *testing.T) {
	f := setupTestFixture(t)
	before := f.login(t)
	f.backend.ExpireAccessTokens()

	resp, out := f.echo(t, http.MethodPost, strings.NewReader(`{"action":"clock-in"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, http.MethodPost, out.Method)
	require.Equal(t, `{"action":"clock-in"}`, out.Body)

	require.Equal(t, 1, f.backend.Unauthorized())
	require.Equal(t, 1, f.backend.Refreshes())
	require.Equal(t, 1, f.backend.Echoes())
	require.NotEqual(t, before.AccessToken, f.manager.Current().AccessToken)
}

func TestTransport_ReplaysBodyWithoutGetBody(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.backend.ExpireAccessTokens()

	body := io.NopCloser(strings.NewReader("expense report"))
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPut, f.backend.URL+backendfake.RouteEcho, body)
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := f.manager.HTTPClient(nil, 5*time.Second).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out backendfake.EchoResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "expense report", out.Body)
	require.Equal(t, 1, f.backend.Echoes())
}

func TestTransport_SecondRejectionExpiresSession(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	expired := countPublished(f.bus, events.TokenExpired)
	f.backend.SetRejectEcho(true)

	resp, _ := f.echo(t, http.MethodGet, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, 2, f.backend.Unauthorized())
	require.Equal(t, 1, f.backend.Refreshes())
	require.Equal(t, 1, *expired)

	f.requireSignedOut(t)
	require.Equal(t, 1, f.navigator.loginCount())
}

func TestTransport_RefreshFailureReturnsRejection(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.backend.ExpireAccessTokens()
	f.backend.RevokeRefreshTokens()

	resp, _ := f.echo(t, http.MethodGet, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, 1, f.backend.Unauthorized())
	require.Equal(t, 1, f.backend.Refreshes())
	require.Zero(t, f.backend.Echoes())

	f.requireSignedOut(t)
	require.Equal(t, 1, f.navigator.loginCount())
}

func TestTransport_ConcurrentRejectionsShareOneRefresh(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.backend.SetRefreshDelay(50 * time.Millisecond)
	f.backend.ExpireAccessTokens()

	const n = 10
	client := f.manager.HTTPClient(nil, 5*time.Second)
	statuses := make([]int, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(f.backend.URL + backendfake.RouteEcho)
			if err != nil {
				return
			}
			statuses[i] = resp.StatusCode
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	for i, status := range statuses {
		require.Equal(t, http.StatusOK, status, "request %d", i)
	}
	require.Equal(t, 1, f.backend.Refreshes())
	require.Equal(t, n, f.backend.Echoes())
	require.NotNil(t, f.manager.Current())
}

func TestTransport_ProactiveRefresh(t *testing.T) {
	f := setupTestFixture(t, auth.WithRefreshSkew(time.Minute))
	f.backend.SetAccessTTL(10 * time.Second)
	before := f.login(t)

	resp, _ := f.echo(t, http.MethodGet, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, f.backend.Refreshes())
	require.Zero(t, f.backend.Unauthorized())
	require.NotEqual(t, before.AccessToken, f.manager.Current().AccessToken)
}

func TestTransport_ProactiveRefreshDisabled(t *testing.T) {
	f := setupTestFixture(t, auth.WithRefreshSkew(0))
	f.backend.SetAccessTTL(10 * time.Second)
	f.login(t)

	resp, _ := f.echo(t, http.MethodGet, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Zero(t, f.backend.Refreshes())
}

func TestTransport_JoinedRefreshSurvivesFirstCallerTimeout(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.backend.SetRefreshDelay(200 * time.Millisecond)
	f.backend.ExpireAccessTokens()
	client := f.manager.HTTPClient(nil, 5*time.Second)

	impatient := make(chan struct{})
	go func() {
		defer close(impatient)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.backend.URL+backendfake.RouteEcho, nil)
		if err != nil {
			return
		}
		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
		}
	}()

	time.Sleep(20 * time.Millisecond)
	resp, out := f.echo(t, http.MethodGet, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, testUser.ID, out.UserID)
	require.Equal(t, 1, f.backend.Refreshes())
	require.NotNil(t, f.manager.Current())
	<-impatient
}
