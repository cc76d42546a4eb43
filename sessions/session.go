package sessions

import (
	"github.com/jrsteele09/parrot-session/users"
	"golang.org/x/oauth2"
)

// Persisted keys. The three session keys are written and removed together.
const (
	KeyAccessToken  = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyUserData     = "user_data"
)

// Session is the signed in identity plus the credentials that authorise it.
type Session struct {
	User         users.User // Identity fields, persisted as JSON under user_data
	AccessToken  string     // Short-lived bearer credential, persisted under auth_token
	RefreshToken string     // Long-lived credential used for silent refresh, persisted under refresh_token
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// OAuth2Token exposes the access token in the form golang.org/x/oauth2 transports expect.
func (s *Session) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
	}
}
