package api

import (
	"fmt"
	"net/http"
	"strings"

	sessionerrors "github.com/jrsteele09/parrot-session/internal/errors"
)

// Error codes sent by the API in the "code" field.
const (
	CodeCompanyDisabled    = "COMPANY_DISABLED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
)

// Error is a non-2xx response from the API.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the response onto the shared sentinel errors so callers can use errors.Is.
func (e *Error) Unwrap() error {
	switch {
	case e.CompanyDisabled():
		return sessionerrors.ErrCompanyDisabled
	case e.StatusCode == http.StatusUnauthorized:
		return sessionerrors.ErrUnauthorized
	}
	return nil
}

// CompanyDisabled reports whether the user's company account has been
// disabled. The API answers 403 for disabled companies; older builds only
// say so in the message.
func (e *Error) CompanyDisabled() bool {
	if e.Code == CodeCompanyDisabled || e.StatusCode == http.StatusForbidden {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "company") && strings.Contains(msg, "disabled")
}

// InvalidCredentials reports whether the identifier/password pair was refused.
func (e *Error) InvalidCredentials() bool {
	return e.Code == CodeInvalidCredentials ||
		e.StatusCode == http.StatusUnauthorized ||
		e.StatusCode == http.StatusBadRequest
}

// Rejected reports whether the server refused the credential presented (401/403).
func (e *Error) Rejected() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
