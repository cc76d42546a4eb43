package auth

import (
	"github.com/go-playground/validator/v10"
	"github.com/jrsteele09/parrot-session/api"
	"github.com/pkg/errors"
)

// LoginStatus discriminates the outcome of Manager.Login.
type LoginStatus int

const (
	LoginSucceeded LoginStatus = iota
	LoginCompanyDisabled
	LoginInvalidCredentials
	LoginUnknownError
)

func (s LoginStatus) String() string {
	switch s {
	case LoginSucceeded:
		return "succeeded"
	case LoginCompanyDisabled:
		return "company_disabled"
	case LoginInvalidCredentials:
		return "invalid_credentials"
	default:
		return "unknown"
	}
}

// User facing messages for failed logins.
const (
	MessageCompanyDisabled    = "Your company account has been disabled. Please contact your administrator."
	MessageInvalidCredentials = "Invalid email/phone or password."
	MessageUnknownError       = "Something went wrong while signing in. Please try again."
)

// LoginResult is returned by Manager.Login instead of an error. Err holds
// the underlying cause for logging; Message is safe to show to the user.
type LoginResult struct {
	Status  LoginStatus
	Message string
	Err     error
}

func (r LoginResult) OK() bool {
	return r.Status == LoginSucceeded
}

func classifyLoginError(err error) LoginResult {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.CompanyDisabled():
			return LoginResult{Status: LoginCompanyDisabled, Message: MessageCompanyDisabled, Err: err}
		case apiErr.InvalidCredentials():
			return LoginResult{Status: LoginInvalidCredentials, Message: MessageInvalidCredentials, Err: err}
		}
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return LoginResult{Status: LoginInvalidCredentials, Message: MessageInvalidCredentials, Err: err}
	}

	return LoginResult{Status: LoginUnknownError, Message: MessageUnknownError, Err: err}
}
