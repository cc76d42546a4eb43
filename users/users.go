package users

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jrsteele09/parrot-session/internal/utils"
)

// RoleType is the workforce role a user signs in with. It selects the
// dashboard the app routes to and the notification endpoints the user owns.
type RoleType string

const (
	RoleEmployee   RoleType = "employee"
	RoleGroupAdmin RoleType = "group-admin"
	RoleManagement RoleType = "management"
	RoleSuperAdmin RoleType = "super-admin"
)

var roles = []RoleType{RoleEmployee, RoleGroupAdmin, RoleManagement, RoleSuperAdmin}

func ParseRole(s string) (RoleType, error) {
	r := RoleType(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r RoleType) Valid() bool {
	for _, known := range roles {
		if r == known {
			return true
		}
	}
	return false
}

// NotificationsPath returns the role scoped notifications API prefix, e.g. "/api/group-admin-notifications".
func (r RoleType) NotificationsPath() string {
	return "/api/" + string(r) + "-notifications"
}

type User struct {
	ID    string   `json:"id" validate:"required"`                                                     // Backend user ID
	Name  string   `json:"name" validate:"required"`                                                   // Display name
	Email string   `json:"email" validate:"required,email"`                                            // Login email
	Phone string   `json:"phone,omitempty"`                                                            // Optional contact number
	Role  RoleType `json:"role" validate:"required,oneof=employee group-admin management super-admin"` // Dashboard role
}

// Update is a partial profile change. Nil fields are left untouched.
type Update struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

var validate = validator.New()

// Validate reports whether the record is complete enough to represent a signed in user.
func (u User) Validate() error {
	return validate.Struct(u)
}

// Merge returns a copy of the user with the set fields of the update applied.
func (u User) Merge(update Update) User {
	utils.Assign(&u.Name, update.Name)
	utils.Assign(&u.Email, update.Email)
	utils.Assign(&u.Phone, update.Phone)
	return u
}

func (u Update) Empty() bool {
	return u.Name == nil && u.Email == nil && u.Phone == nil
}
