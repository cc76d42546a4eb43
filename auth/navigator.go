package auth

import "github.com/jrsteele09/parrot-session/users"

// Navigator is the UI collaborator the session manager drives. RoleHome is
// called after a successful login, Login whenever an active session ends.
type Navigator interface {
	RoleHome(role users.RoleType)
	Login()
}

type noopNavigator struct{}

func (noopNavigator) RoleHome(users.RoleType) {}
func (noopNavigator) Login()                  {}
