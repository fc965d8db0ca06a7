package users

import (
	"time"

	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
)

// User represents a managed account.
type User struct {
	ID        int64
	Username  string
	Email     string
	FullName  string
	Role      roles.Role
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Actor projects the user into the identity value the authorization
// engine works with.
func (u User) Actor() identity.Actor {
	return identity.NewActor(u.ID, u.Username, u.Role)
}
