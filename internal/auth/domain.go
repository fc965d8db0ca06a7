// Package auth verifies credentials and resolves bearer tokens to
// identity snapshots. It is the identity store the rest of the
// platform consumes actors from.
package auth

import (
	"time"

	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
)

// Credential is the stored login record for an account.
type Credential struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         roles.Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Actor projects the credential into an identity snapshot.
func (c Credential) Actor() identity.Actor {
	return identity.NewActor(c.ID, c.Username, c.Role)
}
