package users

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
)

func actorWith(id int64, name string, role roles.Role) identity.Actor {
	return identity.NewActor(id, name, role)
}

func userWith(id int64, name string, role roles.Role) User {
	return User{ID: id, Username: name, Role: role, IsActive: true}
}

func TestCanUpdateMatrix(t *testing.T) {
	superadmin := actorWith(1, "root", roles.SuperAdmin)
	manager := actorWith(2, "marge", roles.Manager)
	itadmin := actorWith(3, "carl", roles.ITAdmin)
	tech := actorWith(4, "lenny", roles.Technician)
	viewer := actorWith(5, "ralph", roles.Viewer)

	cases := []struct {
		name   string
		actor  identity.Actor
		target User
		want   bool
	}{
		{"self always", tech, userWith(4, "lenny", roles.Technician), true},
		{"superadmin over superadmin", superadmin, userWith(9, "root2", roles.SuperAdmin), true},
		{"manager over manager", manager, userWith(9, "other", roles.Manager), true},
		{"manager over superadmin", manager, userWith(1, "root", roles.SuperAdmin), false},
		{"itadmin over technician", itadmin, userWith(4, "lenny", roles.Technician), true},
		{"itadmin over viewer", itadmin, userWith(5, "ralph", roles.Viewer), true},
		{"itadmin over itadmin", itadmin, userWith(9, "other", roles.ITAdmin), false},
		{"itadmin over manager", itadmin, userWith(2, "marge", roles.Manager), false},
		{"technician over viewer", tech, userWith(5, "ralph", roles.Viewer), false},
		{"viewer over viewer", viewer, userWith(9, "other", roles.Viewer), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, CanUpdate(tc.actor, tc.target))
		})
	}
}

func TestCanChangeRoleBlocksEscalation(t *testing.T) {
	manager := actorWith(2, "marge", roles.Manager)
	tech := userWith(4, "lenny", roles.Technician)

	// Never a role at or above the actor's own rank.
	require.False(t, CanChangeRole(manager, tech, roles.Manager))
	require.False(t, CanChangeRole(manager, tech, roles.SuperAdmin))
	require.True(t, CanChangeRole(manager, tech, roles.ITAdmin))
	require.True(t, CanChangeRole(manager, tech, roles.Viewer))

	// SUPERADMIN is equal rank to MANAGER, so even SUPERADMIN may not
	// grant MANAGER.
	superadmin := actorWith(1, "root", roles.SuperAdmin)
	require.False(t, CanChangeRole(superadmin, tech, roles.Manager))
	require.True(t, CanChangeRole(superadmin, tech, roles.ITAdmin))

	// No self-promotion ever.
	require.False(t, CanChangeRole(manager, userWith(2, "marge", roles.Manager), roles.ITAdmin))

	// Scope follows the update matrix.
	itadmin := actorWith(3, "carl", roles.ITAdmin)
	require.True(t, CanChangeRole(itadmin, userWith(5, "ralph", roles.Viewer), roles.Technician))
	require.False(t, CanChangeRole(itadmin, userWith(9, "other", roles.ITAdmin), roles.Viewer))
}

func TestCanDeactivate(t *testing.T) {
	superadmin := actorWith(1, "root", roles.SuperAdmin)
	manager := actorWith(2, "marge", roles.Manager)
	itadmin := actorWith(3, "carl", roles.ITAdmin)
	tech := actorWith(4, "lenny", roles.Technician)

	require.False(t, CanDeactivate(superadmin, userWith(1, "root", roles.SuperAdmin)), "never self")
	require.True(t, CanDeactivate(superadmin, userWith(2, "marge", roles.Manager)))
	require.True(t, CanDeactivate(manager, userWith(3, "carl", roles.ITAdmin)))
	require.False(t, CanDeactivate(manager, userWith(9, "other", roles.Manager)), "equal rank")
	require.True(t, CanDeactivate(itadmin, userWith(4, "lenny", roles.Technician)))
	require.False(t, CanDeactivate(itadmin, userWith(9, "other", roles.ITAdmin)))
	require.False(t, CanDeactivate(tech, userWith(5, "ralph", roles.Viewer)))
}

func TestCanDeleteOnlySuperadmin(t *testing.T) {
	targets := []User{
		userWith(5, "ralph", roles.Viewer),
		userWith(4, "lenny", roles.Technician),
		userWith(3, "carl", roles.ITAdmin),
		userWith(2, "marge", roles.Manager),
	}
	superadmin := actorWith(1, "root", roles.SuperAdmin)
	manager := actorWith(2, "marge", roles.Manager)
	for _, target := range targets {
		require.True(t, CanDelete(superadmin, target))
	}
	require.False(t, CanDelete(manager, userWith(4, "lenny", roles.Technician)))
	require.False(t, CanDelete(superadmin, userWith(1, "root", roles.SuperAdmin)), "never self")
}

func TestPermissionsAggregation(t *testing.T) {
	itadmin := actorWith(3, "carl", roles.ITAdmin)
	set := Permissions(itadmin, userWith(4, "lenny", roles.Technician))
	require.True(t, set.CanView)
	require.True(t, set.CanUpdate)
	require.True(t, set.CanChangeRole)
	require.True(t, set.CanDeactivate)
	require.False(t, set.CanDelete)

	viewer := actorWith(5, "ralph", roles.Viewer)
	self := Permissions(viewer, userWith(5, "ralph", roles.Viewer))
	require.True(t, self.CanView)
	require.True(t, self.CanUpdate)
	require.False(t, self.CanChangeRole)
	require.False(t, self.CanDeactivate)
	require.False(t, self.CanDelete)
}
