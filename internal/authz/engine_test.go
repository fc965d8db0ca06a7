package authz

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
)

func actor(id int64, username string, role roles.Role) identity.Actor {
	return identity.NewActor(id, username, role)
}

func TestCanViewPermissiveAtEqualRank(t *testing.T) {
	a := actor(1, "tess", roles.Technician)
	b := actor(2, "theo", roles.Technician)

	require.True(t, CanView(a, b))
	require.True(t, CanView(b, a))
}

func TestCanModifyStrictAtEqualRank(t *testing.T) {
	a := actor(1, "tess", roles.Technician)
	b := actor(2, "theo", roles.Technician)

	require.False(t, CanModify(a, b))
	require.False(t, CanModify(b, a))
	require.True(t, CanModify(a, a), "self always modifies own resources")
}

func TestAdminOverrideBypassesRank(t *testing.T) {
	manager := actor(1, "maya", roles.Manager)
	super := actor(2, "root", roles.SuperAdmin)

	// Equal top rank would fail the strict check, but both carry the
	// admin override.
	require.True(t, CanModify(manager, super))
	require.True(t, CanModify(super, manager))
	require.True(t, CanDelete(manager, super))
}

func TestHigherRankModifiesLower(t *testing.T) {
	admin := actor(1, "ivan", roles.ITAdmin)
	tech := actor(2, "tess", roles.Technician)
	viewer := actor(3, "vera", roles.Viewer)

	require.True(t, CanModify(admin, tech))
	require.True(t, CanModify(tech, viewer))
	require.False(t, CanModify(tech, admin))
	require.False(t, CanView(viewer, tech))
	require.False(t, CanView(tech, admin))
}

func TestSystemActorBypassesEverything(t *testing.T) {
	system := identity.SystemActor()
	super := actor(1, "root", roles.SuperAdmin)

	require.True(t, CanView(system, super))
	require.True(t, CanModify(system, super))
	require.True(t, CanDelete(system, super))
}

func TestErrorMessages(t *testing.T) {
	tech := actor(1, "tess", roles.Technician)
	peer := actor(2, "theo", roles.Technician)

	err := AssertCanModify(tech, peer)
	require.EqualError(t, err, "User 'tess' is not authorized to modify resource owned by 'theo'")

	denied := Denied(tech, "close tickets")
	require.EqualError(t, denied, "User 'tess' is not authorized to close tickets")
}

func TestDecisionsCarryReasons(t *testing.T) {
	tech := actor(1, "tess", roles.Technician)
	peer := actor(2, "theo", roles.Technician)

	d := DecideModify(tech, peer)
	require.False(t, d.Allowed)
	require.Contains(t, d.Reason, "not authorized to modify")

	d = DecideView(tech, peer)
	require.True(t, d.Allowed)
	require.Equal(t, "authorized", d.Reason)
}

func TestAssertsReturnNilWhenAllowed(t *testing.T) {
	super := actor(1, "root", roles.SuperAdmin)
	viewer := actor(2, "vera", roles.Viewer)

	require.NoError(t, AssertCanView(super, viewer))
	require.NoError(t, AssertCanModify(super, viewer))
	require.NoError(t, AssertCanDelete(super, viewer))
}
