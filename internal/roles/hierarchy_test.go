package roles

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRankOrdering(t *testing.T) {
	require.Less(t, Rank(Viewer), Rank(Technician))
	require.Less(t, Rank(Technician), Rank(ITAdmin))
	require.Less(t, Rank(ITAdmin), Rank(Manager))
	require.Equal(t, Rank(Manager), Rank(SuperAdmin))
}

func TestUnknownRoleRanksBelowEverything(t *testing.T) {
	unknown := Role("INTERN")
	require.False(t, Valid(unknown))
	require.Equal(t, 0, Rank(unknown))
	for _, r := range Hierarchy() {
		require.True(t, HasStrictlyHigher(r, unknown), "%s should outrank unknown", r)
	}
}

func TestIsAdmin(t *testing.T) {
	require.True(t, IsAdmin(Manager))
	require.True(t, IsAdmin(SuperAdmin))
	require.False(t, IsAdmin(ITAdmin))
	require.False(t, IsAdmin(Technician))
	require.False(t, IsAdmin(Viewer))
}

func TestStrictVersusEqualComparisons(t *testing.T) {
	require.True(t, HasHigherOrEqual(Technician, Technician))
	require.False(t, HasStrictlyHigher(Technician, Technician))

	// Manager and SuperAdmin share a rank; neither strictly outranks the other.
	require.True(t, HasHigherOrEqual(Manager, SuperAdmin))
	require.True(t, HasHigherOrEqual(SuperAdmin, Manager))
	require.False(t, HasStrictlyHigher(Manager, SuperAdmin))
	require.False(t, HasStrictlyHigher(SuperAdmin, Manager))
}

func TestCompare(t *testing.T) {
	require.Equal(t, -1, Compare(Viewer, Technician))
	require.Equal(t, 1, Compare(ITAdmin, Technician))
	require.Equal(t, 0, Compare(Manager, SuperAdmin))
}

func TestDisplayName(t *testing.T) {
	require.Equal(t, "IT Administrator", DisplayName(ITAdmin))
	require.Equal(t, "WHATEVER", DisplayName(Role("WHATEVER")))
}
