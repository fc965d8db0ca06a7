package assets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
)

func TestLifecycleTable(t *testing.T) {
	allowed := map[Status]map[Status]bool{
		StatusActive:   {StatusInRepair: true, StatusInactive: true, StatusRetired: true, StatusDisposed: true, StatusMissing: true},
		StatusInRepair: {StatusActive: true, StatusRetired: true, StatusDisposed: true, StatusMissing: true},
		StatusInactive: {StatusActive: true, StatusRetired: true, StatusDisposed: true, StatusMissing: true},
		StatusMissing:  {StatusActive: true},
		StatusRetired:  {},
		StatusDisposed: {},
	}
	statuses := []Status{StatusActive, StatusInactive, StatusInRepair, StatusRetired, StatusDisposed, StatusMissing}
	now := time.Now()
	for _, from := range statuses {
		for _, to := range statuses {
			asset := Asset{Status: from}
			err := asset.ApplyTransition(to, now)
			switch {
			case from == to:
				var transErr *TransitionError
				require.ErrorAs(t, err, &transErr, "%s -> %s", from, to)
				require.Equal(t, "redundant transition", transErr.Reason)
			case allowed[from][to]:
				require.NoError(t, err, "%s -> %s", from, to)
			default:
				var transErr *TransitionError
				require.ErrorAs(t, err, &transErr, "%s -> %s", from, to)
			}
		}
	}
}

func TestRetireClearsAssignee(t *testing.T) {
	holder := identity.NewActor(4, "lenny", roles.Technician)
	for _, to := range []Status{StatusRetired, StatusDisposed} {
		asset := Asset{Status: StatusActive, Assignee: &holder}
		require.NoError(t, asset.ApplyTransition(to, time.Now()))
		require.Nil(t, asset.Assignee, "entering %s must unassign", to)
	}

	// Other transitions keep the holder.
	asset := Asset{Status: StatusActive, Assignee: &holder}
	require.NoError(t, asset.ApplyTransition(StatusInRepair, time.Now()))
	require.NotNil(t, asset.Assignee)
}

func TestSeatAccounting(t *testing.T) {
	asset := Asset{Category: CategorySoftware, LicenseSeats: 2}

	require.NoError(t, asset.AllocateSeat())
	require.NoError(t, asset.AllocateSeat())
	require.Equal(t, 2, asset.SeatsUsed)

	err := asset.AllocateSeat()
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, 2, capErr.Used)
	require.Equal(t, 2, asset.SeatsUsed, "failed allocation must not clamp or grow")

	require.NoError(t, asset.ReleaseSeat())
	require.NoError(t, asset.ReleaseSeat())
	require.Error(t, asset.ReleaseSeat(), "releasing below zero is an integrity error")
	require.Equal(t, 0, asset.SeatsUsed)
}

func TestSeatAccountingRequiresSoftware(t *testing.T) {
	asset := Asset{Category: CategoryHardware}
	require.Error(t, asset.AllocateSeat())
	require.Error(t, asset.ReleaseSeat())
}
