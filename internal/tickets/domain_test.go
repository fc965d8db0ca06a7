package tickets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck/internal/authz"
	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/roles"
)

var allStatuses = []Status{
	StatusNew, StatusOpen, StatusInProgress, StatusPending,
	StatusResolved, StatusClosed, StatusCancelled,
}

func manager() identity.Actor {
	return identity.NewActor(2, "marge", roles.Manager)
}

func technician() identity.Actor {
	return identity.NewActor(4, "lenny", roles.Technician)
}

func TestTransitionClosure(t *testing.T) {
	reachable := map[Status]map[Status]bool{
		StatusNew:        {StatusOpen: true, StatusCancelled: true},
		StatusOpen:       {StatusInProgress: true, StatusPending: true, StatusCancelled: true},
		StatusInProgress: {StatusPending: true, StatusResolved: true, StatusCancelled: true},
		StatusPending:    {StatusInProgress: true, StatusCancelled: true},
		StatusResolved:   {StatusClosed: true, StatusOpen: true},
		StatusClosed:     {},
		StatusCancelled:  {},
	}
	now := time.Now()
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			ticket := Ticket{Status: from}
			err := ticket.ApplyTransition(manager(), to, now)
			if from == to {
				var transErr *TransitionError
				require.ErrorAs(t, err, &transErr, "%s -> %s", from, to)
				require.Equal(t, "redundant transition", transErr.Reason)
				continue
			}
			if reachable[from][to] {
				require.NoError(t, err, "%s -> %s", from, to)
				require.Equal(t, to, ticket.Status)
			} else {
				var transErr *TransitionError
				require.ErrorAs(t, err, &transErr, "%s -> %s", from, to)
				require.Equal(t, from, ticket.Status, "failed transition must not mutate")
			}
		}
	}
}

func TestTechnicianCannotCloseOrCancel(t *testing.T) {
	ticket := Ticket{Status: StatusResolved}
	err := ticket.ApplyTransition(technician(), StatusClosed, time.Now())
	var authzErr *authz.Error
	require.ErrorAs(t, err, &authzErr)
	require.Equal(t, StatusResolved, ticket.Status)

	ticket = Ticket{Status: StatusOpen}
	err = ticket.ApplyTransition(technician(), StatusCancelled, time.Now())
	require.ErrorAs(t, err, &authzErr)

	// The same moves are fine for IT_ADMIN and above.
	ticket = Ticket{Status: StatusResolved}
	require.NoError(t, ticket.ApplyTransition(identity.NewActor(3, "carl", roles.ITAdmin), StatusClosed, time.Now()))
}

func TestResolvedTimestampLifecycle(t *testing.T) {
	actor := manager()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	ticket := Ticket{Status: StatusInProgress}

	require.NoError(t, ticket.ApplyTransition(actor, StatusResolved, at))
	require.NotNil(t, ticket.ResolvedAt)
	firstResolved := *ticket.ResolvedAt

	// Reopening clears the resolution stamp.
	require.NoError(t, ticket.ApplyTransition(actor, StatusOpen, at.Add(time.Hour)))
	require.Nil(t, ticket.ResolvedAt)

	// Work it back to RESOLVED and close: the second stamp survives the
	// close because RESOLVED -> CLOSED is not a revert.
	require.NoError(t, ticket.ApplyTransition(actor, StatusInProgress, at.Add(2*time.Hour)))
	require.NoError(t, ticket.ApplyTransition(actor, StatusResolved, at.Add(3*time.Hour)))
	require.NotNil(t, ticket.ResolvedAt)
	require.True(t, ticket.ResolvedAt.After(firstResolved))

	require.NoError(t, ticket.ApplyTransition(actor, StatusClosed, at.Add(4*time.Hour)))
	require.NotNil(t, ticket.ResolvedAt)
	require.NotNil(t, ticket.ClosedAt)
	require.True(t, ticket.Terminal())
}

func TestOwnerFallsBackToCreator(t *testing.T) {
	creator := identity.NewActor(9, "moe", roles.ITAdmin)
	ticket := Ticket{Creator: creator}
	require.Equal(t, creator, ticket.Owner())

	assignee := technician()
	ticket.Assignee = &assignee
	require.Equal(t, assignee, ticket.Owner())
}
