package remittance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitionTable(t *testing.T) {
	require.True(t, StatusPending.CanTransition(StatusManagerAccepted))
	require.True(t, StatusPending.CanTransition(StatusAccepted))
	require.True(t, StatusPending.CanTransition(StatusRejected))
	require.True(t, StatusManagerAccepted.CanTransition(StatusAccepted))
	require.True(t, StatusManagerAccepted.CanTransition(StatusRejected))

	require.False(t, StatusManagerAccepted.CanTransition(StatusPending))
	require.False(t, StatusAccepted.CanTransition(StatusRejected))
	require.False(t, StatusRejected.CanTransition(StatusAccepted))
}

func TestTerminalStatesHaveNoOutgoingTransitions(t *testing.T) {
	for _, terminal := range []Status{StatusAccepted, StatusRejected} {
		require.True(t, terminal.Terminal())
		for _, target := range []Status{StatusPending, StatusManagerAccepted, StatusAccepted, StatusRejected} {
			require.False(t, terminal.CanTransition(target), "%s -> %s", terminal, target)
		}
	}
}

func TestSourcesOfMatchTransitionTable(t *testing.T) {
	require.ElementsMatch(t, []Status{StatusPending}, sourcesOf(StatusManagerAccepted))
	require.ElementsMatch(t, []Status{StatusPending, StatusManagerAccepted}, sourcesOf(StatusAccepted))
	require.ElementsMatch(t, []Status{StatusPending, StatusManagerAccepted}, sourcesOf(StatusRejected))
	require.Empty(t, sourcesOf(StatusPending))
}
