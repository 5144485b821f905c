package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPollStatusString(t *testing.T) {
	require.Equal(t, "PENDING", PollPending.String())
	require.Equal(t, "CONFIRMED", PollConfirmed.String())
	require.Equal(t, "FAILED", PollFailed.String())
	require.Equal(t, "PENDING", PollStatus(99).String())
}
