package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffSequence(t *testing.T) {
	base := 3 * time.Second
	cap := 60 * time.Second
	expect := []time.Duration{
		3 * time.Second,
		6 * time.Second,
		12 * time.Second,
		24 * time.Second,
		48 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, want := range expect {
		require.Equal(t, want, backoffDelay(i+1, base, cap), "attempt %v", i+1)
	}
}

func TestBackoffEdges(t *testing.T) {
	// Attempt numbers below 1 behave like 1
	require.Equal(t, 3*time.Second, backoffDelay(0, 3*time.Second, 60*time.Second))
	require.Equal(t, 3*time.Second, backoffDelay(-5, 3*time.Second, 60*time.Second))
	// Huge attempt numbers must not overflow past the cap
	require.Equal(t, 60*time.Second, backoffDelay(500, 3*time.Second, 60*time.Second))
	require.Equal(t, 60*time.Second, backoffDelay(63, 3*time.Second, 60*time.Second))
	// Zero base means no delay
	require.Equal(t, time.Duration(0), backoffDelay(3, 0, 60*time.Second))
}
