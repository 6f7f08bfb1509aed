package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNeverRunsBackwards(t *testing.T) {
	now := time.Unix(1_000, 0)
	clock := NewClock(func() time.Time { return now })

	require.Equal(t, int64(1_000), clock.Now())
	require.Equal(t, uint64(1_000), clock.Next(900))
	require.Equal(t, uint64(1_500), clock.Next(1_500))

	require.Equal(t, int64(60), clock.Advance(60))
	require.Equal(t, int64(60), clock.Advance(-10))
	require.Equal(t, int64(60), clock.Offset())
	require.Equal(t, uint64(1_060), clock.Next(1_000))
}
