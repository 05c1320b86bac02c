package scrobble

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffLadder(t *testing.T) {
	t.Parallel()

	now := time.Unix(1683804525, 0)
	b := newBackoff(time.Minute, 10*time.Minute)

	require.True(t, b.Ready(now))

	// delays never decrease across consecutive failures, and cap out
	var prev time.Duration
	for i := 0; i < 8; i++ {
		b.Fail(now)
		require.GreaterOrEqual(t, b.Delay(), prev)
		require.LessOrEqual(t, b.Delay(), 10*time.Minute)
		prev = b.Delay()
	}
	require.Equal(t, 10*time.Minute, b.Delay())

	require.False(t, b.Ready(now))
	require.False(t, b.Ready(now.Add(10*time.Minute-time.Second)))
	require.True(t, b.Ready(now.Add(10*time.Minute)))

	// one success resets the whole ladder
	b.Reset()
	require.True(t, b.Ready(now))
	require.Zero(t, b.Delay())
	b.Fail(now)
	require.Equal(t, time.Minute, b.Delay())
}

func TestBackoffExpedite(t *testing.T) {
	t.Parallel()

	now := time.Unix(1683804525, 0)
	b := newBackoff(time.Minute, 10*time.Minute)

	b.Fail(now)
	b.Fail(now)
	require.False(t, b.Ready(now))

	// an operator nudge clears the wait but keeps the ladder position
	b.Expedite()
	require.True(t, b.Ready(now))
	b.Fail(now)
	require.Equal(t, 4*time.Minute, b.Delay())
}
