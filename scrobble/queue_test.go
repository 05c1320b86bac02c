package scrobble

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.senan.xyz/scrobbled/track"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue(100, nil)
	for i := 0; i < 10; i++ {
		q.Enqueue(track.Track{Artist: "artist", Title: fmt.Sprintf("title %d", i)})
	}

	batch := q.DequeueBatch(3)
	require.Len(t, batch, 3)
	require.Equal(t, "title 0", batch[0].Title)
	require.Equal(t, "title 1", batch[1].Title)
	require.Equal(t, "title 2", batch[2].Title)

	// peeking again before acknowledging returns the same entries
	require.Equal(t, batch, q.DequeueBatch(3))

	q.Acknowledge(3)
	require.Equal(t, 7, q.Len())
	require.Equal(t, "title 3", q.DequeueBatch(1)[0].Title)

	q.Enqueue(track.Track{Artist: "artist", Title: "title 10"})
	q.Acknowledge(7)
	require.Equal(t, "title 10", q.DequeueBatch(1)[0].Title)
}

func TestQueueEviction(t *testing.T) {
	t.Parallel()

	var evicted []track.Track
	q := NewQueue(3, func(t track.Track) {
		evicted = append(evicted, t)
	})

	for i := 0; i < 5; i++ {
		q.Enqueue(track.Track{Artist: "artist", Title: fmt.Sprintf("title %d", i)})
	}

	// the two oldest went, in order, one notification each
	require.Len(t, evicted, 2)
	require.Equal(t, "title 0", evicted[0].Title)
	require.Equal(t, "title 1", evicted[1].Title)

	require.Equal(t, 3, q.Len())
	require.Equal(t, "title 2", q.DequeueBatch(1)[0].Title)
}

func TestQueuePinnedBatchNotEvicted(t *testing.T) {
	t.Parallel()

	var evicted []track.Track
	q := NewQueue(2, func(t track.Track) {
		evicted = append(evicted, t)
	})
	q.Enqueue(track.Track{Artist: "artist", Title: "a"})
	q.Enqueue(track.Track{Artist: "artist", Title: "b"})

	batch := q.DequeueBatch(10)
	require.Len(t, batch, 2)

	// the whole queue is on the wire, the newcomer waits over capacity
	q.Enqueue(track.Track{Artist: "artist", Title: "c"})
	require.Empty(t, evicted)
	require.Equal(t, 3, q.Len())

	q.Acknowledge(len(batch))
	remaining := q.DequeueBatch(10)
	require.Len(t, remaining, 1)
	require.Equal(t, "c", remaining[0].Title)
}

func TestQueueEvictsAroundPin(t *testing.T) {
	t.Parallel()

	var evicted []track.Track
	q := NewQueue(3, func(t track.Track) {
		evicted = append(evicted, t)
	})
	q.Enqueue(track.Track{Artist: "artist", Title: "a"})
	q.Enqueue(track.Track{Artist: "artist", Title: "b"})
	q.Enqueue(track.Track{Artist: "artist", Title: "c"})

	require.Len(t, q.DequeueBatch(2), 2) // a, b on the wire

	// c is the oldest entry not on the wire, it goes first
	q.Enqueue(track.Track{Artist: "artist", Title: "d"})
	require.Len(t, evicted, 1)
	require.Equal(t, "c", evicted[0].Title)

	// a failed submission releases the pin, a and b are evictable again
	q.Release()
	q.Enqueue(track.Track{Artist: "artist", Title: "e"})
	require.Len(t, evicted, 2)
	require.Equal(t, "a", evicted[1].Title)
}

func TestQueueDropInvalid(t *testing.T) {
	t.Parallel()

	q := NewQueue(100, nil)
	q.Enqueue(track.Track{Artist: "artist", Title: "good 1"})
	q.Enqueue(track.Track{Title: "no artist"})
	q.Enqueue(track.Track{Artist: "artist", Title: "good 2"})
	q.Enqueue(track.Track{Artist: "no title"})

	dropped := q.DropInvalid()
	require.Len(t, dropped, 2)

	batch := q.DequeueBatch(10)
	require.Len(t, batch, 2)
	require.Equal(t, "good 1", batch[0].Title)
	require.Equal(t, "good 2", batch[1].Title)
}

func TestQueueNowPlaying(t *testing.T) {
	t.Parallel()

	q := NewQueue(100, nil)

	_, ok := q.TakeNowPlaying()
	require.False(t, ok)

	q.SetNowPlaying(track.Track{Artist: "artist", Title: "x"})
	q.SetNowPlaying(track.Track{Artist: "artist", Title: "y"})

	// only the latest matters, and only once
	got, ok := q.TakeNowPlaying()
	require.True(t, ok)
	require.Equal(t, "y", got.Title)

	_, ok = q.TakeNowPlaying()
	require.False(t, ok)
}

func TestQueueDirty(t *testing.T) {
	t.Parallel()

	q := NewQueue(100, nil)
	require.False(t, q.Dirty())

	q.SetNowPlaying(track.Track{Artist: "artist", Title: "x"})
	require.False(t, q.Dirty()) // now playing is never journalled

	q.Enqueue(track.Track{Artist: "artist", Title: "x"})
	require.True(t, q.Dirty())
	q.ClearDirty()

	q.Acknowledge(1)
	require.True(t, q.Dirty())
}
