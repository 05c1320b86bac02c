package scrobble

import (
	"go.senan.xyz/scrobbled/track"
)

// Queue holds a scrobbler's pending tracks, oldest first, plus the
// now-playing slot. It does no locking of its own, the owning Scrobbler's
// mutex guards it.
type Queue struct {
	cap     int
	pending []track.Track
	pinned  int
	dirty   bool
	onEvict func(track.Track)

	nowPlaying     track.Track
	hasUnannounced bool
}

func NewQueue(cap int, onEvict func(track.Track)) *Queue {
	if onEvict == nil {
		onEvict = func(track.Track) {}
	}
	return &Queue{cap: cap, onEvict: onEvict}
}

// SetNowPlaying replaces the now-playing slot unconditionally. Only the
// latest value matters, a stale one is never announced.
func (q *Queue) SetNowPlaying(t track.Track) {
	q.nowPlaying = t
	q.hasUnannounced = true
}

// TakeNowPlaying returns the now-playing track if it hasn't been announced
// yet, and marks it announced. Announcements are best effort so there is no
// way to put one back.
func (q *Queue) TakeNowPlaying() (track.Track, bool) {
	if !q.hasUnannounced {
		return track.Track{}, false
	}
	q.hasUnannounced = false
	return q.nowPlaying, true
}

// Enqueue appends to the pending queue. At capacity the oldest unpinned
// entry is evicted first, we'd rather keep recent listens during a long
// outage. Pinned entries are never evicted, Acknowledge matches them by
// position, so while a full queue is entirely on the wire we run over
// capacity until the batch settles.
func (q *Queue) Enqueue(t track.Track) {
	if len(q.pending) >= q.cap && q.pinned < len(q.pending) {
		q.onEvict(q.pending[q.pinned])
		q.pending = append(q.pending[:q.pinned], q.pending[q.pinned+1:]...)
	}
	q.pending = append(q.pending, t)
	q.dirty = true
}

// DequeueBatch returns up to maxSize of the oldest pending tracks without
// removing them, and pins that prefix against eviction until Acknowledge or
// Release. Removal happens in Acknowledge once the server accepts.
func (q *Queue) DequeueBatch(maxSize int) []track.Track {
	n := min(maxSize, len(q.pending))
	if n == 0 {
		return nil
	}
	q.pinned = n
	batch := make([]track.Track, n)
	copy(batch, q.pending[:n])
	return batch
}

// Acknowledge removes the oldest count tracks, confirmed accepted, and
// releases the pin.
func (q *Queue) Acknowledge(count int) {
	count = min(count, len(q.pending))
	q.pending = q.pending[count:]
	q.pinned = 0
	q.dirty = true
}

// Release unpins a batch whose submission failed. The tracks stay queued
// and become evictable again.
func (q *Queue) Release() {
	q.pinned = 0
}

// DropInvalid removes tracks which can never be submitted, wherever they sit
// in the queue. Retrying one of those forever would wedge everything behind
// it.
func (q *Queue) DropInvalid() []track.Track {
	var dropped []track.Track
	kept := q.pending[:0]
	for _, t := range q.pending {
		if t.Valid() {
			kept = append(kept, t)
			continue
		}
		dropped = append(dropped, t)
	}
	if len(dropped) > 0 {
		q.pending = kept
		q.dirty = true
	}
	return dropped
}

func (q *Queue) Len() int {
	return len(q.pending)
}

// Pending returns a copy of the pending queue for journalling.
func (q *Queue) Pending() []track.Track {
	pending := make([]track.Track, len(q.pending))
	copy(pending, q.pending)
	return pending
}

func (q *Queue) Dirty() bool {
	return q.dirty
}

func (q *Queue) ClearDirty() {
	q.dirty = false
}
