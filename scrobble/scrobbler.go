package scrobble

import (
	"errors"
	"log"
	"sync"
	"time"

	"go.senan.xyz/scrobbled/audioscrobbler"
	"go.senan.xyz/scrobbled/track"
)

// Scrobbler drives submissions for one remote service. It owns the service's
// Session and Queue, both guarded by mu. Network calls happen outside the
// lock so the playback observer is never blocked on a slow server.
type Scrobbler struct {
	name     string
	url      string
	username string
	password string
	client   *audioscrobbler.Client

	mu            sync.Mutex
	session       Session
	queue         *Queue
	submitBackoff backoff
	inFlight      bool
}

func newScrobbler(service Service, client *audioscrobbler.Client, queueCap int, backoffMin, backoffMax time.Duration) *Scrobbler {
	s := &Scrobbler{
		name:     service.Name,
		url:      service.URL,
		username: service.Username,
		password: service.Password,
		client:   client,

		session:       Session{backoff: newBackoff(backoffMin, backoffMax)},
		submitBackoff: newBackoff(backoffMin, backoffMax),
	}
	s.queue = NewQueue(queueCap, func(t track.Track) {
		log.Printf("scrobbler %q: queue full, dropping oldest entry %q by %q", s.name, t.Title, t.Artist)
	})
	return s
}

func (s *Scrobbler) Name() string {
	return s.name
}

// NowPlaying and Submit are the two verbs the playback observer calls. They
// never fail, every outcome past this point is absorbed by the tick loop.

func (s *Scrobbler) NowPlaying(t track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.SetNowPlaying(t)
}

func (s *Scrobbler) Submit(t track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Enqueue(t)
}

// Tick attempts one round of work: a handshake if the session needs one,
// then the now-playing announcement, then one submission batch. A tick that
// finds a previous one still on the network is a no-op.
func (s *Scrobbler) Tick(now time.Time, force bool) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	if force {
		s.session.backoff.Expedite()
		s.submitBackoff.Expedite()
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	if !s.ensureSession(now) {
		return
	}
	s.announceNowPlaying()
	s.submitPending(now)
}

func (s *Scrobbler) ensureSession(now time.Time) bool {
	s.mu.Lock()
	switch s.session.State() {
	case StateAuthenticated:
		s.mu.Unlock()
		return true
	case StateHardFailed:
		s.mu.Unlock()
		return false
	}
	if !s.session.backoff.Ready(now) {
		s.mu.Unlock()
		return false
	}
	s.session.beginHandshake()
	s.mu.Unlock()

	handshake, err := s.client.Handshake(s.url, s.username, s.password, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.session.handshakeFailed(now, err)
		if s.session.State() == StateHardFailed {
			log.Printf("scrobbler %q: handshake rejected, giving up until the configuration changes: %v", s.name, err)
		} else {
			log.Printf("scrobbler %q: handshake failed, retrying in %v: %v", s.name, s.session.backoff.Delay(), err)
		}
		return false
	}
	s.session.handshakeOK(handshake)
	log.Printf("scrobbler %q: handshake ok", s.name)
	return true
}

func (s *Scrobbler) announceNowPlaying() {
	s.mu.Lock()
	t, ok := s.queue.TakeNowPlaying()
	nowPlayingURL, sessionID := s.session.nowPlayingURL, s.session.id
	s.mu.Unlock()
	if !ok || !t.Valid() {
		return
	}

	// best effort by protocol convention. log and move on, never retry.
	if err := s.client.NowPlaying(nowPlayingURL, sessionID, t); err != nil {
		if errors.Is(err, audioscrobbler.ErrBadSession) {
			s.mu.Lock()
			s.session.invalidate()
			s.mu.Unlock()
		}
		log.Printf("scrobbler %q: now playing failed: %v", s.name, err)
	}
}

func (s *Scrobbler) submitPending(now time.Time) {
	s.mu.Lock()
	// the announcement may have invalidated the session, don't waste a
	// submission attempt on cleared URLs.
	if s.session.State() != StateAuthenticated {
		s.mu.Unlock()
		return
	}
	if !s.submitBackoff.Ready(now) {
		s.mu.Unlock()
		return
	}
	for _, t := range s.queue.DropInvalid() {
		log.Printf("scrobbler %q: dropping unsubmittable entry %q by %q", s.name, t.Title, t.Artist)
	}
	batch := s.queue.DequeueBatch(audioscrobbler.MaxBatchSize)
	submissionURL, sessionID := s.session.submissionURL, s.session.id
	s.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	err := s.client.Submit(submissionURL, sessionID, batch)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		s.queue.Acknowledge(len(batch))
		s.submitBackoff.Reset()
		log.Printf("scrobbler %q: submitted %d track(s), %d pending", s.name, len(batch), s.queue.Len())
	case errors.Is(err, audioscrobbler.ErrBadSession):
		// the batch stays queued, the next tick re-handshakes and retries
		s.queue.Release()
		s.session.invalidate()
		log.Printf("scrobbler %q: session expired, re-handshaking", s.name)
	default:
		s.queue.Release()
		s.submitBackoff.Fail(now)
		log.Printf("scrobbler %q: submission failed, retrying in %v: %v", s.name, s.submitBackoff.Delay(), err)
	}
}

// journalSnapshot copies the pending queue under the lock so journal writes
// never hold up submissions.
func (s *Scrobbler) journalSnapshot() (tracks []track.Track, dirty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Pending(), s.queue.Dirty()
}

func (s *Scrobbler) clearDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.ClearDirty()
}

func (s *Scrobbler) restore(tracks []track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tracks {
		s.queue.Enqueue(t)
	}
	s.queue.ClearDirty()
}

// State reports the session state, for logging and tests.
func (s *Scrobbler) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.State()
}
