package scrobble

import (
	"errors"
	"time"

	"go.senan.xyz/scrobbled/audioscrobbler"
)

type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticating
	StateAuthenticated
	StateHardFailed
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateHardFailed:
		return "hard failed"
	default:
		return "unknown"
	}
}

// Session is one service's authentication state. The token and endpoints only
// exist while authenticated. Like the Queue it relies on the owning
// Scrobbler's mutex.
type Session struct {
	state         SessionState
	id            string
	nowPlayingURL string
	submissionURL string
	backoff       backoff
}

func (s *Session) State() SessionState {
	return s.state
}

func (s *Session) beginHandshake() {
	s.state = StateAuthenticating
}

func (s *Session) handshakeOK(h audioscrobbler.Handshake) {
	s.state = StateAuthenticated
	s.id = h.SessionID
	s.nowPlayingURL = h.NowPlayingURL
	s.submissionURL = h.SubmissionURL
	s.backoff.Reset()
}

// handshakeFailed classifies the failure. Bad credentials and a banned client
// can't be fixed by retrying, so those stick until the process is restarted
// with new configuration. Everything else goes back to unauthenticated with
// an increased backoff.
func (s *Session) handshakeFailed(now time.Time, err error) {
	if errors.Is(err, audioscrobbler.ErrBadAuth) || errors.Is(err, audioscrobbler.ErrBanned) {
		s.state = StateHardFailed
		s.id = ""
		s.nowPlayingURL = ""
		s.submissionURL = ""
		return
	}
	s.state = StateUnauthenticated
	s.backoff.Fail(now)
}

// invalidate drops the session after the server reported it stale. No backoff
// penalty, the next tick re-handshakes straight away.
func (s *Session) invalidate() {
	s.state = StateUnauthenticated
	s.id = ""
	s.nowPlayingURL = ""
	s.submissionURL = ""
}
