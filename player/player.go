// Package player observes an MPRIS player over D-Bus and turns raw playback
// state into listening events: a now-playing notification when a track
// starts, and a submission once it has been played long enough to count.
package player

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"go.senan.xyz/scrobbled/track"
)

const (
	mprisPath        = "/org/mpris/MediaPlayer2"
	mprisPlayerIface = "org.mpris.MediaPlayer2.Player"

	DefaultPollInterval = 2 * time.Second
)

// Submitter receives the two verbs this package produces. Both must be
// non-blocking and must never fail.
type Submitter interface {
	NowPlaying(track.Track)
	Submit(track.Track)
}

type Observer struct {
	bus          *dbus.Conn
	service      string
	submitter    Submitter
	pollInterval time.Duration

	stop     chan struct{}
	stopOnce sync.Once

	cur    track.Track
	hasCur bool
	timer  playTimer
}

func NewObserver(bus *dbus.Conn, mprisService string, pollInterval time.Duration, submitter Submitter) (*Observer, error) {
	if bus == nil {
		return nil, errors.New("nil dbus connection")
	}
	if mprisService == "" {
		return nil, errors.New("empty mpris service name")
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Observer{
		bus:          bus,
		service:      mprisService,
		submitter:    submitter,
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
	}, nil
}

func (o *Observer) Run() error {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := o.poll(); err != nil {
				log.Printf("error polling player: %v", err)
			}
		case <-o.stop:
			return nil
		}
	}
}

func (o *Observer) Stop() {
	o.stopOnce.Do(func() {
		close(o.stop)
	})
}

func (o *Observer) poll() error {
	status, err := o.playbackStatus()
	if err != nil {
		return err
	}

	switch status {
	case "Playing":
		t, err := o.currentTrack()
		if err != nil {
			return err
		}
		pos, err := o.position()
		if err != nil {
			return err
		}
		o.onPlaying(t, pos)
	case "Paused":
		o.timer.Pause()
	default:
		o.onStopped()
	}
	return nil
}

func (o *Observer) onPlaying(t track.Track, pos time.Duration) {
	if !o.hasCur || !sameTrack(o.cur, t) {
		o.endCurrent()
		o.startTrack(t)
		return
	}

	o.timer.Resume()

	// the same song looping back to its start counts as a fresh listen
	if songRepeated(pos, o.timer.Elapsed(), o.cur.Duration) {
		log.Printf("repeated song detected (%q by %q)", o.cur.Title, o.cur.Artist)
		o.endCurrent()
		o.startTrack(t)
	}
}

func (o *Observer) onStopped() {
	o.endCurrent()
}

func (o *Observer) startTrack(t track.Track) {
	t.StartTime = time.Now()
	o.cur = t
	o.hasCur = true
	o.timer.Start()
	o.submitter.NowPlaying(t)
	log.Printf("new song detected (%q by %q)", t.Title, t.Artist)
}

func (o *Observer) endCurrent() {
	if !o.hasCur {
		return
	}
	o.hasCur = false
	o.timer.Pause()

	elapsed := o.timer.Elapsed()
	if !playedLongEnough(elapsed, o.cur.Duration) {
		return
	}

	finished := o.cur
	if finished.Duration == 0 {
		finished.Duration = elapsed
	}
	o.submitter.Submit(finished)
}

// playedLongEnough follows the submission rules of the protocol family: the
// track must have played for at least four minutes or half its length,
// whichever comes first. Pausing and skipping around don't matter as long as
// the total adds up.
func playedLongEnough(elapsed, length time.Duration) bool {
	return elapsed > 4*time.Minute ||
		(length >= 30*time.Second && elapsed > length/2)
}

// songRepeated reports whether the song has wrapped around: the player's
// position is near the start again, behind our own play timer, and the
// portion before the wrap already qualified as a listen.
func songRepeated(pos, prevElapsed, length time.Duration) bool {
	return pos < time.Minute && prevElapsed > pos &&
		playedLongEnough(prevElapsed-pos, length)
}

func sameTrack(a, b track.Track) bool {
	return a.Artist == b.Artist && a.Title == b.Title && a.Album == b.Album && a.Number == b.Number
}

func (o *Observer) playbackStatus() (string, error) {
	obj := o.bus.Object(o.service, mprisPath)

	prop, err := obj.GetProperty(mprisPlayerIface + ".PlaybackStatus")
	if err != nil {
		return "", fmt.Errorf("get playback status: %w", err)
	}
	status, ok := prop.Value().(string)
	if !ok {
		return "", fmt.Errorf("unexpected playback status type %T", prop.Value())
	}
	return status, nil
}

func (o *Observer) currentTrack() (track.Track, error) {
	obj := o.bus.Object(o.service, mprisPath)

	prop, err := obj.GetProperty(mprisPlayerIface + ".Metadata")
	if err != nil {
		return track.Track{}, fmt.Errorf("get metadata: %w", err)
	}
	metadata, ok := prop.Value().(map[string]dbus.Variant)
	if !ok {
		return track.Track{}, fmt.Errorf("unexpected metadata type %T", prop.Value())
	}

	t := track.Track{
		Artist:        metaArtist(metadata),
		Title:         metaString(metadata, "xesam:title"),
		Album:         metaString(metadata, "xesam:album"),
		Number:        metaNumber(metadata, "xesam:trackNumber"),
		MusicBrainzID: metaString(metadata, "xesam:musicBrainzTrackID"),
		Duration:      metaLength(metadata, "mpris:length"),
	}
	if !t.Valid() {
		return track.Track{}, fmt.Errorf("missing title or artist in metadata (title=%q, artist=%q)", t.Title, t.Artist)
	}
	return t, nil
}

func (o *Observer) position() (time.Duration, error) {
	obj := o.bus.Object(o.service, mprisPath)

	prop, err := obj.GetProperty(mprisPlayerIface + ".Position")
	if err != nil {
		return 0, fmt.Errorf("get position: %w", err)
	}
	positionMicros, ok := prop.Value().(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected position type %T", prop.Value())
	}
	if positionMicros < 0 {
		return 0, nil
	}
	return time.Duration(positionMicros) * time.Microsecond, nil
}

func metaString(metadata map[string]dbus.Variant, key string) string {
	variant, ok := metadata[key]
	if !ok {
		return ""
	}
	text, _ := variant.Value().(string)
	return text
}

func metaArtist(metadata map[string]dbus.Variant) string {
	variant, ok := metadata["xesam:artist"]
	if !ok {
		return ""
	}
	switch typed := variant.Value().(type) {
	case []string:
		if len(typed) > 0 {
			return typed[0]
		}
		return ""
	case string:
		return typed
	default:
		return ""
	}
}

func metaNumber(metadata map[string]dbus.Variant, key string) int {
	variant, ok := metadata[key]
	if !ok {
		return 0
	}
	switch typed := variant.Value().(type) {
	case int32:
		return int(typed)
	case uint32:
		return int(typed)
	case int64:
		return int(typed)
	default:
		return 0
	}
}

func metaLength(metadata map[string]dbus.Variant, key string) time.Duration {
	variant, ok := metadata[key]
	if !ok {
		return 0
	}
	var micros int64
	switch typed := variant.Value().(type) {
	case int64:
		micros = typed
	case uint64:
		micros = int64(typed)
	default:
		return 0
	}
	if micros <= 0 {
		return 0
	}
	return time.Duration(micros) * time.Microsecond
}

// playTimer accumulates actual play time, excluding pauses, the same way a
// stopwatch would.
type playTimer struct {
	accumulated time.Duration
	startedAt   time.Time
	running     bool
}

func (t *playTimer) Start() {
	t.accumulated = 0
	t.startedAt = time.Now()
	t.running = true
}

func (t *playTimer) Pause() {
	if !t.running {
		return
	}
	t.accumulated += time.Since(t.startedAt)
	t.running = false
}

func (t *playTimer) Resume() {
	if t.running {
		return
	}
	t.startedAt = time.Now()
	t.running = true
}

func (t *playTimer) Elapsed() time.Duration {
	if t.running {
		return t.accumulated + time.Since(t.startedAt)
	}
	return t.accumulated
}
