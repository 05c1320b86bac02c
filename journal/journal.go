// Package journal persists each scrobbler's pending queue across restarts.
//
// One file per service lives under the base path. A record is a single
// tab-separated line per track, so journals stay greppable while the daemon
// is down. Writes go to a temp file first and are renamed into place, so a
// crash mid-flush never corrupts the previous journal.
package journal

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.senan.xyz/scrobbled/track"
)

var ErrInvalidBasePath = errors.New("invalid base path")

const (
	ext        = ".journal"
	headerLine = "#SCROBBLED/1"

	numFields = 8
)

var nonAlphaNumExpr = regexp.MustCompile("[^a-zA-Z0-9_.-]+")

type Store struct {
	basePath string
	mu       sync.Mutex
}

func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, ErrInvalidBasePath
	}
	if err := os.MkdirAll(basePath, 0o777); err != nil {
		return nil, fmt.Errorf("make journal base dir: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// Read loads the pending queue for the named service, oldest first. A missing
// journal is an empty queue. Malformed lines are skipped with a warning so
// one bad record can't take the rest of the queue with it.
func (s *Store) Read(name string) ([]track.Track, error) {
	defer lock(&s.mu)()

	file, err := os.Open(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var tracks []track.Track
	for sc := bufio.NewScanner(file); sc.Scan(); {
		// only strip line endings. a record whose last field is empty ends
		// in a tab, and trimming it would change the field count.
		line := strings.TrimSuffix(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t, err := decodeTrack(line)
		if err != nil {
			log.Printf("skipping malformed journal entry for %q: %v", name, err)
			continue
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// Write replaces the journal for the named service with the given queue.
func (s *Store) Write(name string, tracks []track.Track) error {
	defer lock(&s.mu)()

	absPath := s.path(name)
	tmp, err := os.CreateTemp(s.basePath, filepath.Base(absPath)+".*")
	if err != nil {
		return fmt.Errorf("create journal temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	fmt.Fprintln(w, headerLine)
	for _, t := range tracks {
		fmt.Fprintln(w, encodeTrack(t))
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close journal temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), absPath); err != nil {
		return fmt.Errorf("replace journal: %w", err)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.basePath, safe(name)+ext)
}

// fields are artist, title, album, number, duration secs, start unix, love,
// mbid. tabs are stripped from free-text fields since tab is the delimiter.
func encodeTrack(t track.Track) string {
	love := "0"
	if t.Love {
		love = "1"
	}
	return strings.Join([]string{
		stripTabs(t.Artist),
		stripTabs(t.Title),
		stripTabs(t.Album),
		strconv.Itoa(t.Number),
		strconv.Itoa(int(t.Duration.Seconds())),
		strconv.FormatInt(t.StartTime.Unix(), 10),
		love,
		stripTabs(t.MusicBrainzID),
	}, "\t")
}

func decodeTrack(line string) (track.Track, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != numFields {
		return track.Track{}, fmt.Errorf("want %d fields, got %d", numFields, len(fields))
	}
	number, err := strconv.Atoi(fields[3])
	if err != nil {
		return track.Track{}, fmt.Errorf("parse track number: %w", err)
	}
	durationSecs, err := strconv.Atoi(fields[4])
	if err != nil {
		return track.Track{}, fmt.Errorf("parse duration: %w", err)
	}
	startUnix, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return track.Track{}, fmt.Errorf("parse start time: %w", err)
	}
	return track.Track{
		Artist:        fields[0],
		Title:         fields[1],
		Album:         fields[2],
		Number:        number,
		Duration:      time.Duration(durationSecs) * time.Second,
		StartTime:     time.Unix(startUnix, 0),
		Love:          fields[6] == "1",
		MusicBrainzID: fields[7],
	}, nil
}

func stripTabs(s string) string {
	return strings.ReplaceAll(s, "\t", " ")
}

// safe keeps distinct service names on distinct files. illegal runs become
// "_" rather than disappearing, so "svc one" and "svc-one" don't collide.
func safe(name string) string {
	name = nonAlphaNumExpr.ReplaceAllString(name, "_")
	if strings.Trim(name, "_") == "" {
		name = "service"
	}
	return name
}

func lock(mu *sync.Mutex) func() {
	mu.Lock()
	return mu.Unlock
}
