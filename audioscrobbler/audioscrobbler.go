// Package audioscrobbler speaks the AudioScrobbler v1.2 submission protocol:
// a challenge/response handshake followed by form-encoded now-playing and
// batched submission requests with line-oriented text responses.
package audioscrobbler

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.senan.xyz/scrobbled"
	"go.senan.xyz/scrobbled/track"
)

const (
	protocolVersion = "1.2"
	clientID        = "sbd"

	// MaxBatchSize is the protocol's cap on tracks per submission request.
	MaxBatchSize = 50
)

var (
	ErrBanned     = errors.New("audioscrobbler: client banned")
	ErrBadAuth    = errors.New("audioscrobbler: bad credentials")
	ErrBadTime    = errors.New("audioscrobbler: bad timestamp")
	ErrBadSession = errors.New("audioscrobbler: bad session")
	ErrFailed     = errors.New("audioscrobbler: request failed")
)

type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return NewClientCustom(&http.Client{
		Timeout: 30 * time.Second,
	})
}

func NewClientCustom(httpClient *http.Client) *Client {
	return &Client{httpClient: httpClient}
}

// Handshake is a successful handshake response: an opaque session ID and the
// two endpoints all later requests go to.
type Handshake struct {
	SessionID     string
	NowPlayingURL string
	SubmissionURL string
}

// AuthToken computes the handshake challenge response,
// hex(md5(hex(md5(password)) + timestamp)). The concatenation order is a
// wire compatibility requirement.
func AuthToken(password string, timestamp int64) string {
	passHash := md5.Sum([]byte(password))
	token := md5.Sum([]byte(hex.EncodeToString(passHash[:]) + strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(token[:])
}

func (c *Client) Handshake(handshakeURL, username, password string, now time.Time) (Handshake, error) {
	timestamp := now.Unix()

	params := url.Values{}
	params.Add("hs", "true")
	params.Add("p", protocolVersion)
	params.Add("c", clientID)
	params.Add("v", scrobbled.Version)
	params.Add("u", username)
	params.Add("t", strconv.FormatInt(timestamp, 10))
	params.Add("a", AuthToken(password, timestamp))

	req, err := http.NewRequest(http.MethodGet, handshakeURL, nil)
	if err != nil {
		return Handshake{}, fmt.Errorf("create request: %w", err)
	}
	req.URL.RawQuery = params.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Handshake{}, fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()

	lines, err := readLines(resp.Body)
	if err != nil {
		return Handshake{}, fmt.Errorf("read response: %w", err)
	}
	if len(lines) == 0 {
		return Handshake{}, fmt.Errorf("empty handshake response")
	}

	status, reason, _ := strings.Cut(lines[0], " ")
	switch status {
	case "OK":
	case "BANNED":
		return Handshake{}, ErrBanned
	case "BADAUTH":
		return Handshake{}, ErrBadAuth
	case "BADTIME":
		return Handshake{}, ErrBadTime
	case "FAILED":
		return Handshake{}, fmt.Errorf("%s: %w", reason, ErrFailed)
	default:
		return Handshake{}, fmt.Errorf("unexpected handshake status %q", lines[0])
	}

	if len(lines) < 4 {
		return Handshake{}, fmt.Errorf("short handshake response, got %d lines", len(lines))
	}
	handshake := Handshake{
		SessionID:     lines[1],
		NowPlayingURL: lines[2],
		SubmissionURL: lines[3],
	}
	if handshake.SessionID == "" || handshake.NowPlayingURL == "" || handshake.SubmissionURL == "" {
		return Handshake{}, fmt.Errorf("incomplete handshake response")
	}
	return handshake, nil
}

// NowPlaying announces the track currently playing. Best effort per the
// protocol, the caller should never queue or retry it.
func (c *Client) NowPlaying(nowPlayingURL, sessionID string, t track.Track) error {
	params := url.Values{}
	params.Add("s", sessionID)
	params.Add("a", t.Artist)
	params.Add("t", t.Title)
	params.Add("b", t.Album)
	params.Add("l", optionalNumber(int(t.Duration.Seconds())))
	params.Add("n", optionalNumber(t.Number))
	params.Add("m", validMBID(t.MusicBrainzID))

	return c.post(nowPlayingURL, params)
}

// Submit sends up to MaxBatchSize tracks as one submission request.
func (c *Client) Submit(submissionURL, sessionID string, tracks []track.Track) error {
	if len(tracks) > MaxBatchSize {
		tracks = tracks[:MaxBatchSize]
	}

	params := url.Values{}
	params.Add("s", sessionID)
	for i, t := range tracks {
		rating := ""
		if t.Love {
			rating = "L"
		}
		params.Add(indexed("a", i), t.Artist)
		params.Add(indexed("t", i), t.Title)
		params.Add(indexed("i", i), strconv.FormatInt(t.StartTime.Unix(), 10))
		params.Add(indexed("o", i), "P")
		params.Add(indexed("r", i), rating)
		params.Add(indexed("l", i), optionalNumber(int(t.Duration.Seconds())))
		params.Add(indexed("b", i), t.Album)
		params.Add(indexed("n", i), optionalNumber(t.Number))
		params.Add(indexed("m", i), validMBID(t.MusicBrainzID))
	}

	return c.post(submissionURL, params)
}

func (c *Client) post(requestURL string, params url.Values) error {
	req, err := http.NewRequest(http.MethodPost, requestURL, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	lines, err := readLines(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(lines) == 0 {
		return fmt.Errorf("empty response")
	}

	status, reason, _ := strings.Cut(lines[0], " ")
	switch status {
	case "OK":
		return nil
	case "BADSESSION":
		return ErrBadSession
	case "FAILED":
		return fmt.Errorf("%s: %w", reason, ErrFailed)
	default:
		return fmt.Errorf("unexpected status %q", lines[0])
	}
}

// responses are a handful of short lines. cap the read so a misbehaving
// server can't feed us forever.
const maxResponseSize = 4 << 10

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(io.LimitReader(r, maxResponseSize))
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func indexed(key string, i int) string {
	return fmt.Sprintf("%s[%d]", key, i)
}

func optionalNumber(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// make sure we only put well formed uuids on the wire, since tags are full
// of junk mbids
func validMBID(mbid string) string {
	if _, err := uuid.Parse(mbid); err != nil {
		return ""
	}
	return mbid
}
