package scrobble

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go.senan.xyz/scrobbled/audioscrobbler"
	"go.senan.xyz/scrobbled/journal"
	"go.senan.xyz/scrobbled/track"
)

var ErrNoServices = errors.New("no services configured")

// Service is one remote scrobbling endpoint with its credentials.
type Service struct {
	Name     string
	URL      string
	Username string
	Password string
}

type Config struct {
	Services []Service

	SubmitInterval  time.Duration // how often scrobblers tick
	JournalInterval time.Duration // how often dirty queues are flushed
	QueueCap        int           // pending entries kept per service

	// retry ladder, exposed for tests
	BackoffMin time.Duration
	BackoffMax time.Duration
}

const (
	DefaultSubmitInterval  = 10 * time.Second
	DefaultJournalInterval = 10 * time.Minute
	DefaultQueueCap        = 8192
	DefaultBackoffMin      = time.Minute
	DefaultBackoffMax      = 2 * time.Hour
)

// Set fans the two observer verbs out to every configured scrobbler and runs
// the scheduler that drives them. Each service queues, authenticates and
// retries independently, one outage never affects another's delivery.
type Set struct {
	scrobblers []*Scrobbler
	store      *journal.Store

	submitInterval  time.Duration
	journalInterval time.Duration

	cmds     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSet restores each service's pending queue from the journal store before
// returning. No network happens until Run.
func NewSet(cfg Config, store *journal.Store, client *audioscrobbler.Client) (*Set, error) {
	if len(cfg.Services) == 0 {
		return nil, ErrNoServices
	}
	if cfg.SubmitInterval <= 0 {
		cfg.SubmitInterval = DefaultSubmitInterval
	}
	if cfg.JournalInterval <= 0 {
		cfg.JournalInterval = DefaultJournalInterval
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = DefaultQueueCap
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = DefaultBackoffMin
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}

	set := &Set{
		store:           store,
		submitInterval:  cfg.SubmitInterval,
		journalInterval: cfg.JournalInterval,
		cmds:            make(chan struct{}, 1),
		stop:            make(chan struct{}),
	}
	for _, service := range cfg.Services {
		if service.Name == "" || service.URL == "" {
			return nil, fmt.Errorf("service %q needs at least a name and url", service.Name)
		}
		scrobbler := newScrobbler(service, client, cfg.QueueCap, cfg.BackoffMin, cfg.BackoffMax)

		pending, err := store.Read(service.Name)
		if err != nil {
			return nil, fmt.Errorf("read journal for %q: %w", service.Name, err)
		}
		scrobbler.restore(pending)
		if len(pending) > 0 {
			log.Printf("scrobbler %q: restored %d pending track(s) from journal", service.Name, len(pending))
		}

		set.scrobblers = append(set.scrobblers, scrobbler)
	}
	return set, nil
}

// NowPlaying tells every scrobbler what's playing. Best effort, cannot fail.
func (set *Set) NowPlaying(t track.Track) {
	for _, s := range set.scrobblers {
		s.NowPlaying(t)
	}
}

// Submit queues a finished listen with every scrobbler. Cannot fail, delivery
// problems are retried and journalled internally.
func (set *Set) Submit(t track.Track) {
	for _, s := range set.scrobblers {
		s.Submit(t)
	}
}

// SubmitNow asks the scheduler for an immediate attempt, skipping the current
// backoff wait. It does not cancel a call already on the wire.
func (set *Set) SubmitNow() {
	select {
	case set.cmds <- struct{}{}:
	default:
	}
}

// WriteJournal flushes every dirty queue to the journal store.
func (set *Set) WriteJournal() error {
	var errs []error
	for _, s := range set.scrobblers {
		tracks, dirty := s.journalSnapshot()
		if !dirty {
			continue
		}
		if err := set.store.Write(s.Name(), tracks); err != nil {
			errs = append(errs, fmt.Errorf("write journal for %q: %w", s.Name(), err))
			continue
		}
		s.clearDirty()
	}
	return errors.Join(errs...)
}

// Run drives the scheduler until Stop: periodic submission ticks, periodic
// journal flushes, and immediate-submit commands. One final journal flush
// happens on the way out.
func (set *Set) Run() error {
	submitTicker := time.NewTicker(set.submitInterval)
	defer submitTicker.Stop()
	journalTicker := time.NewTicker(set.journalInterval)
	defer journalTicker.Stop()

	for {
		select {
		case <-submitTicker.C:
			set.tickAll(false)
		case <-journalTicker.C:
			if err := set.WriteJournal(); err != nil {
				log.Printf("error writing journal: %v", err)
			}
		case <-set.cmds:
			set.tickAll(true)
		case <-set.stop:
			if err := set.WriteJournal(); err != nil {
				log.Printf("error writing journal during shutdown: %v", err)
			}
			return nil
		}
	}
}

func (set *Set) Stop() {
	set.stopOnce.Do(func() {
		close(set.stop)
	})
}

// tickAll runs every scrobbler's tick concurrently and waits. One slow
// service must not delay the others, and the single-flight guard inside Tick
// keeps overlapping rounds safe.
func (set *Set) tickAll(force bool) {
	now := time.Now()
	var group errgroup.Group
	for _, s := range set.scrobblers {
		s := s
		group.Go(func() error {
			s.Tick(now, force)
			return nil
		})
	}
	_ = group.Wait()
}
