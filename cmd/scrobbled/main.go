//nolint:forbidigo
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/google/shlex"
	"github.com/oklog/run"
	"github.com/peterbourgon/ff"

	"go.senan.xyz/scrobbled"
	"go.senan.xyz/scrobbled/audioscrobbler"
	"go.senan.xyz/scrobbled/journal"
	"go.senan.xyz/scrobbled/player"
	"go.senan.xyz/scrobbled/scrobble"
)

func main() {
	set := flag.NewFlagSet(scrobbled.Name, flag.ExitOnError)

	var confServices serviceValues
	set.Var(&confServices, "service", "scrobbling service, eg. 'libre.fm https://turtle.libre.fm/ <username> <password>' (repeatable)")

	confJournalPath := set.String("journal-path", "", "path to the journal directory (optional)")
	confJournalInterval := set.Duration("journal-interval", scrobble.DefaultJournalInterval, "interval between journal flushes (optional)")
	confSubmitInterval := set.Duration("submit-interval", scrobble.DefaultSubmitInterval, "interval between submission attempts (optional)")
	confQueueCap := set.Int("queue-cap", scrobble.DefaultQueueCap, "max pending scrobbles kept per service (optional)")

	confMPRISService := set.String("mpris-service", "org.mpris.MediaPlayer2.mpd", "mpris bus name of the player to watch")
	confPollInterval := set.Duration("poll-interval", player.DefaultPollInterval, "interval between player polls (optional)")

	confShowVersion := set.Bool("version", false, "show scrobbled version")
	_ = set.String("config-path", "", "path to config (optional)")

	if err := ff.Parse(set, os.Args[1:],
		ff.WithConfigFileFlag("config-path"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix(scrobbled.NameUpper),
	); err != nil {
		log.Fatalf("error parsing args: %v\n", err)
	}

	if *confShowVersion {
		fmt.Printf("v%s\n", scrobbled.Version)
		os.Exit(0)
	}

	if len(confServices) == 0 {
		log.Fatalf("please provide at least one service")
	}

	if *confJournalPath == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			log.Fatalf("couldn't find a cache dir, please provide a journal path: %v", err)
		}
		*confJournalPath = filepath.Join(cacheDir, scrobbled.Name)
	}

	log.Printf("starting scrobbled v%s\n", scrobbled.Version)
	log.Printf("provided config\n")
	set.VisitAll(func(f *flag.Flag) {
		value := strings.ReplaceAll(f.Value.String(), "\n", "")
		log.Printf("    %-25s %s\n", f.Name, value)
	})

	store, err := journal.NewStore(*confJournalPath)
	if err != nil {
		log.Fatalf("error creating journal store: %v\n", err)
	}

	scrobblers, err := scrobble.NewSet(scrobble.Config{
		Services:        confServices,
		SubmitInterval:  *confSubmitInterval,
		JournalInterval: *confJournalInterval,
		QueueCap:        *confQueueCap,
	}, store, audioscrobbler.NewClient())
	if err != nil {
		log.Fatalf("error creating scrobblers: %v\n", err)
	}

	bus, err := dbus.ConnectSessionBus()
	if err != nil {
		log.Fatalf("error connecting to session bus: %v\n", err)
	}
	defer bus.Close()

	observer, err := player.NewObserver(bus, *confMPRISService, *confPollInterval, scrobblers)
	if err != nil {
		log.Fatalf("error creating player observer: %v\n", err)
	}

	var g run.Group

	g.Add(func() error {
		log.Printf("starting job 'scrobbler scheduler'\n")
		return scrobblers.Run()
	}, func(_ error) {
		scrobblers.Stop()
	})

	g.Add(func() error {
		log.Printf("starting job 'player observer'\n")
		return observer.Run()
	}, func(_ error) {
		observer.Stop()
	})

	{
		stop := make(chan struct{})
		g.Add(func() error {
			log.Printf("starting job 'signals'\n")
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
			defer signal.Stop(sigs)
			for {
				select {
				case sig := <-sigs:
					if sig == syscall.SIGUSR1 {
						log.Printf("received %v, submitting now\n", sig)
						scrobblers.SubmitNow()
						continue
					}
					return fmt.Errorf("received signal %v", sig)
				case <-stop:
					return nil
				}
			}
		}, func(_ error) {
			close(stop)
		})
	}

	if err := g.Run(); err != nil {
		log.Printf("shutting down: %v\n", err)
	}
}

type serviceValues []scrobble.Service

func (sv serviceValues) String() string {
	var strs []string
	for _, s := range sv {
		strs = append(strs, fmt.Sprintf("%s %s %s ****", s.Name, s.URL, s.Username))
	}
	return strings.Join(strs, ", ")
}

func (sv *serviceValues) Set(value string) error {
	parts, err := shlex.Split(value)
	if err != nil {
		return fmt.Errorf("split service value: %w", err)
	}
	if len(parts) != 4 {
		return fmt.Errorf(`service should be "<name> <url> <username> <password>"`)
	}
	*sv = append(*sv, scrobble.Service{
		Name:     parts[0],
		URL:      parts[1],
		Username: parts[2],
		Password: parts[3],
	})
	return nil
}
