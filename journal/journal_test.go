package journal_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.senan.xyz/scrobbled/journal"
	"go.senan.xyz/scrobbled/track"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := journal.NewStore(t.TempDir())
	require.NoError(t, err)

	tracks := []track.Track{
		{Artist: "artist a", Title: "title a", Album: "album a", Number: 1, Duration: 100 * time.Second, StartTime: time.Unix(1683804525, 0)},
		{Artist: "artist b", Title: "title b", Number: 2, Duration: 230 * time.Second, StartTime: time.Unix(1683804630, 0), Love: true},
		{Artist: "artist c", Title: "title c", MusicBrainzID: "916b242d-d439-4ae4-a439-556eef99c06e", StartTime: time.Unix(1683804700, 0)},
	}

	require.NoError(t, store.Write("libre.fm", tracks))

	got, err := store.Read("libre.fm")
	require.NoError(t, err)
	require.Equal(t, tracks, got)
}

func TestReadMissing(t *testing.T) {
	t.Parallel()

	store, err := journal.NewStore(t.TempDir())
	require.NoError(t, err)

	got, err := store.Read("nothing here")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestWriteReplaces(t *testing.T) {
	t.Parallel()

	store, err := journal.NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write("svc", []track.Track{
		{Artist: "a", Title: "t", StartTime: time.Unix(1, 0)},
		{Artist: "b", Title: "u", StartTime: time.Unix(2, 0)},
	}))
	require.NoError(t, store.Write("svc", nil))

	got, err := store.Read("svc")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReadSkipsMalformed(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := journal.NewStore(base)
	require.NoError(t, err)

	contents := "#SCROBBLED/1\n" +
		"artist a\ttitle a\t\t0\t100\t1683804525\t0\t\n" +
		"not a journal line\n" +
		"artist b\ttitle b\t\tNaN\t100\t1683804525\t0\t\n" +
		"artist c\ttitle c\t\t0\t100\t1683804525\t1\t\n"
	require.NoError(t, os.WriteFile(filepath.Join(base, "svc.journal"), []byte(contents), 0o666))

	got, err := store.Read("svc")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "artist a", got[0].Artist)
	require.Equal(t, "artist c", got[1].Artist)
	require.True(t, got[1].Love)
}

func TestTabsStripped(t *testing.T) {
	t.Parallel()

	store, err := journal.NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write("svc", []track.Track{
		{Artist: "artist\twith tab", Title: "title", StartTime: time.Unix(3, 0)},
	}))

	got, err := store.Read("svc")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "artist with tab", got[0].Artist)
}

func TestServiceNameSanitised(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := journal.NewStore(base)
	require.NoError(t, err)

	require.NoError(t, store.Write("../../evil name!", []track.Track{
		{Artist: "a", Title: "t", StartTime: time.Unix(4, 0)},
	}))

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, ".._.._evil_name_.journal", entries[0].Name())
}

func TestDistinctNamesDistinctFiles(t *testing.T) {
	t.Parallel()

	store, err := journal.NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write("svc one", []track.Track{
		{Artist: "a", Title: "t", StartTime: time.Unix(5, 0)},
	}))
	require.NoError(t, store.Write("svc-one", nil))

	got, err := store.Read("svc one")
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestReadCRLF(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := journal.NewStore(base)
	require.NoError(t, err)

	contents := "#SCROBBLED/1\r\n" +
		"artist a\ttitle a\t\t0\t100\t1683804525\t0\t\r\n"
	require.NoError(t, os.WriteFile(filepath.Join(base, "svc.journal"), []byte(contents), 0o666))

	got, err := store.Read("svc")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "artist a", got[0].Artist)
	require.Empty(t, got[0].MusicBrainzID)
}
