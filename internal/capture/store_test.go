package capture

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"waytrack/internal/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func entry(ts int64, app string) models.ScreenshotEntry {
	return models.ScreenshotEntry{
		Timestamp: ts,
		Filepath:  "/tmp/" + app + ".jpg",
		Filename:  app + ".jpg",
		AppName:   app,
		Title:     app + " title",
	}
}

func TestAppendEntryKeepsSortedOrder(t *testing.T) {
	store := NewStore(t.TempDir(), zap.NewNop())

	require.NoError(t, store.AppendEntry("2026-08-29", entry(300, "later")))
	require.NoError(t, store.AppendEntry("2026-08-29", entry(100, "earlier")))
	require.NoError(t, store.AppendEntry("2026-08-29", entry(200, "middle")))

	entries, err := store.EntriesForDate("2026-08-29")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, int64(100), entries[0].Timestamp)
	require.Equal(t, int64(200), entries[1].Timestamp)
	require.Equal(t, int64(300), entries[2].Timestamp)
}

func TestConcurrentAppendsSameFolderLoseNothing(t *testing.T) {
	store := NewStore(t.TempDir(), zap.NewNop())

	const writers = 32
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.AppendEntry("2026-08-29", entry(int64(i), "app"))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entries, err := store.EntriesForDate("2026-08-29")
	require.NoError(t, err)
	require.Len(t, entries, writers)
	for i := 1; i < len(entries); i++ {
		require.LessOrEqual(t, entries[i-1].Timestamp, entries[i].Timestamp)
	}

	// The drained folder queue must not leak state.
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.queues) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestConcurrentAppendsDifferentFolders(t *testing.T) {
	store := NewStore(t.TempDir(), zap.NewNop())

	var wg sync.WaitGroup
	errs := make(chan error, 24)
	for _, date := range []string{"2026-08-27", "2026-08-28", "2026-08-29"} {
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(date string, i int) {
				defer wg.Done()
				errs <- store.AppendEntry(date, entry(int64(i), "app"))
			}(date, i)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, date := range []string{"2026-08-27", "2026-08-28", "2026-08-29"} {
		entries, err := store.EntriesForDate(date)
		require.NoError(t, err)
		require.Len(t, entries, 8)
	}
}

func TestMalformedIndexIsDiscardedNotFatal(t *testing.T) {
	store := NewStore(t.TempDir(), zap.NewNop())

	dir, err := store.DateDir("2026-08-29")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFileName), []byte("{not json"), 0o644))

	require.NoError(t, store.AppendEntry("2026-08-29", entry(100, "app")))

	entries, err := store.EntriesForDate("2026-08-29")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestListCaptureDates(t *testing.T) {
	base := t.TempDir()
	store := NewStore(base, zap.NewNop())

	for _, name := range []string{"2026-08-01", "2026-08-15", "2026-07-30", "not-a-date", "2026-8-1"} {
		require.NoError(t, os.MkdirAll(filepath.Join(base, name), 0o755))
	}
	// Files never count as date folders.
	require.NoError(t, os.WriteFile(filepath.Join(base, "2026-08-20"), nil, 0o644))

	dates, err := store.ListCaptureDates()
	require.NoError(t, err)
	require.Equal(t, []string{"2026-08-15", "2026-08-01", "2026-07-30"}, dates)
}

func TestListCaptureDatesMissingBase(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope"), zap.NewNop())
	dates, err := store.ListCaptureDates()
	require.NoError(t, err)
	require.Empty(t, dates)
}

func TestEntriesForDateMissing(t *testing.T) {
	store := NewStore(t.TempDir(), zap.NewNop())
	entries, err := store.EntriesForDate("2026-01-01")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPruneOlderThanRemovesOnlyOldFolders(t *testing.T) {
	base := t.TempDir()
	store := NewStore(base, zap.NewNop())

	today := time.Now().Format("2006-01-02")
	threeDays := time.Now().AddDate(0, 0, -3).Format("2006-01-02")
	tenDays := time.Now().AddDate(0, 0, -10).Format("2006-01-02")
	for _, date := range []string{today, threeDays, tenDays} {
		_, err := store.DateDir(date)
		require.NoError(t, err)
	}

	removed, err := store.PruneOlderThan(7)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	dates, err := store.ListCaptureDates()
	require.NoError(t, err)
	require.Equal(t, []string{today, threeDays}, dates)
}
