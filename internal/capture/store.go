package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"waytrack/internal/models"

	"go.uber.org/zap"
)

const indexFileName = "index.json"

var dateFolderPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Store owns the date-partitioned screenshot layout and each date folder's
// metadata index. Index writes for the same folder are strictly serialized
// through a per-folder FIFO queue; writes for different folders proceed
// independently.
type Store struct {
	baseDir string
	logger  *zap.Logger

	mu     sync.Mutex
	queues map[string]*folderQueue
}

type folderQueue struct {
	tasks   []func()
	running bool
}

// NewStore creates a store rooted at baseDir
func NewStore(baseDir string, logger *zap.Logger) *Store {
	return &Store{
		baseDir: baseDir,
		logger:  logger,
		queues:  make(map[string]*folderQueue),
	}
}

// BaseDir returns the store root
func (s *Store) BaseDir() string { return s.baseDir }

// DateDir returns the folder for one capture date, creating it if needed
func (s *Store) DateDir(date string) (string, error) {
	dir := filepath.Join(s.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create date folder: %w", err)
	}
	return dir, nil
}

// AppendEntry adds one entry to the date folder's metadata index, keeping
// the index sorted ascending by timestamp. The read-merge-write cycle runs
// on the folder's serialized queue; the call returns once it has settled.
// A failed write does not block subsequent queued writes for the folder.
func (s *Store) AppendEntry(date string, entry models.ScreenshotEntry) error {
	done := make(chan error, 1)
	s.enqueue(date, func() {
		done <- s.mergeEntry(date, entry)
	})
	return <-done
}

func (s *Store) enqueue(folder string, task func()) {
	s.mu.Lock()
	q, ok := s.queues[folder]
	if !ok {
		q = &folderQueue{}
		s.queues[folder] = q
	}
	q.tasks = append(q.tasks, task)
	if !q.running {
		q.running = true
		go s.drain(folder, q)
	}
	s.mu.Unlock()
}

// drain runs queued tasks for one folder in submission order, then removes
// the queue entry so idle folders do not leak state
func (s *Store) drain(folder string, q *folderQueue) {
	for {
		s.mu.Lock()
		if len(q.tasks) == 0 {
			delete(s.queues, folder)
			s.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		s.mu.Unlock()

		task()
	}
}

func (s *Store) mergeEntry(date string, entry models.ScreenshotEntry) error {
	dir, err := s.DateDir(date)
	if err != nil {
		return err
	}
	indexPath := filepath.Join(dir, indexFileName)

	var entries []models.ScreenshotEntry
	data, err := os.ReadFile(indexPath)
	switch {
	case err == nil:
		if uerr := json.Unmarshal(data, &entries); uerr != nil {
			// Discard the corrupted index rather than poisoning future writes.
			s.logger.Warn("Discarding malformed metadata index",
				zap.String("path", indexPath),
				zap.Error(uerr),
			)
			entries = nil
		}
	case os.IsNotExist(err):
	default:
		return fmt.Errorf("failed to read metadata index: %w", err)
	}

	entries = append(entries, entry)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})

	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata index: %w", err)
	}
	if err := os.WriteFile(indexPath, out, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata index: %w", err)
	}
	return nil
}

// ListCaptureDates returns the valid date folders under the store root,
// most recent first
func (s *Store) ListCaptureDates() ([]string, error) {
	items, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read capture directory: %w", err)
	}

	var dates []string
	for _, item := range items {
		if item.IsDir() && dateFolderPattern.MatchString(item.Name()) {
			dates = append(dates, item.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// EntriesForDate returns the metadata index for one capture date. A missing
// folder or index yields an empty slice.
func (s *Store) EntriesForDate(date string) ([]models.ScreenshotEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, date, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read metadata index: %w", err)
	}

	var entries []models.ScreenshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("malformed metadata index for %s: %w", date, err)
	}
	return entries, nil
}

// PruneOlderThan deletes whole date folders older than keepDays and returns
// the count removed. Per-folder deletion errors are logged and skipped so
// one bad folder cannot abort the prune.
func (s *Store) PruneOlderThan(keepDays int) (int, error) {
	dates, err := s.ListCaptureDates()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -keepDays)
	removed := 0
	for _, date := range dates {
		day, err := time.ParseInLocation("2006-01-02", date, time.Local)
		if err != nil {
			continue
		}
		if !day.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.baseDir, date)); err != nil {
			s.logger.Warn("Failed to prune date folder",
				zap.String("date", date),
				zap.Error(err),
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Pruned old capture folders",
			zap.Int("removed", removed),
			zap.Int("keep_days", keepDays),
		)
	}
	return removed, nil
}
