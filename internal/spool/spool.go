package spool

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"waytrack/internal/models"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Spool is a durable local queue for activity events the consumer could not
// accept, so a flaky consumer never loses captures
type Spool struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the spool database at path
func Open(path string, logger *zap.Logger) (*Spool, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open spool database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping spool database: %w", err)
	}

	s := &Spool{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Event spool opened", zap.String("path", path))
	return s, nil
}

func (s *Spool) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pending_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_data TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			retry_count INTEGER DEFAULT 0,
			last_attempt TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_events_created ON pending_events(created_at)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("spool migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database
func (s *Spool) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close spool database: %w", err)
	}
	return nil
}

// Enqueue persists one event for later delivery
func (s *Spool) Enqueue(event *models.ActivityEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO pending_events (event_data, created_at, retry_count) VALUES (?, ?, 0)`,
		string(data), time.Now(),
	); err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}

// Dequeue returns up to limit pending events in insertion order along with
// their row ids. Corrupted rows are deleted and skipped.
func (s *Spool) Dequeue(limit int) ([]models.ActivityEvent, []int64, error) {
	rows, err := s.db.Query(
		`SELECT id, event_data FROM pending_events ORDER BY created_at ASC, id ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var (
		events    []models.ActivityEvent
		ids       []int64
		corrupted []int64
	)
	for rows.Next() {
		var id int64
		var data string
		if err := rows.Scan(&id, &data); err != nil {
			s.logger.Error("Failed to scan spool row", zap.Error(err))
			continue
		}

		var event models.ActivityEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			s.logger.Error("Dropping corrupted spool row", zap.Error(err), zap.Int64("id", id))
			corrupted = append(corrupted, id)
			continue
		}
		events = append(events, event)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate pending events: %w", err)
	}

	if len(corrupted) > 0 {
		if err := s.Remove(corrupted); err != nil {
			s.logger.Error("Failed to drop corrupted spool rows", zap.Error(err))
		}
	}
	return events, ids, nil
}

// Remove deletes delivered events by row id
func (s *Spool) Remove(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := idList(`DELETE FROM pending_events WHERE id IN (%s)`, ids)
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to remove events: %w", err)
	}
	return nil
}

// IncrementRetry bumps the retry count after a failed delivery attempt
func (s *Spool) IncrementRetry(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := idList(`UPDATE pending_events SET retry_count = retry_count + 1, last_attempt = ? WHERE id IN (%s)`, ids)
	args = append([]interface{}{time.Now()}, args...)
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}
	return nil
}

// PendingCount returns the number of undelivered events
func (s *Spool) PendingCount() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return count, nil
}

// CleanupOld removes events older than the cutoff that have exceeded the
// retry ceiling, returning the count removed
func (s *Spool) CleanupOld(olderThan time.Duration, retryCeiling int) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := s.db.Exec(
		`DELETE FROM pending_events WHERE created_at < ? AND retry_count > ?`,
		cutoff, retryCeiling,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup spool: %w", err)
	}
	removed, _ := result.RowsAffected()
	if removed > 0 {
		s.logger.Info("Cleaned up undeliverable events", zap.Int64("count", removed))
	}
	return removed, nil
}

func idList(format string, ids []int64) (string, []interface{}) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return fmt.Sprintf(format, placeholders), args
}
