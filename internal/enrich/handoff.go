package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"waytrack/internal/models"

	"go.uber.org/zap"
)

// HandoffStrategy reads the latest known tab from a hand-off file a
// companion relay process replaces on every tab change. Entries older than
// maxAge are treated as stale and discarded.
type HandoffStrategy struct {
	path   string
	maxAge time.Duration
	logger *zap.Logger
}

// NewHandoffStrategy creates a hand-off file strategy
func NewHandoffStrategy(path string, maxAge time.Duration, logger *zap.Logger) *HandoffStrategy {
	return &HandoffStrategy{path: path, maxAge: maxAge, logger: logger}
}

// Name implements Strategy
func (s *HandoffStrategy) Name() string { return "handoff" }

// Resolve reads and validates the hand-off file. A missing file or a stale
// entry is "no enrichment", not an error.
func (s *HandoffStrategy) Resolve(_ context.Context) (*Tab, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read hand-off file: %w", err)
	}

	var payload models.HandoffPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("malformed hand-off file: %w", err)
	}
	if payload.URL == "" {
		return nil, nil
	}

	age := time.Since(time.UnixMilli(payload.Timestamp))
	if age > s.maxAge {
		s.logger.Debug("Discarding stale hand-off entry",
			zap.Duration("age", age),
			zap.Duration("max_age", s.maxAge),
		)
		return nil, nil
	}

	return &Tab{URL: payload.URL, Title: payload.Title}, nil
}
