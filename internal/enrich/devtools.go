package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// internal-page schemes never represent a visible tab
var excludedURLPrefixes = []string{
	"devtools://",
	"chrome://",
	"chrome-extension://",
	"edge://",
	"about:",
}

type devtoolsTarget struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// DevtoolsStrategy queries the browser's remote-debugging endpoint for open
// page targets and takes the first visible one as the active tab. Requires
// the browser to be launched with a remote-debugging flag.
type DevtoolsStrategy struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewDevtoolsStrategy creates a debugging-protocol strategy against the
// local endpoint on the given port
func NewDevtoolsStrategy(port int, timeout time.Duration, logger *zap.Logger) *DevtoolsStrategy {
	return &DevtoolsStrategy{
		endpoint: fmt.Sprintf("http://127.0.0.1:%d/json", port),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Name implements Strategy
func (s *DevtoolsStrategy) Name() string { return "devtools" }

// Resolve lists debugging targets and returns the first visible page. A
// closed endpoint is "no enrichment"; malformed responses are errors.
func (s *DevtoolsStrategy) Resolve(ctx context.Context) (*Tab, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build devtools request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// Endpoint absent or browser not in debugging mode.
		s.logger.Debug("Devtools endpoint not reachable", zap.Error(err))
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("devtools endpoint returned status %d", resp.StatusCode)
	}

	var targets []devtoolsTarget
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("malformed devtools response: %w", err)
	}

	for _, t := range targets {
		if t.Type != "page" || t.URL == "" {
			continue
		}
		if isInternalURL(t.URL) {
			continue
		}
		return &Tab{URL: t.URL, Title: t.Title}, nil
	}
	return nil, nil
}

func isInternalURL(url string) bool {
	for _, prefix := range excludedURLPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}
