package enrich

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"waytrack/internal/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeHandoff(t *testing.T, path string, payload models.HandoffPayload) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestHandoffFreshEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tab.json")
	writeHandoff(t, path, models.HandoffPayload{
		URL:       "https://example.com/article",
		Title:     "Example Article",
		Timestamp: time.Now().Add(-5 * time.Second).UnixMilli(),
	})

	s := NewHandoffStrategy(path, 15*time.Second, zap.NewNop())
	tab, err := s.Resolve(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tab)
	require.Equal(t, "https://example.com/article", tab.URL)
	require.Equal(t, "Example Article", tab.Title)
}

func TestHandoffStaleEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tab.json")
	writeHandoff(t, path, models.HandoffPayload{
		URL:       "https://example.com/old",
		Timestamp: time.Now().Add(-20 * time.Second).UnixMilli(),
	})

	s := NewHandoffStrategy(path, 15*time.Second, zap.NewNop())
	tab, err := s.Resolve(context.Background())
	require.NoError(t, err)
	require.Nil(t, tab)
}

func TestHandoffMissingFile(t *testing.T) {
	s := NewHandoffStrategy(filepath.Join(t.TempDir(), "absent.json"), 15*time.Second, zap.NewNop())
	tab, err := s.Resolve(context.Background())
	require.NoError(t, err)
	require.Nil(t, tab)
}

func TestHandoffMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tab.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	s := NewHandoffStrategy(path, 15*time.Second, zap.NewNop())
	tab, err := s.Resolve(context.Background())
	require.Error(t, err)
	require.Nil(t, tab)
}

func TestEnrichOnlyTouchesBrowserEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tab.json")
	writeHandoff(t, path, models.HandoffPayload{
		URL:       "https://example.com",
		Timestamp: time.Now().UnixMilli(),
	})

	e := NewWithStrategy(NewHandoffStrategy(path, 15*time.Second, zap.NewNop()), zap.NewNop())

	windowEvent := &models.ActivityEvent{OwnerName: "code", Kind: models.KindWindow}
	e.Enrich(context.Background(), windowEvent)
	require.Nil(t, windowEvent.URL)

	browserEvent := &models.ActivityEvent{OwnerName: "firefox", Kind: models.KindBrowser}
	e.Enrich(context.Background(), browserEvent)
	require.NotNil(t, browserEvent.URL)
	require.Equal(t, "https://example.com", *browserEvent.URL)
}

func TestEnrichFailSoftOnMalformedSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tab.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	e := NewWithStrategy(NewHandoffStrategy(path, 15*time.Second, zap.NewNop()), zap.NewNop())
	event := &models.ActivityEvent{OwnerName: "firefox", Kind: models.KindBrowser}
	e.Enrich(context.Background(), event)
	require.Nil(t, event.URL)
}
