package enrich

import (
	"context"

	"waytrack/internal/config"
	"waytrack/internal/models"

	"go.uber.org/zap"
)

// Tab is the browser tab a strategy resolved
type Tab struct {
	URL   string
	Title string
}

// Strategy resolves the browser's active tab. A (nil, nil) return means
// "no enrichment available" and is not an error.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context) (*Tab, error)
}

// Enricher applies the configured strategy to browser events. Enrichment is
// fail-soft: on any failure the event passes through with URL left unset.
type Enricher struct {
	strategy Strategy
	logger   *zap.Logger
}

// New builds an enricher from configuration. Strategy "none" yields an
// enricher that passes every event through untouched.
func New(cfg config.EnrichmentConfig, logger *zap.Logger) *Enricher {
	var strategy Strategy
	switch cfg.Strategy {
	case "handoff":
		strategy = NewHandoffStrategy(cfg.HandoffPath, cfg.HandoffMaxAge, logger)
	case "devtools":
		strategy = NewDevtoolsStrategy(cfg.DevtoolsPort, cfg.DevtoolsTimeout, logger)
	}
	return &Enricher{strategy: strategy, logger: logger}
}

// NewWithStrategy builds an enricher around an explicit strategy, for hosts
// that bring their own
func NewWithStrategy(strategy Strategy, logger *zap.Logger) *Enricher {
	return &Enricher{strategy: strategy, logger: logger}
}

// Enrich populates event.URL (and Title when the event has none) for
// browser events. Non-browser events and enrichment failures leave the
// event unchanged.
func (e *Enricher) Enrich(ctx context.Context, event *models.ActivityEvent) {
	if event == nil || event.Kind != models.KindBrowser || e.strategy == nil {
		return
	}

	tab, err := e.strategy.Resolve(ctx)
	if err != nil {
		e.logger.Warn("Browser enrichment failed",
			zap.String("strategy", e.strategy.Name()),
			zap.Error(err),
		)
		return
	}
	if tab == nil || tab.URL == "" {
		return
	}

	event.URL = &tab.URL
	if event.Title == nil && tab.Title != "" {
		title := tab.Title
		event.Title = &title
	}

	e.logger.Debug("Event enriched with tab URL",
		zap.String("strategy", e.strategy.Name()),
		zap.String("url", tab.URL),
	)
}
