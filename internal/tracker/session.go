package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"waytrack/internal/capture"
	"waytrack/internal/compositor"
	"waytrack/internal/coordinator"
	"waytrack/internal/enrich"
	"waytrack/internal/models"
	"waytrack/internal/spool"
	"waytrack/internal/sysevents"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSessionActive is returned by Start when another session already owns
// tracking in this process
var ErrSessionActive = errors.New("a tracking session is already active in this process")

// one active session per process; all state stays on the instance so tests
// can run independent sessions sequentially
var sessionActive atomic.Bool

// Consumer receives each normalized event. A nil event signals a capture
// attempt that failed outright and should be treated as "no update". A
// non-nil error marks the event undelivered; with a spool configured it is
// persisted for retry.
type Consumer func(event *models.ActivityEvent) error

// ContentQuery identifies an activity for the "already known" lookup
type ContentQuery struct {
	OwnerName string
	Kind      models.EventKind
	Title     string
	URL       string
}

// KnownContent is a positive answer from a ContentProvider
type KnownContent struct {
	Content string
}

// ContentProvider answers whether an activity is already categorized, so
// the pipeline can reuse its extracted content instead of running OCR. The
// lookup is fail-open: errors and timeouts fall back to a fresh capture.
type ContentProvider interface {
	LookupContent(ctx context.Context, query ContentQuery) (*KnownContent, error)
}

const providerTimeout = 2 * time.Second

// Session owns one tracking run. It feeds raw compositor switches into the
// coordinator, and for each qualifying capture resolves the focused window,
// enriches browser events, reuses already-known content where a provider
// offers it, runs the screenshot and OCR pipeline, and hands the finished
// event to the consumer.
type Session struct {
	id           string
	client       *compositor.Client
	introspector *compositor.Introspector
	coord        *coordinator.Coordinator
	enricher     *enrich.Enricher
	pipeline     *capture.Pipeline
	observer     *sysevents.Observer
	provider     ContentProvider
	eventSpool   *spool.Spool
	consumer     Consumer
	drainEvery   time.Duration
	logger       *zap.Logger

	mu           sync.Mutex
	running      bool
	lastIdentity string
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

// NewSession creates a tracker session. observer, provider and eventSpool
// may be nil; enrichment may be a strategy-less enricher.
func NewSession(
	client *compositor.Client,
	introspector *compositor.Introspector,
	coord *coordinator.Coordinator,
	enricher *enrich.Enricher,
	pipeline *capture.Pipeline,
	observer *sysevents.Observer,
	provider ContentProvider,
	eventSpool *spool.Spool,
	drainEvery time.Duration,
	logger *zap.Logger,
) *Session {
	return &Session{
		id:           uuid.NewString(),
		client:       client,
		introspector: introspector,
		coord:        coord,
		enricher:     enricher,
		pipeline:     pipeline,
		observer:     observer,
		provider:     provider,
		eventSpool:   eventSpool,
		drainEvery:   drainEvery,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// Start begins tracking and delivering events to consumer
func (s *Session) Start(consumer Consumer) error {
	if consumer == nil {
		return errors.New("consumer must not be nil")
	}
	if !sessionActive.CompareAndSwap(false, true) {
		return ErrSessionActive
	}

	s.mu.Lock()
	s.consumer = consumer
	s.running = true
	s.mu.Unlock()

	s.coord.Start(s.onCapture)
	s.client.Start(s.coord.SwitchDetected)

	if s.observer != nil {
		if err := s.observer.Start(s.onSystemEvent); err != nil {
			// System events are an enhancement; tracking continues without.
			s.logger.Warn("System event observer unavailable", zap.Error(err))
		}
	}

	if s.eventSpool != nil {
		s.wg.Add(1)
		go s.drainLoop()
	}

	s.logger.Info("Tracking session started", zap.String("session_id", s.id))
	return nil
}

// Stop tears the session down: socket closed, observers detached, all
// timers cancelled, last-seen state cleared. Idempotent and safe to call
// on a session that never started.
func (s *Session) Stop() {
	s.mu.Lock()
	select {
	case <-s.stopChan:
		s.mu.Unlock()
		return
	default:
		close(s.stopChan)
	}
	wasRunning := s.running
	s.running = false
	s.lastIdentity = ""
	s.mu.Unlock()

	s.client.Stop()
	if s.observer != nil {
		s.observer.Stop()
	}
	s.coord.Stop()
	s.wg.Wait()

	if wasRunning {
		sessionActive.Store(false)
	}
	s.logger.Info("Tracking session stopped", zap.String("session_id", s.id))
}

// onCapture resolves current window state and emits one event for the
// given reason. Called by the coordinator once a capture qualifies.
func (s *Session) onCapture(reason models.CaptureReason) {
	if !s.isRunning() {
		return
	}

	ctx := context.Background()
	win, err := s.introspector.ActiveWindow(ctx)
	if err != nil {
		s.logger.Warn("Window introspection failed", zap.Error(err))
		s.deliver(nil)
		return
	}
	if win == nil {
		s.deliver(nil)
		return
	}

	event := s.buildEvent(win, reason)

	// Redundant while idle on the same window.
	if reason == models.ReasonPeriodicBackup && s.sameAsLastEmission(event) {
		s.logger.Debug("Suppressing duplicate periodic backup",
			zap.String("identity", event.Identity()),
		)
		return
	}

	s.enricher.Enrich(ctx, event)
	s.attachContent(ctx, event)
	s.emit(event)
}

func (s *Session) buildEvent(win *compositor.Window, reason models.CaptureReason) *models.ActivityEvent {
	owner := win.Class
	if owner == "" {
		owner = "unknown"
	}

	event := &models.ActivityEvent{
		WindowID:      win.Address,
		OwnerName:     owner,
		Kind:          models.KindWindow,
		Timestamp:     time.Now().UnixMilli(),
		CaptureReason: reason,
		DurationMs:    0,
	}
	if win.Title != "" {
		title := win.Title
		event.Title = &title
	}
	if family, ok := enrich.BrowserFamily(win.Class); ok {
		event.Kind = models.KindBrowser
		event.BrowserFamily = family
	}
	return event
}

// attachContent reuses already-categorized content when the provider knows
// this activity, otherwise runs the screenshot+OCR pipeline
func (s *Session) attachContent(ctx context.Context, event *models.ActivityEvent) {
	if known := s.lookupKnown(ctx, event); known != nil {
		content := known.Content
		event.Content = &content
		event.ContentSource = models.ContentReused
		return
	}

	title := ""
	if event.Title != nil {
		title = *event.Title
	}
	result := s.pipeline.CaptureAndExtractText(ctx, event.OwnerName, title)
	if !result.Success {
		return
	}
	event.LocalImagePath = result.ImagePath
	if result.Text != nil {
		event.Content = result.Text
		event.ContentSource = models.ContentFresh
	}
}

func (s *Session) lookupKnown(ctx context.Context, event *models.ActivityEvent) *KnownContent {
	if s.provider == nil {
		return nil
	}

	url := ""
	if event.URL != nil {
		url = *event.URL
	}
	title := ""
	if event.Title != nil {
		title = *event.Title
	}

	pctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()
	known, err := s.provider.LookupContent(pctx, ContentQuery{
		OwnerName: event.OwnerName,
		Kind:      event.Kind,
		Title:     title,
		URL:       url,
	})
	if err != nil {
		// Fail open: run OCR as if no provider were configured.
		s.logger.Debug("Known-content lookup failed", zap.Error(err))
		return nil
	}
	return known
}

// onSystemEvent injects sleep/wake/lock events into the same emission path
func (s *Session) onSystemEvent(event *models.ActivityEvent) {
	if !s.isRunning() {
		return
	}
	if !s.coord.Stabilized() {
		s.logger.Debug("Dropping system event during warm-up")
		return
	}
	s.emit(event)
}

func (s *Session) emit(event *models.ActivityEvent) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.lastIdentity = event.Identity()
	s.mu.Unlock()

	s.deliver(event)
}

func (s *Session) deliver(event *models.ActivityEvent) {
	s.mu.Lock()
	consumer := s.consumer
	s.mu.Unlock()
	if consumer == nil {
		return
	}

	if err := consumer(event); err != nil && event != nil && s.eventSpool != nil {
		s.logger.Warn("Consumer rejected event, spooling", zap.Error(err))
		if serr := s.eventSpool.Enqueue(event); serr != nil {
			s.logger.Error("Failed to spool event", zap.Error(serr))
		}
	}
}

func (s *Session) sameAsLastEmission(event *models.ActivityEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIdentity != "" && s.lastIdentity == event.Identity()
}

func (s *Session) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// drainLoop retries spooled events until delivered or Stop
func (s *Session) drainLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.drainEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.drainSpool()
		case <-s.stopChan:
			s.drainSpool()
			return
		}
	}
}

func (s *Session) drainSpool() {
	events, ids, err := s.eventSpool.Dequeue(100)
	if err != nil {
		s.logger.Error("Failed to dequeue spooled events", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	s.mu.Lock()
	consumer := s.consumer
	s.mu.Unlock()
	if consumer == nil {
		return
	}

	var delivered, failed []int64
	for i := range events {
		if err := consumer(&events[i]); err != nil {
			failed = append(failed, ids[i])
		} else {
			delivered = append(delivered, ids[i])
		}
	}

	if err := s.eventSpool.Remove(delivered); err != nil {
		s.logger.Error("Failed to remove delivered events", zap.Error(err))
	}
	if err := s.eventSpool.IncrementRetry(failed); err != nil {
		s.logger.Error("Failed to record retry attempts", zap.Error(err))
	}
	if len(delivered) > 0 {
		s.logger.Info("Delivered spooled events", zap.Int("count", len(delivered)))
	}
}
