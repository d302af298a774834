package coordinator

import (
	"sync"
	"time"

	"waytrack/internal/config"
	"waytrack/internal/models"

	"go.uber.org/zap"
)

// Coordinator gates and coalesces raw signals into at most one
// externally-visible capture per settle period. Two timing policies compose
// here: a warm-up window after Start during which every event is dropped,
// and a settle+debounce chain that collapses a burst of window switches
// into a single capture of the final window.
type Coordinator struct {
	warmup         time.Duration
	settle         time.Duration
	debounce       time.Duration
	backupInterval time.Duration
	logger         *zap.Logger

	onCapture func(models.CaptureReason)

	mu            sync.Mutex
	startTime     time.Time
	gen           uint64
	settleTimer   *time.Timer
	debounceTimer *time.Timer
	initialTimer  *time.Timer
	stopChan      chan struct{}
	started       bool
	wg            sync.WaitGroup
}

// New creates a coordinator from the tracking timing configuration
func New(cfg config.TrackingConfig, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		warmup:         cfg.WarmupPeriod,
		settle:         cfg.SettleDelay,
		debounce:       cfg.DebounceWindow,
		backupInterval: cfg.BackupInterval,
		logger:         logger,
		stopChan:       make(chan struct{}),
	}
}

// Start records the tracker start time and begins the periodic-backup loop.
// onCapture is invoked with the reason for each qualifying capture; the
// caller resolves window state and emits the event.
func (c *Coordinator) Start(onCapture func(models.CaptureReason)) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.onCapture = onCapture
	c.startTime = time.Now()

	// One capture of whatever is focused once the environment has settled.
	c.initialTimer = time.AfterFunc(c.warmup, func() {
		c.emit(models.ReasonInitial)
	})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.backupLoop()

	c.logger.Info("Coordinator started",
		zap.Duration("warmup", c.warmup),
		zap.Duration("debounce", c.debounce),
		zap.Duration("backup_interval", c.backupInterval),
	)
}

// Stop cancels every pending timer. Safe to call repeatedly or before Start.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	select {
	case <-c.stopChan:
		c.mu.Unlock()
		return
	default:
		close(c.stopChan)
	}
	for _, t := range []*time.Timer{c.settleTimer, c.debounceTimer, c.initialTimer} {
		if t != nil {
			t.Stop()
		}
	}
	c.settleTimer = nil
	c.debounceTimer = nil
	c.initialTimer = nil
	c.startTime = time.Time{}
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("Coordinator stopped")
}

// Stabilized reports whether the warm-up window has elapsed. A missing
// start time (never started) fails open and treats events as stabilized.
func (c *Coordinator) Stabilized() bool {
	c.mu.Lock()
	start := c.startTime
	c.mu.Unlock()

	if start.IsZero() {
		return true
	}
	return time.Since(start) >= c.warmup
}

// SwitchDetected handles one raw window-switch signal. Signals inside the
// warm-up window are dropped entirely; afterwards each signal restarts the
// settle+debounce chain so only the final window of a burst is captured.
func (c *Coordinator) SwitchDetected() {
	if !c.Stabilized() {
		c.logger.Debug("Dropping switch signal during warm-up")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped() {
		return
	}
	c.gen++
	gen := c.gen
	if c.settleTimer != nil {
		c.settleTimer.Stop()
	}
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.settleTimer = time.AfterFunc(c.settle, func() {
		c.armDebounce(gen)
	})
}

// armDebounce arms the debounce window for one settle expiry. gen ties the
// callback to the switch that scheduled it: a settle timer that already
// fired when a newer switch restarted the chain is stale and must not arm
// a second debounce timer alongside the new chain's.
func (c *Coordinator) armDebounce(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped() || gen != c.gen {
		return
	}
	c.debounceTimer = time.AfterFunc(c.debounce, func() {
		c.emit(models.ReasonAppSwitch)
	})
}

func (c *Coordinator) emit(reason models.CaptureReason) {
	c.mu.Lock()
	if c.stopped() {
		c.mu.Unlock()
		return
	}
	onCapture := c.onCapture
	c.mu.Unlock()

	if onCapture != nil {
		onCapture(reason)
	}
}

func (c *Coordinator) backupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.backupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.Stabilized() {
				c.emit(models.ReasonPeriodicBackup)
			}
		case <-c.stopChan:
			return
		}
	}
}

// caller must hold mu
func (c *Coordinator) stopped() bool {
	select {
	case <-c.stopChan:
		return true
	default:
		return false
	}
}
