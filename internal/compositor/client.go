package compositor

import (
	"bufio"
	"net"
	"sync"
	"time"

	"waytrack/internal/capability"

	"go.uber.org/zap"
)

// State is the connection state of the event-stream client
type State string

const (
	StateStopped    State = "stopped"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateErrored    State = "errored"
)

// Client maintains a persistent connection to the compositor's event-stream
// socket and raises a signal for every window-activation record. Connection
// loss schedules a single reconnect attempt after a fixed backoff; a pending
// reconnect suppresses scheduling another.
type Client struct {
	discoverer *capability.Discoverer
	backoff    time.Duration
	logger     *zap.Logger

	onActivate func()
	onError    func(error)

	mu               sync.Mutex
	state            State
	conn             net.Conn
	reconnectPending bool
	reconnectTimer   *time.Timer
	stopChan         chan struct{}
	wg               sync.WaitGroup
}

// NewClient creates an event-stream client. onError is an optional
// side-channel for non-fatal socket failures.
func NewClient(discoverer *capability.Discoverer, backoff time.Duration, onError func(error), logger *zap.Logger) *Client {
	return &Client{
		discoverer: discoverer,
		backoff:    backoff,
		onError:    onError,
		logger:     logger,
		state:      StateStopped,
		stopChan:   make(chan struct{}),
	}
}

// Start connects to the event socket and begins raising window-activation
// signals through onActivate. Connect failures are non-fatal: the client
// keeps retrying on its backoff schedule until Stop is called.
func (c *Client) Start(onActivate func()) {
	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return
	}
	c.onActivate = onActivate
	c.state = StateConnecting
	c.mu.Unlock()

	c.connect()
}

// Stop tears the client down idempotently: the connection is closed, any
// pending reconnect is cancelled, and the read goroutine is awaited.
func (c *Client) Stop() {
	c.mu.Lock()
	select {
	case <-c.stopChan:
		c.mu.Unlock()
		return
	default:
		close(c.stopChan)
	}
	c.state = StateStopped
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectPending = false
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("Compositor event client stopped")
}

// CurrentState returns the connection state for diagnostics
func (c *Client) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) connect() {
	select {
	case <-c.stopChan:
		return
	default:
	}

	paths, err := c.discoverer.SocketPaths()
	if err != nil {
		c.fail(err)
		return
	}

	conn, err := net.Dial("unix", paths.Event)
	if err != nil {
		c.fail(err)
		return
	}

	c.mu.Lock()
	select {
	case <-c.stopChan:
		c.mu.Unlock()
		conn.Close()
		return
	default:
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info("Connected to compositor event socket",
		zap.String("socket", paths.Event),
	)

	c.wg.Add(1)
	go c.readLoop(conn)
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		c.handleLine(scanner.Text())
	}

	select {
	case <-c.stopChan:
		return
	default:
	}

	err := scanner.Err()
	if err != nil {
		c.logger.Warn("Compositor socket read failed", zap.Error(err))
	} else {
		c.logger.Warn("Compositor socket closed by peer")
	}
	c.fail(err)
}

func (c *Client) handleLine(line string) {
	name, _, ok := parseLine(line)
	if !ok {
		c.logger.Debug("Discarding malformed event line", zap.String("line", line))
		return
	}

	switch classifyEvent(name) {
	case eventActiveWindow, eventActiveWindowV2:
		// Payload fields vary by event type; the introspection command is
		// the source of truth for window identity, so only the signal is
		// forwarded here.
		if c.onActivate != nil {
			c.onActivate()
		}
	case eventWorkspace, eventCloseWindow, eventIgnored:
		// Not tracked.
	}
}

// fail records an error state, surfaces it on the side-channel, and
// schedules one reconnect attempt
func (c *Client) fail(err error) {
	c.mu.Lock()
	select {
	case <-c.stopChan:
		c.mu.Unlock()
		return
	default:
	}
	c.state = StateErrored
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	alreadyPending := c.reconnectPending
	if !alreadyPending {
		c.reconnectPending = true
		c.reconnectTimer = time.AfterFunc(c.backoff, c.retry)
	}
	c.mu.Unlock()

	if err != nil && c.onError != nil {
		c.onError(err)
	}
	if !alreadyPending {
		c.logger.Info("Scheduled compositor reconnect",
			zap.Duration("backoff", c.backoff),
		)
	}
}

func (c *Client) retry() {
	c.mu.Lock()
	c.reconnectPending = false
	select {
	case <-c.stopChan:
		c.mu.Unlock()
		return
	default:
	}
	c.state = StateConnecting
	c.mu.Unlock()

	// A restarted compositor gets a fresh instance directory.
	c.discoverer.ResetCache()
	c.connect()
}
