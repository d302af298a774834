package sysevents

import (
	"fmt"
	"sync"
	"time"

	"waytrack/internal/models"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	login1Interface = "org.freedesktop.login1.Manager"
	login1Member    = "PrepareForSleep"

	fdoScreenSaver    = "org.freedesktop.ScreenSaver"
	gnomeScreenSaver  = "org.gnome.ScreenSaver"
	screenSaverMember = "ActiveChanged"
)

// Observer subscribes to sleep/wake and screen-lock signals on the message
// buses and injects synthetic events into the pipeline. System events are
// an enhancement: any bus failure is logged and swallowed, never blocking
// window tracking.
type Observer struct {
	logger  *zap.Logger
	onEvent func(*models.ActivityEvent)

	mu          sync.Mutex
	systemConn  *dbus.Conn
	sessionConn *dbus.Conn
	stopChan    chan struct{}
	started     bool
	wg          sync.WaitGroup
}

// NewObserver creates a system event observer
func NewObserver(logger *zap.Logger) *Observer {
	return &Observer{
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start subscribes to the system bus sleep signal and the session bus
// screensaver signal. Each subscription is independently optional; Start
// only fails when neither bus is reachable.
func (o *Observer) Start(onEvent func(*models.ActivityEvent)) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	o.onEvent = onEvent
	o.mu.Unlock()

	sleepErr := o.subscribeSleep()
	lockErr := o.subscribeScreenSaver()

	if sleepErr != nil && lockErr != nil {
		return fmt.Errorf("no message bus reachable: %w", sleepErr)
	}
	return nil
}

// Stop closes the bus connections and waits for the dispatch goroutines
func (o *Observer) Stop() {
	o.mu.Lock()
	select {
	case <-o.stopChan:
		o.mu.Unlock()
		return
	default:
		close(o.stopChan)
	}
	if o.systemConn != nil {
		o.systemConn.Close()
		o.systemConn = nil
	}
	if o.sessionConn != nil {
		o.sessionConn.Close()
		o.sessionConn = nil
	}
	o.mu.Unlock()

	o.wg.Wait()
	o.logger.Info("System event observer stopped")
}

func (o *Observer) subscribeSleep() error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		o.logger.Warn("System bus unavailable, sleep events disabled", zap.Error(err))
		return err
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(login1Interface),
		dbus.WithMatchMember(login1Member),
	); err != nil {
		conn.Close()
		o.logger.Warn("Failed to subscribe to sleep signal", zap.Error(err))
		return err
	}

	o.mu.Lock()
	o.systemConn = conn
	o.mu.Unlock()

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)

	o.wg.Add(1)
	go o.dispatch(signals, o.handleSleepSignal)

	o.logger.Info("Subscribed to system sleep signals")
	return nil
}

func (o *Observer) subscribeScreenSaver() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		o.logger.Warn("Session bus unavailable, lock events disabled", zap.Error(err))
		return err
	}

	iface := fdoScreenSaver
	if !nameHasOwner(conn, fdoScreenSaver) && nameHasOwner(conn, gnomeScreenSaver) {
		iface = gnomeScreenSaver
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(screenSaverMember),
	); err != nil {
		conn.Close()
		o.logger.Warn("Failed to subscribe to screensaver signal", zap.Error(err))
		return err
	}

	o.mu.Lock()
	o.sessionConn = conn
	o.mu.Unlock()

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)

	o.wg.Add(1)
	go o.dispatch(signals, o.handleScreenSaverSignal)

	o.logger.Info("Subscribed to screensaver signals", zap.String("interface", iface))
	return nil
}

func nameHasOwner(conn *dbus.Conn, name string) bool {
	var has bool
	err := conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, name).Store(&has)
	return err == nil && has
}

func (o *Observer) dispatch(signals <-chan *dbus.Signal, handle func(*dbus.Signal)) {
	defer o.wg.Done()

	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return
			}
			handle(sig)
		case <-o.stopChan:
			return
		}
	}
}

func (o *Observer) handleSleepSignal(sig *dbus.Signal) {
	if len(sig.Body) == 0 {
		return
	}
	entering, ok := sig.Body[0].(bool)
	if !ok {
		return
	}
	if entering {
		o.emit(models.ReasonSystemSleep, "System Sleep", "System entered sleep")
	} else {
		o.emit(models.ReasonSystemWake, "System Wake", "System resumed")
	}
}

// lock/unlock is folded into the sleep/wake reason taxonomy for downstream
// simplicity
func (o *Observer) handleScreenSaverSignal(sig *dbus.Signal) {
	if len(sig.Body) == 0 {
		return
	}
	active, ok := sig.Body[0].(bool)
	if !ok {
		return
	}
	if active {
		o.emit(models.ReasonSystemSleep, "Screen Locked", "Session locked")
	} else {
		o.emit(models.ReasonSystemWake, "Screen Unlocked", "Session unlocked")
	}
}

func (o *Observer) emit(reason models.CaptureReason, owner, title string) {
	select {
	case <-o.stopChan:
		return
	default:
	}

	titleCopy := title
	event := &models.ActivityEvent{
		WindowID:      "0",
		OwnerName:     owner,
		Kind:          models.KindSystem,
		Title:         &titleCopy,
		Timestamp:     time.Now().UnixMilli(),
		CaptureReason: reason,
		DurationMs:    0,
	}

	o.logger.Debug("System event",
		zap.String("reason", string(reason)),
		zap.String("owner", owner),
	)

	if o.onEvent != nil {
		o.onEvent(event)
	}
}
