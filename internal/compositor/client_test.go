package compositor

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"waytrack/internal/capability"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCompositor serves both hyprland IPC sockets from a temp runtime dir
type fakeCompositor struct {
	t         *testing.T
	eventLn   net.Listener
	requestLn net.Listener

	mu           sync.Mutex
	eventConns   []net.Conn
	activeWindow string
	monitors     string
}

func startFakeCompositor(t *testing.T) *fakeCompositor {
	t.Helper()

	runtimeDir := t.TempDir()
	instanceDir := filepath.Join(runtimeDir, "hypr", "test-instance")
	require.NoError(t, os.MkdirAll(instanceDir, 0o755))

	eventLn, err := net.Listen("unix", filepath.Join(instanceDir, ".socket2.sock"))
	require.NoError(t, err)
	requestLn, err := net.Listen("unix", filepath.Join(instanceDir, ".socket.sock"))
	require.NoError(t, err)

	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
	t.Setenv("HYPRLAND_INSTANCE_SIGNATURE", "test-instance")

	f := &fakeCompositor{
		t:            t,
		eventLn:      eventLn,
		requestLn:    requestLn,
		activeWindow: `{}`,
		monitors:     `[{"name": "eDP-1", "focused": true}]`,
	}
	go f.acceptEvents()
	go f.serveRequests()
	t.Cleanup(f.close)
	return f
}

func (f *fakeCompositor) acceptEvents() {
	for {
		conn, err := f.eventLn.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.eventConns = append(f.eventConns, conn)
		f.mu.Unlock()
	}
}

func (f *fakeCompositor) serveRequests() {
	for {
		conn, err := f.requestLn.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()
			buf := make([]byte, 256)
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			switch {
			case strings.Contains(string(buf[:n]), "activewindow"):
				conn.Write([]byte(f.activeWindow))
			case strings.Contains(string(buf[:n]), "monitors"):
				conn.Write([]byte(f.monitors))
			}
		}(conn)
	}
}

func (f *fakeCompositor) setActiveWindow(body string) {
	f.mu.Lock()
	f.activeWindow = body
	f.mu.Unlock()
}

func (f *fakeCompositor) sendEvent(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.eventConns {
		conn.Write([]byte(line + "\n"))
	}
}

func (f *fakeCompositor) dropEventConns() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.eventConns {
		conn.Close()
	}
	f.eventConns = nil
}

func (f *fakeCompositor) close() {
	f.eventLn.Close()
	f.requestLn.Close()
	f.dropEventConns()
}

func waitForEventConn(t *testing.T, f *fakeCompositor) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.eventConns) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestClientRaisesActivationSignals(t *testing.T) {
	f := startFakeCompositor(t)
	disc := capability.NewDiscoverer(zap.NewNop())

	var mu sync.Mutex
	signals := 0
	client := NewClient(disc, 20*time.Millisecond, nil, zap.NewNop())
	client.Start(func() {
		mu.Lock()
		signals++
		mu.Unlock()
	})
	defer client.Stop()

	waitForEventConn(t, f)
	require.Equal(t, StateConnected, client.CurrentState())

	f.sendEvent("activewindow>>firefox,Example — Mozilla Firefox")
	f.sendEvent("workspace>>2")         // ignored by design
	f.sendEvent("not a valid line")     // discarded, must not crash
	f.sendEvent("monitoradded>>HDMI-1") // unknown type, ignored
	f.sendEvent("activewindowv2>>5934b1e6f10b")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signals == 2
	}, time.Second, 5*time.Millisecond)
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	f := startFakeCompositor(t)
	disc := capability.NewDiscoverer(zap.NewNop())

	var mu sync.Mutex
	signals := 0
	errorsSeen := 0
	client := NewClient(disc, 20*time.Millisecond, func(error) {
		mu.Lock()
		errorsSeen++
		mu.Unlock()
	}, zap.NewNop())
	client.Start(func() {
		mu.Lock()
		signals++
		mu.Unlock()
	})
	defer client.Stop()

	waitForEventConn(t, f)
	f.dropEventConns()

	// Client must come back on its own after the backoff.
	waitForEventConn(t, f)
	f.sendEvent("activewindow>>kitty,~")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signals == 1
	}, time.Second, 5*time.Millisecond)
}

func TestClientStopIsIdempotent(t *testing.T) {
	f := startFakeCompositor(t)
	disc := capability.NewDiscoverer(zap.NewNop())

	client := NewClient(disc, 20*time.Millisecond, nil, zap.NewNop())
	client.Start(func() {})
	waitForEventConn(t, f)

	client.Stop()
	client.Stop()
	require.Equal(t, StateStopped, client.CurrentState())
}

func TestClientStopWithoutStart(t *testing.T) {
	disc := capability.NewDiscoverer(zap.NewNop())
	client := NewClient(disc, 20*time.Millisecond, nil, zap.NewNop())
	client.Stop()
	require.Equal(t, StateStopped, client.CurrentState())
}

func TestIntrospectorActiveWindow(t *testing.T) {
	f := startFakeCompositor(t)
	f.setActiveWindow(`{
		"address": "0x55d2a9f0",
		"class": "firefox",
		"title": "Example — Mozilla Firefox",
		"pid": 4242,
		"at": [10, 20],
		"size": [1280, 720]
	}`)

	disc := capability.NewDiscoverer(zap.NewNop())
	intro := NewIntrospector(disc, time.Second, zap.NewNop())

	win, err := intro.ActiveWindow(t.Context())
	require.NoError(t, err)
	require.NotNil(t, win)
	require.Equal(t, "0x55d2a9f0", win.Address)
	require.Equal(t, "firefox", win.Class)
	require.Equal(t, "Example — Mozilla Firefox", win.Title)
	require.Equal(t, "10,20 1280x720", win.Region())
}

func TestIntrospectorNoFocusedWindow(t *testing.T) {
	startFakeCompositor(t)
	disc := capability.NewDiscoverer(zap.NewNop())
	intro := NewIntrospector(disc, time.Second, zap.NewNop())

	win, err := intro.ActiveWindow(t.Context())
	require.NoError(t, err)
	require.Nil(t, win)
}

func TestIntrospectorFocusedOutput(t *testing.T) {
	startFakeCompositor(t)
	disc := capability.NewDiscoverer(zap.NewNop())
	intro := NewIntrospector(disc, time.Second, zap.NewNop())

	output, err := intro.FocusedOutput(t.Context())
	require.NoError(t, err)
	require.Equal(t, "eDP-1", output)
}
