package capability

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	instanceEnv   = "HYPRLAND_INSTANCE_SIGNATURE"
	runtimeDirEnv = "XDG_RUNTIME_DIR"

	eventSocketName   = ".socket2.sock"
	requestSocketName = ".socket.sock"

	screenshotTool = "grim"
	ocrTool        = "tesseract"

	versionTimeout = 2 * time.Second
)

// SocketPaths holds the resolved compositor IPC socket locations
type SocketPaths struct {
	Event   string // line-delimited event stream
	Request string // synchronous introspection commands
}

// ToolStatus reports availability of one external tool
type ToolStatus struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
}

// Report is the result of a full capability check
type Report struct {
	CompositorSocket  bool       `json:"compositorSocket"`
	EventSocketPath   string     `json:"eventSocketPath,omitempty"`
	RequestSocketPath string     `json:"requestSocketPath,omitempty"`
	Screenshot        ToolStatus `json:"screenshot"`
	OCR               ToolStatus `json:"ocr"`
	SessionBus        bool       `json:"sessionBus"`
}

// Discoverer resolves which optional OS tools and sockets are present.
// Socket resolution is cached after the first success.
type Discoverer struct {
	logger *zap.Logger

	mu     sync.RWMutex
	cached *SocketPaths
}

// NewDiscoverer creates a capability discoverer
func NewDiscoverer(logger *zap.Logger) *Discoverer {
	return &Discoverer{logger: logger}
}

// QuickCheck reports compositor availability from environment variables
// alone, with no filesystem access
func (d *Discoverer) QuickCheck() bool {
	return os.Getenv(instanceEnv) != "" && os.Getenv(runtimeDirEnv) != ""
}

// SocketPaths resolves the compositor IPC sockets, preferring the
// environment-supplied instance signature and falling back to scanning the
// runtime directory for the most-recently-started instance
func (d *Discoverer) SocketPaths() (*SocketPaths, error) {
	d.mu.RLock()
	if d.cached != nil {
		paths := d.cached
		d.mu.RUnlock()
		return paths, nil
	}
	d.mu.RUnlock()

	paths, err := d.resolveSockets()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cached = paths
	d.mu.Unlock()

	d.logger.Debug("Resolved compositor sockets",
		zap.String("event_socket", paths.Event),
		zap.String("request_socket", paths.Request),
	)
	return paths, nil
}

func (d *Discoverer) resolveSockets() (*SocketPaths, error) {
	runtimeDir := os.Getenv(runtimeDirEnv)
	if runtimeDir == "" {
		runtimeDir = fmt.Sprintf("/run/user/%d", os.Getuid())
	}
	hyprDir := filepath.Join(runtimeDir, "hypr")

	if sig := os.Getenv(instanceEnv); sig != "" {
		instanceDir := filepath.Join(hyprDir, sig)
		if isSocket(filepath.Join(instanceDir, eventSocketName)) {
			return &SocketPaths{
				Event:   filepath.Join(instanceDir, eventSocketName),
				Request: filepath.Join(instanceDir, requestSocketName),
			}, nil
		}
		d.logger.Warn("Instance signature set but socket missing, scanning runtime dir",
			zap.String("signature", sig),
		)
	}

	entries, err := os.ReadDir(hyprDir)
	if err != nil {
		return nil, fmt.Errorf("compositor runtime directory unavailable: %w", err)
	}

	var (
		newest    string
		newestMod time.Time
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(hyprDir, entry.Name(), eventSocketName)
		if !isSocket(candidate) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = filepath.Join(hyprDir, entry.Name())
			newestMod = info.ModTime()
		}
	}

	if newest == "" {
		return nil, fmt.Errorf("no compositor instance socket found under %s", hyprDir)
	}

	return &SocketPaths{
		Event:   filepath.Join(newest, eventSocketName),
		Request: filepath.Join(newest, requestSocketName),
	}, nil
}

// isSocket reports whether path exists and is a unix domain socket
func isSocket(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFSOCK
}

// FullCheck performs the slower I/O-bound capability inspection for
// diagnostic consumers
func (d *Discoverer) FullCheck(ctx context.Context) *Report {
	report := &Report{}

	if paths, err := d.SocketPaths(); err == nil {
		report.CompositorSocket = true
		report.EventSocketPath = paths.Event
		report.RequestSocketPath = paths.Request
	} else {
		d.logger.Warn("Compositor socket not reachable", zap.Error(err))
	}

	report.Screenshot = d.lookupTool(ctx, screenshotTool)
	report.OCR = d.lookupTool(ctx, ocrTool)
	report.SessionBus = d.probeSessionBus()

	return report
}

func (d *Discoverer) lookupTool(ctx context.Context, name string) ToolStatus {
	path, err := exec.LookPath(name)
	if err != nil {
		return ToolStatus{}
	}

	status := ToolStatus{Available: true, Path: path}

	vctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	out, err := exec.CommandContext(vctx, path, "--version").CombinedOutput()
	if err == nil {
		if line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n"); line != "" {
			status.Version = strings.TrimSpace(line)
		}
	}

	return status
}

func (d *Discoverer) probeSessionBus() bool {
	conn, err := dbus.SessionBus()
	if err != nil {
		d.logger.Debug("Session bus not reachable", zap.Error(err))
		return false
	}
	// SessionBus returns a shared connection; leave it open for other users
	return conn.Connected()
}

// ResetCache clears the cached socket resolution (useful when the
// compositor restarts under a new instance signature)
func (d *Discoverer) ResetCache() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
