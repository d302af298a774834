package compositor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"waytrack/internal/capability"

	"go.uber.org/zap"
)

// Window is the compositor's description of the focused window, as returned
// by the synchronous introspection command
type Window struct {
	Address string `json:"address"`
	Class   string `json:"class"`
	Title   string `json:"title"`
	PID     int    `json:"pid"`
	At      [2]int `json:"at"`
	Size    [2]int `json:"size"`
}

// Region formats the window geometry as "X,Y WxH" for region captures
func (w *Window) Region() string {
	return fmt.Sprintf("%d,%d %dx%d", w.At[0], w.At[1], w.Size[0], w.Size[1])
}

type monitor struct {
	Name    string `json:"name"`
	Focused bool   `json:"focused"`
}

// Introspector issues synchronous queries against the compositor's request
// socket. Every call carries a bounded deadline.
type Introspector struct {
	discoverer *capability.Discoverer
	timeout    time.Duration
	logger     *zap.Logger
}

// NewIntrospector creates an introspector with the given per-request timeout
func NewIntrospector(discoverer *capability.Discoverer, timeout time.Duration, logger *zap.Logger) *Introspector {
	return &Introspector{
		discoverer: discoverer,
		timeout:    timeout,
		logger:     logger,
	}
}

// ActiveWindow resolves the currently focused window. Returns (nil, nil)
// when no window holds focus.
func (i *Introspector) ActiveWindow(ctx context.Context) (*Window, error) {
	raw, err := i.request(ctx, "j/activewindow")
	if err != nil {
		return nil, err
	}

	var win Window
	if err := json.Unmarshal(raw, &win); err != nil {
		return nil, fmt.Errorf("malformed activewindow response: %w", err)
	}
	if win.Address == "" {
		return nil, nil
	}
	return &win, nil
}

// FocusedOutput resolves the name of the focused monitor for whole-screen
// captures
func (i *Introspector) FocusedOutput(ctx context.Context) (string, error) {
	raw, err := i.request(ctx, "j/monitors")
	if err != nil {
		return "", err
	}

	var monitors []monitor
	if err := json.Unmarshal(raw, &monitors); err != nil {
		return "", fmt.Errorf("malformed monitors response: %w", err)
	}
	for _, m := range monitors {
		if m.Focused {
			return m.Name, nil
		}
	}
	if len(monitors) > 0 {
		return monitors[0].Name, nil
	}
	return "", fmt.Errorf("no monitors reported")
}

func (i *Introspector) request(ctx context.Context, command string) ([]byte, error) {
	paths, err := i.discoverer.SocketPaths()
	if err != nil {
		return nil, fmt.Errorf("introspection socket unavailable: %w", err)
	}

	deadline := time.Now().Add(i.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var dialer net.Dialer
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	conn, err := dialer.DialContext(dctx, "unix", paths.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to dial request socket: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set socket deadline: %w", err)
	}

	if _, err := conn.Write([]byte(command)); err != nil {
		return nil, fmt.Errorf("failed to send %q: %w", command, err)
	}

	// The request socket answers with one response and closes the write side.
	var buf []byte
	chunk := make([]byte, 8192)
	for {
		n, err := conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("empty response to %q", command)
	}
	return buf, nil
}
