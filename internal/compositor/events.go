package compositor

import "strings"

// eventKind is the closed set of event-stream record types this client
// reacts to; everything else maps to eventIgnored and is dropped safely
type eventKind int

const (
	eventIgnored eventKind = iota
	eventActiveWindow
	eventActiveWindowV2
	eventWorkspace
	eventCloseWindow
)

func classifyEvent(name string) eventKind {
	switch name {
	case "activewindow":
		return eventActiveWindow
	case "activewindowv2":
		return eventActiveWindowV2
	case "workspace", "workspacev2":
		return eventWorkspace
	case "closewindow":
		return eventCloseWindow
	default:
		return eventIgnored
	}
}

// parseLine splits one "type>>payload" record. ok is false for lines that
// do not carry the delimiter; such lines are discarded by the caller.
func parseLine(line string) (name, payload string, ok bool) {
	name, payload, ok = strings.Cut(line, ">>")
	if !ok || name == "" {
		return "", "", false
	}
	return name, payload, true
}
