package models

// EventKind classifies an activity event by its source window
type EventKind string

const (
	KindWindow  EventKind = "window"
	KindBrowser EventKind = "browser"
	KindSystem  EventKind = "system"
)

// CaptureReason records why an event was captured
type CaptureReason string

const (
	ReasonInitial        CaptureReason = "initial"
	ReasonAppSwitch      CaptureReason = "app_switch"
	ReasonPeriodicBackup CaptureReason = "periodic_backup"
	ReasonSystemSleep    CaptureReason = "system_sleep"
	ReasonSystemWake     CaptureReason = "system_wake"
)

// ContentSource distinguishes freshly extracted text from content reused
// from a previously categorized equivalent activity
type ContentSource string

const (
	ContentFresh  ContentSource = "fresh"
	ContentReused ContentSource = "reused"
)

// ActivityEvent is the unit emitted to the external consumer
type ActivityEvent struct {
	// WindowID is the compositor's opaque window address, "0" for events
	// with no window (synthetic system events)
	WindowID       string        `json:"windowId"`
	OwnerName      string        `json:"ownerName"`
	Kind           EventKind     `json:"kind"`
	BrowserFamily  string        `json:"browserFamily,omitempty"`
	Title          *string       `json:"title,omitempty"`
	URL            *string       `json:"url,omitempty"`
	Content        *string       `json:"content,omitempty"`
	ContentSource  ContentSource `json:"contentSource,omitempty"`
	LocalImagePath *string       `json:"localImagePath,omitempty"`
	Timestamp      int64         `json:"timestamp"` // Unix timestamp in milliseconds
	CaptureReason  CaptureReason `json:"captureReason"`
	DurationMs     int64         `json:"durationMs"`
}

// Identity returns the key used to suppress duplicate periodic-backup
// emissions: the window address when the compositor supplied one, else
// the owner/title pair
func (e *ActivityEvent) Identity() string {
	if e.WindowID != "" && e.WindowID != "0" {
		return e.WindowID
	}
	title := ""
	if e.Title != nil {
		title = *e.Title
	}
	return e.OwnerName + ":" + title
}
