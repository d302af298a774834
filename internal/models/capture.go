package models

// CaptureResult is the outcome of one screenshot+OCR cycle. Success refers
// to the screenshot; OCR failure alone leaves Text nil without clearing it.
type CaptureResult struct {
	Success   bool    `json:"success"`
	ImagePath *string `json:"imagePath,omitempty"`
	Text      *string `json:"text,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// ScreenshotEntry is one row of a date folder's metadata index
type ScreenshotEntry struct {
	Timestamp int64  `json:"timestamp"` // Unix timestamp in milliseconds
	Filepath  string `json:"filepath"`
	Filename  string `json:"filename"`
	AppName   string `json:"appName"`
	Title     string `json:"title"`
}

// HandoffPayload is the JSON object a companion relay writes to the
// hand-off file with the browser's latest known tab
type HandoffPayload struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Timestamp int64  `json:"timestamp"` // Unix timestamp in milliseconds
}
