package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	title := "Example — Mozilla Firefox"

	withAddress := &ActivityEvent{WindowID: "0x5934b1e6", OwnerName: "firefox", Title: &title}
	require.Equal(t, "0x5934b1e6", withAddress.Identity())

	noAddress := &ActivityEvent{WindowID: "0", OwnerName: "firefox", Title: &title}
	require.Equal(t, "firefox:Example — Mozilla Firefox", noAddress.Identity())

	noTitle := &ActivityEvent{OwnerName: "kitty"}
	require.Equal(t, "kitty:", noTitle.Identity())
}

func TestOptionalFieldsOmitted(t *testing.T) {
	event := &ActivityEvent{
		WindowID:      "0x1",
		OwnerName:     "kitty",
		Kind:          KindWindow,
		Timestamp:     1756400000000,
		CaptureReason: ReasonAppSwitch,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, absent := range []string{"title", "url", "content", "contentSource", "localImagePath", "browserFamily"} {
		require.NotContains(t, decoded, absent)
	}
	require.Equal(t, "app_switch", decoded["captureReason"])
	require.Equal(t, float64(0), decoded["durationMs"])
}
