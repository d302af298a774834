package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunBoundedSuccess(t *testing.T) {
	out, err := runBounded(context.Background(), 1024, nil, "sh", "-c", "printf hello")
	require.NoError(t, err)
	require.Equal(t, "hello", string(out))
}

func TestRunBoundedTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := runBounded(ctx, 1024, nil, "sleep", "5")
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestRunBoundedTimeoutKillsDescendants(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// The shell forks a child that inherits stdout; the deadline must bound
	// the call even though killing the shell alone would leave the child
	// holding the pipe.
	start := time.Now()
	_, err := runBounded(ctx, 1024, nil, "sh", "-c", "sleep 60 & wait")
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
	require.Less(t, time.Since(start), 3*time.Second)
}

func TestRunBoundedOrphanHoldingStdout(t *testing.T) {
	// The tool exits immediately but leaves a background child with the
	// output pipe open; the call must still return within the wait delay.
	start := time.Now()
	_, err := runBounded(context.Background(), 1024, nil,
		"sh", "-c", "sleep 3 & printf done")
	require.Error(t, err)
	require.Less(t, time.Since(start), 3*time.Second)
}

func TestRunBoundedOutputCeiling(t *testing.T) {
	_, err := runBounded(context.Background(), 8, nil, "sh", "-c", "printf 0123456789abcdef")
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeded")
}

func TestRunBoundedSurfacesStderr(t *testing.T) {
	_, err := runBounded(context.Background(), 1024, nil, "sh", "-c", "echo oops >&2; exit 3")
	require.Error(t, err)
	require.Contains(t, err.Error(), "oops")
}

func TestRunBoundedExtraEnv(t *testing.T) {
	out, err := runBounded(context.Background(), 1024,
		[]string{"CAPTURE_TEST_VALUE=fast"}, "sh", "-c", `printf "$CAPTURE_TEST_VALUE"`)
	require.NoError(t, err)
	require.Equal(t, "fast", string(out))
}

func TestRunBoundedMissingTool(t *testing.T) {
	_, err := runBounded(context.Background(), 1024, nil, "definitely-not-installed-tool")
	require.Error(t, err)
}
