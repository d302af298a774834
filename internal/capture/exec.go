package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// waitDelay bounds Wait after the child exits or the context is cancelled,
// so a descendant holding the output pipe open cannot block the call
const waitDelay = time.Second

// boundedBuffer keeps at most max+1 bytes and discards the rest, so an
// over-producing tool neither grows memory nor blocks on a full pipe
type boundedBuffer struct {
	buf bytes.Buffer
	max int64
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if remaining := b.max + 1 - int64(b.buf.Len()); remaining > 0 {
		if int64(len(p)) <= remaining {
			b.buf.Write(p)
		} else {
			b.buf.Write(p[:remaining])
		}
	}
	return len(p), nil
}

// runBounded executes an external tool with a context deadline and an
// output-size ceiling. The tool runs in its own process group and the whole
// group is killed on cancel, so forked descendants cannot outlive the
// deadline. extraEnv entries are appended to the inherited environment.
func runBounded(ctx context.Context, maxBytes int64, extraEnv []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(extraEnv) > 0 {
		cmd.Env = append(cmd.Environ(), extraEnv...)
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	stdout := &boundedBuffer{max: maxBytes}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%s timed out: %w", name, ctx.Err())
	}
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w (stderr: %s)", name, err, stderr.String())
	}
	if int64(stdout.buf.Len()) > maxBytes {
		return nil, fmt.Errorf("%s output exceeded %d bytes", name, maxBytes)
	}
	return stdout.buf.Bytes(), nil
}
