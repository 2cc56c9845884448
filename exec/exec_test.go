package exec

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test shells out to POSIX tools")
	}
}

func TestRun(t *testing.T) {
	skipOnWindows(t)
	ctx := context.Background()

	t.Run("captures stdout", func(t *testing.T) {
		out, err := Run(ctx, Spec{Command: "echo", Args: []string{"hello"}})
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(out.Stdout))
		assert.Equal(t, 0, out.ExitCode)
		assert.Greater(t, out.Duration, time.Duration(0))
	})

	t.Run("passes stdin through", func(t *testing.T) {
		out, err := Run(ctx, Spec{Command: "cat", Stdin: []byte(`{"tool_name":"nmap"}`)})
		require.NoError(t, err)
		assert.Equal(t, `{"tool_name":"nmap"}`, string(out.Stdout))
	})

	t.Run("non-zero exit is not an error", func(t *testing.T) {
		out, err := Run(ctx, Spec{Command: "sh", Args: []string{"-c", "echo oops >&2; exit 3"}})
		require.NoError(t, err)
		assert.Equal(t, 3, out.ExitCode)
		assert.Equal(t, "oops\n", string(out.Stderr))
	})

	t.Run("requires a command", func(t *testing.T) {
		_, err := Run(ctx, Spec{})
		require.Error(t, err)
	})

	t.Run("missing binary is an error", func(t *testing.T) {
		_, err := Run(ctx, Spec{Command: "definitely-not-a-binary-7f3a"})
		require.Error(t, err)
	})

	t.Run("timeout kills the process", func(t *testing.T) {
		start := time.Now()
		_, err := Run(ctx, Spec{
			Command: "sleep",
			Args:    []string{"10"},
			Timeout: 50 * time.Millisecond,
		})
		require.ErrorIs(t, err, ErrTimeout)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("context cancellation stops the process", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()
		_, err := Run(cctx, Spec{Command: "sleep", Args: []string{"10"}})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrTimeout)
	})
}

func TestResolve(t *testing.T) {
	skipOnWindows(t)

	path, err := Resolve("sh")
	require.NoError(t, err)
	assert.NotEmpty(t, path)

	_, err = Resolve("definitely-not-a-binary-7f3a")
	require.Error(t, err)
}
