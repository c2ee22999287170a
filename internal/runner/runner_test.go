package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/podnet/internal/errors"
	"grimm.is/podnet/internal/logging"
)

func TestCommandString(t *testing.T) {
	assert.Equal(t, "ip netns add ns1", Cmd("ip", "netns", "add", "ns1").String())
	assert.Equal(t, "true", Cmd("true").String())

	wrapped := InNamespace("ns1", Cmd("sysctl", "-w", "net.ipv4.ip_forward=1").WithStdin("x"))
	assert.Equal(t, "ip netns exec ns1 sysctl -w net.ipv4.ip_forward=1", wrapped.String())
	assert.Equal(t, "x", wrapped.Stdin)
}

func TestLocal_ExitCodeAndOutput(t *testing.T) {
	l := NewLocal(logging.Discard())

	res, err := l.Run(context.Background(), Cmd("sh", "-c", "echo out; echo err >&2; exit 3"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.False(t, res.Success())
}

func TestLocal_Stdin(t *testing.T) {
	l := NewLocal(logging.Discard())
	res, err := l.Run(context.Background(), Cmd("cat").WithStdin("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Stdout)
}

func TestLocal_Timeout(t *testing.T) {
	l := NewLocal(logging.Discard())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := l.Run(ctx, Cmd("sleep", "5"))
	require.Error(t, err)
	assert.Equal(t, errors.KindTimeout, errors.GetKind(err))
}

func TestLocal_MissingBinary(t *testing.T) {
	l := NewLocal(logging.Discard())
	_, err := l.Run(context.Background(), Cmd("/nonexistent/podnet-test-binary"))
	require.Error(t, err)
	assert.Equal(t, errors.KindInternal, errors.GetKind(err))
}

func TestCheck(t *testing.T) {
	d := NewDryRun()
	d.Respond = func(c Command) (Result, error) {
		if c.Name == "false" {
			return Result{ExitCode: 1, Stderr: "boom\n"}, nil
		}
		return Result{Stdout: "ok"}, nil
	}

	res, err := Check(context.Background(), d, Cmd("true"))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Stdout)

	_, err = Check(context.Background(), d, Cmd("false", "-x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "false -x: exit status 1: boom")
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.Result.ExitCode)

	assert.Equal(t, []string{"true", "false -x"}, d.Lines())
	d.Reset()
	assert.Empty(t, d.Lines())
}

func TestDryRun_CancelledContext(t *testing.T) {
	d := NewDryRun()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Run(ctx, Cmd("ip", "link"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, d.Commands, 1)
}

func TestMockRunner(t *testing.T) {
	m := new(MockRunner)
	m.On("Run", "ip netns list").Return(Result{Stdout: "ns1\n"}, nil)

	res, err := m.Run(context.Background(), Cmd("ip", "netns", "list"))
	require.NoError(t, err)
	assert.Equal(t, "ns1\n", res.Stdout)
	m.AssertExpectations(t)
}

func TestNetNS(t *testing.T) {
	d := NewDryRun()
	ns := NetNS{Namespace: "ns1", Runner: d}

	_, err := Check(context.Background(), ns, Cmd("nft", "--check", "--file", "/tmp/x.nft"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ip netns exec ns1 nft --check --file /tmp/x.nft"}, d.Lines())
}
