package docker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCLIDefaultBinary(t *testing.T) {
	assert.Equal(t, DefaultBinary, NewCLI("").Binary)
	assert.Equal(t, DefaultBinary, NewCLI("  ").Binary)
	assert.Equal(t, "podman", NewCLI("podman").Binary)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(&Result{}, nil))

	err := Classify(&Result{
		Args:     []string{"stop", "abc"},
		Stderr:   "Error response from daemon: No such container: abc\n",
		ExitCode: 1,
	}, fmt.Errorf("exit status 1"))
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.NotErrorIs(t, err, ErrDaemonUnreachable)
	assert.True(t, IsNoSuchContainer(err))
	assert.False(t, IsNotRunning(err))
	assert.Equal(t, "Error response from daemon: No such container: abc\n", StderrOf(err), "stderr is kept verbatim")
	assert.Contains(t, err.Error(), "docker stop abc")

	err = Classify(&Result{
		Args:     []string{"ps"},
		Stderr:   "Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?\n",
		ExitCode: 1,
	}, fmt.Errorf("exit status 1"))
	assert.ErrorIs(t, err, ErrDaemonUnreachable)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindDaemonUnreachable, kind)

	err = Classify(&Result{Args: []string{"kill", "abc"}, Stderr: "Error response from daemon: container abc is not running"}, errors.New("exit status 1"))
	assert.True(t, IsNotRunning(err))
}

func TestErrorWrapping(t *testing.T) {
	inner := &Error{Kind: KindPartialFailure, Message: "1 of 3 failed"}
	wrapped := fmt.Errorf("stop-all: %w", inner)

	assert.ErrorIs(t, wrapped, ErrPartialFailure)
	assert.NotErrorIs(t, wrapped, ErrOperationFailed)
	assert.Equal(t, "PartialFailure: 1 of 3 failed", inner.Error())

	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
	assert.Empty(t, StderrOf(errors.New("plain")))
}

func TestRunMissingBinary(t *testing.T) {
	cli := NewCLI("cfdock-no-such-docker-binary")

	_, err := cli.Run(context.Background(), "ps")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResourceNotFound)

	_, err = cli.Stream(context.Background(), "logs", "-f", "abc")
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestReadAndStreamLogs(t *testing.T) {
	lines, err := ReadAllLogs(strings.NewReader("one\ntwo\nthree"))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines)

	lineChan := make(chan string, 10)
	errChan := make(chan error, 1)
	go StreamLogs(strings.NewReader("a\nb\n"), lineChan, errChan)

	var got []string
	for line := range lineChan {
		got = append(got, line)
	}
	assert.Equal(t, []string{"a", "b"}, got)
	assert.NoError(t, <-errChan)
}

// fakeBinary 写一个模拟 docker 的 shell 脚本
func fakeBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "docker")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestFollowLogsIncludesStderr(t *testing.T) {
	bin := fakeBinary(t, "echo stdout line\necho stderr line >&2\n")

	rc, err := FollowLogs(context.Background(), NewCLI(bin), "abc")
	require.NoError(t, err)
	defer rc.Close()

	lines, err := ReadAllLogs(rc)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stdout line", "stderr line"}, lines)
}

func TestFollowLogsFailureIsClassified(t *testing.T) {
	bin := fakeBinary(t, "echo 'Error response from daemon: No such container: abc' >&2\nexit 1\n")

	rc, err := FollowLogs(context.Background(), NewCLI(bin), "abc")
	require.NoError(t, err)
	defer rc.Close()

	lines, err := ReadAllLogs(rc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.True(t, IsNoSuchContainer(err))
	assert.Equal(t, []string{"Error response from daemon: No such container: abc"}, lines)
}

func TestStreamCloseStopsProcess(t *testing.T) {
	bin := fakeBinary(t, "echo started\nexec sleep 30\n")

	rc, err := NewCLI(bin).Stream(context.Background(), "logs", "-f", "abc")
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, err := rc.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "started\n", string(buf[:n]))

	closed := make(chan struct{})
	go func() {
		rc.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not stop the process")
	}
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 4}
	b.Write([]byte("ab"))
	b.Write([]byte("cdef"))
	assert.Equal(t, "cdef", b.String())
	b.Write([]byte("g"))
	assert.Equal(t, "defg", b.String())
}

func TestEventWatcherMatches(t *testing.T) {
	w, err := NewEventWatcher("", "cf-demo-0123456789ab")
	require.NoError(t, err)
	defer w.Close()

	assert.True(t, w.Matches("/cf-demo-0123456789ab-terminal-1a2b3c4d"))
	assert.True(t, w.Matches("cf-demo-0123456789ab-command-1a2b3c4d"))
	assert.False(t, w.Matches("cf-demo-0123456789abc-terminal-1a2b3c4d"))
	assert.False(t, w.Matches("postgres"))
}

func TestNilEventWatcher(t *testing.T) {
	var w *EventWatcher
	assert.Error(t, w.Ping(context.Background()))
	assert.NoError(t, w.Close())

	events, errs := w.Watch(context.Background())
	_, open := <-events
	assert.False(t, open)
	assert.Error(t, <-errs)
}

// TestCLI_Integration 需要真实的 Docker 环境，使用 go test -short 跳过
func TestCLI_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cli := NewCLI("")
	if _, err := cli.Run(ctx, "version", "--format", "{{.Server.Version}}"); err != nil {
		t.Skipf("Docker not available: %v", err)
	}

	res, err := cli.Run(ctx, "ps", "-a", "--filter", "name=cfdock-integration-none", "--format", "{{json .}}")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(res.Stdout))

	_, err = cli.Run(ctx, "inspect", "--type", "container", "cfdock-integration-none")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.True(t, IsNoSuchContainer(err))
}
