package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfdock/internal/docker"
	"cfdock/internal/docker/dockertest"
	"cfdock/internal/registry"
)

const prefix = "cf-demo-0123456789ab"

func newTestManager(t *testing.T) (*Manager, *registry.Registry, *dockertest.Daemon) {
	t.Helper()
	d := dockertest.New()
	d.AddImage(prefix)
	reg := registry.New(d, prefix)
	return NewManager(d, reg, WithShell("/bin/bash")), reg, d
}

func TestRunArgsForDeterministic(t *testing.T) {
	cfg := RunConfig{
		Image:       "cf-demo",
		Name:        "cf-demo-terminal-1",
		Detach:      true,
		Interactive: true,
		TTY:         true,
		AutoRemove:  true,
		Workdir:     "/workspace",
		Mounts:      []Mount{{Source: "/home/dev/demo", Target: "/workspace"}, {Source: "/cache", Target: "/cache", ReadOnly: true}},
		Env:         map[string]string{"B": "2", "A": "1", "C": "3"},
		Labels:      map[string]string{"z": "last", "a": "first"},
		Command:     []string{"/bin/bash"},
	}
	want := []string{
		"run", "-d", "-i", "-t", "--rm", "--name", "cf-demo-terminal-1",
		"--label", "a=first", "--label", "z=last",
		"-e", "A=1", "-e", "B=2", "-e", "C=3",
		"-v", "/home/dev/demo:/workspace", "-v", "/cache:/cache:ro",
		"-w", "/workspace", "cf-demo", "/bin/bash",
	}
	for i := 0; i < 20; i++ {
		assert.Equal(t, want, RunArgsFor(cfg))
	}
}

func TestLaunchTracksContainer(t *testing.T) {
	ctx := context.Background()
	m, reg, d := newTestManager(t)

	rec, err := m.Launch(ctx, LaunchRequest{Type: registry.TypeTerminal, Image: prefix})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rec.Name, prefix+"-terminal-"))
	assert.Len(t, rec.ID, 64)

	_, ok := reg.Get(rec.ID)
	assert.True(t, ok, "tracked before any refresh")

	c, ok := d.Container(rec.ID)
	require.True(t, ok)
	assert.True(t, c.Running)
	assert.True(t, c.AutoRemove)
	assert.Equal(t, "/bin/bash", c.Args[len(c.Args)-1])

	active, err := reg.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, rec.ID, active[0].ID)
}

func TestLaunchValidation(t *testing.T) {
	ctx := context.Background()
	m, _, d := newTestManager(t)

	_, err := m.Launch(ctx, LaunchRequest{Type: registry.TypeFuzzing, Image: prefix})
	require.Error(t, err)
	_, err = m.Launch(ctx, LaunchRequest{Type: registry.TypeTerminal})
	require.Error(t, err)
	assert.Equal(t, 0, d.CallCount())

	_, err = m.Launch(ctx, LaunchRequest{Type: registry.TypeCommand, Image: "missing:1", Command: []string{"true"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, docker.ErrOperationFailed)
	assert.Contains(t, docker.StderrOf(err), "Unable to find image")
}

func TestStopTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()

	t.Run("stop", func(t *testing.T) {
		m, _, d := newTestManager(t)
		id := d.AddContainer(prefix+"-command-aaaa0000", prefix, true)
		require.NoError(t, m.Stop(ctx, id, false))
		require.NoError(t, m.Stop(ctx, id, false))
	})

	t.Run("kill", func(t *testing.T) {
		m, _, d := newTestManager(t)
		id := d.AddContainer(prefix+"-command-aaaa0000", prefix, true)
		require.NoError(t, m.Stop(ctx, id, true))
		require.NoError(t, m.Stop(ctx, id, true))
	})

	t.Run("auto removed", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		rec, err := m.Launch(ctx, LaunchRequest{Type: registry.TypeTerminal, Image: prefix})
		require.NoError(t, err)
		require.NoError(t, m.Stop(ctx, rec.ID, false))
		require.NoError(t, m.Stop(ctx, rec.ID, false))
	})

	t.Run("unknown id", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		assert.NoError(t, m.Stop(ctx, "does-not-exist", false))
	})
}

func TestStopReportsRealFailures(t *testing.T) {
	m, _, d := newTestManager(t)
	id := d.AddContainer(prefix+"-command-aaaa0000", prefix, true)
	d.Fail("stop "+id, "Error response from daemon: cannot stop container: permission denied\n")

	err := m.Stop(context.Background(), id, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, docker.ErrOperationFailed)
	assert.Contains(t, docker.StderrOf(err), "permission denied")

	d.SetUnreachable(true)
	err = m.Stop(context.Background(), id, false)
	assert.ErrorIs(t, err, docker.ErrDaemonUnreachable)
}

func TestTerminateAllPartialFailure(t *testing.T) {
	ctx := context.Background()
	m, reg, d := newTestManager(t)

	const n = 6
	for i := 0; i < n; i++ {
		_, err := m.Launch(ctx, LaunchRequest{Type: registry.TypeCommand, Image: prefix, Command: []string{"sleep", "infinity"}})
		require.NoError(t, err)
	}
	records, err := reg.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, records, n)

	failing := []string{records[1].ID, records[4].ID}
	for _, id := range failing {
		d.Fail("stop "+id, "Error response from daemon: cannot stop container: "+id+": tried to kill container, but did not receive an exit event\n")
	}

	result := m.TerminateAll(ctx, records, false)
	assert.Equal(t, n, result.Total)
	assert.Equal(t, n, len(result.Succeeded)+len(result.Failed))
	assert.Len(t, result.Failed, len(failing))
	for _, id := range failing {
		assert.Error(t, result.FailureFor(id))
	}

	err = result.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, docker.ErrPartialFailure)

	active, err := reg.ListActive(ctx)
	require.NoError(t, err)
	remaining := make(map[string]bool)
	for _, rec := range active {
		remaining[rec.ID] = true
	}
	for _, id := range result.Succeeded {
		assert.False(t, remaining[id], "succeeded id %s still listed", id)
	}
	for _, id := range failing {
		assert.True(t, remaining[id])
	}
}

func TestTerminateAllOutcomes(t *testing.T) {
	ctx := context.Background()
	m, _, d := newTestManager(t)

	empty := m.TerminateAll(ctx, nil, false)
	assert.NoError(t, empty.Err())
	assert.Equal(t, 0, empty.Total)

	id := d.AddContainer(prefix+"-command-aaaa0000", prefix, true)
	d.Fail("kill", "Error response from daemon: boom\n")
	all := m.TerminateAll(ctx, []registry.ContainerRecord{{ID: id}}, true)
	require.Error(t, all.Err())
	assert.ErrorIs(t, all.Err(), docker.ErrOperationFailed)
	assert.False(t, errors.Is(all.Err(), docker.ErrPartialFailure))
}

func TestCleanupNeverTouchesInUse(t *testing.T) {
	ctx := context.Background()
	m, reg, d := newTestManager(t)

	exitedOrphan := d.AddContainer(prefix+"-fuzzing-00000001", prefix, false)
	runningOrphan := d.AddContainer(prefix+"-command-00000002", prefix, true)
	inUseRunning := d.AddContainer(prefix+"-terminal-00000003", prefix, true)
	inUseExited := d.AddContainer(prefix+"-fuzzing-00000004", prefix, false)

	inUse := func(rec registry.ContainerRecord) bool {
		return rec.ID == inUseRunning || rec.ID == inUseExited
	}
	records, err := reg.Refresh(ctx)
	require.NoError(t, err)
	records = append(records, registry.ContainerRecord{ID: "foreign", Name: "cf-other-command-1"})

	// 不处理运行中的容器
	res := m.CleanupOrphaned(ctx, records, CleanupOptions{InUse: inUse})
	assert.Equal(t, []string{exitedOrphan}, res.Removed)
	assert.Empty(t, res.Declined)
	assert.NoError(t, res.Err())

	records, err = reg.Refresh(ctx)
	require.NoError(t, err)

	// 用户拒绝
	asked := 0
	res = m.CleanupOrphaned(ctx, records, CleanupOptions{
		IncludeRunning: true,
		InUse:          inUse,
		Confirm:        func(registry.ContainerRecord) bool { asked++; return false },
	})
	assert.Empty(t, res.Removed)
	assert.Equal(t, []string{runningOrphan}, res.Declined)
	assert.Equal(t, 1, asked)
	_, ok := d.Container(runningOrphan)
	assert.True(t, ok)

	// 用户确认
	res = m.CleanupOrphaned(ctx, records, CleanupOptions{
		IncludeRunning: true,
		InUse:          inUse,
		Confirm:        func(registry.ContainerRecord) bool { return true },
	})
	assert.Equal(t, []string{runningOrphan}, res.Removed)

	_, ok = d.Container(inUseRunning)
	assert.True(t, ok)
	_, ok = d.Container(inUseExited)
	assert.True(t, ok)
	for _, call := range d.Calls() {
		if call[0] == "rm" {
			assert.NotContains(t, call, inUseRunning)
			assert.NotContains(t, call, inUseExited)
		}
	}
}

func TestCleanupWithoutConfirmDeclines(t *testing.T) {
	ctx := context.Background()
	m, reg, d := newTestManager(t)
	running := d.AddContainer(prefix+"-command-00000002", prefix, true)

	records, err := reg.Refresh(ctx)
	require.NoError(t, err)
	res := m.CleanupOrphaned(ctx, records, CleanupOptions{IncludeRunning: true})
	assert.Equal(t, []string{running}, res.Declined)
	assert.Equal(t, 0, d.CountVerb("rm"))
}

func TestCleanupTreatsPausedAsRunning(t *testing.T) {
	ctx := context.Background()
	m, reg, d := newTestManager(t)
	paused := d.AddContainer(prefix+"-fuzzing-00000001", prefix, true)
	d.SetPaused(paused, true)

	records, err := reg.Refresh(ctx)
	require.NoError(t, err)

	res := m.CleanupOrphaned(ctx, records, CleanupOptions{})
	assert.Empty(t, res.Removed)
	assert.NoError(t, res.Err())
	assert.Equal(t, 0, d.CountVerb("rm"))

	res = m.CleanupOrphaned(ctx, records, CleanupOptions{
		IncludeRunning: true,
		Confirm:        func(registry.ContainerRecord) bool { return true },
	})
	assert.Equal(t, []string{paused}, res.Removed)
	assert.NoError(t, res.Err())

	other := d.AddContainer(prefix+"-command-00000002", prefix, true)
	d.SetPaused(other, true)
	active, err := reg.ListActive(ctx)
	require.NoError(t, err)
	all := m.TerminateAll(ctx, active, false)
	assert.Equal(t, []string{other}, all.Succeeded)
	assert.NoError(t, all.Err())
	assert.Empty(t, d.RunningIDs())
}

func TestShellAndLogs(t *testing.T) {
	ctx := context.Background()
	m, _, d := newTestManager(t)
	id := d.AddContainer(prefix+"-terminal-00000001", prefix, true)
	d.SetLogs(id, "line one\nline two\n")

	var out bytes.Buffer
	require.NoError(t, m.Shell(ctx, id, "", docker.Streams{Stdout: &out}))
	assert.Equal(t, []string{"exec", "-it", id, "/bin/bash"}, d.Calls()[0])

	rc, err := m.Logs(ctx, id)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(data))

	require.NoError(t, m.Stop(ctx, id, false))
	err = m.Shell(ctx, id, "/bin/zsh", docker.Streams{})
	require.Error(t, err)
	assert.True(t, docker.IsNotRunning(err))
}

func TestConfirmationCapabilities(t *testing.T) {
	assert.True(t, RequiresConfirmation(OpStop))
	assert.True(t, RequiresConfirmation(OpKill))
	assert.True(t, RequiresConfirmation(OpTerminateAll))
	assert.True(t, RequiresConfirmation(OpRemoveRunningOrphan))
	assert.False(t, RequiresConfirmation(OpLaunch))
	assert.False(t, RequiresConfirmation(OpRemoveOrphan))

	ops := ConfirmationSensitive()
	ops[0] = OpLaunch
	assert.True(t, RequiresConfirmation(OpStop), "returned slice is a copy")
}

func TestWaitStopped(t *testing.T) {
	ctx := context.Background()
	m, _, d := newTestManager(t)
	id := d.AddContainer(prefix+"-command-00000001", prefix, true)
	d.SetListLag(2)

	require.NoError(t, m.Stop(ctx, id, false))
	require.NoError(t, m.WaitStopped(ctx, []string{id}, 5, 0))
	assert.GreaterOrEqual(t, d.CountVerb("ps"), 3)
}
