package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfdock/internal/docker"
	"cfdock/internal/docker/dockertest"
)

const prefix = "cf-demo-0123456789ab"

func ids(records []ContainerRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestListActiveFiltersByPrefixAndState(t *testing.T) {
	d := dockertest.New()
	running := d.AddContainer(prefix+"-terminal-aaaa1111", "cf-demo", true)
	exited := d.AddContainer(prefix+"-fuzzing-bbbb2222", "cf-demo", false)
	d.AddContainer(prefix+"x-terminal-cccc3333", "cf-demo", true) // 前缀相似的其他工作区
	d.AddContainer("cf-other-terminal-dddd4444", "cf-other", true)

	r := New(d, prefix)
	active, err := r.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, running, active[0].ID)
	assert.Equal(t, TypeTerminal, active[0].Type)
	assert.False(t, active[0].CreatedAt.IsZero())

	all, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{running, exited}, ids(all))
	for _, rec := range all {
		if rec.ID == exited {
			require.NotNil(t, rec.ExitCode)
			assert.Equal(t, 0, *rec.ExitCode)
			assert.Equal(t, TypeFuzzing, rec.Type)
		}
	}

	// 每次调用都重新查询
	assert.Equal(t, 2, d.CountVerb("ps"))
}

func TestPausedContainersStayActive(t *testing.T) {
	d := dockertest.New()
	paused := d.AddContainer(prefix+"-fuzzing-aaaa1111", "cf-demo", true)
	d.SetPaused(paused, true)

	r := New(d, prefix)
	active, err := r.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, paused, active[0].ID)
	assert.True(t, active[0].Running)
	assert.Nil(t, active[0].ExitCode)
	assert.Contains(t, active[0].Status, "Paused")

	rec, err := r.Inspect(context.Background(), paused)
	require.NoError(t, err)
	assert.True(t, rec.Running)
	assert.Equal(t, "paused", rec.Status)
}

func TestObservedAfterSweep(t *testing.T) {
	ctx := context.Background()
	d := dockertest.New()
	r := New(d, prefix)

	id := d.AddContainer(prefix+"-command-aaaa1111", "cf-demo", true)
	r.TrackLaunched(id, prefix+"-command-aaaa1111", TypeCommand)
	_, ok := r.Get(id)
	assert.True(t, ok)
	assert.False(t, r.Observed(id), "optimistic insert is not confirmed yet")

	_, err := r.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, r.Observed(id))
	assert.False(t, r.Observed("missing"))
}

func TestIsLiveState(t *testing.T) {
	for _, state := range []string{"running", "paused", "restarting"} {
		assert.True(t, IsLiveState(state), state)
	}
	for _, state := range []string{"created", "exited", "dead", "removing", ""} {
		assert.False(t, IsLiveState(state), state)
	}
}

func TestListActiveReportsDaemonFailure(t *testing.T) {
	d := dockertest.New()
	d.SetUnreachable(true)

	_, err := New(d, prefix).ListActive(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, docker.ErrDaemonUnreachable)
}

func TestTrackedEntryDroppedAfterTwoMisses(t *testing.T) {
	ctx := context.Background()
	d := dockertest.New()
	r := New(d, prefix)

	r.TrackLaunched("ghost", prefix+"-terminal-00000000", TypeTerminal)
	assert.Len(t, r.Snapshot(), 1)

	_, err := r.Refresh(ctx)
	require.NoError(t, err)
	_, ok := r.Get("ghost")
	assert.True(t, ok, "one miss keeps the entry")

	_, err = r.Refresh(ctx)
	require.NoError(t, err)
	_, ok = r.Get("ghost")
	assert.False(t, ok, "second miss drops the entry")
}

func TestTrackedDuringSweepNotCounted(t *testing.T) {
	ctx := context.Background()
	d := dockertest.New()
	r := New(d, prefix)

	var once sync.Once
	d.BeforeRun = func(args []string) {
		if args[0] == "ps" {
			once.Do(func() {
				r.TrackLaunched("late", prefix+"-command-11111111", TypeCommand)
			})
		}
	}

	_, err := r.Refresh(ctx)
	require.NoError(t, err)
	_, err = r.Refresh(ctx)
	require.NoError(t, err)

	// 第一次对账开始后才插入，只有第二次计入缺席
	_, ok := r.Get("late")
	assert.True(t, ok)

	_, err = r.Refresh(ctx)
	require.NoError(t, err)
	_, ok = r.Get("late")
	assert.False(t, ok)
}

func TestTrackedEntryReconciledWithDaemon(t *testing.T) {
	ctx := context.Background()
	d := dockertest.New()
	name := prefix + "-terminal-22222222"
	id := d.AddContainer(name, "cf-demo:latest", true)

	r := New(d, prefix)
	r.TrackLaunched(id, name, TypeTerminal)
	_, err := r.ListActive(ctx)
	require.NoError(t, err)

	rec, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, "cf-demo:latest", rec.Image)
	assert.Contains(t, rec.Status, "Up")
	assert.Len(t, r.Snapshot(), 1)

	r.MarkStopped(id)
	rec, _ = r.Get(id)
	assert.False(t, rec.Running)

	// 守护进程的结果优先于乐观更新
	_, err = r.Refresh(ctx)
	require.NoError(t, err)
	rec, _ = r.Get(id)
	assert.True(t, rec.Running)
}

func TestOlderSweepDoesNotOverwriteNewer(t *testing.T) {
	r := New(dockertest.New(), prefix)
	running := ContainerRecord{ID: "x", Name: prefix + "-terminal-x", Running: true}
	exited := running
	exited.Running = false

	r.merge(2, []ContainerRecord{exited})
	r.merge(1, []ContainerRecord{running})

	rec, ok := r.Get("x")
	require.True(t, ok)
	assert.False(t, rec.Running)
}

func TestInspect(t *testing.T) {
	ctx := context.Background()
	d := dockertest.New()
	id := d.AddContainer(prefix+"-fuzzing-33333333", "cf-demo", true)
	r := New(d, prefix)

	rec, err := r.Inspect(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, prefix+"-fuzzing-33333333", rec.Name)
	assert.Equal(t, TypeFuzzing, rec.Type)
	assert.True(t, rec.Running)
	assert.Nil(t, rec.ExitCode)

	_, err = r.Inspect(ctx, "missing")
	require.Error(t, err)
	assert.True(t, docker.IsNoSuchContainer(err))
}

func TestTypeFromName(t *testing.T) {
	assert.Equal(t, TypeTerminal, TypeFromName(prefix, prefix+"-terminal-abc"))
	assert.Equal(t, TypeCommand, TypeFromName(prefix, "/"+prefix+"-command-abc"))
	assert.Equal(t, TypeUnknown, TypeFromName(prefix, prefix+"-weird-abc"))
	assert.Equal(t, TypeUnknown, TypeFromName(prefix, "cf-other-terminal-abc"))

	name := NewName(prefix, TypeFuzzing)
	assert.True(t, BelongsTo(prefix, name))
	assert.Equal(t, TypeFuzzing, TypeFromName(prefix, name))
}

func TestParseExitCode(t *testing.T) {
	code := parseExitCode("Exited (137) 5 seconds ago")
	require.NotNil(t, code)
	assert.Equal(t, 137, *code)
	assert.Nil(t, parseExitCode("Up 3 minutes"))
}
