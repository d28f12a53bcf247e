package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfdock/internal/docker/dockertest"
	"cfdock/internal/image"
	"cfdock/internal/lifecycle"
	"cfdock/internal/registry"
)

type fixture struct {
	dir    string
	marker string
	name   string
	daemon *dockertest.Daemon
	reg    *registry.Registry
	sync   *Synchronizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	name := image.NameFor(dir)
	d := dockertest.New()
	reg := registry.New(d, name)
	marker := filepath.Join(dir, ".cfdock", "Dockerfile")
	return &fixture{
		dir:    dir,
		marker: marker,
		name:   name,
		daemon: d,
		reg:    reg,
		sync:   NewSynchronizer(FileMarker{Path: marker}, image.NewResolver(d), name, reg),
	}
}

func (f *fixture) writeMarker(t *testing.T) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(f.marker), 0o755))
	require.NoError(t, os.WriteFile(f.marker, []byte("FROM alpine\n"), 0o644))
}

func TestReadinessScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	assert.Equal(t, PhaseUnknown, f.sync.Current().Phase)

	snap := f.sync.Refresh(ctx)
	assert.False(t, snap.IsInitialized)
	assert.False(t, snap.IsBuilt)
	assert.Equal(t, 0, snap.ContainerCount)
	assert.Equal(t, PhaseNotInitialized, snap.Phase)

	f.writeMarker(t)
	snap = f.sync.Refresh(ctx)
	assert.True(t, snap.IsInitialized)
	assert.False(t, snap.IsBuilt)
	assert.Equal(t, PhaseNotBuilt, snap.Phase)

	_, err := image.NewResolver(f.daemon).BuildOrPull(ctx, image.BuildOptions{
		Name:       f.name,
		Dockerfile: f.marker,
		ContextDir: f.dir,
	})
	require.NoError(t, err)
	snap = f.sync.Refresh(ctx)
	assert.True(t, snap.IsInitialized)
	assert.True(t, snap.IsBuilt)
	assert.Equal(t, 0, snap.ContainerCount)
	assert.Equal(t, PhaseReady, snap.Phase)

	m := lifecycle.NewManager(f.daemon, f.reg)
	rec, err := m.Launch(ctx, lifecycle.LaunchRequest{Type: registry.TypeTerminal, Image: f.name})
	require.NoError(t, err)
	snap = f.sync.Refresh(ctx)
	assert.Equal(t, 1, snap.ContainerCount)

	active, err := f.reg.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, rec.ID, active[0].ID)
}

func TestSnapshotCompleteWhenDaemonUnreachable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.writeMarker(t)
	f.daemon.AddImage(f.name)
	f.daemon.AddContainer(f.name+"-terminal-00000001", f.name, true)

	snap := f.sync.Refresh(ctx)
	require.True(t, snap.IsBuilt)
	require.Equal(t, 1, snap.ContainerCount)

	f.daemon.SetUnreachable(true)
	snap = f.sync.Refresh(ctx)
	assert.True(t, snap.IsInitialized)
	assert.False(t, snap.IsBuilt)
	assert.Equal(t, 0, snap.ContainerCount)
	assert.Equal(t, PhaseNotBuilt, snap.Phase)
	assert.False(t, snap.CheckedAt.IsZero())
}

func TestSubscribeReceivesCompleteSnapshotsInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var mu sync.Mutex
	var got []Snapshot
	unsubscribe := f.sync.Subscribe(func(s Snapshot) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	f.sync.SetLoading(true, "Building")
	f.sync.Refresh(ctx)
	f.sync.SetLoading(false, "")
	unsubscribe()
	unsubscribe()
	f.sync.Refresh(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 4)
	for i, s := range got {
		assert.Equal(t, uint64(i+1), s.Seq)
	}
	assert.True(t, got[0].IsLoading)
	assert.Equal(t, "Building", got[0].LoadingLabel)
	assert.Equal(t, PhaseChecking, got[1].Phase)
	assert.True(t, got[2].IsLoading, "refresh keeps loading flag")
	assert.Equal(t, PhaseNotInitialized, got[2].Phase)
	assert.False(t, got[3].IsLoading)
	assert.Empty(t, got[3].LoadingLabel)
}

func TestFirstRefreshPublishesChecking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var phases []Phase
	f.sync.Subscribe(func(s Snapshot) { phases = append(phases, s.Phase) })

	f.sync.Refresh(ctx)
	f.sync.Refresh(ctx)
	assert.Equal(t, []Phase{PhaseChecking, PhaseNotInitialized, PhaseNotInitialized}, phases)
}

// blockingLister 第一次调用时阻塞，用于构造乱序完成的刷新
type blockingLister struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (l *blockingLister) ListActive(ctx context.Context) ([]registry.ContainerRecord, error) {
	l.mu.Lock()
	l.calls++
	first := l.calls == 1
	l.mu.Unlock()
	if first {
		close(l.entered)
		<-l.release
		return []registry.ContainerRecord{{ID: "old"}}, nil
	}
	return []registry.ContainerRecord{{ID: "a"}, {ID: "b"}}, nil
}

func TestStaleRefreshDiscarded(t *testing.T) {
	ctx := context.Background()
	lister := &blockingLister{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewSynchronizer(nil, nil, "", lister)

	done := make(chan Snapshot)
	go func() { done <- s.Refresh(ctx) }()
	<-lister.entered

	newer := s.Refresh(ctx)
	assert.Equal(t, 2, newer.ContainerCount)

	close(lister.release)
	older := <-done
	assert.Equal(t, 2, older.ContainerCount)
	assert.Equal(t, 2, s.Current().ContainerCount)
	assert.Equal(t, newer.Seq, s.Current().Seq)
}

type flakyImages struct {
	mu    sync.Mutex
	calls int
	ready int
}

func (f *flakyImages) Exists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls < f.ready {
		return false, errors.New("not yet")
	}
	return true, nil
}

type alwaysMarker struct{}

func (alwaysMarker) Exists(context.Context) (bool, error) { return true, nil }

func TestWaitForConverges(t *testing.T) {
	ctx := context.Background()
	images := &flakyImages{ready: 3}
	s := NewSynchronizer(alwaysMarker{}, images, "cf-x", nil)

	snap, ok := s.WaitFor(ctx, func(s Snapshot) bool { return s.IsBuilt }, 5, time.Millisecond)
	assert.True(t, ok)
	assert.True(t, snap.IsBuilt)
	assert.Equal(t, 3, images.calls)

	images = &flakyImages{ready: 10}
	s = NewSynchronizer(alwaysMarker{}, images, "cf-x", nil)
	_, ok = s.WaitFor(ctx, func(s Snapshot) bool { return s.IsBuilt }, 2, time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, 2, images.calls)
}

func TestRunRefreshesOnTrigger(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan Snapshot, 10)
	f.sync.Subscribe(func(s Snapshot) { updates <- s })

	go f.sync.Run(ctx, 0)
	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("initial refresh not published")
	}

	f.writeMarker(t)
	f.sync.Trigger()
	require.Eventually(t, func() bool {
		return f.sync.Current().IsInitialized
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileMarker(t *testing.T) {
	dir := t.TempDir()
	ok, err := FileMarker{Path: filepath.Join(dir, "missing")}.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = FileMarker{Path: dir}.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "directories are not markers")
}
