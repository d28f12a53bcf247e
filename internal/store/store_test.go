package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*redisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rs := newRedisStore(redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { rs.Close() })
	return rs, mr
}

func newSession(id, prefix string) *Session {
	return &Session{
		ID:        id,
		Workspace: "/home/dev/" + prefix,
		Prefix:    prefix,
		PID:       4242,
		Host:      "devbox",
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestMakeRedisOptions(t *testing.T) {
	opts, err := makeRedisOptions(RedisOptions{})
	assert.Nil(t, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")

	opts, err = makeRedisOptions(RedisOptions{Addr: "127.0.0.1:6379", Password: "pwd", DB: 2})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", opts.Addr)
	assert.Equal(t, "pwd", opts.Password)
	assert.Equal(t, 2, opts.DB)
}

func TestOpen(t *testing.T) {
	s, err := Open("", RedisOptions{})
	require.NoError(t, err)
	assert.IsType(t, &memoryStore{}, s)

	s, err = Open("MEMORY", RedisOptions{})
	require.NoError(t, err)
	assert.IsType(t, &memoryStore{}, s)

	_, err = Open("redis", RedisOptions{})
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	s, err = Open("redis", RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())

	// 无法连接的 redis 在打开时就报错
	_, err = Open("redis", RedisOptions{Addr: "127.0.0.1:1"})
	assert.Error(t, err)

	_, err = Open("etcd", RedisOptions{})
	assert.Error(t, err)
}

// 两种实现共用的行为测试
func exerciseStore(t *testing.T, s Store, expire func(time.Duration)) {
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	assert.Error(t, s.Register(ctx, &Session{}, time.Minute))

	a := newSession("a", "cf-demo")
	a.Containers = []string{"c0"}
	require.NoError(t, s.Register(ctx, a, time.Minute))
	require.NoError(t, s.Register(ctx, newSession("b", "cf-demo"), 10*time.Second))
	require.NoError(t, s.Register(ctx, newSession("c", "cf-other"), 5*time.Minute))

	require.NoError(t, s.AddContainer(ctx, "a", "c1"))
	require.NoError(t, s.AddContainer(ctx, "a", "c2"))
	require.NoError(t, s.RemoveContainer(ctx, "a", "c0"))
	assert.ErrorIs(t, s.AddContainer(ctx, "missing", "c3"), ErrNotFound)

	sessions, err := s.Sessions(ctx, "cf-demo")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].ID)
	assert.Equal(t, []string{"c1", "c2"}, sessions[0].Containers)
	assert.True(t, sessions[0].Owns("c1"))
	assert.False(t, sessions[0].Owns("c0"))
	assert.Equal(t, "devbox", sessions[0].Host)

	// b 没有心跳，过期后不再可见
	expire(30 * time.Second)
	sessions, err = s.Sessions(ctx, "cf-demo")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "a", sessions[0].ID)
	assert.ErrorIs(t, s.Heartbeat(ctx, "b", time.Minute), ErrNotFound)

	require.NoError(t, s.Heartbeat(ctx, "a", time.Minute))
	expire(50 * time.Second)
	sessions, err = s.Sessions(ctx, "cf-demo")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, []string{"c1", "c2"}, sessions[0].Containers)

	require.NoError(t, s.Unregister(ctx, "a"))
	sessions, err = s.Sessions(ctx, "cf-demo")
	require.NoError(t, err)
	assert.Empty(t, sessions)

	other, err := s.Sessions(ctx, "cf-other")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestMemoryStore(t *testing.T) {
	now := time.Now()
	ms := newMemoryStore(func() time.Time { return now })
	exerciseStore(t, ms, func(d time.Duration) { now = now.Add(d) })
}

func TestRedisStore(t *testing.T) {
	rs, mr := newTestRedisStore(t)
	exerciseStore(t, rs, mr.FastForward)

	// 过期会话从工作区集合中清理
	members, err := mr.Members(rs.workspaceKey("cf-demo"))
	if err == nil {
		assert.NotContains(t, members, "b")
	}
}
