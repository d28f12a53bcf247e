package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

var errInvalidSession = errors.New("session id is required")

type redisStore struct {
	cli             *redisv9.Client
	sessionPrefix   string
	workspacePrefix string
}

// RedisOptions redis 连接参数
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// makeRedisOptions 校验并生成 go-redis 配置
func makeRedisOptions(opts RedisOptions) (*redisv9.Options, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("missing redis address (REDIS_ADDR)")
	}
	return &redisv9.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}, nil
}

// NewRedis 创建 redis 存储
func NewRedis(opts RedisOptions) (Store, error) {
	redisOptions, err := makeRedisOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("make redis options failed: %w", err)
	}
	return newRedisStore(redisv9.NewClient(redisOptions)), nil
}

func newRedisStore(cli *redisv9.Client) *redisStore {
	return &redisStore{
		cli:             cli,
		sessionPrefix:   "cfdock:session:",
		workspacePrefix: "cfdock:workspace:",
	}
}

func (rs *redisStore) sessionKey(sessionID string) string {
	return rs.sessionPrefix + sessionID
}

func (rs *redisStore) containersKey(sessionID string) string {
	return rs.sessionPrefix + sessionID + ":containers"
}

func (rs *redisStore) workspaceKey(prefix string) string {
	return rs.workspacePrefix + prefix
}

func (rs *redisStore) Ping(ctx context.Context) error {
	resp, err := rs.cli.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("ping error: %w", err)
	}
	if resp != "PONG" {
		return fmt.Errorf("unexpected ping response: %s", resp)
	}
	return nil
}

// Register SET cfdock:session:{id} -> Session(JSON) 并加入工作区集合
func (rs *redisStore) Register(ctx context.Context, session *Session, ttl time.Duration) error {
	if session == nil || session.ID == "" {
		return errInvalidSession
	}
	b, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("Register: marshal session failed: %w", err)
	}

	pipe := rs.cli.TxPipeline()
	pipe.Set(ctx, rs.sessionKey(session.ID), b, ttl)
	pipe.Del(ctx, rs.containersKey(session.ID))
	if len(session.Containers) > 0 {
		members := make([]interface{}, len(session.Containers))
		for i, id := range session.Containers {
			members[i] = id
		}
		pipe.SAdd(ctx, rs.containersKey(session.ID), members...)
		pipe.Expire(ctx, rs.containersKey(session.ID), ttl)
	}
	pipe.SAdd(ctx, rs.workspaceKey(session.Prefix), session.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("Register: redis pipeline EXEC: %w", err)
	}
	return nil
}

func (rs *redisStore) Heartbeat(ctx context.Context, sessionID string, ttl time.Duration) error {
	ok, err := rs.cli.Expire(ctx, rs.sessionKey(sessionID), ttl).Result()
	if err != nil {
		return fmt.Errorf("Heartbeat: redis EXPIRE failed: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	// 容器集合可能为空（不存在），忽略结果
	rs.cli.Expire(ctx, rs.containersKey(sessionID), ttl)
	return nil
}

func (rs *redisStore) AddContainer(ctx context.Context, sessionID, containerID string) error {
	n, err := rs.cli.Exists(ctx, rs.sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("AddContainer: redis EXISTS failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	ttl, err := rs.cli.TTL(ctx, rs.sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("AddContainer: redis TTL failed: %w", err)
	}

	pipe := rs.cli.TxPipeline()
	pipe.SAdd(ctx, rs.containersKey(sessionID), containerID)
	if ttl > 0 {
		pipe.Expire(ctx, rs.containersKey(sessionID), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("AddContainer: redis pipeline EXEC: %w", err)
	}
	return nil
}

func (rs *redisStore) RemoveContainer(ctx context.Context, sessionID, containerID string) error {
	if err := rs.cli.SRem(ctx, rs.containersKey(sessionID), containerID).Err(); err != nil {
		return fmt.Errorf("RemoveContainer: redis SREM failed: %w", err)
	}
	return nil
}

// Sessions 读取工作区集合中的会话，已过期的会话从集合中移除
func (rs *redisStore) Sessions(ctx context.Context, prefix string) ([]*Session, error) {
	ids, err := rs.cli.SMembers(ctx, rs.workspaceKey(prefix)).Result()
	if err != nil {
		return nil, fmt.Errorf("Sessions: redis SMEMBERS failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	sessionCmds := make([]*redisv9.StringCmd, len(ids))
	containerCmds := make([]*redisv9.StringSliceCmd, len(ids))
	pipe := rs.cli.Pipeline()
	for i, id := range ids {
		sessionCmds[i] = pipe.Get(ctx, rs.sessionKey(id))
		containerCmds[i] = pipe.SMembers(ctx, rs.containersKey(id))
	}
	// 存在 key 不存在的情况，错误按命令逐个检查
	_, _ = pipe.Exec(ctx)

	var out []*Session
	var expired []interface{}
	for i, id := range ids {
		data, err := sessionCmds[i].Bytes()
		if errors.Is(err, redisv9.Nil) {
			expired = append(expired, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("Sessions: get session %s: %w", id, err)
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("Sessions: unmarshal session %s: %w", id, err)
		}
		containers, err := containerCmds[i].Result()
		if err != nil && !errors.Is(err, redisv9.Nil) {
			return nil, fmt.Errorf("Sessions: get containers of %s: %w", id, err)
		}
		sort.Strings(containers)
		s.Containers = containers
		out = append(out, &s)
	}

	if len(expired) > 0 {
		rs.cli.SRem(ctx, rs.workspaceKey(prefix), expired...)
	}
	return out, nil
}

func (rs *redisStore) Unregister(ctx context.Context, sessionID string) error {
	b, err := rs.cli.Get(ctx, rs.sessionKey(sessionID)).Bytes()
	if err != nil && !errors.Is(err, redisv9.Nil) {
		return fmt.Errorf("Unregister: redis GET failed: %w", err)
	}

	pipe := rs.cli.TxPipeline()
	pipe.Del(ctx, rs.sessionKey(sessionID), rs.containersKey(sessionID))
	if err == nil {
		var s Session
		if json.Unmarshal(b, &s) == nil {
			pipe.SRem(ctx, rs.workspaceKey(s.Prefix), sessionID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("Unregister: redis pipeline EXEC: %w", err)
	}
	return nil
}

func (rs *redisStore) Close() error {
	return rs.cli.Close()
}
