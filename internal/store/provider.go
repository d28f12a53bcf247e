package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

const (
	MemoryStoreType = "memory"
	RedisStoreType  = "redis"
)

const pingTimeout = 3 * time.Second

// Open 按类型创建存储，默认为内存存储
// redis 存储让同一台机器上的多个实例互相看到对方的会话
func Open(storeType string, redis RedisOptions) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(storeType)) {
	case "", MemoryStoreType:
		return NewMemory(), nil
	case RedisStoreType:
		s, err := NewRedis(redis)
		if err != nil {
			return nil, fmt.Errorf("init redis store failed: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("redis store unreachable: %w", err)
		}
		klog.InfoS("init redis store successfully", "addr", redis.Addr)
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %v", storeType)
	}
}
