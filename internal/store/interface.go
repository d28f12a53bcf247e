// Package store 记录当前机器上存活的工作区会话及其启动的容器，
// 用于判断某个容器是否属于存活的会话（孤儿判定）。
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 会话不存在或已过期
var ErrNotFound = errors.New("session not found")

// Session 一个存活的工作区会话
type Session struct {
	ID         string    `json:"id"`
	Workspace  string    `json:"workspace"`
	Prefix     string    `json:"prefix"`
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	StartedAt  time.Time `json:"startedAt"`
	Containers []string  `json:"-"`
}

// Owns 判断会话是否启动过该容器
func (s *Session) Owns(containerID string) bool {
	for _, id := range s.Containers {
		if id == containerID {
			return true
		}
	}
	return false
}

// Store 会话存储
// 会话带 TTL，需要定期 Heartbeat，进程异常退出后会自动过期
type Store interface {
	// Ping 检查存储是否可用
	Ping(ctx context.Context) error
	// Register 注册或覆盖会话
	Register(ctx context.Context, session *Session, ttl time.Duration) error
	// Heartbeat 延长会话有效期
	Heartbeat(ctx context.Context, sessionID string, ttl time.Duration) error
	// AddContainer 记录会话启动的容器
	AddContainer(ctx context.Context, sessionID, containerID string) error
	// RemoveContainer 移除会话的容器记录
	RemoveContainer(ctx context.Context, sessionID, containerID string) error
	// Sessions 返回某个工作区前缀下所有存活的会话
	Sessions(ctx context.Context, prefix string) ([]*Session, error)
	// Unregister 删除会话
	Unregister(ctx context.Context, sessionID string) error
	// Close 释放资源
	Close() error
}
