package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	session    Session
	containers map[string]bool
	expiresAt  time.Time
}

// memoryStore 进程内存储，只能看到本进程的会话
type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
	now      func() time.Time
}

// NewMemory 创建内存存储
func NewMemory() Store {
	return newMemoryStore(time.Now)
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{
		sessions: make(map[string]*memoryEntry),
		now:      now,
	}
}

func (ms *memoryStore) Ping(ctx context.Context) error {
	return nil
}

func (ms *memoryStore) Register(ctx context.Context, session *Session, ttl time.Duration) error {
	if session == nil || session.ID == "" {
		return errInvalidSession
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry := &memoryEntry{
		session:    *session,
		containers: make(map[string]bool),
		expiresAt:  ms.now().Add(ttl),
	}
	entry.session.Containers = nil
	for _, id := range session.Containers {
		entry.containers[id] = true
	}
	ms.sessions[session.ID] = entry
	return nil
}

// liveLocked 返回未过期的会话，过期的顺便清理
func (ms *memoryStore) liveLocked(sessionID string) (*memoryEntry, bool) {
	entry, ok := ms.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if !ms.now().Before(entry.expiresAt) {
		delete(ms.sessions, sessionID)
		return nil, false
	}
	return entry, true
}

func (ms *memoryStore) Heartbeat(ctx context.Context, sessionID string, ttl time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	entry, ok := ms.liveLocked(sessionID)
	if !ok {
		return ErrNotFound
	}
	entry.expiresAt = ms.now().Add(ttl)
	return nil
}

func (ms *memoryStore) AddContainer(ctx context.Context, sessionID, containerID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	entry, ok := ms.liveLocked(sessionID)
	if !ok {
		return ErrNotFound
	}
	entry.containers[containerID] = true
	return nil
}

func (ms *memoryStore) RemoveContainer(ctx context.Context, sessionID, containerID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	entry, ok := ms.liveLocked(sessionID)
	if !ok {
		return ErrNotFound
	}
	delete(entry.containers, containerID)
	return nil
}

func (ms *memoryStore) Sessions(ctx context.Context, prefix string) ([]*Session, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []*Session
	for id := range ms.sessions {
		entry, ok := ms.liveLocked(id)
		if !ok || entry.session.Prefix != prefix {
			continue
		}
		s := entry.session
		for cid := range entry.containers {
			s.Containers = append(s.Containers, cid)
		}
		sort.Strings(s.Containers)
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (ms *memoryStore) Unregister(ctx context.Context, sessionID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.sessions, sessionID)
	return nil
}

func (ms *memoryStore) Close() error {
	return nil
}
