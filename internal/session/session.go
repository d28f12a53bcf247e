// Package session 组装一个工作区会话：docker CLI、注册表、生命周期操作、状态同步和命令网关。
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"cfdock/internal/config"
	"cfdock/internal/dispatch"
	"cfdock/internal/docker"
	"cfdock/internal/image"
	"cfdock/internal/lifecycle"
	"cfdock/internal/registry"
	"cfdock/internal/state"
	"cfdock/internal/store"
)

// Session 一个工作区会话持有的全部状态，多个会话之间互不影响
type Session struct {
	ID     string
	Prefix string

	cfg       *config.Config
	runner    docker.Runner
	store     store.Store
	Images    *image.Resolver
	Registry  *registry.Registry
	Lifecycle *lifecycle.Manager
	State     *state.Synchronizer
	Gateway   *dispatch.Gateway

	mu         sync.Mutex
	launched   map[string]bool
	lastLaunch string // 最近一次启动的容器，用于判断启动命令是否收敛
	confirm    func(registry.ContainerRecord) bool

	stopHeartbeat context.CancelFunc
	heartbeatDone chan struct{}
}

// New 创建会话，st 为 nil 时使用内存存储
func New(cfg *config.Config, runner docker.Runner, st store.Store) *Session {
	if st == nil {
		st = store.NewMemory()
	}
	prefix := image.NameFor(cfg.Workspace)
	reg := registry.New(runner, prefix)
	images := image.NewResolver(runner)

	s := &Session{
		ID:        uuid.New().String(),
		Prefix:    prefix,
		cfg:       cfg,
		runner:    runner,
		store:     st,
		Images:    images,
		Registry:  reg,
		Lifecycle: lifecycle.NewManager(runner, reg, lifecycle.WithShell(cfg.DefaultShell)),
		State:     state.NewSynchronizer(state.FileMarker{Path: cfg.MarkerPath()}, images, prefix, reg),
		launched:  make(map[string]bool),
	}
	s.Gateway = dispatch.New(s.State, dispatch.Options{
		SettleDelay:      cfg.SettleDelay,
		ConvergeAttempts: cfg.Converge,
		PollInterval:     cfg.ConvergeEvery,
	})
	s.registerCommands()
	return s
}

// Config 返回会话配置
func (s *Session) Config() *config.Config {
	return s.cfg
}

// ImageName 返回工作区镜像名
func (s *Session) ImageName() string {
	return s.Prefix
}

// SetConfirmer 设置敏感命令的确认回调
func (s *Session) SetConfirmer(c dispatch.Confirmer) {
	s.Gateway.SetConfirmer(c)
}

// SetContainerConfirmer 设置清理运行中孤儿容器时的逐个确认回调
// 未设置时，命令级确认通过即视为同意
func (s *Session) SetContainerConfirmer(fn func(registry.ContainerRecord) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirm = fn
}

// Dispatch 执行命令
func (s *Session) Dispatch(ctx context.Context, name string, args ...string) dispatch.Outcome {
	return s.Gateway.Dispatch(ctx, name, args...)
}

// Subscribe 订阅就绪快照
func (s *Session) Subscribe(fn func(state.Snapshot)) func() {
	return s.State.Subscribe(fn)
}

// Start 在会话存储中注册并开始心跳
func (s *Session) Start(ctx context.Context) error {
	host, _ := os.Hostname()
	rec := &store.Session{
		ID:        s.ID,
		Workspace: s.cfg.Workspace,
		Prefix:    s.Prefix,
		PID:       os.Getpid(),
		Host:      host,
		StartedAt: time.Now().UTC(),
	}
	if err := s.store.Register(ctx, rec, s.cfg.Store.TTL); err != nil {
		return fmt.Errorf("register session: %w", err)
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	s.stopHeartbeat = cancel
	s.heartbeatDone = make(chan struct{})
	go s.heartbeat(hbCtx)

	klog.InfoS("session started", "id", s.ID, "workspace", s.cfg.Workspace, "prefix", s.Prefix)
	return nil
}

// heartbeat 定期延长会话有效期，会话过期（例如 redis 重启）时重新注册
func (s *Session) heartbeat(ctx context.Context) {
	defer close(s.heartbeatDone)

	interval := s.cfg.Store.TTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.store.Heartbeat(ctx, s.ID, s.cfg.Store.TTL)
			if errors.Is(err, store.ErrNotFound) {
				err = s.reregister(ctx)
			}
			if err != nil && ctx.Err() == nil {
				klog.ErrorS(err, "session heartbeat failed", "id", s.ID)
			}
		}
	}
}

func (s *Session) reregister(ctx context.Context) error {
	s.mu.Lock()
	containers := make([]string, 0, len(s.launched))
	for id := range s.launched {
		containers = append(containers, id)
	}
	s.mu.Unlock()

	host, _ := os.Hostname()
	return s.store.Register(ctx, &store.Session{
		ID:         s.ID,
		Workspace:  s.cfg.Workspace,
		Prefix:     s.Prefix,
		PID:        os.Getpid(),
		Host:       host,
		StartedAt:  time.Now().UTC(),
		Containers: containers,
	}, s.cfg.Store.TTL)
}

// Close 停止心跳并注销会话，不会停止容器
func (s *Session) Close(ctx context.Context) error {
	if s.stopHeartbeat != nil {
		s.stopHeartbeat()
		<-s.heartbeatDone
	}
	err := s.store.Unregister(ctx, s.ID)
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// trackOwned 记录本会话启动的容器
func (s *Session) trackOwned(ctx context.Context, id string) {
	s.mu.Lock()
	s.launched[id] = true
	s.mu.Unlock()
	if err := s.store.AddContainer(ctx, s.ID, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		klog.ErrorS(err, "failed to record container in session store", "id", id)
	}
}

func (s *Session) forgetOwned(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.launched, id)
	s.mu.Unlock()
	if err := s.store.RemoveContainer(ctx, s.ID, id); err != nil {
		klog.V(2).InfoS("failed to remove container from session store", "id", id, "err", err)
	}
}

// Owns 判断容器是否由本会话启动
func (s *Session) Owns(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launched[id]
}

// InUseFunc 返回在用判定：运行中且属于某个存活会话（包括本会话）
func (s *Session) InUseFunc(ctx context.Context) (func(registry.ContainerRecord) bool, error) {
	sessions, err := s.store.Sessions(ctx, s.Prefix)
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}
	owned := make(map[string]bool)
	for _, sess := range sessions {
		for _, id := range sess.Containers {
			owned[id] = true
		}
	}
	return func(rec registry.ContainerRecord) bool {
		if !rec.Running {
			return false
		}
		return owned[rec.ID] || s.Owns(rec.ID)
	}, nil
}
