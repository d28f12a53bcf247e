// Package state 根据外部实际状态计算工作区就绪快照，并推送给订阅者。
package state

import (
	"context"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// Synchronizer 就绪状态同步器
// 每次刷新都从标记文件、镜像和容器列表重新计算完整快照
type Synchronizer struct {
	marker    MarkerProbe
	images    ImageProbe
	imageName string
	lister    ContainerLister

	// pubMu 保证快照按序号顺序送达订阅者
	pubMu sync.Mutex

	mu          sync.Mutex
	current     Snapshot
	started     uint64 // 已开始的刷新序号
	applied     uint64 // 已发布结果对应的刷新序号
	subscribers map[int]func(Snapshot)
	nextSubID   int

	trigger chan struct{}
	now     func() time.Time
}

// NewSynchronizer 创建同步器
func NewSynchronizer(marker MarkerProbe, images ImageProbe, imageName string, lister ContainerLister) *Synchronizer {
	return &Synchronizer{
		marker:      marker,
		images:      images,
		imageName:   imageName,
		lister:      lister,
		subscribers: make(map[int]func(Snapshot)),
		trigger:     make(chan struct{}, 1),
		now:         time.Now,
	}
}

// Current 返回最近发布的快照
func (s *Synchronizer) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe 注册回调，每次发布都会收到完整快照，返回取消订阅函数
// 回调在发布者的 goroutine 中同步执行，不能在回调里再调用 Refresh 或 SetLoading
func (s *Synchronizer) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

// Refresh 重新探测并发布快照
// 如果在本次刷新开始之后启动的刷新已经发布，本次结果被丢弃
func (s *Synchronizer) Refresh(ctx context.Context) Snapshot {
	s.pubMu.Lock()
	s.mu.Lock()
	s.started++
	seq := s.started
	// 首次刷新先发布 Checking，订阅者可以看到 Unknown → Checking
	var (
		checking Snapshot
		subs     []func(Snapshot)
	)
	first := s.current.Phase == PhaseUnknown
	if first {
		next := s.current
		next.Phase = PhaseChecking
		checking, subs = s.publishLocked(next)
	}
	s.mu.Unlock()
	if first {
		deliver(subs, checking)
	}
	s.pubMu.Unlock()

	initialized, built, count := s.probe(ctx)

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	if seq < s.applied {
		klog.V(4).Infof("discarding stale refresh %d (applied %d)", seq, s.applied)
		snap := s.current
		s.mu.Unlock()
		return snap
	}
	s.applied = seq
	next := s.current
	next.IsInitialized = initialized
	next.IsBuilt = built
	next.ContainerCount = count
	next.Phase = phaseOf(initialized, built)
	next.CheckedAt = s.now()
	snap, subs := s.publishLocked(next)
	s.mu.Unlock()

	deliver(subs, snap)
	return snap
}

// probe 执行三个探测，失败时降级为 false/0
func (s *Synchronizer) probe(ctx context.Context) (initialized, built bool, count int) {
	var err error
	if s.marker != nil {
		initialized, err = s.marker.Exists(ctx)
		if err != nil {
			klog.ErrorS(err, "marker probe failed")
			initialized = false
		}
	}

	// 未初始化时不检查镜像
	if initialized && s.images != nil {
		built, err = s.images.Exists(ctx, s.imageName)
		if err != nil {
			klog.ErrorS(err, "image probe failed", "image", s.imageName)
			built = false
		}
	}

	if s.lister != nil {
		active, err := s.lister.ListActive(ctx)
		if err != nil {
			klog.ErrorS(err, "container listing failed")
		} else {
			count = len(active)
		}
	}
	return initialized, built, count
}

// SetLoading 设置加载状态并发布快照
func (s *Synchronizer) SetLoading(loading bool, label string) Snapshot {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	next := s.current
	next.IsLoading = loading
	next.LoadingLabel = label
	if !loading {
		next.LoadingLabel = ""
	}
	snap, subs := s.publishLocked(next)
	s.mu.Unlock()

	deliver(subs, snap)
	return snap
}

// publishLocked 更新当前快照，返回需要通知的订阅者
func (s *Synchronizer) publishLocked(next Snapshot) (Snapshot, []func(Snapshot)) {
	next.Seq = s.current.Seq + 1
	s.current = next

	subs := make([]func(Snapshot), 0, len(s.subscribers))
	for i := 0; i < s.nextSubID; i++ {
		if fn, ok := s.subscribers[i]; ok {
			subs = append(subs, fn)
		}
	}
	return next, subs
}

func deliver(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

// Trigger 请求一次异步刷新，由 Run 处理；已有待处理请求时合并
func (s *Synchronizer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run 定期刷新，直到 ctx 结束
// interval <= 0 时只响应 Trigger
func (s *Synchronizer) Run(ctx context.Context, interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.Refresh(ctx)
		case <-s.trigger:
			s.Refresh(ctx)
		}
	}
}

// WaitFor 反复刷新直到 pred 成立或达到次数上限
func (s *Synchronizer) WaitFor(ctx context.Context, pred func(Snapshot) bool, attempts int, interval time.Duration) (Snapshot, bool) {
	if attempts < 1 {
		attempts = 1
	}
	var snap Snapshot
	for i := 0; i < attempts; i++ {
		snap = s.Refresh(ctx)
		if pred(snap) {
			return snap, true
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return snap, false
		case <-time.After(interval):
		}
	}
	return snap, false
}
