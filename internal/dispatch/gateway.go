// Package dispatch 将界面触发的命令串行化为生命周期操作，同一时间只允许一个命令执行。
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"cfdock/internal/state"
)

const (
	DefaultSettleDelay      = 750 * time.Millisecond
	DefaultConvergeAttempts = 5
	DefaultPollInterval     = 500 * time.Millisecond
	DefaultHistorySize      = 50

	resyncTimeout = 30 * time.Second
)

// Handler 命令处理函数
type Handler func(ctx context.Context, args []string) error

// Command 可分发的命令
type Command struct {
	Name  string
	Label string // 加载状态显示的文字
	// LabelFunc 每次执行时解析显示文字（如随界面语言切换），优先于 Label
	LabelFunc func() string
	// Sensitive 为 true 时执行前需要确认
	Sensitive bool
	// SensitiveIf 根据参数判断是否需要确认，优先于 Sensitive
	SensitiveIf func(args []string) bool
	Run         Handler
	// Converged 命令完成后等待状态收敛的条件，nil 时只刷新一次
	Converged func(args []string, snap state.Snapshot) bool
}

// RequiresConfirmation 判断本次调用是否需要确认
func (c Command) RequiresConfirmation(args []string) bool {
	if c.SensitiveIf != nil {
		return c.SensitiveIf(args)
	}
	return c.Sensitive
}

// DisplayLabel 返回当前应显示的文字
func (c Command) DisplayLabel() string {
	if c.LabelFunc != nil {
		return c.LabelFunc()
	}
	return c.Label
}

// Confirmer 由调用方提供的确认回调，返回 false 表示拒绝
type Confirmer func(ctx context.Context, cmd Command, args []string) bool

// StateSink 网关依赖的状态接口，由 state.Synchronizer 实现
type StateSink interface {
	SetLoading(loading bool, label string) state.Snapshot
	WaitFor(ctx context.Context, pred func(state.Snapshot) bool, attempts int, interval time.Duration) (state.Snapshot, bool)
}

// Options 网关配置
type Options struct {
	SettleDelay      time.Duration
	ConvergeAttempts int
	PollInterval     time.Duration
	HistorySize      int
	Confirm          Confirmer
}

// Gateway 命令分发网关
type Gateway struct {
	sink StateSink
	opts Options

	mu       sync.RWMutex
	commands map[string]Command

	busy atomic.Bool

	histMu  sync.Mutex
	history []Outcome

	resyncs sync.WaitGroup
}

// New 创建网关
func New(sink StateSink, opts Options) *Gateway {
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.ConvergeAttempts <= 0 {
		opts.ConvergeAttempts = DefaultConvergeAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	return &Gateway{
		sink:     sink,
		opts:     opts,
		commands: make(map[string]Command),
	}
}

// Register 注册命令，同名命令会被覆盖
func (g *Gateway) Register(cmd Command) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commands[cmd.Name] = cmd
}

// Lookup 查找命令
func (g *Gateway) Lookup(name string) (Command, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cmd, ok := g.commands[name]
	return cmd, ok
}

// Commands 返回按名称排序的命令列表
func (g *Gateway) Commands() []Command {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Command, 0, len(g.commands))
	for _, cmd := range g.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Busy 是否有命令在执行
func (g *Gateway) Busy() bool {
	return g.busy.Load()
}

// SetConfirmer 设置确认回调
func (g *Gateway) SetConfirmer(c Confirmer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opts.Confirm = c
}

// Dispatch 执行命令并返回最终结果
// 已有命令执行时立即拒绝，不执行任何 docker 调用
func (g *Gateway) Dispatch(ctx context.Context, name string, args ...string) Outcome {
	out := Outcome{
		ID:        uuid.New().String(),
		Command:   name,
		Args:      args,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}

	cmd, ok := g.Lookup(name)
	if !ok {
		out.Status = StatusFailed
		out.Err = fmt.Errorf("%w: %s", ErrUnknownCommand, name)
		return g.finish(out)
	}

	if !g.busy.CompareAndSwap(false, true) {
		out.Status = StatusRejected
		out.Err = ErrBusy
		klog.V(2).InfoS("command rejected, gateway busy", "command", name)
		return g.finish(out)
	}
	defer g.busy.Store(false)

	if cmd.RequiresConfirmation(args) {
		g.mu.RLock()
		confirm := g.opts.Confirm
		g.mu.RUnlock()
		if confirm == nil || !confirm(ctx, cmd, args) {
			out.Status = StatusDeclined
			out.Declined = true
			klog.InfoS("command declined", "command", name)
			return g.finish(out)
		}
	}

	out.Status = StatusRunning
	g.sink.SetLoading(true, cmd.DisplayLabel())
	err := g.invoke(ctx, cmd, args)
	g.sink.SetLoading(false, "")
	g.scheduleResync(cmd, args)

	out.Err = err
	out.Success = err == nil
	out.Status = StatusCompleted
	if err != nil {
		out.Status = StatusFailed
	}
	return g.finish(out)
}

// invoke 执行处理函数，panic 会被转换为错误
func (g *Gateway) invoke(ctx context.Context, cmd Command, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %s panicked: %v", cmd.Name, r)
			klog.ErrorS(err, "recovered from panic", "command", cmd.Name)
		}
	}()
	if cmd.Run == nil {
		return fmt.Errorf("command %s has no handler", cmd.Name)
	}
	return cmd.Run(ctx, args)
}

// scheduleResync 延迟一段时间后执行一次重新同步
// 有收敛条件时在限定次数内轮询直到满足
func (g *Gateway) scheduleResync(cmd Command, args []string) {
	pred := func(state.Snapshot) bool { return true }
	attempts := 1
	if cmd.Converged != nil {
		pred = func(s state.Snapshot) bool { return cmd.Converged(args, s) }
		attempts = g.opts.ConvergeAttempts
	}

	g.resyncs.Add(1)
	time.AfterFunc(g.opts.SettleDelay, func() {
		defer g.resyncs.Done()
		ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
		defer cancel()
		if _, ok := g.sink.WaitFor(ctx, pred, attempts, g.opts.PollInterval); !ok {
			klog.InfoS("state did not converge after command", "command", cmd.Name, "attempts", attempts)
		}
	})
}

// CancelIndicator 只清除加载指示，正在执行的 docker 进程不会被终止
func (g *Gateway) CancelIndicator() {
	g.sink.SetLoading(false, "")
}

// WaitIdle 等待所有延迟同步完成
func (g *Gateway) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.resyncs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History 返回最近的命令结果，最新的在最后
func (g *Gateway) History() []Outcome {
	g.histMu.Lock()
	defer g.histMu.Unlock()
	out := make([]Outcome, len(g.history))
	copy(out, g.history)
	return out
}

func (g *Gateway) finish(out Outcome) Outcome {
	out.Duration = time.Since(out.StartedAt)

	g.histMu.Lock()
	g.history = append(g.history, out)
	if len(g.history) > g.opts.HistorySize {
		g.history = g.history[len(g.history)-g.opts.HistorySize:]
	}
	g.histMu.Unlock()

	if out.Err != nil && out.Status == StatusFailed {
		klog.ErrorS(out.Err, "command failed", "command", out.Command, "id", out.ID)
	} else {
		klog.V(2).InfoS("command finished", "command", out.Command, "status", out.Status, "duration", out.Duration)
	}
	return out
}
