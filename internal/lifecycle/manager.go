// Package lifecycle 提供容器启动、停止、批量终止和孤儿清理等操作。
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"cfdock/internal/docker"
	"cfdock/internal/registry"
)

const (
	// DefaultShell 未配置时使用的 shell
	DefaultShell = "/bin/sh"
	// DefaultParallelism 批量操作的并发上限
	DefaultParallelism = 4

	labelWorkspace = "cfdock.workspace"
	labelType      = "cfdock.type"
)

// LaunchRequest 启动容器的请求
type LaunchRequest struct {
	Type       registry.ContainerType
	Image      string
	Command    []string // 终端容器为空时使用 shell
	Mounts     []Mount
	Env        map[string]string
	Workdir    string
	ExtraArgs  []string
	AutoRemove *bool // nil 时终端容器为 true，其余为 false
}

// Manager 容器生命周期管理
type Manager struct {
	runner      docker.Runner
	registry    *registry.Registry
	shell       string
	parallelism int
}

// Option Manager 配置项
type Option func(*Manager)

// WithShell 设置默认 shell
func WithShell(shell string) Option {
	return func(m *Manager) {
		if strings.TrimSpace(shell) != "" {
			m.shell = shell
		}
	}
}

// WithParallelism 设置批量操作并发数
func WithParallelism(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.parallelism = n
		}
	}
}

// NewManager 创建生命周期管理器
func NewManager(runner docker.Runner, reg *registry.Registry, opts ...Option) *Manager {
	m := &Manager{
		runner:      runner,
		registry:    reg,
		shell:       DefaultShell,
		parallelism: DefaultParallelism,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultShell 返回默认 shell
func (m *Manager) DefaultShell() string {
	return m.shell
}

// ConfigFor 根据请求生成 RunConfig
func (m *Manager) ConfigFor(req LaunchRequest, name string) RunConfig {
	cfg := RunConfig{
		Image:     req.Image,
		Name:      name,
		Detach:    true,
		Workdir:   req.Workdir,
		Mounts:    req.Mounts,
		Env:       req.Env,
		ExtraArgs: req.ExtraArgs,
		Command:   req.Command,
		Labels: map[string]string{
			labelWorkspace: m.registry.Prefix(),
			labelType:      req.Type.String(),
		},
	}
	if req.Type == registry.TypeTerminal {
		cfg.Interactive = true
		cfg.TTY = true
		cfg.AutoRemove = true
		if len(cfg.Command) == 0 {
			cfg.Command = []string{m.shell}
		}
	}
	if req.AutoRemove != nil {
		cfg.AutoRemove = *req.AutoRemove
	}
	return cfg
}

// Launch 启动容器并立即登记到注册表
func (m *Manager) Launch(ctx context.Context, req LaunchRequest) (registry.ContainerRecord, error) {
	if req.Image == "" {
		return registry.ContainerRecord{}, fmt.Errorf("image is required")
	}
	if req.Type != registry.TypeTerminal && len(req.Command) == 0 {
		return registry.ContainerRecord{}, fmt.Errorf("command is required for %s containers", req.Type)
	}

	name := registry.NewName(m.registry.Prefix(), req.Type)
	res, err := m.runner.Run(ctx, RunArgsFor(m.ConfigFor(req, name))...)
	if err != nil {
		return registry.ContainerRecord{}, err
	}

	id := lastLine(res.Stdout)
	if id == "" {
		return registry.ContainerRecord{}, &docker.Error{
			Kind:    docker.KindOperationFailed,
			Args:    res.Args,
			Stderr:  res.Stderr,
			Message: "docker run returned no container id",
		}
	}

	rec := m.registry.TrackLaunched(id, name, req.Type)
	rec.Image = req.Image
	klog.InfoS("container launched", "id", rec.ShortID(), "name", name, "type", req.Type)
	return rec, nil
}

// Stop 停止（force 时强制终止）容器
// 容器不存在或已停止都视为成功
func (m *Manager) Stop(ctx context.Context, id string, force bool) error {
	verb := "stop"
	if force {
		verb = "kill"
	}

	if _, err := m.runner.Run(ctx, verb, id); err != nil {
		if docker.IsNoSuchContainer(err) || docker.IsNotRunning(err) {
			klog.V(2).InfoS("container already stopped", "id", id, "verb", verb)
			m.registry.MarkStopped(id)
			return nil
		}
		return err
	}
	m.registry.MarkStopped(id)
	return nil
}

// Failure 单个容器的失败信息
type Failure struct {
	ID  string
	Err error
}

// TerminateResult 批量终止结果
type TerminateResult struct {
	Total     int
	Succeeded []string
	Failed    []Failure
}

// Err 汇总错误：全部失败为 OperationFailed，部分失败为 PartialFailure
func (r TerminateResult) Err() error {
	return aggregate(r.Total, len(r.Succeeded), r.Failed)
}

// FailureFor 返回指定容器的失败原因
func (r TerminateResult) FailureFor(id string) error {
	for _, f := range r.Failed {
		if f.ID == id {
			return f.Err
		}
	}
	return nil
}

// TerminateAll 逐个终止容器，单个失败不会影响其他容器
func (m *Manager) TerminateAll(ctx context.Context, records []registry.ContainerRecord, force bool) TerminateResult {
	errs := make([]error, len(records))

	g := new(errgroup.Group)
	g.SetLimit(m.parallelism)
	for i, rec := range records {
		g.Go(func() error {
			// 每个任务只写自己的槽位
			errs[i] = m.Stop(ctx, rec.ID, force)
			return nil
		})
	}
	_ = g.Wait()

	result := TerminateResult{Total: len(records)}
	for i, rec := range records {
		if errs[i] != nil {
			result.Failed = append(result.Failed, Failure{ID: rec.ID, Err: errs[i]})
			continue
		}
		result.Succeeded = append(result.Succeeded, rec.ID)
	}
	if len(result.Failed) > 0 {
		klog.ErrorS(result.Err(), "bulk termination incomplete", "failed", len(result.Failed), "total", result.Total)
	}
	return result
}

// CleanupOptions 孤儿清理选项
type CleanupOptions struct {
	// IncludeRunning 是否处理运行中的孤儿容器，需配合 Confirm
	IncludeRunning bool
	// Confirm 删除运行中容器前调用，返回 false 表示用户拒绝
	Confirm func(registry.ContainerRecord) bool
	// InUse 返回 true 的容器永远不会被删除
	InUse func(registry.ContainerRecord) bool
}

// SkipReason 跳过原因
type SkipReason string

const (
	SkipForeign SkipReason = "foreign"
	SkipInUse   SkipReason = "in-use"
	SkipRunning SkipReason = "running"
)

// Skipped 被跳过的容器
type Skipped struct {
	ID     string
	Reason SkipReason
}

// CleanupResult 孤儿清理结果
type CleanupResult struct {
	Removed  []string
	Skipped  []Skipped
	Declined []string
	Failed   []Failure
}

// Err 删除失败时返回错误，用户拒绝不算错误
func (r CleanupResult) Err() error {
	return aggregate(len(r.Removed)+len(r.Failed), len(r.Removed), r.Failed)
}

// CleanupOrphaned 删除符合命名规则且未在使用中的容器
// 运行中的容器只有在 IncludeRunning 且确认通过时才会被强制删除
func (m *Manager) CleanupOrphaned(ctx context.Context, records []registry.ContainerRecord, opts CleanupOptions) CleanupResult {
	var result CleanupResult

	type removal struct {
		rec   registry.ContainerRecord
		force bool
	}
	var removals []removal

	for _, rec := range records {
		switch {
		case !registry.BelongsTo(m.registry.Prefix(), rec.Name):
			result.Skipped = append(result.Skipped, Skipped{ID: rec.ID, Reason: SkipForeign})
		case opts.InUse != nil && opts.InUse(rec):
			result.Skipped = append(result.Skipped, Skipped{ID: rec.ID, Reason: SkipInUse})
		case rec.Running && !opts.IncludeRunning:
			result.Skipped = append(result.Skipped, Skipped{ID: rec.ID, Reason: SkipRunning})
		case rec.Running:
			if opts.Confirm == nil || !opts.Confirm(rec) {
				result.Declined = append(result.Declined, rec.ID)
				continue
			}
			removals = append(removals, removal{rec: rec, force: true})
		default:
			removals = append(removals, removal{rec: rec})
		}
	}

	errs := make([]error, len(removals))
	g := new(errgroup.Group)
	g.SetLimit(m.parallelism)
	for i, rm := range removals {
		g.Go(func() error {
			errs[i] = m.remove(ctx, rm.rec.ID, rm.force)
			return nil
		})
	}
	_ = g.Wait()

	for i, rm := range removals {
		if errs[i] != nil {
			result.Failed = append(result.Failed, Failure{ID: rm.rec.ID, Err: errs[i]})
			continue
		}
		result.Removed = append(result.Removed, rm.rec.ID)
	}
	klog.InfoS("orphan cleanup finished", "removed", len(result.Removed), "skipped", len(result.Skipped),
		"declined", len(result.Declined), "failed", len(result.Failed))
	return result
}

func (m *Manager) remove(ctx context.Context, id string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	if _, err := m.runner.Run(ctx, append(args, id)...); err != nil {
		if !docker.IsNoSuchContainer(err) {
			return err
		}
	}
	m.registry.Forget(id)
	return nil
}

// Shell 以交互方式进入容器，阻塞直到 shell 退出
func (m *Manager) Shell(ctx context.Context, id, shell string, streams docker.Streams) error {
	if shell == "" {
		shell = m.shell
	}
	return m.runner.Attach(ctx, streams, "exec", "-it", id, shell)
}

// Logs 跟随容器日志，关闭返回的 reader 会结束 logs 进程
func (m *Manager) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	return docker.FollowLogs(ctx, m.runner, id)
}

// WaitStopped 轮询直到容器不再出现在运行列表中
func (m *Manager) WaitStopped(ctx context.Context, ids []string, attempts int, interval time.Duration) error {
	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}
	for i := 0; i < attempts; i++ {
		active, err := m.registry.ListActive(ctx)
		if err != nil {
			return err
		}
		stillRunning := false
		for _, rec := range active {
			if pending[rec.ID] {
				stillRunning = true
				break
			}
		}
		if !stillRunning {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("containers still running after %d attempts", attempts)
}

func aggregate(total, succeeded int, failed []Failure) error {
	if len(failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(failed))
	for _, f := range failed {
		errs = append(errs, fmt.Errorf("%s: %w", shortID(f.ID), f.Err))
	}
	kind := docker.KindPartialFailure
	if succeeded == 0 {
		kind = docker.KindOperationFailed
	}
	return &docker.Error{
		Kind:    kind,
		Message: fmt.Sprintf("%d of %d failed", len(failed), total),
		Err:     errors.Join(errs...),
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
