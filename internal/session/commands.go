package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"cfdock/internal/dispatch"
	"cfdock/internal/docker"
	"cfdock/internal/i18n"
	"cfdock/internal/image"
	"cfdock/internal/lifecycle"
	"cfdock/internal/registry"
	"cfdock/internal/state"
)

// 命令名称
const (
	CmdRefresh    = "refresh"
	CmdInitialize = "initialize"
	CmdBuild      = "build"
	CmdTerminal   = "terminal"
	CmdFuzz       = "fuzz"
	CmdExec       = "exec"
	CmdStop       = "stop"
	CmdKill       = "kill"
	CmdStopAll    = "stop-all"
	CmdCleanup    = "cleanup"

	// FlagRunning cleanup 时同时处理运行中的孤儿容器
	FlagRunning = "--running"
)

// ErrNotInitialized 工作区尚未初始化
var ErrNotInitialized = errors.New("workspace is not initialized")

// ErrForeignContainer 容器不属于当前工作区
var ErrForeignContainer = errors.New("container does not belong to this workspace")

const defaultDockerfile = `FROM ubuntu:24.04
RUN apt-get update \
    && apt-get install -y --no-install-recommends build-essential ca-certificates clang llvm \
    && rm -rf /var/lib/apt/lists/*
WORKDIR /workspace
`

func (s *Session) registerCommands() {
	g := s.Gateway

	g.Register(dispatch.Command{
		Name:      CmdRefresh,
		LabelFunc: labelOf(CmdRefresh),
		Run: func(ctx context.Context, args []string) error {
			_, err := s.Registry.Refresh(ctx)
			return err
		},
	})

	g.Register(dispatch.Command{
		Name:      CmdInitialize,
		LabelFunc: labelOf(CmdInitialize),
		Run:       s.initialize,
		Converged: func(_ []string, snap state.Snapshot) bool {
			return snap.IsInitialized
		},
	})

	g.Register(dispatch.Command{
		Name:      CmdBuild,
		LabelFunc: labelOf(CmdBuild),
		Run:       s.build,
		Converged: func(_ []string, snap state.Snapshot) bool {
			return snap.IsBuilt
		},
	})

	for _, c := range []struct {
		name string
		typ  registry.ContainerType
	}{
		{CmdTerminal, registry.TypeTerminal},
		{CmdFuzz, registry.TypeFuzzing},
		{CmdExec, registry.TypeCommand},
	} {
		typ := c.typ
		g.Register(dispatch.Command{
			Name:      c.name,
			LabelFunc: labelOf(c.name),
			Run: func(ctx context.Context, args []string) error {
				_, err := s.launch(ctx, typ, args)
				return err
			},
			Converged: func([]string, state.Snapshot) bool {
				return s.launchObserved()
			},
		})
	}

	stopped := func(args []string, _ state.Snapshot) bool {
		if len(args) == 0 {
			return true
		}
		rec, ok := s.Registry.Get(args[0])
		return !ok || !rec.Running
	}
	g.Register(dispatch.Command{
		Name:      CmdStop,
		LabelFunc: labelOf(CmdStop),
		Sensitive: lifecycle.RequiresConfirmation(lifecycle.OpStop),
		Run: func(ctx context.Context, args []string) error {
			return s.stop(ctx, args, false)
		},
		Converged: stopped,
	})
	g.Register(dispatch.Command{
		Name:      CmdKill,
		LabelFunc: labelOf(CmdKill),
		Sensitive: lifecycle.RequiresConfirmation(lifecycle.OpKill),
		Run: func(ctx context.Context, args []string) error {
			return s.stop(ctx, args, true)
		},
		Converged: stopped,
	})

	g.Register(dispatch.Command{
		Name:      CmdStopAll,
		LabelFunc: labelOf(CmdStopAll),
		Sensitive: lifecycle.RequiresConfirmation(lifecycle.OpTerminateAll),
		Run:       s.stopAll,
		Converged: func(_ []string, snap state.Snapshot) bool {
			return snap.ContainerCount == 0
		},
	})

	g.Register(dispatch.Command{
		Name:      CmdCleanup,
		LabelFunc: labelOf(CmdCleanup),
		SensitiveIf: func(args []string) bool {
			return hasFlag(args, FlagRunning) && lifecycle.RequiresConfirmation(lifecycle.OpRemoveRunningOrphan)
		},
		Run: s.cleanup,
	})
}

// initialize 写入初始化标记（默认 Dockerfile），已存在时不覆盖
func (s *Session) initialize(ctx context.Context, args []string) error {
	marker := s.cfg.MarkerPath()
	if _, err := os.Stat(marker); err == nil {
		klog.V(2).InfoS("workspace already initialized", "marker", marker)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(marker), err)
	}

	content := defaultDockerfile
	if s.cfg.BaseImage != "" {
		content = fmt.Sprintf("FROM %s\nWORKDIR %s\n", s.cfg.BaseImage, s.cfg.MountPath)
	}
	if err := os.WriteFile(marker, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", marker, err)
	}
	klog.InfoS("workspace initialized", "marker", marker)
	return nil
}

// build 配置了基础镜像时 pull + tag，否则用标记 Dockerfile 构建
func (s *Session) build(ctx context.Context, args []string) error {
	opts := image.BuildOptions{Name: s.ImageName()}
	if s.cfg.BaseImage != "" {
		opts.Source = s.cfg.BaseImage
	} else {
		ok, err := state.FileMarker{Path: s.cfg.MarkerPath()}.Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotInitialized
		}
		opts.Dockerfile = s.cfg.MarkerPath()
		opts.ContextDir = s.cfg.Workspace
	}

	rec, err := s.Images.BuildOrPull(ctx, opts)
	if err != nil {
		return err
	}
	klog.InfoS("image ready", "image", rec.Ref(), "digest", rec.Digest)
	return nil
}

// LaunchRequest 生成启动请求：工作区挂载到容器内并作为工作目录
func (s *Session) LaunchRequest(t registry.ContainerType, command []string) lifecycle.LaunchRequest {
	return lifecycle.LaunchRequest{
		Type:    t,
		Image:   s.ImageName(),
		Command: command,
		Mounts:  []lifecycle.Mount{{Source: s.cfg.Workspace, Target: s.cfg.MountPath}},
		Workdir: s.cfg.MountPath,
	}
}

func (s *Session) launch(ctx context.Context, t registry.ContainerType, args []string) (registry.ContainerRecord, error) {
	if t != registry.TypeTerminal && len(args) == 0 {
		return registry.ContainerRecord{}, fmt.Errorf("%s requires a command", t)
	}
	rec, err := s.Lifecycle.Launch(ctx, s.LaunchRequest(t, args))
	if err != nil {
		return rec, err
	}
	s.mu.Lock()
	s.lastLaunch = rec.ID
	s.mu.Unlock()
	s.trackOwned(ctx, rec.ID)
	return rec, nil
}

// launchObserved 最近启动的容器是否已出现在守护进程的列表中
func (s *Session) launchObserved() bool {
	s.mu.Lock()
	id := s.lastLaunch
	s.mu.Unlock()
	return id != "" && s.Registry.Observed(id)
}

func (s *Session) stop(ctx context.Context, args []string, force bool) error {
	if len(args) == 0 || args[0] == "" {
		return errors.New("container id is required")
	}
	rec, err := s.resolve(ctx, args[0])
	if docker.IsNoSuchContainer(err) {
		// 容器已不存在，停止视为成功
		s.forgetOwned(ctx, args[0])
		return nil
	}
	if err != nil {
		return err
	}
	if !registry.BelongsTo(s.Prefix, rec.Name) {
		return fmt.Errorf("%w: %s", ErrForeignContainer, rec.Name)
	}
	if err := s.Lifecycle.Stop(ctx, rec.ID, force); err != nil {
		return err
	}
	s.forgetOwned(ctx, rec.ID)
	return nil
}

// resolve 先查注册表，没有记录时（如短 ID 或尚未对账）向守护进程查询
func (s *Session) resolve(ctx context.Context, id string) (registry.ContainerRecord, error) {
	if rec, ok := s.Registry.Get(id); ok {
		return rec, nil
	}
	return s.Registry.Inspect(ctx, id)
}

func (s *Session) stopAll(ctx context.Context, args []string) error {
	active, err := s.Registry.ListActive(ctx)
	if err != nil {
		return err
	}
	result := s.Lifecycle.TerminateAll(ctx, active, hasFlag(args, "--force"))
	for _, id := range result.Succeeded {
		s.forgetOwned(ctx, id)
	}
	if len(result.Succeeded) > 0 {
		// 等守护进程确认停止，避免随后的同步还看到旧状态
		if err := s.Lifecycle.WaitStopped(ctx, result.Succeeded, s.cfg.Converge, s.cfg.ConvergeEvery); err != nil {
			klog.InfoS("containers not yet reported stopped", "count", len(result.Succeeded), "err", err)
		}
	}
	return result.Err()
}

func (s *Session) cleanup(ctx context.Context, args []string) error {
	records, err := s.Registry.Refresh(ctx)
	if err != nil {
		return err
	}
	inUse, err := s.InUseFunc(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	confirm := s.confirm
	s.mu.Unlock()
	if confirm == nil {
		// 命令级确认已经通过
		confirm = func(registry.ContainerRecord) bool { return true }
	}

	result := s.Lifecycle.CleanupOrphaned(ctx, records, lifecycle.CleanupOptions{
		IncludeRunning: hasFlag(args, FlagRunning),
		Confirm:        confirm,
		InUse:          inUse,
	})
	for _, id := range result.Removed {
		s.forgetOwned(ctx, id)
	}
	return result.Err()
}

// Shell 进入终端容器
func (s *Session) Shell(ctx context.Context, id string, streams docker.Streams) error {
	return s.Lifecycle.Shell(ctx, id, s.cfg.DefaultShell, streams)
}

// labelOf 在每次执行时按当前语言解析命令文字
func labelOf(name string) func() string {
	return func() string { return i18n.T(name) }
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}
