package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"k8s.io/klog/v2"

	"cfdock/internal/config"
	"cfdock/internal/dispatch"
	"cfdock/internal/docker"
	"cfdock/internal/i18n"
	"cfdock/internal/session"
	"cfdock/internal/state"
	"cfdock/internal/store"
	"cfdock/internal/ui"
)

const usage = `Usage: cfdock [flags] [command]

Commands:
  (none)                 start the terminal UI
  status                 print workspace readiness and exit
  run <command> [args]   dispatch one command (refresh, initialize, build,
                         terminal, fuzz, exec, stop, kill, stop-all, cleanup)
  commands               list available commands

Flags:
`

func main() {
	os.Exit(run())
}

func run() int {
	workspace := flag.String("workspace", "", "Workspace directory (defaults to the current directory)")
	assumeYes := flag.Bool("yes", false, "Confirm sensitive commands without prompting")

	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	ws := *workspace
	if ws == "" {
		wd, err := os.Getwd()
		if err != nil {
			klog.Fatalf("Failed to resolve working directory: %v", err)
		}
		ws = wd
	}

	cfg, err := config.Load(ws)
	if err != nil {
		klog.Fatalf("Failed to load config: %v", err)
	}
	i18n.Init(cfg.Language)

	args := flag.Args()
	tuiMode := len(args) == 0
	if tuiMode {
		// 界面模式下日志写入文件，避免破坏屏幕
		redirectLogs(cfg)
	}
	defer klog.Flush()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Store.Type, store.RedisOptions{
		Addr:     cfg.Store.RedisAddr,
		Password: cfg.Store.Password,
	})
	if err != nil {
		klog.Fatalf("Failed to open session store: %v", err)
	}

	sess := session.New(cfg, docker.NewCLI(cfg.DockerCommand), st)
	if err := sess.Start(ctx); err != nil {
		klog.Fatalf("Failed to start session: %v", err)
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := sess.Close(closeCtx); err != nil {
			klog.ErrorS(err, "failed to close session")
		}
	}()

	var code int
	switch {
	case tuiMode:
		code = runTUI(ctx, sess)
	case args[0] == "status":
		code = printStatus(ctx, sess)
	case args[0] == "commands":
		for _, cmd := range sess.Gateway.Commands() {
			fmt.Printf("%-12s %s\n", cmd.Name, cmd.DisplayLabel())
		}
	case args[0] == "run" && len(args) > 1:
		code = runCommand(ctx, sess, args[1], args[2:], *assumeYes)
	default:
		flag.Usage()
		code = 2
	}

	return code
}

// redirectLogs 把 klog 输出重定向到 <workspace>/.cfdock/cfdock.log
func redirectLogs(cfg *config.Config) {
	if err := os.MkdirAll(cfg.Dir(), 0o755); err != nil {
		return
	}
	_ = flag.Set("logtostderr", "false")
	_ = flag.Set("alsologtostderr", "false")
	_ = flag.Set("stderrthreshold", "FATAL")
	_ = flag.Set("log_file", filepath.Join(cfg.Dir(), "cfdock.log"))
}

func runTUI(ctx context.Context, sess *session.Session) int {
	m := ui.New(sess)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	watcher, err := docker.NewEventWatcher(sess.Config().DockerHost, sess.Prefix)
	if err != nil {
		klog.ErrorS(err, "event watcher unavailable, falling back to polling")
	}
	go func() {
		var pingErr error
		if watcher != nil {
			pingCtx, done := context.WithTimeout(ctx, 3*time.Second)
			pingErr = watcher.Ping(pingCtx)
			done()
		} else {
			pingErr = err
		}
		p.Send(ui.DaemonStatus(pingErr))
	}()

	bgCtx, stop := context.WithCancel(ctx)
	defer stop()
	go sess.State.Run(bgCtx, sess.Config().PollInterval)
	if watcher != nil {
		defer watcher.Close()
		go watchEvents(bgCtx, watcher, sess.State)
	}

	_, runErr := p.Run()
	m.Close()
	if runErr != nil && ctx.Err() == nil {
		klog.ErrorS(runErr, "terminal UI exited with error")
		fmt.Fprintf(os.Stderr, "cfdock: %v\n", runErr)
		return 1
	}
	return 0
}

// watchEvents 每个相关的容器事件触发一次刷新，连接断开后退避重连
func watchEvents(ctx context.Context, w *docker.EventWatcher, syncer *state.Synchronizer) {
	backoff := time.Second
	for ctx.Err() == nil {
		events, errs := w.Watch(ctx)
		for ev := range events {
			klog.V(2).InfoS("container event", "action", ev.Action, "name", ev.ContainerName)
			syncer.Trigger()
			backoff = time.Second
		}
		if err, ok := <-errs; ok && err != nil {
			klog.V(2).InfoS("event stream ended", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func printStatus(ctx context.Context, sess *session.Session) int {
	snap := sess.State.Refresh(ctx)
	msgs := i18n.M()
	fmt.Printf("%-12s %s\n", msgs.Workspace, sess.Config().Workspace)
	fmt.Printf("%-12s %s (%s)\n", msgs.Image, sess.ImageName(), i18n.T(snap.Phase.String()))
	fmt.Printf("%-12s %d\n", msgs.Containers, snap.ContainerCount)

	records := sess.Registry.Snapshot()
	for _, rec := range records {
		fmt.Printf("  %s  %-44s %-9s %s\n", rec.ShortID(), rec.Name, rec.Type, rec.Status)
	}
	if snap.Phase != state.PhaseReady {
		return 1
	}
	return 0
}

func runCommand(ctx context.Context, sess *session.Session, name string, args []string, assumeYes bool) int {
	in := bufio.NewReader(os.Stdin)
	sess.SetConfirmer(func(_ context.Context, cmd dispatch.Command, _ []string) bool {
		if assumeYes {
			return true
		}
		fmt.Printf("%s: %s? [y/N] ", i18n.M().Confirm, cmd.DisplayLabel())
		answer, _ := in.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	})

	out := sess.Dispatch(ctx, name, args...)

	waitCtx, done := context.WithTimeout(ctx, 30*time.Second)
	defer done()
	if err := sess.Gateway.WaitIdle(waitCtx); err != nil {
		klog.V(2).InfoS("resync still pending at exit", "err", err)
	}

	label := i18n.T(name)
	msgs := i18n.M()
	switch {
	case out.Declined:
		fmt.Printf(msgs.OutcomeDeclined+"\n", label)
		return 0
	case out.Success:
		fmt.Printf(msgs.OutcomeSuccess+"\n", label)
		return 0
	case out.Rejected():
		fmt.Fprintf(os.Stderr, msgs.OutcomeBusy+"\n", label)
	default:
		fmt.Fprintf(os.Stderr, msgs.OutcomeFailed+"\n", label, out.Err)
	}
	return 1
}
