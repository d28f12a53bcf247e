package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// DefaultBinary 默认 docker 可执行文件
const DefaultBinary = "docker"

// Result 一次 docker 命令的执行结果
type Result struct {
	Args     []string      // 参数（不含可执行文件）
	Stdout   string        // stdout 输出
	Stderr   string        // stderr 输出（原样）
	ExitCode int           // 退出码
	Duration time.Duration // 耗时
}

// Streams 交互式命令使用的标准流
type Streams struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Runner 抽象了 docker CLI 的调用方式
// 生产环境使用 CLI，测试使用 dockertest.Daemon
type Runner interface {
	// Run 执行命令并等待结束
	Run(ctx context.Context, args ...string) (*Result, error)

	// Stream 启动命令并返回 stdout+stderr 合并流（如 logs -f），关闭时终止进程
	Stream(ctx context.Context, args ...string) (io.ReadCloser, error)

	// Attach 以交互方式执行命令（如 exec -it），阻塞直到命令退出
	Attach(ctx context.Context, streams Streams, args ...string) error
}

// CLI 通过 os/exec 调用 docker 可执行文件
type CLI struct {
	Binary string
}

// NewCLI 创建 CLI，binary 为空时使用 "docker"
func NewCLI(binary string) *CLI {
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	return &CLI{Binary: binary}
}

// Run 执行 docker 命令
func (c *CLI) Run(ctx context.Context, args ...string) (*Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, c.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &Result{
		Args:     args,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	klog.V(4).Infof("docker %s finished in %v", strings.Join(args, " "), result.Duration)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		return result, Classify(result, err)
	}
	return result, nil
}

// Stream 启动命令并返回合并了 stdout 和 stderr 的流
// docker logs 会把容器的 stderr 写到自己的 stderr，两者都属于日志内容
func (c *CLI) Stream(ctx context.Context, args ...string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	pr, pw := io.Pipe()
	tail := &tailBuffer{max: maxStderrTail}
	cmd.Stdout = pw
	cmd.Stderr = io.MultiWriter(pw, tail)

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, Classify(&Result{Args: args, ExitCode: -1}, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := cmd.Wait()
		if err == nil || ctx.Err() != nil {
			pw.Close()
			return
		}
		result := &Result{Args: args, Stderr: tail.String(), ExitCode: -1}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		pw.CloseWithError(Classify(result, err))
	}()

	return &processReader{reader: pr, cmd: cmd, done: done}, nil
}

// Attach 将标准流直接接到子进程
func (c *CLI) Attach(ctx context.Context, streams Streams, args ...string) error {
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Stdin = streams.Stdin
	cmd.Stdout = streams.Stdout

	var stderr bytes.Buffer
	if streams.Stderr != nil {
		cmd.Stderr = io.MultiWriter(streams.Stderr, &stderr)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		result := &Result{Args: args, Stderr: stderr.String(), ExitCode: -1}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return Classify(result, err)
	}
	return nil
}

// Classify 根据执行结果把错误归类到统一的错误类型
// CLI 和测试用的假守护进程共用这一逻辑
func Classify(result *Result, err error) error {
	if err == nil {
		return nil
	}
	de := &Error{
		Kind:     KindOperationFailed,
		Args:     result.Args,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
		Err:      err,
	}

	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		de.Kind = KindResourceNotFound
		de.Message = "docker executable not found"
	case IsDaemonUnreachableOutput(result.Stderr):
		de.Kind = KindDaemonUnreachable
	}
	return de
}

// maxStderrTail 流式命令保留的 stderr 尾部长度，仅用于错误归类
const maxStderrTail = 4096

// tailBuffer 只保留最后 max 字节
type tailBuffer struct {
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}

// processReader 包装子进程输出，关闭时终止进程
type processReader struct {
	reader *io.PipeReader
	cmd    *exec.Cmd
	done   chan struct{}
}

func (r *processReader) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *processReader) Close() error {
	r.reader.Close()
	if r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	// 被 kill 的进程 Wait 会返回错误，这是预期行为
	<-r.done
	return nil
}
