package docker

import (
	"errors"
	"strings"
)

// ErrorKind 错误类型
type ErrorKind int

const (
	KindOperationFailed   ErrorKind = iota // 命令非零退出，stderr 原样保留
	KindResourceNotFound                   // docker 可执行文件或镜像不存在
	KindDaemonUnreachable                  // 无法连接 Docker 守护进程
	KindPartialFailure                     // 批量操作部分失败
	KindUserDeclined                       // 用户拒绝确认（显式空操作）
)

// String 返回错误类型名称
func (k ErrorKind) String() string {
	switch k {
	case KindOperationFailed:
		return "OperationFailed"
	case KindResourceNotFound:
		return "ResourceNotFound"
	case KindDaemonUnreachable:
		return "DaemonUnreachable"
	case KindPartialFailure:
		return "PartialFailure"
	case KindUserDeclined:
		return "UserDeclinedConfirmation"
	default:
		return "Unknown"
	}
}

// 哨兵错误，配合 errors.Is 使用
var (
	ErrOperationFailed   = &Error{Kind: KindOperationFailed}
	ErrResourceNotFound  = &Error{Kind: KindResourceNotFound}
	ErrDaemonUnreachable = &Error{Kind: KindDaemonUnreachable}
	ErrPartialFailure    = &Error{Kind: KindPartialFailure}
	ErrUserDeclined      = &Error{Kind: KindUserDeclined}
)

// Error docker 命令错误
type Error struct {
	Kind     ErrorKind
	Args     []string // 不含可执行文件的参数
	Stderr   string   // 原始 stderr
	ExitCode int
	Message  string
	Err      error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if len(e.Args) > 0 {
		b.WriteString(": docker ")
		b.WriteString(strings.Join(e.Args, " "))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		b.WriteString(": ")
		b.WriteString(stderr)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误类型匹配哨兵错误
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf 返回错误链上第一个 *Error 的类型
func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

// StderrOf 返回错误中保留的原始 stderr
func StderrOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Stderr
	}
	return ""
}

// daemon 不可达时 docker CLI 输出的特征片段
var unreachableMarkers = []string{
	"cannot connect to the docker daemon",
	"is the docker daemon running",
	"error during connect",
	"connect: connection refused",
	"docker daemon is not running",
}

// IsDaemonUnreachableOutput 判断 stderr 是否表示守护进程不可达
func IsDaemonUnreachableOutput(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, m := range unreachableMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// IsNoSuchContainer 判断错误是否为容器不存在
func IsNoSuchContainer(err error) bool {
	lower := strings.ToLower(StderrOf(err))
	return strings.Contains(lower, "no such container") || strings.Contains(lower, "no such object")
}

// IsNoSuchImage 判断错误是否为镜像不存在
func IsNoSuchImage(err error) bool {
	lower := strings.ToLower(StderrOf(err))
	return strings.Contains(lower, "no such image") || strings.Contains(lower, "no such object")
}

// IsNotRunning 判断错误是否为容器未运行
func IsNotRunning(err error) bool {
	return strings.Contains(strings.ToLower(StderrOf(err)), "is not running")
}
