package dispatch

import (
	"errors"
	"time"
)

// Status 命令状态
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusRejected // 已有命令在执行
	StatusDeclined // 用户拒绝确认
)

// String 返回状态字符串
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusRunning:
		return "Running"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusRejected:
		return "Rejected"
	case StatusDeclined:
		return "Declined"
	default:
		return "Unknown"
	}
}

var (
	// ErrBusy 已有命令在执行，新命令被拒绝（不排队）
	ErrBusy = errors.New("another command is in progress")
	// ErrUnknownCommand 命令未注册
	ErrUnknownCommand = errors.New("unknown command")
)

// Outcome 命令的最终结果，Dispatch 总是返回一个 Outcome
type Outcome struct {
	ID        string
	Command   string
	Args      []string
	Status    Status
	Success   bool
	Declined  bool
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Rejected 是否因为忙碌被拒绝
func (o Outcome) Rejected() bool {
	return o.Status == StatusRejected
}
