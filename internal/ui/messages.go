package ui

import (
	"cfdock/internal/dispatch"
	"cfdock/internal/state"
)

// snapshotMsg 就绪状态更新
type snapshotMsg state.Snapshot

// outcomeMsg 命令执行结束
type outcomeMsg dispatch.Outcome

// confirmRequestMsg 敏感操作等待用户确认
type confirmRequestMsg struct {
	prompt string
	reply  chan<- bool
}

// daemonStatusMsg 守护进程连通性
type daemonStatusMsg struct {
	err error
}

// logLineMsg 日志视图收到一行
type logLineMsg struct {
	stream *logStream
	line   string
}

// logDoneMsg 日志流结束
type logDoneMsg struct {
	stream *logStream
	err    error
}

// shellExitedMsg shell 退出
type shellExitedMsg struct {
	name string
	err  error
}

// clearOutcomeMsg 清除结果提示
type clearOutcomeMsg struct {
	id string
}
