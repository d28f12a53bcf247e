package i18n

var zhMessages = &Messages{
	// Common
	Loading: "加载中...",
	Error:   "错误",
	Success: "成功",
	Confirm: "确认",
	Cancel:  "取消",
	Yes:     "是",
	No:      "否",

	// Readiness
	Workspace:      "工作区",
	Image:          "镜像",
	Containers:     "容器",
	Daemon:         "Docker",
	Connected:      "已连接",
	Disconnected:   "未连接",
	Unknown:        "未知",
	Checking:       "检查中...",
	NotInitialized: "未初始化",
	NotBuilt:       "镜像未构建",
	Ready:          "就绪",

	// Command labels
	CmdRefresh:    "正在刷新",
	CmdInitialize: "正在初始化工作区",
	CmdBuild:      "正在构建镜像",
	CmdTerminal:   "正在启动终端",
	CmdFuzz:       "正在启动模糊测试",
	CmdExec:       "正在执行命令",
	CmdStop:       "正在停止容器",
	CmdKill:       "正在强制停止容器",
	CmdStopAll:    "正在停止所有容器",
	CmdCleanup:    "正在清理孤儿容器",

	// Outcomes
	OutcomeSuccess:  "%s 完成",
	OutcomeFailed:   "%s 失败: %v",
	OutcomeBusy:     "已有命令在执行，%s 未启动",
	OutcomeDeclined: "%s 已取消",
	Busy:            "忙碌",

	// Confirm dialogs
	ConfirmStop:    "停止容器 %s？",
	ConfirmKill:    "强制停止容器 %s？",
	ConfirmStopAll: "停止全部 %d 个运行中的容器？",
	ConfirmCleanup: "强制删除运行中的孤儿容器 %s？",

	// Errors
	DaemonUnreachable: "无法连接 Docker 守护进程",
	BinaryMissing:     "未找到 docker 可执行文件",
	PartialFailure:    "部分容器处理失败",

	// Views
	Logs:          "日志",
	CommandPrompt: "输入要执行的命令（回车启动，esc 取消）",
	NoContainers:  "当前工作区没有容器",
	ConfirmHint:   "y 确认 • n/esc 取消",
	ShellExited:   "已退出 %s 的 shell",

	// Hints for keys
	KeyHints: "r 刷新 • i 初始化 • b 构建 • t 终端 • s 停止 • x 全部停止 • c 清理 • L 语言",
	Quit:     "q 退出",
}
