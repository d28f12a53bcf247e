package lifecycle

// Operation 生命周期操作
type Operation string

const (
	OpLaunch              Operation = "launch"
	OpStop                Operation = "stop"
	OpKill                Operation = "kill"
	OpTerminateAll        Operation = "terminate-all"
	OpRemoveOrphan        Operation = "remove-orphan"
	OpRemoveRunningOrphan Operation = "remove-running-orphan"
)

// 需要调用方先取得用户确认的操作
var sensitive = []Operation{OpStop, OpKill, OpTerminateAll, OpRemoveRunningOrphan}

// ConfirmationSensitive 返回需要确认的操作列表
func ConfirmationSensitive() []Operation {
	out := make([]Operation, len(sensitive))
	copy(out, sensitive)
	return out
}

// RequiresConfirmation 判断操作是否需要确认
func RequiresConfirmation(op Operation) bool {
	for _, s := range sensitive {
		if s == op {
			return true
		}
	}
	return false
}
