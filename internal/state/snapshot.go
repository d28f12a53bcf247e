package state

import "time"

// Phase 就绪状态
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseChecking
	PhaseNotInitialized
	PhaseNotBuilt
	PhaseReady
)

// String 返回状态名称
func (p Phase) String() string {
	switch p {
	case PhaseChecking:
		return "Checking"
	case PhaseNotInitialized:
		return "NotInitialized"
	case PhaseNotBuilt:
		return "NotBuilt"
	case PhaseReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

// Snapshot 一次完整的就绪状态快照
// 值类型，发布后不会被修改
type Snapshot struct {
	IsInitialized  bool
	IsBuilt        bool
	ContainerCount int
	IsLoading      bool

	LoadingLabel string
	Phase        Phase
	Seq          uint64    // 发布序号，单调递增
	CheckedAt    time.Time // 最近一次探测时间
}

// phaseOf 根据初始化和构建状态推导阶段
func phaseOf(initialized, built bool) Phase {
	switch {
	case !initialized:
		return PhaseNotInitialized
	case !built:
		return PhaseNotBuilt
	default:
		return PhaseReady
	}
}
