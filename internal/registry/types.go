package registry

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContainerType 容器用途
type ContainerType int

const (
	TypeUnknown ContainerType = iota
	TypeTerminal
	TypeFuzzing
	TypeCommand
)

// String 返回类型名称，同时用作容器名中的类型段
func (t ContainerType) String() string {
	switch t {
	case TypeTerminal:
		return "terminal"
	case TypeFuzzing:
		return "fuzzing"
	case TypeCommand:
		return "command"
	default:
		return "unknown"
	}
}

// ParseType 解析类型名称
func ParseType(s string) ContainerType {
	switch strings.ToLower(s) {
	case "terminal":
		return TypeTerminal
	case "fuzzing", "fuzz":
		return TypeFuzzing
	case "command", "cmd":
		return TypeCommand
	default:
		return TypeUnknown
	}
}

// ContainerRecord 容器记录
type ContainerRecord struct {
	ID        string
	Name      string
	Image     string
	Type      ContainerType
	Running   bool
	CreatedAt time.Time
	ExitCode  *int   // 仅对已退出的容器有效
	Status    string // docker ps 的原始状态描述
}

// ShortID 返回 12 位短 ID
func (r ContainerRecord) ShortID() string {
	if len(r.ID) > 12 {
		return r.ID[:12]
	}
	return r.ID
}

// NewName 生成容器名：<prefix>-<type>-<8 位 uuid>
func NewName(prefix string, t ContainerType) string {
	return prefix + "-" + t.String() + "-" + uuid.New().String()[:8]
}

// TypeFromName 从容器名解析类型，不属于该前缀时返回 TypeUnknown
func TypeFromName(prefix, name string) ContainerType {
	rest, ok := strings.CutPrefix(strings.TrimPrefix(name, "/"), prefix+"-")
	if !ok {
		return TypeUnknown
	}
	segment, _, _ := strings.Cut(rest, "-")
	return ParseType(segment)
}

// IsLiveState 判断 docker ps 的 State 是否表示容器仍然存活
// paused 和 restarting 的容器仍占用资源，需要 stop/kill 或 rm -f 才能清理
func IsLiveState(state string) bool {
	switch state {
	case "running", "paused", "restarting":
		return true
	}
	return false
}

// BelongsTo 判断容器名是否符合工作区命名规则
func BelongsTo(prefix, name string) bool {
	return strings.HasPrefix(strings.TrimPrefix(name, "/"), prefix+"-")
}

var exitedPattern = regexp.MustCompile(`^Exited \((-?\d+)\)`)

// parseExitCode 从 "Exited (137) 2 minutes ago" 中取出退出码
func parseExitCode(status string) *int {
	m := exitedPattern.FindStringSubmatch(status)
	if m == nil {
		return nil
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &code
}
