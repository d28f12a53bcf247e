// Package styles 定义全局统一的 UI 样式
package styles

import "github.com/charmbracelet/lipgloss"

// 颜色常量
const (
	ColorPrimary   = "220" // 黄色 - 标题、高亮
	ColorSecondary = "81"  // 蓝色 - 键名、标签
	ColorSuccess   = "82"  // 绿色 - 成功、运行中
	ColorError     = "196" // 红色 - 错误
	ColorWarning   = "214" // 橙色 - 警告
	ColorMuted     = "245" // 灰色 - 次要信息、提示
	ColorText      = "252" // 白色 - 正常文本
	ColorBorder    = "240" // 深灰 - 边框
)

// 标题样式
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorPrimary)).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorSecondary)).
			Bold(true)
)

// 文本样式
var (
	MutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorMuted))

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorText))

	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorSecondary)).
			Width(12)
)

// 消息样式
var (
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorSuccess)).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorError)).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorWarning)).
			Bold(true)
)

// 状态样式
var (
	RunningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorSuccess))

	StoppedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorMuted))
)

// 边框/容器样式
var (
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorBorder)).
			Padding(0, 1)

	DialogStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorWarning)).
			Padding(1, 2)
)
