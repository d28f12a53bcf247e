package ui

import "github.com/charmbracelet/bubbles/key"

// KeyMap 快捷键映射（使用 bubbles/key 管理）
type KeyMap struct {
	Up   key.Binding
	Down key.Binding

	Refresh        key.Binding
	Initialize     key.Binding
	Build          key.Binding
	Terminal       key.Binding
	Fuzz           key.Binding
	Exec           key.Binding
	Shell          key.Binding
	Logs           key.Binding
	Stop           key.Binding
	Kill           key.Binding
	StopAll        key.Binding
	Cleanup        key.Binding
	CleanupRunning key.Binding
	Cancel         key.Binding

	Language key.Binding
	Help     key.Binding
	Quit     key.Binding
}

// DefaultKeyMap 返回默认的快捷键映射
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Initialize: key.NewBinding(
			key.WithKeys("i"),
			key.WithHelp("i", "init"),
		),
		Build: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "build"),
		),
		Terminal: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "terminal"),
		),
		Fuzz: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "fuzz"),
		),
		Exec: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "exec"),
		),
		Shell: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "shell"),
		),
		Logs: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "logs"),
		),
		Stop: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "stop"),
		),
		Kill: key.NewBinding(
			key.WithKeys("K"),
			key.WithHelp("K", "kill"),
		),
		StopAll: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "stop all"),
		),
		Cleanup: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "cleanup"),
		),
		CleanupRunning: key.NewBinding(
			key.WithKeys("C"),
			key.WithHelp("C", "cleanup running"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "hide spinner"),
		),
		Language: key.NewBinding(
			key.WithKeys("L"),
			key.WithHelp("L", "language"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp 实现 help.KeyMap
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Initialize, k.Build, k.Terminal, k.Stop, k.StopAll, k.Cleanup, k.Help, k.Quit}
}

// FullHelp 实现 help.KeyMap
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Shell, k.Logs},
		{k.Refresh, k.Initialize, k.Build},
		{k.Terminal, k.Fuzz, k.Exec},
		{k.Stop, k.Kill, k.StopAll},
		{k.Cleanup, k.CleanupRunning, k.Cancel},
		{k.Language, k.Help, k.Quit},
	}
}
