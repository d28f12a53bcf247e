// Package ui 是 cfdock 的终端界面：就绪状态、容器列表、命令快捷键和确认对话框
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cfdock/internal/dispatch"
	"cfdock/internal/docker"
	"cfdock/internal/i18n"
	"cfdock/internal/registry"
	"cfdock/internal/session"
	"cfdock/internal/state"
	"cfdock/internal/ui/styles"
)

// outcomeTTL 结果提示显示时长
const outcomeTTL = 5 * time.Second

// maxLogLines 日志视图保留的最大行数
const maxLogLines = 2000

type mode int

const (
	modeMain  mode = iota
	modeInput      // 输入 fuzz/exec 命令
	modeLogs
)

// Model 是 TUI 的主模型
type Model struct {
	sess        *session.Session
	bridge      *bridge
	unsubscribe func()
	keys        KeyMap

	help    help.Model
	spinner spinner.Model
	table   table.Model
	input   textinput.Model
	logs    viewport.Model

	snap      state.Snapshot
	records   []registry.ContainerRecord
	daemonErr error
	daemonOK  bool

	mode     mode
	inputCmd string
	confirm  *confirmRequestMsg

	outcome    string
	outcomeID  string
	outcomeErr bool

	logStream *logStream
	logLines  []string

	width  int
	height int
}

// New 创建界面模型，并把会话的确认回调接到界面上
func New(sess *session.Session) Model {
	b := newBridge()

	m := Model{
		sess:        sess,
		bridge:      b,
		unsubscribe: sess.Subscribe(b.publish),
		keys:        DefaultKeyMap(),
		help:        help.New(),
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		table:       newContainerTable(),
		input:       textinput.New(),
		logs:        viewport.New(80, 20),
		snap:        sess.State.Current(),
	}
	m.spinner.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(styles.ColorPrimary))
	m.input.Prompt = "> "
	m.input.CharLimit = 512

	sess.SetConfirmer(func(ctx context.Context, cmd dispatch.Command, args []string) bool {
		// 运行中孤儿容器会逐个确认
		if cmd.Name == session.CmdCleanup {
			return true
		}
		return b.ask(ctx, m.confirmPrompt(cmd, args))
	})
	sess.SetContainerConfirmer(func(rec registry.ContainerRecord) bool {
		return b.ask(context.Background(), fmt.Sprintf(i18n.M().ConfirmCleanup, rec.Name))
	})
	return m
}

func newContainerTable() table.Model {
	t := table.New(
		table.WithColumns(containerColumns()),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color(styles.ColorBorder)).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color(styles.ColorPrimary)).
		Bold(true)
	t.SetStyles(s)
	return t
}

func containerColumns() []table.Column {
	return []table.Column{
		{Title: "ID", Width: 12},
		{Title: "NAME", Width: 44},
		{Title: "TYPE", Width: 10},
		{Title: "STATUS", Width: 24},
	}
}

// Close 结束所有等待中的确认和日志流
func (m Model) Close() {
	m.unsubscribe()
	m.bridge.close()
	if m.logStream != nil {
		m.logStream.cancel()
	}
}

// DaemonStatus 返回守护进程检测结果消息，供 main 在 Ping 之后发送
func DaemonStatus(err error) tea.Msg {
	return daemonStatusMsg{err: err}
}

// Init 实现 tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.bridge.wait(), m.spinner.Tick, m.dispatch(session.CmdRefresh))
}

// Update 实现 tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.table.SetHeight(max(3, msg.Height-14))
		m.logs.Width = msg.Width
		m.logs.Height = max(3, msg.Height-4)
		return m, nil

	case snapshotMsg:
		m.snap = state.Snapshot(msg)
		m.setRecords(m.sess.Registry.Snapshot())
		return m, m.bridge.wait()

	case confirmRequestMsg:
		req := msg
		m.confirm = &req
		return m, m.bridge.wait()

	case outcomeMsg:
		return m, m.setOutcome(dispatch.Outcome(msg))

	case clearOutcomeMsg:
		if msg.id == m.outcomeID {
			m.outcome = ""
		}
		return m, nil

	case daemonStatusMsg:
		m.daemonErr = msg.err
		m.daemonOK = msg.err == nil
		return m, nil

	case shellExitedMsg:
		if msg.err != nil {
			m.outcome, m.outcomeErr = msg.err.Error(), true
		} else {
			m.outcome, m.outcomeErr = shellExitedText(msg.name), false
		}
		return m, m.dispatch(session.CmdRefresh)

	case logLineMsg:
		if msg.stream != m.logStream {
			// 已关闭的流，继续读取直到结束
			return m, msg.stream.next()
		}
		m.appendLog(msg.line)
		return m, m.logStream.next()

	case logDoneMsg:
		if msg.stream == m.logStream && msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.appendLog(styles.ErrorStyle.Render(msg.err.Error()))
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirm != nil {
		switch msg.String() {
		case "y", "Y":
			m.confirm.reply <- true
			m.confirm = nil
		case "n", "N", "esc", "q":
			m.confirm.reply <- false
			m.confirm = nil
		}
		return m, nil
	}

	switch m.mode {
	case modeInput:
		return m.handleInputKey(msg)
	case modeLogs:
		return m.handleLogsKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Close()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Language):
		i18n.ToggleLanguage()
	case key.Matches(msg, m.keys.Cancel):
		m.sess.Gateway.CancelIndicator()
	case key.Matches(msg, m.keys.Refresh):
		return m, m.dispatch(session.CmdRefresh)
	case key.Matches(msg, m.keys.Initialize):
		return m, m.dispatch(session.CmdInitialize)
	case key.Matches(msg, m.keys.Build):
		return m, m.dispatch(session.CmdBuild)
	case key.Matches(msg, m.keys.Terminal):
		return m, m.dispatch(session.CmdTerminal)
	case key.Matches(msg, m.keys.Fuzz):
		return m.startInput(session.CmdFuzz)
	case key.Matches(msg, m.keys.Exec):
		return m.startInput(session.CmdExec)
	case key.Matches(msg, m.keys.StopAll):
		return m, m.dispatch(session.CmdStopAll)
	case key.Matches(msg, m.keys.Cleanup):
		return m, m.dispatch(session.CmdCleanup)
	case key.Matches(msg, m.keys.CleanupRunning):
		return m, m.dispatch(session.CmdCleanup, session.FlagRunning)
	case key.Matches(msg, m.keys.Stop):
		if rec, ok := m.selected(); ok {
			return m, m.dispatch(session.CmdStop, rec.ID)
		}
	case key.Matches(msg, m.keys.Kill):
		if rec, ok := m.selected(); ok {
			return m, m.dispatch(session.CmdKill, rec.ID)
		}
	case key.Matches(msg, m.keys.Shell):
		if rec, ok := m.selected(); ok && rec.Running {
			cmd := newShellCommand(m.sess, rec.ID, rec.Name)
			name := rec.Name
			return m, tea.Exec(cmd, func(err error) tea.Msg {
				return shellExitedMsg{name: name, err: err}
			})
		}
	case key.Matches(msg, m.keys.Logs):
		if rec, ok := m.selected(); ok {
			return m.openLogs(rec)
		}
	default:
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) startInput(name string) (tea.Model, tea.Cmd) {
	m.mode = modeInput
	m.inputCmd = name
	m.input.SetValue("")
	m.input.Placeholder = i18n.M().CommandPrompt
	return m, m.input.Focus()
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeMain
		m.input.Blur()
		return m, nil
	case "enter":
		args := strings.Fields(m.input.Value())
		m.mode = modeMain
		m.input.Blur()
		if len(args) == 0 {
			return m, nil
		}
		return m, m.dispatch(m.inputCmd, args...)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// dispatch 在后台执行命令，结束后发送 outcomeMsg
func (m Model) dispatch(name string, args ...string) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		return outcomeMsg(sess.Dispatch(context.Background(), name, args...))
	}
}

func (m *Model) setOutcome(out dispatch.Outcome) tea.Cmd {
	msgs := i18n.M()
	label := i18n.T(out.Command)
	switch {
	case out.Rejected():
		m.outcome, m.outcomeErr = fmt.Sprintf(msgs.OutcomeBusy, label), true
	case out.Declined:
		m.outcome, m.outcomeErr = fmt.Sprintf(msgs.OutcomeDeclined, label), false
	case out.Success:
		m.outcome, m.outcomeErr = fmt.Sprintf(msgs.OutcomeSuccess, label), false
	default:
		m.outcome, m.outcomeErr = fmt.Sprintf(msgs.OutcomeFailed, label, describeError(out.Err)), true
	}
	m.outcomeID = out.ID

	id := out.ID
	return tea.Tick(outcomeTTL, func(time.Time) tea.Msg {
		return clearOutcomeMsg{id: id}
	})
}

// describeError 守护进程不可达和部分失败使用专门的提示
func describeError(err error) string {
	msgs := i18n.M()
	switch {
	case err == nil:
		return ""
	case errors.Is(err, docker.ErrDaemonUnreachable):
		return msgs.DaemonUnreachable
	case errors.Is(err, docker.ErrPartialFailure):
		return msgs.PartialFailure + ": " + err.Error()
	}
	return err.Error()
}

func (m Model) confirmPrompt(cmd dispatch.Command, args []string) string {
	msgs := i18n.M()
	target := ""
	if len(args) > 0 {
		target = args[0]
		if rec, ok := m.sess.Registry.Get(target); ok {
			target = rec.Name
		}
	}
	switch cmd.Name {
	case session.CmdStop:
		return fmt.Sprintf(msgs.ConfirmStop, target)
	case session.CmdKill:
		return fmt.Sprintf(msgs.ConfirmKill, target)
	case session.CmdStopAll:
		return fmt.Sprintf(msgs.ConfirmStopAll, m.sess.State.Current().ContainerCount)
	}
	return msgs.Confirm + ": " + i18n.T(cmd.Name) + "?"
}

func (m *Model) setRecords(records []registry.ContainerRecord) {
	m.records = records
	rows := make([]table.Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, table.Row{rec.ShortID(), rec.Name, rec.Type.String(), statusText(rec)})
	}
	m.table.SetRows(rows)
	if c := m.table.Cursor(); c >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

func statusText(rec registry.ContainerRecord) string {
	if rec.Status != "" {
		return rec.Status
	}
	if rec.Running {
		return "running"
	}
	return "exited"
}

func (m Model) selected() (registry.ContainerRecord, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.records) {
		return registry.ContainerRecord{}, false
	}
	return m.records[i], true
}

// View 实现 tea.Model
func (m Model) View() string {
	if m.mode == modeLogs {
		return m.logsView()
	}

	var b strings.Builder
	b.WriteString(styles.TitleStyle.Render("cfdock") + "  " + styles.MutedStyle.Render(i18n.GetLanguageDisplay()))
	b.WriteString("\n\n")
	b.WriteString(m.statusView())
	b.WriteString("\n")

	if len(m.records) == 0 {
		b.WriteString(styles.MutedStyle.Render(i18n.M().NoContainers))
		b.WriteString("\n")
	} else {
		b.WriteString(m.table.View())
		b.WriteString("\n")
	}

	switch {
	case m.confirm != nil:
		b.WriteString(styles.DialogStyle.Render(
			styles.WarningStyle.Render(m.confirm.prompt) + "\n\n" + styles.MutedStyle.Render(i18n.M().ConfirmHint)))
		b.WriteString("\n")
	case m.mode == modeInput:
		b.WriteString(styles.SubtitleStyle.Render(i18n.T(m.inputCmd)) + "\n")
		b.WriteString(m.input.View() + "\n")
	}

	if m.snap.IsLoading {
		b.WriteString(m.spinner.View() + " " + m.snap.LoadingLabel + "\n")
	} else if m.outcome != "" {
		style := styles.SuccessStyle
		if m.outcomeErr {
			style = styles.ErrorStyle
		}
		b.WriteString(style.Render(m.outcome) + "\n")
	}

	b.WriteString("\n" + m.help.View(m.keys))
	return b.String()
}

func (m Model) statusView() string {
	msgs := i18n.M()
	row := func(label, value string) string {
		return styles.LabelStyle.Render(label) + value + "\n"
	}

	daemon := styles.MutedStyle.Render(msgs.Unknown)
	switch {
	case m.daemonErr != nil:
		daemon = styles.ErrorStyle.Render(msgs.Disconnected)
	case m.daemonOK:
		daemon = styles.RunningStyle.Render(msgs.Connected)
	}

	phase := i18n.T(m.snap.Phase.String())
	var phaseText string
	switch m.snap.Phase {
	case state.PhaseReady:
		phaseText = styles.SuccessStyle.Render(phase)
	case state.PhaseNotInitialized, state.PhaseNotBuilt:
		phaseText = styles.WarningStyle.Render(phase)
	default:
		phaseText = styles.MutedStyle.Render(phase)
	}

	var b strings.Builder
	b.WriteString(row(msgs.Workspace, styles.ValueStyle.Render(m.sess.Config().Workspace)))
	b.WriteString(row(msgs.Image, styles.ValueStyle.Render(m.sess.ImageName())+"  "+phaseText))
	b.WriteString(row(msgs.Containers, styles.ValueStyle.Render(fmt.Sprintf("%d", m.snap.ContainerCount))))
	b.WriteString(row(msgs.Daemon, daemon))
	return styles.BoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
