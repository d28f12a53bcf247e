package ui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"cfdock/internal/docker"
	"cfdock/internal/i18n"
	"cfdock/internal/registry"
	"cfdock/internal/ui/styles"
)

// logStream 一个正在跟随的日志流
type logStream struct {
	name   string
	cancel context.CancelFunc
	lines  chan string
	errs   chan error
}

// next 等待下一行，流结束时返回 logDoneMsg
func (s *logStream) next() tea.Cmd {
	return func() tea.Msg {
		line, ok := <-s.lines
		if ok {
			return logLineMsg{stream: s, line: line}
		}
		return logDoneMsg{stream: s, err: <-s.errs}
	}
}

func (m Model) openLogs(rec registry.ContainerRecord) (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(context.Background())
	rc, err := m.sess.Lifecycle.Logs(ctx, rec.ID)
	if err != nil {
		cancel()
		m.outcome, m.outcomeErr = describeError(err), true
		return m, nil
	}

	stream := &logStream{
		name:   rec.Name,
		cancel: func() { cancel(); rc.Close() },
		lines:  make(chan string, 256),
		errs:   make(chan error, 1),
	}
	go docker.StreamLogs(rc, stream.lines, stream.errs)

	m.mode = modeLogs
	m.logStream = stream
	m.logLines = nil
	m.logs.SetContent("")
	return m, stream.next()
}

func (m Model) handleLogsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		if m.logStream != nil {
			m.logStream.cancel()
			m.logStream = nil
		}
		m.mode = modeMain
		return m, nil
	}
	var cmd tea.Cmd
	m.logs, cmd = m.logs.Update(msg)
	return m, cmd
}

func (m *Model) appendLog(line string) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
	atBottom := m.logs.AtBottom()
	m.logs.SetContent(strings.Join(m.logLines, "\n"))
	if atBottom {
		m.logs.GotoBottom()
	}
}

func (m Model) logsView() string {
	name := ""
	if m.logStream != nil {
		name = m.logStream.name
	}
	header := styles.TitleStyle.Render(i18n.M().Logs) + "  " + styles.SubtitleStyle.Render(name)
	footer := styles.MutedStyle.Render("esc " + strings.ToLower(i18n.M().Cancel))
	return header + "\n" + m.logs.View() + "\n" + footer
}
