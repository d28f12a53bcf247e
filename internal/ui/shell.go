package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"cfdock/internal/docker"
	"cfdock/internal/i18n"
	"cfdock/internal/session"
)

// shellCommand 实现 tea.ExecCommand，运行期间暂时交出终端控制
type shellCommand struct {
	sess  *session.Session
	id    string
	name  string
	shell string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newShellCommand(sess *session.Session, id, name string) *shellCommand {
	return &shellCommand{
		sess:   sess,
		id:     id,
		name:   name,
		shell:  sess.Config().DefaultShell,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// Run 实现 tea.ExecCommand 接口
func (c *shellCommand) Run() error {
	fmt.Fprint(c.stdout, "\033[2J\033[H")
	fmt.Fprintf(c.stdout, "\n\033[1;36m%s (%s)\033[0m\n\n", c.name, path.Base(c.shell))

	err := c.sess.Shell(context.Background(), c.id, docker.Streams{
		Stdin:  c.stdin,
		Stdout: c.stdout,
		Stderr: c.stderr,
	})

	fmt.Fprint(c.stdout, "\033[2J\033[H")
	// exit 130 是 ctrl+c 退出 shell
	if code, ok := exitCode(err); ok && (code == 0 || code == 130) {
		return nil
	}
	return err
}

// SetStdin 实现 tea.ExecCommand 接口
func (c *shellCommand) SetStdin(r io.Reader) { c.stdin = r }

// SetStdout 实现 tea.ExecCommand 接口
func (c *shellCommand) SetStdout(w io.Writer) { c.stdout = w }

// SetStderr 实现 tea.ExecCommand 接口
func (c *shellCommand) SetStderr(w io.Writer) { c.stderr = w }

func exitCode(err error) (int, bool) {
	if err == nil {
		return 0, true
	}
	var derr *docker.Error
	if errors.As(err, &derr) {
		return derr.ExitCode, true
	}
	return 0, false
}

func shellExitedText(name string) string {
	return fmt.Sprintf(i18n.M().ShellExited, name)
}
