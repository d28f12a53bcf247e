// Package dockertest 提供一个内存中的假 Docker 守护进程，
// 它解析与真实 CLI 相同的参数并返回同样格式的 stdout/stderr，
// 用于在没有 Docker 的环境下测试生命周期逻辑。
package dockertest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"cfdock/internal/docker"
)

// 与真实 docker CLI 一致的错误输出
const (
	stderrUnreachable = "Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?\n"
	psTimeLayout      = "2006-01-02 15:04:05 -0700 MST"
)

// Container 假守护进程中的容器
type Container struct {
	ID         string
	Name       string
	Image      string
	Running    bool
	Paused     bool // 仅在 Running 时有意义
	ExitCode   int
	Created    time.Time
	AutoRemove bool
	Args       []string // run 时的完整参数
}

// listing 记录 ps 延迟可见时展示的旧状态
type listing struct {
	container Container
	remaining int
}

// Daemon 假 Docker 守护进程，实现 docker.Runner
type Daemon struct {
	mu         sync.Mutex
	containers map[string]*Container
	images     map[string]string // ref -> digest
	remote     map[string]bool   // 可以 pull 的镜像
	logs       map[string]string
	failures   map[string]string // 命令前缀 -> stderr
	stale      map[string]*listing
	calls      [][]string
	seq        int
	listLag    int
	clock      func() time.Time

	unreachable   bool
	binaryMissing bool

	// BeforeRun 在每次调用前执行（已计数），可用于阻塞或注入行为
	BeforeRun func(args []string)
}

// New 创建空的假守护进程
func New() *Daemon {
	return &Daemon{
		containers: make(map[string]*Container),
		images:     make(map[string]string),
		remote:     make(map[string]bool),
		logs:       make(map[string]string),
		failures:   make(map[string]string),
		stale:      make(map[string]*listing),
		clock:      time.Now,
	}
}

var _ docker.Runner = (*Daemon)(nil)

// ===== 测试辅助 =====

// SetUnreachable 模拟守护进程不可达
func (d *Daemon) SetUnreachable(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unreachable = v
}

// SetBinaryMissing 模拟 docker 可执行文件不存在
func (d *Daemon) SetBinaryMissing(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.binaryMissing = v
}

// SetListLag 设置状态变化后 ps 仍返回旧状态的次数（模拟最终一致性）
func (d *Daemon) SetListLag(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listLag = n
}

// Fail 让以 prefix 开头的命令失败并输出 stderr
func (d *Daemon) Fail(prefix, stderr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[prefix] = stderr
}

// ClearFailures 清除所有注入的失败
func (d *Daemon) ClearFailures() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = make(map[string]string)
}

// AddImage 添加本地镜像
func (d *Daemon) AddImage(ref string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.images[normalizeRef(ref)] = digestOf(ref)
}

// AddRemoteImage 添加可以被 pull 的远端镜像
func (d *Daemon) AddRemoteImage(ref string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remote[normalizeRef(ref)] = true
}

// HasImage 判断本地镜像是否存在
func (d *Daemon) HasImage(ref string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.images[normalizeRef(ref)]
	return ok
}

// AddContainer 直接添加容器，返回容器 ID
func (d *Daemon) AddContainer(name, image string, running bool) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.newContainerLocked(name, image)
	c.Running = running
	if !running {
		c.ExitCode = 0
	}
	return c.ID
}

// SetPaused 暂停或恢复运行中的容器
func (d *Daemon) SetPaused(id string, paused bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.containers[id]; ok && c.Running {
		c.Paused = paused
	}
}

// SetLogs 设置容器日志内容
func (d *Daemon) SetLogs(id, content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logs[id] = content
}

// Container 返回容器副本
func (d *Daemon) Container(id string) (Container, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.containers[id]
	if !ok {
		return Container{}, false
	}
	return *c, true
}

// RunningIDs 返回运行中的容器 ID（真实状态，不受 ps 延迟影响）
func (d *Daemon) RunningIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for id, c := range d.containers {
		if c.Running {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Calls 返回所有调用记录
func (d *Daemon) Calls() [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]string, len(d.calls))
	for i, c := range d.calls {
		out[i] = append([]string(nil), c...)
	}
	return out
}

// CallCount 返回调用总次数
func (d *Daemon) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// CountVerb 返回某个子命令的调用次数
func (d *Daemon) CountVerb(verb string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if len(c) > 0 && c[0] == verb {
			n++
		}
	}
	return n
}

// ===== docker.Runner 实现 =====

// Run 执行一条命令
func (d *Daemon) Run(ctx context.Context, args ...string) (*docker.Result, error) {
	d.record(args)
	if hook := d.BeforeRun; hook != nil {
		hook(args)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	result := &docker.Result{Args: args}
	if err := d.precheckLocked(result); err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		result.ExitCode = -1
		return result, docker.Classify(result, err)
	}

	stdout, stderr, code := d.dispatchLocked(args)
	result.Stdout = stdout
	result.Stderr = stderr
	result.ExitCode = code
	if code != 0 {
		return result, docker.Classify(result, fmt.Errorf("exit status %d", code))
	}
	return result, nil
}

// Stream 仅支持 logs -f
func (d *Daemon) Stream(ctx context.Context, args ...string) (io.ReadCloser, error) {
	d.record(args)

	d.mu.Lock()
	defer d.mu.Unlock()

	result := &docker.Result{Args: args}
	if err := d.precheckLocked(result); err != nil {
		return nil, err
	}
	if len(args) < 2 || args[0] != "logs" {
		result.Stderr = fmt.Sprintf("unsupported stream command: %s\n", strings.Join(args, " "))
		result.ExitCode = 1
		return nil, docker.Classify(result, fmt.Errorf("exit status 1"))
	}
	id := args[len(args)-1]
	c := d.lookupLocked(id)
	if c == nil {
		result.Stderr = "Error response from daemon: No such container: " + id + "\n"
		result.ExitCode = 1
		return nil, docker.Classify(result, fmt.Errorf("exit status 1"))
	}
	return io.NopCloser(strings.NewReader(d.logs[c.ID])), nil
}

// Attach 仅支持 exec -it
func (d *Daemon) Attach(ctx context.Context, streams docker.Streams, args ...string) error {
	d.record(args)

	d.mu.Lock()
	defer d.mu.Unlock()

	result := &docker.Result{Args: args}
	if err := d.precheckLocked(result); err != nil {
		return err
	}
	if len(args) < 3 || args[0] != "exec" {
		result.Stderr = fmt.Sprintf("unsupported attach command: %s\n", strings.Join(args, " "))
		result.ExitCode = 1
		return docker.Classify(result, fmt.Errorf("exit status 1"))
	}
	id := args[len(args)-2]
	c := d.lookupLocked(id)
	switch {
	case c == nil:
		result.Stderr = "Error response from daemon: No such container: " + id + "\n"
	case !c.Running:
		result.Stderr = fmt.Sprintf("Error response from daemon: container %s is not running\n", c.ID)
	default:
		if streams.Stdout != nil {
			fmt.Fprintf(streams.Stdout, "attached %s\n", c.Name)
		}
		return nil
	}
	result.ExitCode = 1
	return docker.Classify(result, fmt.Errorf("exit status 1"))
}

// ===== 内部实现 =====

func (d *Daemon) record(args []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, append([]string(nil), args...))
}

func (d *Daemon) precheckLocked(result *docker.Result) error {
	if d.binaryMissing {
		result.ExitCode = -1
		return docker.Classify(result, &exec.Error{Name: "docker", Err: exec.ErrNotFound})
	}
	if d.unreachable {
		result.Stderr = stderrUnreachable
		result.ExitCode = 1
		return docker.Classify(result, fmt.Errorf("exit status 1"))
	}
	line := strings.Join(result.Args, " ")
	for prefix, stderr := range d.failures {
		if strings.HasPrefix(line, prefix) {
			result.Stderr = stderr
			result.ExitCode = 1
			return docker.Classify(result, fmt.Errorf("exit status 1"))
		}
	}
	return nil
}

func (d *Daemon) dispatchLocked(args []string) (string, string, int) {
	if len(args) == 0 {
		return "", "docker: 'docker' requires a command\n", 1
	}
	switch args[0] {
	case "ps":
		return d.psLocked(args[1:])
	case "inspect":
		return d.inspectLocked(args[1:])
	case "image":
		if len(args) > 1 && args[1] == "inspect" {
			return d.imageInspectLocked(args[2:])
		}
	case "stop":
		return d.stopLocked(args[1:], false)
	case "kill":
		return d.stopLocked(args[1:], true)
	case "rm":
		return d.rmLocked(args[1:])
	case "run":
		return d.runLocked(args[1:])
	case "build":
		return d.buildLocked(args[1:])
	case "pull":
		return d.pullLocked(args[1:])
	case "tag":
		return d.tagLocked(args[1:])
	case "exec":
		return "", "", 0
	}
	return "", fmt.Sprintf("docker: unknown command: docker %s\n", args[0]), 1
}

func (d *Daemon) newContainerLocked(name, image string) *Container {
	d.seq++
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", name, d.seq)))
	c := &Container{
		ID:      hex.EncodeToString(sum[:]),
		Name:    name,
		Image:   image,
		Running: true,
		Created: d.clock(),
	}
	d.containers[c.ID] = c
	return c
}

// lookupLocked 按完整 ID、ID 前缀或名称查找容器
func (d *Daemon) lookupLocked(ref string) *Container {
	if c, ok := d.containers[ref]; ok {
		return c
	}
	for _, c := range d.containers {
		if c.Name == ref || (len(ref) >= 12 && strings.HasPrefix(c.ID, ref)) {
			return c
		}
	}
	return nil
}

// rememberLocked 在 ps 延迟开启时保存变更前的状态
func (d *Daemon) rememberLocked(c *Container) {
	if d.listLag <= 0 {
		return
	}
	if _, ok := d.stale[c.ID]; ok {
		return
	}
	d.stale[c.ID] = &listing{container: *c, remaining: d.listLag}
}

type psRow struct {
	Command   string `json:"Command"`
	CreatedAt string `json:"CreatedAt"`
	ID        string `json:"ID"`
	Image     string `json:"Image"`
	Names     string `json:"Names"`
	State     string `json:"State"`
	Status    string `json:"Status"`
}

func (d *Daemon) psLocked(args []string) (string, string, int) {
	all := false
	var nameFilter string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-a", "--all":
			all = true
		case "--filter", "-f":
			if i+1 < len(args) {
				i++
				if v, ok := strings.CutPrefix(args[i], "name="); ok {
					nameFilter = v
				}
			}
		case "--format":
			i++
		}
	}

	view := make(map[string]Container)
	for id, c := range d.containers {
		view[id] = *c
	}
	for id, st := range d.stale {
		view[id] = st.container
		st.remaining--
		if st.remaining <= 0 {
			delete(d.stale, id)
		}
	}

	ids := make([]string, 0, len(view))
	for id := range view {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := view[ids[i]], view[ids[j]]
		if !a.Created.Equal(b.Created) {
			return a.Created.After(b.Created)
		}
		return a.ID < b.ID
	})

	var b strings.Builder
	for _, id := range ids {
		c := view[id]
		if !all && !c.Running {
			continue
		}
		if nameFilter != "" && !strings.Contains(c.Name, nameFilter) {
			continue
		}
		row := psRow{
			Command:   `"sleep infinity"`,
			CreatedAt: c.Created.Format(psTimeLayout),
			ID:        c.ID,
			Image:     c.Image,
			Names:     c.Name,
			State:     "running",
			Status:    "Up 2 seconds",
		}
		switch {
		case !c.Running:
			row.State = "exited"
			row.Status = fmt.Sprintf("Exited (%d) 1 second ago", c.ExitCode)
		case c.Paused:
			row.State = "paused"
			row.Status = "Up 2 seconds (Paused)"
		}
		data, _ := json.Marshal(row)
		b.Write(data)
		b.WriteByte('\n')
	}
	return b.String(), "", 0
}

type inspectState struct {
	Status   string `json:"Status"`
	Running  bool   `json:"Running"`
	ExitCode int    `json:"ExitCode"`
}

type inspectConfig struct {
	Image string `json:"Image"`
}

type inspectRow struct {
	ID      string        `json:"Id"`
	Name    string        `json:"Name"`
	Created string        `json:"Created"`
	State   inspectState  `json:"State"`
	Config  inspectConfig `json:"Config"`
}

func (d *Daemon) inspectLocked(args []string) (string, string, int) {
	refs := positional(args, map[string]bool{"--format": true, "-f": true, "--type": true})
	if len(refs) == 0 {
		return "", "\"docker inspect\" requires at least 1 argument.\n", 1
	}
	var rows []inspectRow
	var missing []string
	for _, ref := range refs {
		c := d.lookupLocked(ref)
		if c == nil {
			missing = append(missing, ref)
			continue
		}
		status := "running"
		switch {
		case !c.Running:
			status = "exited"
		case c.Paused:
			status = "paused"
		}
		rows = append(rows, inspectRow{
			ID:      c.ID,
			Name:    "/" + c.Name,
			Created: c.Created.UTC().Format(time.RFC3339Nano),
			State:   inspectState{Status: status, Running: c.Running, ExitCode: c.ExitCode},
			Config:  inspectConfig{Image: c.Image},
		})
	}
	data, _ := json.MarshalIndent(rows, "", "    ")
	if len(missing) > 0 {
		var stderr strings.Builder
		for _, ref := range missing {
			stderr.WriteString("Error: No such object: " + ref + "\n")
		}
		if rows == nil {
			data = []byte("[]")
		}
		return string(data) + "\n", stderr.String(), 1
	}
	return string(data) + "\n", "", 0
}

func (d *Daemon) imageInspectLocked(args []string) (string, string, int) {
	refs := positional(args, map[string]bool{"--format": true, "-f": true})
	if len(refs) == 0 {
		return "", "\"docker image inspect\" requires at least 1 argument.\n", 1
	}
	ref := refs[0]
	digest, ok := d.images[normalizeRef(ref)]
	if !ok {
		return "[]\n", "Error response from daemon: No such image: " + ref + "\n", 1
	}
	return digest + "\n", "", 0
}

func (d *Daemon) stopLocked(args []string, force bool) (string, string, int) {
	refs := positional(args, map[string]bool{"-t": true, "--time": true, "-s": true, "--signal": true})
	if len(refs) == 0 {
		return "", "\"docker stop\" requires at least 1 argument.\n", 1
	}
	id := refs[0]
	c := d.lookupLocked(id)
	if c == nil {
		return "", "Error response from daemon: No such container: " + id + "\n", 1
	}
	if !c.Running {
		if force {
			return "", fmt.Sprintf("Error response from daemon: cannot kill container: %s: container %s is not running\n", id, c.ID), 1
		}
		return id + "\n", "", 0
	}

	d.rememberLocked(c)
	c.Running = false
	c.Paused = false
	c.ExitCode = 143
	if force {
		c.ExitCode = 137
	}
	if c.AutoRemove {
		delete(d.containers, c.ID)
	}
	return id + "\n", "", 0
}

func (d *Daemon) rmLocked(args []string) (string, string, int) {
	force := false
	var refs []string
	for _, a := range args {
		switch a {
		case "-f", "--force":
			force = true
		case "-v", "--volumes":
		default:
			refs = append(refs, a)
		}
	}
	if len(refs) == 0 {
		return "", "\"docker rm\" requires at least 1 argument.\n", 1
	}
	id := refs[0]
	c := d.lookupLocked(id)
	if c == nil {
		return "", "Error response from daemon: No such container: " + id + "\n", 1
	}
	if c.Running && !force {
		return "", fmt.Sprintf("Error response from daemon: cannot remove container \"/%s\": container is running: stop the container before removing or force remove\n", c.Name), 1
	}
	d.rememberLocked(c)
	delete(d.containers, c.ID)
	return id + "\n", "", 0
}

// runValueFlags run 子命令中需要取值的参数
var runValueFlags = map[string]bool{
	"--name": true, "--label": true, "-l": true, "-v": true, "--volume": true,
	"-w": true, "--workdir": true, "-e": true, "--env": true, "--entrypoint": true,
	"--network": true, "-u": true, "--user": true, "--mount": true, "--hostname": true,
}

func (d *Daemon) runLocked(args []string) (string, string, int) {
	var name, image string
	detach, autoRemove := false, false
	rest := -1
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-d" || a == "--detach":
			detach = true
		case a == "--rm":
			autoRemove = true
		case a == "--name":
			if i+1 < len(args) {
				name = args[i+1]
			}
			i++
		case runValueFlags[a]:
			i++
		case strings.HasPrefix(a, "-"):
		default:
			image = a
			rest = i
		}
		if rest >= 0 {
			break
		}
	}
	if image == "" {
		return "", "\"docker run\" requires at least 1 argument.\n", 125
	}
	if _, ok := d.images[normalizeRef(image)]; !ok {
		return "", fmt.Sprintf("Unable to find image '%s' locally\ndocker: Error response from daemon: pull access denied for %s, repository does not exist or may require 'docker login'.\n", normalizeRef(image), image), 125
	}
	if name != "" {
		for _, c := range d.containers {
			if c.Name == name {
				return "", fmt.Sprintf("docker: Error response from daemon: Conflict. The container name \"/%s\" is already in use by container \"%s\". You have to remove (or rename) that container to be able to reuse that name.\n", name, c.ID), 125
			}
		}
	}
	if name == "" {
		name = fmt.Sprintf("auto_%d", d.seq+1)
	}

	c := d.newContainerLocked(name, image)
	c.AutoRemove = autoRemove
	c.Args = append([]string{"run"}, args...)
	if !detach {
		c.Running = false
		if autoRemove {
			delete(d.containers, c.ID)
		}
	}
	return c.ID + "\n", "", 0
}

func (d *Daemon) buildLocked(args []string) (string, string, int) {
	var tags []string
	for i := 0; i < len(args); i++ {
		if args[i] == "-t" || args[i] == "--tag" {
			if i+1 < len(args) {
				tags = append(tags, args[i+1])
			}
			i++
		}
	}
	if len(tags) == 0 {
		return "", "", 0
	}
	for _, t := range tags {
		d.images[normalizeRef(t)] = digestOf(t)
	}
	return digestOf(tags[0]) + "\n", "", 0
}

func (d *Daemon) pullLocked(args []string) (string, string, int) {
	refs := positional(args, map[string]bool{"--platform": true})
	if len(refs) == 0 {
		return "", "\"docker pull\" requires exactly 1 argument.\n", 1
	}
	ref := normalizeRef(refs[0])
	if !d.remote[ref] {
		return "", fmt.Sprintf("Error response from daemon: pull access denied for %s, repository does not exist or may require 'docker login'\n", refs[0]), 1
	}
	d.images[ref] = digestOf(ref)
	return "Status: Downloaded newer image for " + ref + "\n", "", 0
}

func (d *Daemon) tagLocked(args []string) (string, string, int) {
	if len(args) != 2 {
		return "", "\"docker tag\" requires exactly 2 arguments.\n", 1
	}
	src, dst := normalizeRef(args[0]), normalizeRef(args[1])
	digest, ok := d.images[src]
	if !ok {
		return "", "Error response from daemon: No such image: " + args[0] + "\n", 1
	}
	d.images[dst] = digest
	return "", "", 0
}

// positional 提取非参数项
func positional(args []string, valueFlags map[string]bool) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		if valueFlags[args[i]] {
			i++
			continue
		}
		if strings.HasPrefix(args[i], "-") {
			continue
		}
		out = append(out, args[i])
	}
	return out
}

// normalizeRef 补全默认 tag
func normalizeRef(ref string) string {
	slash := strings.LastIndex(ref, "/")
	if !strings.Contains(ref[slash+1:], ":") {
		return ref + ":latest"
	}
	return ref
}

func digestOf(ref string) string {
	sum := sha256.Sum256([]byte(normalizeRef(ref)))
	return "sha256:" + hex.EncodeToString(sum[:])
}
