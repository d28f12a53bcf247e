// Package registry 维护当前工作区容器的进程内视图，并与 Docker 守护进程的实际状态对账。
package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"cfdock/internal/docker"
)

// maxMisses 连续缺席超过该次数的记录会被移除
const maxMisses = 1

const psTimeLayout = "2006-01-02 15:04:05 -0700 MST"

type entry struct {
	record    ContainerRecord
	misses    int
	trackedAt uint64 // 插入时已发出的最大对账序号
	observed  bool   // 是否已在对账结果中出现过
}

// Registry 工作区容器注册表
// 每个工作区会话持有一个实例，不使用全局状态
type Registry struct {
	runner docker.Runner
	prefix string

	mu      sync.Mutex
	entries map[string]*entry
	issued  uint64 // 已发出的对账序号
	applied uint64 // 已合并的最新对账序号
	now     func() time.Time
}

// New 创建注册表
func New(runner docker.Runner, prefix string) *Registry {
	return &Registry{
		runner:  runner,
		prefix:  prefix,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Prefix 返回容器名前缀
func (r *Registry) Prefix() string {
	return r.prefix
}

// ListActive 实时查询守护进程，返回本次查询中正在运行的容器
func (r *Registry) ListActive(ctx context.Context) ([]ContainerRecord, error) {
	records, err := r.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]ContainerRecord, 0, len(records))
	for _, rec := range records {
		if rec.Running {
			active = append(active, rec)
		}
	}
	return active, nil
}

// Refresh 执行一次对账，返回本次查询到的全部容器（包括已退出的）
func (r *Registry) Refresh(ctx context.Context) ([]ContainerRecord, error) {
	r.mu.Lock()
	r.issued++
	seq := r.issued
	r.mu.Unlock()

	res, err := r.runner.Run(ctx, "ps", "-a",
		"--filter", "name="+r.prefix,
		"--no-trunc",
		"--format", "{{json .}}")
	if err != nil {
		return nil, err
	}

	observed, err := r.parse(res.Stdout)
	if err != nil {
		return nil, err
	}
	r.merge(seq, observed)
	return observed, nil
}

// psRow docker ps --format '{{json .}}' 的一行
type psRow struct {
	ID        string `json:"ID"`
	Names     string `json:"Names"`
	Image     string `json:"Image"`
	State     string `json:"State"`
	Status    string `json:"Status"`
	CreatedAt string `json:"CreatedAt"`
}

func (r *Registry) parse(stdout string) ([]ContainerRecord, error) {
	var records []ContainerRecord
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row psRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, fmt.Errorf("failed to parse docker ps output: %w", err)
		}

		name, _, _ := strings.Cut(row.Names, ",")
		// --filter name= 是子串匹配，这里按前缀再过滤一次
		if !BelongsTo(r.prefix, name) {
			continue
		}

		rec := ContainerRecord{
			ID:      row.ID,
			Name:    name,
			Image:   row.Image,
			Type:    TypeFromName(r.prefix, name),
			Running: IsLiveState(row.State),
			Status:  row.Status,
		}
		if t, err := time.Parse(psTimeLayout, row.CreatedAt); err == nil {
			rec.CreatedAt = t
		}
		if !rec.Running {
			rec.ExitCode = parseExitCode(row.Status)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

// merge 将一次对账结果合并到内存视图
// 比已合并结果更旧的对账直接丢弃，避免覆盖较新的状态
func (r *Registry) merge(seq uint64, observed []ContainerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if seq < r.applied {
		klog.V(4).Infof("discarding stale sweep %d (applied %d)", seq, r.applied)
		return
	}
	r.applied = seq

	seen := make(map[string]bool, len(observed))
	for _, rec := range observed {
		seen[rec.ID] = true
		if e, ok := r.entries[rec.ID]; ok {
			if rec.Type == TypeUnknown {
				rec.Type = e.record.Type
			}
			e.record = rec
			e.misses = 0
			e.observed = true
			continue
		}
		r.entries[rec.ID] = &entry{record: rec, trackedAt: seq, observed: true}
	}

	for id, e := range r.entries {
		if seen[id] {
			continue
		}
		// 对账开始后才插入的记录不计入缺席
		if e.trackedAt >= seq {
			continue
		}
		e.misses++
		if e.misses > maxMisses {
			klog.V(2).InfoS("dropping container absent from daemon", "id", e.record.ShortID(), "name", e.record.Name)
			delete(r.entries, id)
		}
	}
}

// TrackLaunched 启动后立即插入记录，下次对账时以守护进程结果为准
func (r *Registry) TrackLaunched(id, name string, t ContainerType) ContainerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := ContainerRecord{
		ID:        id,
		Name:      name,
		Type:      t,
		Running:   true,
		CreatedAt: r.now(),
		Status:    "Created",
	}
	if e, ok := r.entries[id]; ok {
		e.record = rec
		e.misses = 0
		e.trackedAt = r.issued
		e.observed = false
		return rec
	}
	r.entries[id] = &entry{record: rec, trackedAt: r.issued}
	return rec
}

// MarkStopped 停止后立即更新记录
func (r *Registry) MarkStopped(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.record.Running = false
	}
}

// Forget 移除记录（容器已被删除）
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Observed 判断记录是否已被对账确认（而不只是启动后乐观插入）
func (r *Registry) Observed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return ok && e.observed
}

// Snapshot 返回内存中的视图，可能已过期，只用于展示
func (r *Registry) Snapshot() []ContainerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ContainerRecord, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.record)
	}
	sortRecords(out)
	return out
}

// Get 按 ID 查找内存中的记录
func (r *Registry) Get(id string) (ContainerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ContainerRecord{}, false
	}
	return e.record, true
}

type inspectResult struct {
	ID      string `json:"Id"`
	Name    string `json:"Name"`
	Created string `json:"Created"`
	State   struct {
		Status   string `json:"Status"`
		Running  bool   `json:"Running"`
		ExitCode int    `json:"ExitCode"`
	} `json:"State"`
	Config struct {
		Image string `json:"Image"`
	} `json:"Config"`
}

// Inspect 查询单个容器的详细信息
func (r *Registry) Inspect(ctx context.Context, id string) (ContainerRecord, error) {
	res, err := r.runner.Run(ctx, "inspect", "--type", "container", id)
	if err != nil {
		return ContainerRecord{}, err
	}

	var results []inspectResult
	if err := json.Unmarshal([]byte(res.Stdout), &results); err != nil {
		return ContainerRecord{}, fmt.Errorf("failed to parse docker inspect output: %w", err)
	}
	if len(results) == 0 {
		return ContainerRecord{}, &docker.Error{Kind: docker.KindOperationFailed, Args: res.Args, Message: "empty inspect result"}
	}

	in := results[0]
	name := strings.TrimPrefix(in.Name, "/")
	rec := ContainerRecord{
		ID:      in.ID,
		Name:    name,
		Image:   in.Config.Image,
		Type:    TypeFromName(r.prefix, name),
		Running: in.State.Running || IsLiveState(in.State.Status),
		Status:  in.State.Status,
	}
	if t, err := time.Parse(time.RFC3339Nano, in.Created); err == nil {
		rec.CreatedAt = t
	}
	if !rec.Running {
		code := in.State.ExitCode
		rec.ExitCode = &code
	}
	return rec, nil
}

// sortRecords 按创建时间倒序，时间相同按 ID
func sortRecords(records []ContainerRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}
