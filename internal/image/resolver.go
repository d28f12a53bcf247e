// Package image 负责工作区镜像命名以及镜像的检查、构建和拉取。
package image

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"k8s.io/klog/v2"

	"cfdock/internal/docker"
)

const (
	namePrefix = "cf"
	hashLength = 12
	slugLimit  = 20
	defaultTag = "latest"
)

// NameFor 根据工作区路径生成镜像名（同时作为容器名前缀）
// 格式为 cf-<slug>-<hash>，slug 为空时为 cf-<hash>
// 纯函数：同一路径总是返回同一名称
func NameFor(workspacePath string) string {
	normalized := filepath.Clean(workspacePath)
	sum := sha256.Sum256([]byte(normalized))
	hash := hex.EncodeToString(sum[:])[:hashLength]

	slug := slugify(filepath.Base(normalized))
	if slug == "" {
		return namePrefix + "-" + hash
	}
	return namePrefix + "-" + slug + "-" + hash
}

// slugify 转为 docker 名称允许的小写字符
func slugify(base string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(base) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
		if b.Len() >= slugLimit {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// Record 镜像信息
type Record struct {
	Name   string
	Tag    string
	Exists bool
	Digest string
}

// Ref 返回 name:tag
func (r Record) Ref() string {
	return r.Name + ":" + r.Tag
}

// BuildOptions 构建或拉取参数
// Source 非空时执行 pull + tag，否则使用 Dockerfile 构建
type BuildOptions struct {
	Name       string
	Dockerfile string
	ContextDir string
	Source     string
	BuildArgs  map[string]string
}

// Resolver 通过 docker CLI 查询和构建镜像
type Resolver struct {
	runner docker.Runner
}

// NewResolver 创建 Resolver
func NewResolver(runner docker.Runner) *Resolver {
	return &Resolver{runner: runner}
}

// Exists 判断镜像是否存在
// 镜像不存在返回 false, nil；可执行文件缺失或守护进程不可达时返回错误
func (r *Resolver) Exists(ctx context.Context, name string) (bool, error) {
	rec, err := r.Inspect(ctx, name)
	if err != nil {
		return false, err
	}
	return rec.Exists, nil
}

// Inspect 查询镜像是否存在以及 digest
func (r *Resolver) Inspect(ctx context.Context, name string) (Record, error) {
	rec := splitRef(name)

	res, err := r.runner.Run(ctx, "image", "inspect", "--format", "{{.Id}}", rec.Ref())
	if err != nil {
		if isMissingImage(err) {
			return rec, nil
		}
		return rec, err
	}

	rec.Exists = true
	rec.Digest = strings.TrimSpace(res.Stdout)
	return rec, nil
}

// BuildOrPull 构建或拉取镜像，完成后重新检查
// docker 的层缓存保证重复构建已是最新的镜像不会产生变化
func (r *Resolver) BuildOrPull(ctx context.Context, opts BuildOptions) (Record, error) {
	if opts.Name == "" {
		return Record{}, fmt.Errorf("image name is required")
	}
	target := splitRef(opts.Name)

	if opts.Source != "" {
		klog.InfoS("pulling image", "source", opts.Source, "target", target.Ref())
		if _, err := r.runner.Run(ctx, "pull", opts.Source); err != nil {
			return target, err
		}
		if _, err := r.runner.Run(ctx, "tag", opts.Source, target.Ref()); err != nil {
			return target, err
		}
	} else {
		args := buildArgs(target.Ref(), opts)
		klog.InfoS("building image", "target", target.Ref(), "dockerfile", opts.Dockerfile)
		if _, err := r.runner.Run(ctx, args...); err != nil {
			return target, err
		}
	}

	rec, err := r.Inspect(ctx, target.Ref())
	if err != nil {
		return rec, err
	}
	if !rec.Exists {
		return rec, &docker.Error{
			Kind:    docker.KindResourceNotFound,
			Message: fmt.Sprintf("image %s missing after build", target.Ref()),
		}
	}
	return rec, nil
}

func buildArgs(ref string, opts BuildOptions) []string {
	args := []string{"build", "-t", ref}
	if opts.Dockerfile != "" {
		args = append(args, "-f", opts.Dockerfile)
	}
	keys := make([]string, 0, len(opts.BuildArgs))
	for k := range opts.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--build-arg", k+"="+opts.BuildArgs[k])
	}
	contextDir := opts.ContextDir
	if contextDir == "" {
		contextDir = "."
	}
	return append(args, contextDir)
}

// isMissingImage 镜像不存在属于正常结果，不是错误
func isMissingImage(err error) bool {
	return errors.Is(err, docker.ErrOperationFailed) && docker.IsNoSuchImage(err)
}

// splitRef 拆分 name:tag，忽略 registry 端口中的冒号
func splitRef(ref string) Record {
	slash := strings.LastIndex(ref, "/")
	if i := strings.LastIndex(ref, ":"); i > slash {
		return Record{Name: ref[:i], Tag: ref[i+1:]}
	}
	return Record{Name: ref, Tag: defaultTag}
}
