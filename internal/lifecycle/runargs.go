package lifecycle

import (
	"sort"
	"strings"
)

// Mount 绑定挂载
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunConfig docker run 的参数配置
type RunConfig struct {
	Image       string
	Name        string
	Detach      bool
	Interactive bool
	TTY         bool
	AutoRemove  bool
	Workdir     string
	Entrypoint  string
	Mounts      []Mount
	Env         map[string]string
	Labels      map[string]string
	ExtraArgs   []string // 放在镜像名之前的额外参数
	Command     []string // 镜像名之后的命令
}

// RunArgsFor 把配置转换为 docker run 参数
// 纯函数：相同配置总是得到相同参数，map 按 key 排序输出
func RunArgsFor(cfg RunConfig) []string {
	args := []string{"run"}
	if cfg.Detach {
		args = append(args, "-d")
	}
	if cfg.Interactive {
		args = append(args, "-i")
	}
	if cfg.TTY {
		args = append(args, "-t")
	}
	if cfg.AutoRemove {
		args = append(args, "--rm")
	}
	if cfg.Name != "" {
		args = append(args, "--name", cfg.Name)
	}
	for _, k := range sortedKeys(cfg.Labels) {
		args = append(args, "--label", k+"="+cfg.Labels[k])
	}
	for _, k := range sortedKeys(cfg.Env) {
		args = append(args, "-e", k+"="+cfg.Env[k])
	}
	for _, m := range cfg.Mounts {
		spec := m.Source + ":" + m.Target
		if m.ReadOnly {
			spec += ":ro"
		}
		args = append(args, "-v", spec)
	}
	if cfg.Workdir != "" {
		args = append(args, "-w", cfg.Workdir)
	}
	if cfg.Entrypoint != "" {
		args = append(args, "--entrypoint", cfg.Entrypoint)
	}
	args = append(args, cfg.ExtraArgs...)
	args = append(args, cfg.Image)
	return append(args, cfg.Command...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.TrimSpace(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
