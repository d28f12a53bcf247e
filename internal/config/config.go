package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 工作区内的配置目录和文件
const (
	DirName    = ".cfdock"
	FileName   = "config.yaml"
	MarkerName = "Dockerfile"
)

// Config 描述 cfdock 运行所需的配置。
// 优先级：默认值 < 工作区配置文件 < 环境变量。
type Config struct {
	DockerCommand string        `yaml:"dockerCommand"` // docker 可执行文件
	DockerHost    string        `yaml:"dockerHost"`    // 事件监听使用的守护进程地址，留空走 SDK 默认行为
	DefaultShell  string        `yaml:"defaultShell"`  // 终端容器和 exec 使用的 shell
	BaseImage     string        `yaml:"baseImage"`     // 非空时 build 改为 pull + tag
	SettleDelay   time.Duration `yaml:"settleDelay"`   // 命令完成后到重新同步的延迟
	PollInterval  time.Duration `yaml:"pollInterval"`  // 定期刷新间隔
	Converge      int           `yaml:"convergeAttempts"`
	ConvergeEvery time.Duration `yaml:"convergeInterval"` // 等待收敛时的轮询间隔
	Language      string        `yaml:"language"`
	MountPath     string        `yaml:"mountPath"` // 工作区在容器内的挂载点

	Store StoreConfig `yaml:"store"`

	// Workspace 工作区绝对路径，不从文件读取
	Workspace string `yaml:"-"`
}

// StoreConfig 会话存储配置
type StoreConfig struct {
	Type      string        `yaml:"type"` // memory 或 redis
	RedisAddr string        `yaml:"redisAddr"`
	Password  string        `yaml:"-"` // 只从环境变量读取
	TTL       time.Duration `yaml:"ttl"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		DockerCommand: "docker",
		DefaultShell:  "/bin/sh",
		SettleDelay:   750 * time.Millisecond,
		PollInterval:  5 * time.Second,
		Converge:      5,
		ConvergeEvery: 500 * time.Millisecond,
		Language:      "en",
		MountPath:     "/workspace",
		Store: StoreConfig{
			Type: "memory",
			TTL:  30 * time.Second,
		},
	}
}

// Dir 返回工作区配置目录
func (c *Config) Dir() string {
	return filepath.Join(c.Workspace, DirName)
}

// MarkerPath 返回初始化标记文件路径
func (c *Config) MarkerPath() string {
	return filepath.Join(c.Dir(), MarkerName)
}

// Load 加载工作区配置
func Load(workspace string) (*Config, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %q: %w", workspace, err)
	}

	cfg := Default()
	cfg.Workspace = abs

	if err := cfg.loadFile(filepath.Join(abs, DirName, FileName)); err != nil {
		return nil, err
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile 读取 yaml 配置文件，文件不存在时忽略
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// loadEnv 环境变量覆盖
func (c *Config) loadEnv() error {
	if v := os.Getenv("CFDOCK_DOCKER_COMMAND"); v != "" {
		c.DockerCommand = v
	}
	if v := os.Getenv("DOCKER_HOST"); v != "" {
		c.DockerHost = v
	}
	if v := os.Getenv("CFDOCK_DEFAULT_SHELL"); v != "" {
		c.DefaultShell = v
	}
	if v := os.Getenv("CFDOCK_BASE_IMAGE"); v != "" {
		c.BaseImage = v
	}
	if v := os.Getenv("CFDOCK_LANG"); v != "" {
		c.Language = v
	}
	if v := os.Getenv("STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.Password = v
	}

	var err error
	if c.SettleDelay, err = envDuration("CFDOCK_SETTLE_DELAY", c.SettleDelay); err != nil {
		return err
	}
	if c.PollInterval, err = envDuration("CFDOCK_POLL_INTERVAL", c.PollInterval); err != nil {
		return err
	}
	if v := os.Getenv("CFDOCK_CONVERGE_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CFDOCK_CONVERGE_ATTEMPTS %q: %w", v, err)
		}
		c.Converge = n
	}
	return nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DockerCommand) == "" {
		errs = append(errs, errors.New("dockerCommand must not be empty"))
	}
	if strings.TrimSpace(c.DefaultShell) == "" {
		errs = append(errs, errors.New("defaultShell must not be empty"))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("settleDelay must not be negative, got %v", c.SettleDelay))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("pollInterval must be positive, got %v", c.PollInterval))
	}
	if c.ConvergeEvery <= 0 {
		errs = append(errs, fmt.Errorf("convergeInterval must be positive, got %v", c.ConvergeEvery))
	}
	if c.Converge <= 0 {
		errs = append(errs, fmt.Errorf("convergeAttempts must be positive, got %d", c.Converge))
	}
	if c.Store.TTL <= 0 {
		errs = append(errs, fmt.Errorf("store.ttl must be positive, got %v", c.Store.TTL))
	}
	switch strings.ToLower(c.Store.Type) {
	case "memory":
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redisAddr (REDIS_ADDR) is required for redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store type %q", c.Store.Type))
	}
	return errors.Join(errs...)
}
