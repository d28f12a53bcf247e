package state

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"cfdock/internal/registry"
)

// MarkerProbe 检查工作区初始化标记
type MarkerProbe interface {
	Exists(ctx context.Context) (bool, error)
}

// ImageProbe 检查镜像是否存在
type ImageProbe interface {
	Exists(ctx context.Context, name string) (bool, error)
}

// ContainerLister 实时列出运行中的容器
type ContainerLister interface {
	ListActive(ctx context.Context) ([]registry.ContainerRecord, error)
}

// FileMarker 以文件是否存在作为初始化标记
type FileMarker struct {
	Path string
}

// Exists 实现 MarkerProbe
func (m FileMarker) Exists(ctx context.Context) (bool, error) {
	info, err := os.Stat(m.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}
