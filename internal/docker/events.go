package docker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	sdk "github.com/docker/docker/client"
)

// ContainerEvent 表示与当前工作区相关的容器事件
type ContainerEvent struct {
	Action        string    // 事件类型: start, stop, die, create, destroy, rename 等
	ContainerID   string    // 容器 ID
	ContainerName string    // 容器名称
	Timestamp     time.Time // 事件时间
}

// 只关注会改变容器列表的事件
var watchedActions = map[string]bool{
	"start":   true,
	"stop":    true,
	"die":     true,
	"kill":    true,
	"create":  true,
	"destroy": true,
	"rename":  true,
}

// EventWatcher 通过 Docker SDK 订阅守护进程事件
// 事件只作为刷新触发器，容器状态仍以 CLI 查询结果为准
type EventWatcher struct {
	cli    *sdk.Client
	prefix string
}

// NewEventWatcher 基于环境变量创建 SDK 客户端，host 非空时覆盖 DOCKER_HOST
func NewEventWatcher(host, prefix string) (*EventWatcher, error) {
	opts := []sdk.Opt{sdk.FromEnv, sdk.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, sdk.WithHost(host))
	}
	cli, err := sdk.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &EventWatcher{cli: cli, prefix: prefix}, nil
}

// Ping 验证 Docker 守护进程是否可用
func (w *EventWatcher) Ping(ctx context.Context) error {
	if w == nil || w.cli == nil {
		return fmt.Errorf("docker client not initialized")
	}
	if _, err := w.cli.Ping(ctx); err != nil {
		return &Error{Kind: KindDaemonUnreachable, Err: err}
	}
	return nil
}

// Matches 判断容器名是否属于当前工作区
func (w *EventWatcher) Matches(name string) bool {
	name = strings.TrimPrefix(name, "/")
	return strings.HasPrefix(name, w.prefix+"-")
}

// Watch 监听容器事件，ctx 结束时两个通道都会关闭
func (w *EventWatcher) Watch(ctx context.Context) (<-chan ContainerEvent, <-chan error) {
	eventChan := make(chan ContainerEvent, 10)
	errorChan := make(chan error, 1)

	go func() {
		defer close(eventChan)
		defer close(errorChan)

		if w == nil || w.cli == nil {
			errorChan <- fmt.Errorf("docker client not initialized")
			return
		}

		msgChan, errChan := w.cli.Events(ctx, events.ListOptions{
			Filters: filters.NewArgs(filters.Arg("type", string(events.ContainerEventType))),
		})

		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errChan:
				if err != nil && ctx.Err() == nil {
					errorChan <- fmt.Errorf("failed to watch docker events: %w", err)
				}
				return
			case msg := <-msgChan:
				if msg.Type != events.ContainerEventType {
					continue
				}
				action := string(msg.Action)
				name := msg.Actor.Attributes["name"]
				if !watchedActions[action] || !w.Matches(name) {
					continue
				}

				ts := time.Unix(msg.Time, 0)
				if msg.TimeNano > 0 {
					ts = time.Unix(0, msg.TimeNano)
				}
				event := ContainerEvent{
					Action:        action,
					ContainerID:   msg.Actor.ID,
					ContainerName: strings.TrimPrefix(name, "/"),
					Timestamp:     ts,
				}
				select {
				case eventChan <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return eventChan, errorChan
}

// Close 关闭 SDK 客户端
func (w *EventWatcher) Close() error {
	if w == nil || w.cli == nil {
		return nil
	}
	return w.cli.Close()
}
