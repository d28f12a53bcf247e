package ui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"cfdock/internal/state"
)

// bridge 把后台 goroutine 的事件转成 tea.Msg
// 快照只保留最新一份，确认请求逐个排队
type bridge struct {
	mu     sync.Mutex
	latest state.Snapshot
	notify chan struct{}

	confirms chan confirmRequestMsg
	done     chan struct{}
	once     sync.Once
}

func newBridge() *bridge {
	return &bridge{
		notify:   make(chan struct{}, 1),
		confirms: make(chan confirmRequestMsg),
		done:     make(chan struct{}),
	}
}

// publish 订阅回调，不阻塞发布方
func (b *bridge) publish(s state.Snapshot) {
	b.mu.Lock()
	if s.Seq >= b.latest.Seq {
		b.latest = s
	}
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *bridge) snapshot() state.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

// wait 等待下一个事件
func (b *bridge) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-b.notify:
			return snapshotMsg(b.snapshot())
		case req := <-b.confirms:
			return req
		case <-b.done:
			return nil
		}
	}
}

// ask 向界面发起确认并阻塞等待回答，界面关闭或 ctx 结束时视为拒绝
func (b *bridge) ask(ctx context.Context, prompt string) bool {
	reply := make(chan bool, 1)
	select {
	case b.confirms <- confirmRequestMsg{prompt: prompt, reply: reply}:
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	}

	select {
	case ok := <-reply:
		return ok
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	}
}

func (b *bridge) close() {
	b.once.Do(func() { close(b.done) })
}
