package docker

import (
	"bufio"
	"context"
	"io"
)

// maxLineCapacity 单行日志的最大长度
const maxLineCapacity = 1024 * 1024 // 1MB

// FollowLogs 启动 `logs -f <id>` 并返回日志流，调用方负责关闭
func FollowLogs(ctx context.Context, runner Runner, containerID string) (io.ReadCloser, error) {
	return runner.Stream(ctx, "logs", "-f", containerID)
}

// StreamLogs 流式读取日志，通过 channel 发送每一行
// 适用于 follow 模式或大量日志的场景
func StreamLogs(reader io.Reader, lineChan chan<- string, errChan chan<- error) {
	defer close(lineChan)
	defer close(errChan)

	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLineCapacity)

	for scanner.Scan() {
		lineChan <- scanner.Text()
	}

	if err := scanner.Err(); err != nil {
		errChan <- err
	}
}

// ReadAllLogs 读取全部日志行
func ReadAllLogs(reader io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLineCapacity)

	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
