package logger

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
)

// maxStderrLine 单行上限; 超出部分被截断而不是让 scanner 报错退出。
const maxStderrLine = 1 << 20

// StderrCollector 将 app-server 子进程的 stderr 逐行转为 slog 日志,
// 并把每一行交给 onLine 回调 (通常转发为 "codex/stderr" 事件)。
//
// 实现 io.Writer 接口，可直接赋给 exec.Cmd.Stderr。
type StderrCollector struct {
	pr          *io.PipeReader
	pw          *io.PipeWriter
	workspaceID string
	onLine      func(line string)
	done        chan struct{}
}

// NewStderrCollector 创建 StderrCollector。onLine 可为 nil。
func NewStderrCollector(workspaceID string, onLine func(line string)) *StderrCollector {
	pr, pw := io.Pipe()
	c := &StderrCollector{
		pr:          pr,
		pw:          pw,
		workspaceID: workspaceID,
		onLine:      onLine,
		done:        make(chan struct{}),
	}
	go c.scan()
	return c
}

// Write 实现 io.Writer — exec.Cmd.Stderr 直接写入。
func (c *StderrCollector) Write(p []byte) (int, error) {
	return c.pw.Write(p)
}

// Close 关闭 writer 端，等待 scanner 完成。
func (c *StderrCollector) Close() error {
	_ = c.pw.Close()
	<-c.done
	return nil
}

func (c *StderrCollector) scan() {
	defer close(c.done)
	defer func() { _ = c.pr.Close() }()

	scanner := bufio.NewScanner(c.pr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStderrLine)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		lvl := slog.LevelDebug
		if containsErrorKeyword(line) {
			lvl = slog.LevelWarn
		}
		getLogger().Log(context.Background(), lvl, line,
			FieldSource, "codex",
			FieldComponent, "stderr",
			FieldWorkspaceID, c.workspaceID,
		)

		if c.onLine != nil {
			c.onLine(line)
		}
	}

	if err := scanner.Err(); err != nil {
		getLogger().Error("stderr collector: scan failed",
			FieldSource, "codex",
			FieldWorkspaceID, c.workspaceID,
			FieldError, err,
		)
		// 排空剩余输入, 避免写端阻塞。
		_, _ = io.Copy(io.Discard, c.pr)
	}
}

// containsErrorKeyword 判断 stderr 行中是否包含错误关键词 (大小写不敏感)。
func containsErrorKeyword(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "error") ||
		strings.Contains(lower, "panic") ||
		strings.Contains(lower, "fatal")
}
