package codex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	apperrors "github.com/xiaojiou176/CodexMonitor-sub005/pkg/errors"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
)

const startupDialTimeout = 30 * time.Second

// SpawnOptions 本地 app-server 子进程参数。
type SpawnOptions struct {
	Bin         string
	WorkspaceID string
	// Dir 子进程工作目录 (workspace root)。
	Dir string
	// Port 0 表示自动选择空闲端口。
	Port int
	// OnStderr 每行 stderr 回调 (已去除行尾)。
	OnStderr func(line string)
}

// Process 本地 app-server 子进程。
type Process struct {
	Cmd    *exec.Cmd
	URL    string
	stderr *logger.StderrCollector
}

// Spawn 启动 `codex app-server --listen ws://127.0.0.1:PORT` 并等待端口可用。
func Spawn(ctx context.Context, opts SpawnOptions) (*Process, error) {
	bin := strings.TrimSpace(opts.Bin)
	if bin == "" {
		bin = "codex"
	}
	port := opts.Port
	if port <= 0 {
		free, err := freePort()
		if err != nil {
			return nil, apperrors.WithCode(err, "codex.Spawn", apperrors.CodeTransport, "pick free port")
		}
		port = free
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	url := "ws://" + addr

	// 使用 exec.Command 而非 exec.CommandContext: 子进程生命周期由 Kill 显式管理。
	cmd := exec.Command(bin, "app-server", "--listen", url)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	cmd.Dir = opts.Dir
	cmd.Stdout = io.Discard
	collector := logger.NewStderrCollector(opts.WorkspaceID, opts.OnStderr)
	cmd.Stderr = collector

	if err := cmd.Start(); err != nil {
		_ = collector.Close()
		return nil, apperrors.WithCode(err, "codex.Spawn", apperrors.CodeTransport, "spawn app-server")
	}
	p := &Process{Cmd: cmd, URL: url, stderr: collector}

	deadline := time.Now().Add(startupDialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			_ = p.Kill()
			return nil, apperrors.Wrap(ctx.Err(), "codex.Spawn", "spawn cancelled")
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			logger.Info("codex: app-server listening",
				logger.FieldWorkspaceID, opts.WorkspaceID,
				logger.FieldAddr, addr,
				logger.FieldPID, cmd.Process.Pid)
			return p, nil
		}
		time.Sleep(300 * time.Millisecond)
	}
	_ = p.Kill()
	return nil, apperrors.WithCode(apperrors.ErrTimeout, "codex.Spawn", apperrors.CodeTransport,
		fmt.Sprintf("app-server startup timeout on %s", addr))
}

// Kill 强制终止子进程并关闭 stderr 收集。
func (p *Process) Kill() error {
	if p == nil || p.Cmd == nil || p.Cmd.Process == nil {
		return nil
	}
	defer func() {
		if p.stderr != nil {
			_ = p.stderr.Close()
		}
	}()
	if err := p.Cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	waitErr := p.Cmd.Wait()
	if waitErr == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return nil
	}
	msg := waitErr.Error()
	if strings.Contains(msg, "Wait was already called") || strings.Contains(msg, "no child processes") {
		return nil
	}
	return waitErr
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
