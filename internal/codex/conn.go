package codex

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/xiaojiou176/CodexMonitor-sub005/pkg/errors"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/util"
)

const (
	dialTimeout     = 5 * time.Second
	readIdleTimeout = 90 * time.Second
	pingInterval    = 30 * time.Second
	writeTimeout    = 5 * time.Second
	defaultCallWait = 30 * time.Second
)

// Conn 单个 workspace 的 app-server WebSocket 连接。
// 不做重连; 断开时发出 codex/disconnected 通知。
type Conn struct {
	WorkspaceID string
	URL         string

	handler Handler

	wsMu sync.Mutex
	ws   *websocket.Conn

	nextID  atomic.Int64
	pending sync.Map // int64 → *pendingCall

	stopped atomic.Bool
	done    chan struct{}
}

// Dial 连接 app-server 并启动读循环。handler 在读循环中同步调用。
func Dial(ctx context.Context, workspaceID, url string, handler Handler) (*Conn, error) {
	if strings.TrimSpace(url) == "" {
		return nil, apperrors.WithCode(apperrors.ErrInvalidInput, "codex.Dial", apperrors.CodeConfig, "empty app-server url")
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
		NetDialContext:   (&net.Dialer{Timeout: dialTimeout}).DialContext,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, apperrors.WithCode(err, "codex.Dial", apperrors.CodeTransport, "ws connect "+url)
	}
	_ = ws.SetReadDeadline(time.Now().Add(readIdleTimeout))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readIdleTimeout))
		return nil
	})

	if handler == nil {
		handler = func(Notification) {}
	}
	c := &Conn{
		WorkspaceID: workspaceID,
		URL:         url,
		handler:     handler,
		ws:          ws,
		done:        make(chan struct{}),
	}
	util.SafeGo(c.readLoop)
	util.SafeGo(c.pingLoop)
	logger.Info("codex: connected",
		logger.FieldWorkspaceID, workspaceID,
		logger.FieldURL, url)
	return c, nil
}

// Done 读循环结束时关闭。
func (c *Conn) Done() <-chan struct{} { return c.done }

// Initialize 发送 initialize 请求, 成功后发出 codex/connected 通知。
func (c *Conn) Initialize(ctx context.Context, clientName, version string) error {
	params := map[string]any{
		"clientInfo": map[string]any{
			"name":    clientName,
			"title":   clientName,
			"version": version,
		},
	}
	if _, err := c.call(ctx, rpcInitialize, params); err != nil {
		return apperrors.Wrap(err, "Conn.Initialize", "initialize")
	}
	c.emit(MethodConnected, map[string]any{"url": c.URL})
	return nil
}

// InterruptTurn 发送 turn/interrupt。
func (c *Conn) InterruptTurn(ctx context.Context, threadID, turnID string) error {
	_, err := c.call(ctx, rpcTurnInterrupt, map[string]any{
		"threadId": threadID,
		"turnId":   turnID,
	})
	if err != nil {
		return apperrors.Wrapf(err, "Conn.InterruptTurn", "interrupt %s/%s", threadID, turnID)
	}
	return nil
}

// ResumeThread 发送 thread/resume, 返回线程快照 (result.thread, 缺省时为整个 result)。
func (c *Conn) ResumeThread(ctx context.Context, threadID string) (map[string]any, error) {
	raw, err := c.call(ctx, rpcThreadResume, map[string]any{"threadId": threadID})
	if err != nil {
		return nil, apperrors.Wrapf(err, "Conn.ResumeThread", "resume %s", threadID)
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apperrors.WithCode(err, "Conn.ResumeThread", apperrors.CodeRPC, "decode thread/resume result")
	}
	if result == nil {
		return nil, apperrors.WithCode(apperrors.ErrNotFound, "Conn.ResumeThread", apperrors.CodeRPC, "empty thread/resume result")
	}
	if thread, ok := result["thread"].(map[string]any); ok {
		return thread, nil
	}
	return result, nil
}

// Close 关闭连接并等待读循环退出。可重复调用。
func (c *Conn) Close() error {
	if c.stopped.Swap(true) {
		return nil
	}
	c.wsMu.Lock()
	var err error
	if c.ws != nil {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		err = c.ws.Close()
	}
	c.wsMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(3 * time.Second):
		logger.Warn("codex: read loop did not exit in time", logger.FieldWorkspaceID, c.WorkspaceID)
	}
	return err
}

// ========================================
// JSON-RPC
// ========================================

// call 发送请求并等待响应。ctx 无截止时间时使用默认超时。
func (c *Conn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.stopped.Load() {
		return nil, apperrors.WithCode(apperrors.ErrClosed, "Conn.call", apperrors.CodeTransport, method)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallWait)
		defer cancel()
	}

	id := c.nextID.Add(1)
	pc := &pendingCall{done: make(chan struct{})}
	c.pending.Store(id, pc)
	defer c.pending.Delete(id)

	if err := c.writeJSON(jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, apperrors.WithCode(err, "Conn.call", apperrors.CodeTransport, "write "+method)
	}

	select {
	case <-pc.done:
		return pc.result, pc.err
	case <-c.done:
		return nil, apperrors.WithCode(apperrors.ErrClosed, "Conn.call", apperrors.CodeTransport, method+": connection closed")
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperrors.WithCode(apperrors.ErrTimeout, "Conn.call", apperrors.CodeRPC, method+" timeout")
		}
		return nil, ctx.Err()
	}
}

// writeJSON 线程安全写入。
func (c *Conn) writeJSON(v any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws == nil {
		return apperrors.ErrNotConnected
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *Conn) emit(method string, params map[string]any) {
	c.handler(Notification{WorkspaceID: c.WorkspaceID, Method: method, Params: params})
}

// readLoop 持续读取消息:
//   - Response (id != nil, 无 method): 交给 pending call
//   - Notification / server request: 转为 Notification 交给 handler
func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if c.stopped.Load() || isShutdownReadError(err) {
				logger.Debug("codex: read loop stopped", logger.FieldWorkspaceID, c.WorkspaceID)
				return
			}
			logger.Warn("codex: read loop error",
				logger.FieldWorkspaceID, c.WorkspaceID,
				logger.FieldError, err)
			c.emit(MethodDisconnected, map[string]any{"message": err.Error()})
			return
		}

		var msg jsonRPCMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("codex: unparseable JSON-RPC message",
				logger.FieldWorkspaceID, c.WorkspaceID,
				logger.FieldError, err,
				logger.FieldRaw, truncateBytes(message, 200))
			continue
		}
		if c.handleResponse(msg) {
			continue
		}
		if msg.Method == "" || isLegacyMirror(msg) {
			continue
		}
		n := Notification{WorkspaceID: c.WorkspaceID, Method: msg.Method, Params: decodeParams(msg.Params)}
		if msg.ID != nil {
			n.RequestID = *msg.ID
			logger.Debug("codex: server request received",
				logger.FieldWorkspaceID, c.WorkspaceID,
				logger.FieldReqID, *msg.ID,
				logger.FieldMethod, msg.Method)
		}
		c.handler(n)
	}
}

func (c *Conn) handleResponse(msg jsonRPCMessage) bool {
	if msg.ID == nil || msg.Method != "" {
		return false
	}
	value, ok := c.pending.Load(*msg.ID)
	if !ok {
		logger.Warn("codex: orphan RPC response (no pending call)",
			logger.FieldWorkspaceID, c.WorkspaceID,
			logger.FieldReqID, *msg.ID)
		return true
	}
	pc := value.(*pendingCall)
	if msg.Error != nil {
		pc.err = apperrors.Newf("Conn.readLoop", "rpc error: %s (code %d)", msg.Error.Message, msg.Error.Code)
	} else {
		pc.result = msg.Result
	}
	close(pc.done)
	return true
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.wsMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
			c.wsMu.Unlock()
			if err != nil {
				logger.Debug("codex: ping failed", logger.FieldWorkspaceID, c.WorkspaceID, logger.FieldError, err)
				return
			}
		}
	}
}
