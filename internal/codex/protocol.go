// Package codex codex app-server 传输适配层。
//
// codex app-server 使用 JSON-RPC 2.0 (WebSocket):
//   - Client → Server: {jsonrpc,id,method,params} (请求) 或 {jsonrpc,method,params} (通知)
//   - Server → Client: {jsonrpc,id,result} (响应)、{jsonrpc,method,params} (通知)
//     或 {jsonrpc,id,method,params} (server request, 如审批)
//
// 本包只负责连接、读循环与少量 RPC (initialize / turn/interrupt / thread/resume),
// 通知原样转为 Notification 交给协调引擎。
package codex

import (
	"encoding/json"
	"strings"
)

// Notification 一条来自 app-server 的通知 (或 server request)。
type Notification struct {
	WorkspaceID string         `json:"workspaceId"`
	Method      string         `json:"method"`
	Params      map[string]any `json:"params,omitempty"`
	// RequestID 仅 server request 非空, 回复时使用。
	RequestID any `json:"requestId,omitempty"`
}

// Handler 接收通知。在读循环 goroutine 中同步调用。
type Handler func(Notification)

// 本地合成的通知方法。
const (
	MethodConnected    = "codex/connected"
	MethodDisconnected = "codex/disconnected"
	MethodStderr       = "codex/stderr"
)

// RPC 方法。
const (
	rpcInitialize    = "initialize"
	rpcTurnInterrupt = "turn/interrupt"
	rpcThreadResume  = "thread/resume"
)

// jsonRPCRequest JSON-RPC 2.0 请求。
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonRPCMessage JSON-RPC 通用消息 (用于读取解析)。
type jsonRPCMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"` // nil = 通知
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

// jsonRPCError JSON-RPC 错误。
type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// pendingCall 等待响应的 JSON-RPC 调用。
type pendingCall struct {
	result json.RawMessage
	err    error
	done   chan struct{}
}

// legacyMirrorStreamMethods 旧协议镜像的流式通知, 与 v2 通知重复, 直接丢弃。
var legacyMirrorStreamMethods = map[string]struct{}{
	"agent/event/agent_message_delta":         {},
	"agent/event/agent_message_content_delta": {},
	"codex/event/agent_message_delta":         {},
	"codex/event/agent_message_content_delta": {},
	"agent/event/agent_reasoning_delta":       {},
	"agent/event/agent_reasoning_raw_delta":   {},
	"codex/event/agent_reasoning_delta":       {},
	"codex/event/agent_reasoning_raw_delta":   {},
	"codex/event/reasoning_content_delta":     {},
	"agent/event/exec_command_output_delta":   {},
	"codex/event/exec_command_output_delta":   {},
	"codex/event/plan_delta":                  {},
}

// isLegacyMirror 旧协议镜像的流式通知 (server request 不丢弃)。
func isLegacyMirror(msg jsonRPCMessage) bool {
	if msg.ID != nil {
		return false
	}
	_, ok := legacyMirrorStreamMethods[strings.TrimSpace(msg.Method)]
	return ok
}

// decodeParams 参数解析失败时保留原文, 交给引擎按格式错误处理。
func decodeParams(raw json.RawMessage) map[string]any {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil || params == nil {
		return map[string]any{"raw": string(raw)}
	}
	return params
}

// truncateBytes 截断 []byte 用于日志展示。
func truncateBytes(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "...(truncated)"
}

// isShutdownReadError readLoop 错误是否由正常关闭触发。
func isShutdownReadError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
