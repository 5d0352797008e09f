package uistate

import "github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"

// ThreadKey 线程身份: (workspaceId, threadId)。
type ThreadKey struct {
	WorkspaceID string `json:"workspaceId"`
	ThreadID    string `json:"threadId"`
}

// ThreadState is the UI-ready state of a single thread.
type ThreadState struct {
	WorkspaceID string `json:"workspaceId"`
	ID          string `json:"id"`
	// Name 服务端名称; CustomName 用户命名, 显示时优先且从不被覆盖。
	Name       string `json:"name"`
	CustomName string `json:"customName,omitempty"`

	UpdatedAtMs           int64  `json:"updatedAtMs,omitempty"`
	IsProcessing          bool   `json:"isProcessing"`
	ProcessingStartedAtMs int64  `json:"processingStartedAtMs,omitempty"`
	IsReviewing           bool   `json:"isReviewing"`
	HasUnread             bool   `json:"hasUnread"`
	Hidden                bool   `json:"hidden,omitempty"`
	ActiveTurnID          string `json:"activeTurnId,omitempty"`
	ParentID              string `json:"parentId,omitempty"`

	Plan               *normalize.ThreadPlan       `json:"plan,omitempty"`
	TurnDiff           string                      `json:"turnDiff,omitempty"`
	TokenUsage         *normalize.ThreadTokenUsage `json:"tokenUsage,omitempty"`
	TurnContextWindows map[string]int64            `json:"turnContextWindows,omitempty"`

	Items            []normalize.ConversationItem `json:"items"`
	LastAgentMessage string                       `json:"lastAgentMessage,omitempty"`
	LastError        string                       `json:"lastError,omitempty"`
}

// DisplayName 用户命名优先, 其次服务端名称, 最后 id。
func (t ThreadState) DisplayName() string {
	if t.CustomName != "" {
		return t.CustomName
	}
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

// ApprovalRequest 等待用户批准的命令 / 文件变更。
type ApprovalRequest struct {
	WorkspaceID string         `json:"workspaceId"`
	ThreadID    string         `json:"threadId"`
	TurnID      string         `json:"turnId,omitempty"`
	ItemID      string         `json:"itemId,omitempty"`
	RequestID   any            `json:"requestId"`
	Method      string         `json:"method"`
	Params      map[string]any `json:"params,omitempty"`
}

// UserInputRequest 工具向用户提问。
type UserInputRequest struct {
	WorkspaceID string         `json:"workspaceId"`
	ThreadID    string         `json:"threadId"`
	TurnID      string         `json:"turnId,omitempty"`
	ItemID      string         `json:"itemId,omitempty"`
	RequestID   any            `json:"requestId"`
	Questions   []any          `json:"questions,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// Snapshot 全量状态快照 (深拷贝)。
type Snapshot struct {
	Seq               uint64                                  `json:"seq"`
	Threads           []ThreadState                           `json:"threads"`
	RateLimits        map[string]*normalize.RateLimitSnapshot `json:"rateLimits"`
	ActiveThreads     map[string]string                       `json:"activeThreads"`
	Approvals         []ApprovalRequest                       `json:"approvals"`
	UserInputRequests []UserInputRequest                      `json:"userInputRequests"`
}
