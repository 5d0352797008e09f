// actions.go — 状态容器接受的 action 定义。
//
// 协调引擎只通过 Dispatch(Action) 修改状态; 每个 action 一个具体类型,
// Kind() 给出线上 (SSE / Wails 事件) 使用的标签。
package uistate

import "github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"

// ActionKind action 标签。
type ActionKind string

const (
	KindEnsureThread                   ActionKind = "ensureThread"
	KindSetThreadName                  ActionKind = "setThreadName"
	KindSetThreadTimestamp             ActionKind = "setThreadTimestamp"
	KindAppendAgentDelta               ActionKind = "appendAgentDelta"
	KindCompleteAgentMessage           ActionKind = "completeAgentMessage"
	KindAppendToolOutput               ActionKind = "appendToolOutput"
	KindSetThreadPlan                  ActionKind = "setThreadPlan"
	KindClearThreadPlan                ActionKind = "clearThreadPlan"
	KindSetThreadTurnDiff              ActionKind = "setThreadTurnDiff"
	KindSetThreadTokenUsage            ActionKind = "setThreadTokenUsage"
	KindSetThreadTurnContextWindow     ActionKind = "setThreadTurnContextWindow"
	KindSetRateLimits                  ActionKind = "setRateLimits"
	KindSetThreadParent                ActionKind = "setThreadParent"
	KindMarkUnread                     ActionKind = "markUnread"
	KindAddUserInputRequest            ActionKind = "addUserInputRequest"
	KindHideThread                     ActionKind = "hideThread"
	KindMarkProcessing                 ActionKind = "markProcessing"
	KindMarkReviewing                  ActionKind = "markReviewing"
	KindSetActiveTurnID                ActionKind = "setActiveTurnId"
	KindPushThreadErrorMessage         ActionKind = "pushThreadErrorMessage"
	KindUpsertItem                     ActionKind = "upsertItem"
	KindAppendReasoningSummary         ActionKind = "appendReasoningSummary"
	KindAppendReasoningSummaryBoundary ActionKind = "appendReasoningSummaryBoundary"
	KindAppendReasoningContent         ActionKind = "appendReasoningContent"
	KindAppendPlanDelta                ActionKind = "appendPlanDelta"
	KindAddApproval                    ActionKind = "addApproval"
	KindSetCustomName                  ActionKind = "setCustomName"
	KindSetActiveThread                ActionKind = "setActiveThread"
)

// Action 可派发到 Store 的状态变更。
type Action interface {
	Kind() ActionKind
}

// Envelope 广播给监听者的已应用 action。
type Envelope struct {
	Seq    uint64     `json:"seq"`
	Type   ActionKind `json:"type"`
	Action Action     `json:"action"`
}

// ThreadRef 线程级 action 的公共字段。
type ThreadRef struct {
	WorkspaceID string `json:"workspaceId"`
	ThreadID    string `json:"threadId"`
}

// Key 返回线程身份。
func (r ThreadRef) Key() ThreadKey { return ThreadKey(r) }

// Ref 构造 ThreadRef。
func Ref(workspaceID, threadID string) ThreadRef {
	return ThreadRef{WorkspaceID: workspaceID, ThreadID: threadID}
}

type EnsureThread struct{ ThreadRef }

type SetThreadName struct {
	ThreadRef
	Name string `json:"name"`
}

type SetThreadTimestamp struct {
	ThreadRef
	TimestampMs int64 `json:"timestamp"`
}

// AppendAgentDelta 一次 flush 合并后的增量文本。
type AppendAgentDelta struct {
	ThreadRef
	ItemID        string `json:"itemId"`
	Delta         string `json:"delta"`
	HasCustomName bool   `json:"hasCustomName"`
	TurnID        string `json:"turnId,omitempty"`
}

type CompleteAgentMessage struct {
	ThreadRef
	ItemID        string `json:"itemId"`
	Text          string `json:"text"`
	HasCustomName bool   `json:"hasCustomName"`
	TurnID        string `json:"turnId,omitempty"`
}

// AppendToolOutput 命令 / 文件变更 / 终端交互输出。
type AppendToolOutput struct {
	ThreadRef
	ItemID string `json:"itemId"`
	Delta  string `json:"delta"`
}

type SetThreadPlan struct {
	ThreadRef
	Plan *normalize.ThreadPlan `json:"plan"`
}

type ClearThreadPlan struct{ ThreadRef }

type SetThreadTurnDiff struct {
	ThreadRef
	Diff string `json:"diff"`
}

type SetThreadTokenUsage struct {
	ThreadRef
	TokenUsage normalize.ThreadTokenUsage `json:"tokenUsage"`
}

type SetThreadTurnContextWindow struct {
	ThreadRef
	TurnID        string `json:"turnId"`
	ContextWindow int64  `json:"contextWindow"`
}

type SetRateLimits struct {
	WorkspaceID string                      `json:"workspaceId"`
	RateLimits  normalize.RateLimitSnapshot `json:"rateLimits"`
}

type SetThreadParent struct {
	ThreadRef
	ParentID string `json:"parentId"`
}

type MarkUnread struct {
	ThreadRef
	HasUnread bool `json:"hasUnread"`
}

type AddUserInputRequest struct {
	Request UserInputRequest `json:"request"`
}

type HideThread struct{ ThreadRef }

type MarkProcessing struct {
	ThreadRef
	IsProcessing bool  `json:"isProcessing"`
	TimestampMs  int64 `json:"timestamp"`
}

type MarkReviewing struct {
	ThreadRef
	IsReviewing bool `json:"isReviewing"`
}

// SetActiveTurnID TurnID 为空表示清除。
type SetActiveTurnID struct {
	ThreadRef
	TurnID string `json:"turnId"`
}

type PushThreadErrorMessage struct {
	ThreadRef
	Message string `json:"message"`
}

type UpsertItem struct {
	ThreadRef
	Item          normalize.ConversationItem `json:"item"`
	HasCustomName bool                       `json:"hasCustomName"`
}

type AppendReasoningSummary struct {
	ThreadRef
	ItemID string `json:"itemId"`
	Delta  string `json:"delta"`
}

type AppendReasoningSummaryBoundary struct {
	ThreadRef
	ItemID string `json:"itemId"`
}

type AppendReasoningContent struct {
	ThreadRef
	ItemID string `json:"itemId"`
	Delta  string `json:"delta"`
}

type AppendPlanDelta struct {
	ThreadRef
	ItemID string `json:"itemId"`
	Delta  string `json:"delta"`
}

type AddApproval struct {
	Approval ApprovalRequest `json:"approval"`
}

// SetCustomName 用户重命名; 空字符串清除自定义名称。
type SetCustomName struct {
	ThreadRef
	Name string `json:"name"`
}

// SetActiveThread 用户切换当前查看的线程。
type SetActiveThread struct{ ThreadRef }

func (EnsureThread) Kind() ActionKind                   { return KindEnsureThread }
func (SetThreadName) Kind() ActionKind                  { return KindSetThreadName }
func (SetThreadTimestamp) Kind() ActionKind             { return KindSetThreadTimestamp }
func (AppendAgentDelta) Kind() ActionKind               { return KindAppendAgentDelta }
func (CompleteAgentMessage) Kind() ActionKind           { return KindCompleteAgentMessage }
func (AppendToolOutput) Kind() ActionKind               { return KindAppendToolOutput }
func (SetThreadPlan) Kind() ActionKind                  { return KindSetThreadPlan }
func (ClearThreadPlan) Kind() ActionKind                { return KindClearThreadPlan }
func (SetThreadTurnDiff) Kind() ActionKind              { return KindSetThreadTurnDiff }
func (SetThreadTokenUsage) Kind() ActionKind            { return KindSetThreadTokenUsage }
func (SetThreadTurnContextWindow) Kind() ActionKind     { return KindSetThreadTurnContextWindow }
func (SetRateLimits) Kind() ActionKind                  { return KindSetRateLimits }
func (SetThreadParent) Kind() ActionKind                { return KindSetThreadParent }
func (MarkUnread) Kind() ActionKind                     { return KindMarkUnread }
func (AddUserInputRequest) Kind() ActionKind            { return KindAddUserInputRequest }
func (HideThread) Kind() ActionKind                     { return KindHideThread }
func (MarkProcessing) Kind() ActionKind                 { return KindMarkProcessing }
func (MarkReviewing) Kind() ActionKind                  { return KindMarkReviewing }
func (SetActiveTurnID) Kind() ActionKind                { return KindSetActiveTurnID }
func (PushThreadErrorMessage) Kind() ActionKind         { return KindPushThreadErrorMessage }
func (UpsertItem) Kind() ActionKind                     { return KindUpsertItem }
func (AppendReasoningSummary) Kind() ActionKind         { return KindAppendReasoningSummary }
func (AppendReasoningSummaryBoundary) Kind() ActionKind { return KindAppendReasoningSummaryBoundary }
func (AppendReasoningContent) Kind() ActionKind         { return KindAppendReasoningContent }
func (AppendPlanDelta) Kind() ActionKind                { return KindAppendPlanDelta }
func (AddApproval) Kind() ActionKind                    { return KindAddApproval }
func (SetCustomName) Kind() ActionKind                  { return KindSetCustomName }
func (SetActiveThread) Kind() ActionKind                { return KindSetActiveThread }
