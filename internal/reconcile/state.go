package reconcile

import (
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
)

// Dispatcher 接受 action 的状态容器 (fire-and-forget)。
type Dispatcher interface {
	Dispatch(a uistate.Action)
}

// StateContainer 协调引擎使用的状态容器接口。
// 读取接口只用于解析已确认的 turn id、计划、自定义名称与限额快照。
type StateContainer interface {
	Dispatcher
	ActiveTurnID(workspaceID, threadID string) string
	ThreadPlan(workspaceID, threadID string) *normalize.ThreadPlan
	CustomName(workspaceID, threadID string) string
	RateLimits(workspaceID string) *normalize.RateLimitSnapshot
	ActiveThreadID(workspaceID string) string
}

var _ StateContainer = (*uistate.Store)(nil)

// Hooks 外部回调, 均可为 nil。
type Hooks struct {
	// OnSubAgent 线程被识别为子 agent (早于它自己的生命周期事件)。
	OnSubAgent func(workspaceID, threadID string)
	// OnReviewExited review 模式条目完成。
	OnReviewExited func(workspaceID, threadID string)
	// OnThreadStarted 新线程 (含子 agent) 创建后。
	OnThreadStarted func(workspaceID, threadID string)
}

func (h Hooks) subAgent(workspaceID, threadID string) {
	if h.OnSubAgent != nil {
		h.OnSubAgent(workspaceID, threadID)
	}
}

func (h Hooks) reviewExited(workspaceID, threadID string) {
	if h.OnReviewExited != nil {
		h.OnReviewExited(workspaceID, threadID)
	}
}

func (h Hooks) threadStarted(workspaceID, threadID string) {
	if h.OnThreadStarted != nil {
		h.OnThreadStarted(workspaceID, threadID)
	}
}
