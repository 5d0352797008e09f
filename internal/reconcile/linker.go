package reconcile

import (
	"strings"
	"sync"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
)

// LinkOptions 父子关系更新选项。
type LinkOptions struct {
	// Source 线程来源 (thread.source), 子 agent spawn 标记允许一次改挂。
	Source any
	// AllowReparent 显式允许一次改挂。
	AllowReparent bool
}

// Linker 维护 child → parent 森林。
//
// 不变量: 不存在环; 每个 child 至多一个 parent; 首次挂载之后至多改挂一次。
type Linker struct {
	state Dispatcher
	hooks Hooks

	mu         sync.Mutex
	parents    map[uistate.ThreadKey]string
	reparented map[uistate.ThreadKey]struct{}
}

// NewLinker 创建 Linker。
func NewLinker(state Dispatcher, hooks Hooks) *Linker {
	return &Linker{
		state:      state,
		hooks:      hooks,
		parents:    map[uistate.ThreadKey]string{},
		reparented: map[uistate.ThreadKey]struct{}{},
	}
}

// Parent 返回已记录的 parent id。
func (l *Linker) Parent(workspaceID, threadID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.parents[uistate.ThreadKey{WorkspaceID: workspaceID, ThreadID: threadID}]
}

// UpdateThreadParent 把 childIDs 挂到 parentID 下。
// 自引用、已正确挂载、未获许可的改挂、已用完的改挂额度以及会形成环的边都被忽略。
func (l *Linker) UpdateThreadParent(workspaceID, parentID string, childIDs []string, opts LinkOptions) {
	parentID = strings.TrimSpace(parentID)
	if workspaceID == "" || parentID == "" || len(childIDs) == 0 {
		return
	}
	allowReparent := opts.AllowReparent || IsSubAgentSource(opts.Source)

	var actions []uistate.Action
	l.mu.Lock()
	for _, raw := range childIDs {
		childID := strings.TrimSpace(raw)
		if childID == "" || childID == parentID {
			continue
		}
		key := uistate.ThreadKey{WorkspaceID: workspaceID, ThreadID: childID}
		current := l.parents[key]
		if current == parentID {
			continue
		}
		if current != "" {
			if !allowReparent {
				continue
			}
			if _, used := l.reparented[key]; used {
				logger.Debug("reconcile: reparent allowance already consumed",
					logger.FieldWorkspaceID, workspaceID,
					logger.FieldThreadID, childID,
					logger.FieldParentID, parentID)
				continue
			}
		}
		if l.reachesLocked(workspaceID, parentID, childID) {
			logger.Debug("reconcile: parent edge rejected, would form a cycle",
				logger.FieldWorkspaceID, workspaceID,
				logger.FieldThreadID, childID,
				logger.FieldParentID, parentID)
			continue
		}
		l.parents[key] = parentID
		if current != "" {
			l.reparented[key] = struct{}{}
		}
		actions = append(actions, uistate.SetThreadParent{ThreadRef: uistate.Ref(workspaceID, childID), ParentID: parentID})
	}
	l.mu.Unlock()

	for _, a := range actions {
		l.state.Dispatch(a)
	}
}

// reachesLocked 沿 from 的 parent 链向上, 判断是否经过 target。
func (l *Linker) reachesLocked(workspaceID, from, target string) bool {
	seen := map[string]struct{}{}
	for cur := from; cur != ""; {
		if cur == target {
			return true
		}
		if _, ok := seen[cur]; ok {
			return false
		}
		seen[cur] = struct{}{}
		cur = l.parents[uistate.ThreadKey{WorkspaceID: workspaceID, ThreadID: cur}]
	}
	return false
}

var (
	senderThreadKeys   = []string{"senderThreadId", "sender_thread_id", "senderthreadid"}
	receiverThreadKeys = []string{
		"receiverThreadIds", "receiver_thread_ids",
		"receiverThreadId", "receiver_thread_id",
		"newThreadId", "new_thread_id",
	}
)

// ApplyCollabThreadLinks 协作工具调用条目隐含 sender → receivers 的父子关系。
// receivers 在挂载前先通过 OnSubAgent 标记。
func (l *Linker) ApplyCollabThreadLinks(workspaceID, fallbackThreadID string, item map[string]any) {
	switch normalize.ItemType(item) {
	case normalize.ItemTypeCollabToolCall, normalize.ItemTypeCollabAgentCall:
	default:
		return
	}
	parentID := normalize.FirstString(item, senderThreadKeys...)
	if parentID == "" {
		parentID = strings.TrimSpace(fallbackThreadID)
	}
	receivers := collectReceivers(item)
	if parentID == "" || len(receivers) == 0 {
		return
	}
	for _, id := range receivers {
		if id != parentID {
			l.hooks.subAgent(workspaceID, id)
		}
	}
	l.UpdateThreadParent(workspaceID, parentID, receivers, LinkOptions{})
}

func collectReceivers(item map[string]any) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, key := range receiverThreadKeys {
		for _, id := range normalize.AsStringList(item[key]) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// ========================================
// 来源推断: source.subAgent.thread_spawn
// ========================================

var (
	subAgentKeys    = []string{"subAgent", "sub_agent", "subagent"}
	threadSpawnKeys = []string{"thread_spawn", "threadSpawn", "threadspawn"}
	parentIDKeys    = []string{"parent_thread_id", "parentThreadId", "parentthreadid"}
)

func threadSpawnMarker(source any) map[string]any {
	src := normalize.AsMap(source)
	if src == nil {
		return nil
	}
	sub, ok := normalize.LookupNonNil(src, subAgentKeys...)
	if !ok {
		return nil
	}
	spawn, ok := normalize.LookupNonNil(normalize.AsMap(sub), threadSpawnKeys...)
	if !ok {
		return nil
	}
	if m := normalize.AsMap(spawn); m != nil {
		return m
	}
	return map[string]any{}
}

// IsSubAgentSource 来源带有子 agent thread-spawn 标记。
func IsSubAgentSource(source any) bool {
	return threadSpawnMarker(source) != nil
}

// ParentFromSource 从 thread-spawn 标记中取 parent thread id。
func ParentFromSource(source any) string {
	return normalize.FirstString(threadSpawnMarker(source), parentIDKeys...)
}
