// Package uistate 线程状态容器 (reducer)。
//
// Store 接受协调引擎派发的 Action, 维护每个 workspace / thread 的可显示状态,
// 并把已应用的 action 广播给监听者 (SSE / Wails 事件)。
package uistate

import (
	"sort"
	"strings"
	"sync"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"
)

// Listener 接收已应用的 action。监听者内不得再调用 Dispatch。
type Listener func(Envelope)

type threadEntry struct {
	state     ThreadState
	itemIndex map[string]int
}

// Store 并发安全的状态容器。
type Store struct {
	// notifyMu 串行化 apply + 通知, 保证监听者按 seq 顺序收到 action。
	notifyMu sync.Mutex
	mu       sync.RWMutex

	threads       map[ThreadKey]*threadEntry
	order         []ThreadKey
	rateLimits    map[string]*normalize.RateLimitSnapshot
	activeThreads map[string]string
	approvals     []ApprovalRequest
	userInputs    []UserInputRequest
	seq           uint64

	listeners      map[int]Listener
	nextListenerID int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		threads:       map[ThreadKey]*threadEntry{},
		rateLimits:    map[string]*normalize.RateLimitSnapshot{},
		activeThreads: map[string]string{},
		listeners:     map[int]Listener{},
	}
}

// Subscribe 注册监听者, 返回取消函数。
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextListenerID
	s.nextListenerID++
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Dispatch 应用 action。无效 (缺少 id) 或无变化的 action 不广播。
func (s *Store) Dispatch(a Action) {
	if a == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if !s.applyLocked(a) {
		s.mu.Unlock()
		return
	}
	s.seq++
	env := Envelope{Seq: s.seq, Type: a.Kind(), Action: a}
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(env)
	}
}

// ========================================
// 读取接口 (协调引擎使用)
// ========================================

// ActiveTurnID 返回已确认的活动 turn id。
func (s *Store) ActiveTurnID(workspaceID, threadID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.threads[ThreadKey{workspaceID, threadID}]; e != nil {
		return e.state.ActiveTurnID
	}
	return ""
}

// ThreadPlan 返回计划的拷贝。
func (s *Store) ThreadPlan(workspaceID, threadID string) *normalize.ThreadPlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.threads[ThreadKey{workspaceID, threadID}]; e != nil {
		return e.state.Plan.Clone()
	}
	return nil
}

// CustomName 返回用户自定义名称。
func (s *Store) CustomName(workspaceID, threadID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.threads[ThreadKey{workspaceID, threadID}]; e != nil {
		return e.state.CustomName
	}
	return ""
}

// RateLimits 返回 workspace 限额快照的拷贝。
func (s *Store) RateLimits(workspaceID string) *normalize.RateLimitSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rateLimits[workspaceID].Clone()
}

// ActiveThreadID 返回 workspace 当前查看的线程。
func (s *Store) ActiveThreadID(workspaceID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeThreads[workspaceID]
}

// Thread 返回单个线程的拷贝。
func (s *Store) Thread(workspaceID, threadID string) (ThreadState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.threads[ThreadKey{workspaceID, threadID}]
	if e == nil {
		return ThreadState{}, false
	}
	return cloneThread(e.state), true
}

// Threads 按创建顺序返回线程列表; workspaceID 为空返回全部。
func (s *Store) Threads(workspaceID string) []ThreadState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ThreadState, 0, len(s.order))
	for _, key := range s.order {
		if workspaceID != "" && key.WorkspaceID != workspaceID {
			continue
		}
		out = append(out, cloneThread(s.threads[key].state))
	}
	return out
}

// Snapshot returns a deep-copied snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Seq:               s.seq,
		Threads:           make([]ThreadState, 0, len(s.order)),
		RateLimits:        make(map[string]*normalize.RateLimitSnapshot, len(s.rateLimits)),
		ActiveThreads:     make(map[string]string, len(s.activeThreads)),
		Approvals:         append([]ApprovalRequest{}, s.approvals...),
		UserInputRequests: append([]UserInputRequest{}, s.userInputs...),
	}
	for _, key := range s.order {
		out.Threads = append(out.Threads, cloneThread(s.threads[key].state))
	}
	for ws, rl := range s.rateLimits {
		out.RateLimits[ws] = rl.Clone()
	}
	for ws, id := range s.activeThreads {
		out.ActiveThreads[ws] = id
	}
	return out
}

// ========================================
// 内部
// ========================================

func (s *Store) ensureThreadLocked(key ThreadKey) (*threadEntry, bool) {
	if e := s.threads[key]; e != nil {
		return e, false
	}
	e := &threadEntry{
		state: ThreadState{
			WorkspaceID: key.WorkspaceID,
			ID:          key.ThreadID,
			Items:       []normalize.ConversationItem{},
		},
		itemIndex: map[string]int{},
	}
	s.threads[key] = e
	s.order = append(s.order, key)
	return e, true
}

// itemLocked 返回条目指针, 不存在时按 itemType 创建。
func (e *threadEntry) itemLocked(itemID, itemType string) *normalize.ConversationItem {
	if idx, ok := e.itemIndex[itemID]; ok {
		item := &e.state.Items[idx]
		if item.Type == "" {
			item.Type = itemType
		}
		return item
	}
	e.state.Items = append(e.state.Items, normalize.ConversationItem{ID: itemID, Type: itemType})
	e.itemIndex[itemID] = len(e.state.Items) - 1
	return &e.state.Items[len(e.state.Items)-1]
}

func validKey(key ThreadKey) bool {
	return strings.TrimSpace(key.WorkspaceID) != "" && strings.TrimSpace(key.ThreadID) != ""
}
