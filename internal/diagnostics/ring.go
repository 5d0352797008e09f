package diagnostics

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
)

const (
	defaultRingSize = 2000
	defaultReadSize = 200
	maxReadSize     = 500

	// overflowLogEvery 溢出日志采样: 第 1 次 + 每 N 次。
	overflowLogEvery int64 = 1000
)

// Ring 内存诊断队列 (环形缓冲), 超出容量时覆盖最旧条目。
type Ring struct {
	mu      sync.RWMutex
	max     int
	nextSeq int64
	// entries 未满时按顺序追加; 满后 head 指向最旧条目。
	entries []Entry
	head    int

	dropped  atomic.Int64
	overflow atomic.Int64
}

// NewRing 创建容量为 size 的队列 (<=0 使用默认值)。
func NewRing(size int) *Ring {
	if size <= 0 {
		size = defaultRingSize
	}
	return &Ring{max: size, entries: make([]Entry, 0, min(size, 256))}
}

// Record 实现 Sink。
func (r *Ring) Record(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	e.Seq = r.nextSeq
	if len(r.entries) < r.max {
		r.entries = append(r.entries, e)
		return
	}
	r.entries[r.head] = e
	r.head = (r.head + 1) % r.max

	total := r.dropped.Add(1)
	seq := r.overflow.Add(1)
	if seq == 1 || seq%overflowLogEvery == 0 {
		logger.Warn("diagnostics: ring overflow, dropped oldest entries",
			logger.FieldSource, string(e.Source),
			"dropped_total", total,
			"max_entries", r.max)
	}
}

// at 第 i 旧的条目。调用方持有锁。
func (r *Ring) at(i int) Entry {
	return r.entries[(r.head+i)%len(r.entries)]
}

// ReadResult 增量读取结果。
type ReadResult struct {
	Entries  []Entry `json:"entries"`
	LastSeq  int64   `json:"lastSeq"`
	OldestID int64   `json:"oldestSeq"`
	Depth    int     `json:"depth"`
	Dropped  int64   `json:"dropped"`
}

// Read 返回 seq > after 的条目, 最多 limit 条。source 非空时只返回该来源。
func (r *Ring) Read(after int64, limit int, source Source) ReadResult {
	if limit <= 0 || limit > maxReadSize {
		limit = defaultReadSize
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := ReadResult{LastSeq: r.nextSeq, Depth: len(r.entries), Dropped: r.dropped.Load()}
	if len(r.entries) == 0 {
		return res
	}
	res.OldestID = r.at(0).Seq
	res.Entries = make([]Entry, 0, min(limit, len(r.entries)))
	for i := range len(r.entries) {
		e := r.at(i)
		if e.Seq <= after {
			continue
		}
		if source != "" && !strings.EqualFold(string(e.Source), string(source)) {
			continue
		}
		res.Entries = append(res.Entries, e)
		if len(res.Entries) >= limit {
			break
		}
	}
	return res
}

// Len 当前条目数。
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
