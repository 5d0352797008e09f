package reconcile

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	xansi "github.com/charmbracelet/x/ansi"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/diagnostics"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
)

const (
	defaultStderrWindow          = 250 * time.Millisecond
	defaultStderrSampleLimit     = 3
	defaultStderrTopSignatures   = 5
	defaultStderrSignatureMaxLen = 120
	minStderrSignatureMaxLen     = 16

	genericSignaturePrefix = "generic:"
)

// 已知 stderr 签名, 按顺序匹配 (小写子串)。
var knownStderrSignatures = []struct {
	tag      string
	patterns []string
}{
	{"connection-refused", []string{"connection refused", "econnrefused"}},
	{"decode-invalid", []string{"failed to decode", "decode error", "invalid json", "failed to deserialize", "invalid type:"}},
	{"missing-rollout-path", []string{"rollout path", "no rollout found", "rollout file"}},
	{"broken-pipe", []string{"broken pipe", "epipe"}},
	{"timeout", []string{"timed out", "deadline exceeded", "timeout"}},
	{"rate-limited", []string{"rate limit", "too many requests"}},
	{"unauthorized", []string{"unauthorized", "invalid api key", "authentication failed"}},
}

// SignatureCount 签名及其出现次数。
type SignatureCount struct {
	Signature string `json:"signature"`
	Count     int    `json:"count"`
}

// StderrSummary 一个窗口内某 workspace 的 stderr 汇总。
type StderrSummary struct {
	Count         int              `json:"count"`
	Samples       []string         `json:"samples"`
	TopSignatures []SignatureCount `json:"topSignatures"`
	WindowMs      int64            `json:"windowMs"`
}

// StderrBatcherOptions 批处理参数, 零值使用默认值。
type StderrBatcherOptions struct {
	Window          time.Duration
	SampleLimit     int
	TopSignatures   int
	SignatureMaxLen int
	// Scheduler 窗口到期调度; nil 时使用 Window 定时器。
	Scheduler Scheduler
}

type stderrBuffer struct {
	label      string
	count      int
	samples    []string
	signatures map[string]int
	openedAt   time.Time
	cancel     func()
}

// StderrBatcher 按 workspace 在短窗口内聚合低价值诊断行, 每个窗口输出一条摘要。
type StderrBatcher struct {
	sink diagnostics.Sink
	opts StderrBatcherOptions

	mu      sync.Mutex
	buffers map[string]*stderrBuffer
	closed  bool
}

// NewStderrBatcher 创建批处理器。
func NewStderrBatcher(sink diagnostics.Sink, opts StderrBatcherOptions) *StderrBatcher {
	if sink == nil {
		sink = diagnostics.Discard
	}
	if opts.Window <= 0 {
		opts.Window = defaultStderrWindow
	}
	if opts.SampleLimit <= 0 {
		opts.SampleLimit = defaultStderrSampleLimit
	}
	if opts.TopSignatures <= 0 {
		opts.TopSignatures = defaultStderrTopSignatures
	}
	if opts.SignatureMaxLen <= 0 {
		opts.SignatureMaxLen = defaultStderrSignatureMaxLen
	}
	opts.SignatureMaxLen = max(opts.SignatureMaxLen, minStderrSignatureMaxLen)
	if opts.Scheduler == nil {
		opts.Scheduler = TimerScheduler{Delay: opts.Window}
	}
	return &StderrBatcher{sink: sink, opts: opts, buffers: map[string]*stderrBuffer{}}
}

// Classify 返回行的签名。去除 ANSI 与空白后为空的行返回 ok=false。
func (b *StderrBatcher) Classify(line string) (signature string, ok bool) {
	return classifyStderrLine(line, b.opts.SignatureMaxLen)
}

// CleanStderrLine 去除 ANSI 序列并折叠空白。
func CleanStderrLine(line string) string {
	return strings.Join(strings.Fields(xansi.Strip(line)), " ")
}

func classifyStderrLine(line string, maxLen int) (string, bool) {
	clean := CleanStderrLine(line)
	if clean == "" {
		return "", false
	}
	lower := strings.ToLower(clean)
	for _, known := range knownStderrSignatures {
		for _, p := range known.patterns {
			if strings.Contains(lower, p) {
				return known.tag, true
			}
		}
	}
	// 数字打码, 使仅 id / 计数不同的行归为同一签名。
	masked := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return '#'
		}
		return r
	}, lower)
	return genericSignaturePrefix + truncateRunes(masked, maxLen), true
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Add 接收一条诊断负载。非字符串或清洗后为空的负载不进入批处理, 立即输出。
func (b *StderrBatcher) Add(workspaceID, label string, payload any) {
	line, isString := payload.(string)
	if !isString {
		b.emitRaw(workspaceID, label, payload)
		return
	}
	sig, ok := b.Classify(line)
	if !ok {
		b.emitRaw(workspaceID, label, payload)
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.emitRaw(workspaceID, label, payload)
		return
	}
	buf := b.buffers[workspaceID]
	isNew := buf == nil
	if isNew {
		buf = &stderrBuffer{label: label, signatures: map[string]int{}, openedAt: time.Now()}
		b.buffers[workspaceID] = buf
	}
	buf.count++
	buf.signatures[sig]++
	if len(buf.samples) < b.opts.SampleLimit {
		buf.samples = append(buf.samples, line)
	}
	b.mu.Unlock()

	if !isNew {
		return
	}
	cancel := b.opts.Scheduler.Schedule(func() { b.flushBuffer(workspaceID, buf) })
	b.mu.Lock()
	if b.buffers[workspaceID] == buf {
		buf.cancel = cancel
	}
	b.mu.Unlock()
}

func (b *StderrBatcher) emitRaw(workspaceID, label string, payload any) {
	b.sink.Record(diagnostics.NewEntry(diagnostics.SourceStderr, label, workspaceID, payload))
}

// flushBuffer 只 flush 调度时对应的那个缓冲, 避免过期回调提前结束新窗口。
func (b *StderrBatcher) flushBuffer(workspaceID string, buf *stderrBuffer) {
	b.mu.Lock()
	if b.buffers[workspaceID] != buf {
		b.mu.Unlock()
		return
	}
	delete(b.buffers, workspaceID)
	b.mu.Unlock()
	b.emitSummary(workspaceID, buf)
}

// Flush 立即输出某 workspace 的摘要。
func (b *StderrBatcher) Flush(workspaceID string) {
	b.mu.Lock()
	buf := b.buffers[workspaceID]
	delete(b.buffers, workspaceID)
	b.mu.Unlock()
	if buf == nil {
		return
	}
	if buf.cancel != nil {
		buf.cancel()
	}
	b.emitSummary(workspaceID, buf)
}

// Close 取消所有窗口并强制输出摘要。之后的行直接输出。
func (b *StderrBatcher) Close() {
	b.mu.Lock()
	b.closed = true
	ids := make([]string, 0, len(b.buffers))
	for id := range b.buffers {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		b.Flush(id)
	}
}

func (b *StderrBatcher) emitSummary(workspaceID string, buf *stderrBuffer) {
	summary := StderrSummary{
		Count:         buf.count,
		Samples:       buf.samples,
		TopSignatures: topSignatures(buf.signatures, b.opts.TopSignatures),
		WindowMs:      time.Since(buf.openedAt).Milliseconds(),
	}
	if len(summary.TopSignatures) > 0 {
		logger.Debug("reconcile: stderr batch flushed",
			logger.FieldWorkspaceID, workspaceID,
			logger.FieldCount, summary.Count,
			logger.FieldSignature, summary.TopSignatures[0].Signature)
	}
	b.sink.Record(diagnostics.NewEntry(diagnostics.SourceStderr, buf.label, workspaceID, summary))
}

// topSignatures 按次数降序, 次数相同按签名排序。
func topSignatures(counts map[string]int, limit int) []SignatureCount {
	out := make([]SignatureCount, 0, len(counts))
	for sig, n := range counts {
		out = append(out, SignatureCount{Signature: sig, Count: n})
	}
	slices.SortFunc(out, func(a, b SignatureCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Signature, b.Signature)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
