// Package diagnostics 调试面板的诊断条目: 原始事件、stderr 批次摘要、错误。
//
// 协调引擎只依赖 Sink 接口; Ring 提供内存环形队列 (调试面板轮询),
// PGSink 把条目批量写入 PostgreSQL。
package diagnostics

import (
	"time"

	"github.com/google/uuid"
)

// Source 条目来源标签。
type Source string

const (
	SourceEvent  Source = "event"
	SourceStderr Source = "stderr"
	SourceError  Source = "error"
)

// Entry 一条诊断记录。
type Entry struct {
	// Seq 由 Ring 分配, 用于增量拉取; 未进入 Ring 时为 0。
	Seq         int64     `json:"seq"`
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Source      Source    `json:"source"`
	Label       string    `json:"label"`
	WorkspaceID string    `json:"workspaceId,omitempty"`
	Payload     any       `json:"payload,omitempty"`
}

// NewEntry 生成带 uuid 与时间戳的条目。
func NewEntry(source Source, label, workspaceID string, payload any) Entry {
	return Entry{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Source:      source,
		Label:       label,
		WorkspaceID: workspaceID,
		Payload:     payload,
	}
}

// Sink 接收诊断条目。实现必须非阻塞。
type Sink interface {
	Record(e Entry)
}

// SinkFunc 函数适配器。
type SinkFunc func(Entry)

// Record 实现 Sink。
func (f SinkFunc) Record(e Entry) { f(e) }

// Discard 丢弃所有条目。
var Discard Sink = SinkFunc(func(Entry) {})

// Multi 扇出到多个 Sink, nil 被跳过。
func Multi(sinks ...Sink) Sink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return multiSink(out)
}

type multiSink []Sink

func (m multiSink) Record(e Entry) {
	for _, s := range m {
		s.Record(e)
	}
}
