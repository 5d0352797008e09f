package diagnostics

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
)

// ========================================
// PGSink — 诊断条目 → PG 异步批量写入
// ========================================

const (
	pgBufSize    = 1024
	pgBatchSize  = 100
	pgFlushDelay = 500 * time.Millisecond
)

// pgExecer pgxpool.Pool 的最小子集, 便于测试替换。
type pgExecer interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PGSink 将条目写入 console_diagnostics 表。Record 非阻塞, 缓冲满时丢弃。
type PGSink struct {
	db      pgExecer
	buf     chan Entry
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64
}

// NewPGSink 创建并启动后台写入 goroutine。
func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return newPGSink(pool)
}

func newPGSink(db pgExecer) *PGSink {
	s := &PGSink{
		db:   db,
		buf:  make(chan Entry, pgBufSize),
		done: make(chan struct{}),
	}
	go s.consumeLoop()
	return s
}

// Record 实现 Sink。
func (s *PGSink) Record(e Entry) {
	if s.closed.Load() {
		return
	}
	func() {
		defer func() {
			// Shutdown 与 Record 竞争时通道可能已关闭。
			_ = recover()
		}()
		select {
		case s.buf <- e:
		default:
			if n := s.dropped.Add(1); n == 1 || n%overflowLogEvery == 0 {
				logger.Warn("diagnostics: pg sink buffer full, entry dropped", "dropped_total", n)
			}
		}
	}()
}

// Shutdown 停止后台 goroutine 并写入剩余条目。可重复调用。
func (s *PGSink) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.buf)
	<-s.done
}

func (s *PGSink) consumeLoop() {
	defer close(s.done)

	batch := make([]Entry, 0, pgBatchSize)
	ticker := time.NewTicker(pgFlushDelay)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-s.buf:
			if !ok {
				if len(batch) > 0 {
					s.flush(batch)
				}
				return
			}
			batch = append(batch, e)
			if len(batch) >= pgBatchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

const insertDiagnosticSQL = `INSERT INTO console_diagnostics
	(id, ts, source, label, workspace_id, payload)
 VALUES ($1,$2,$3,$4,$5,$6)
 ON CONFLICT (id) DO NOTHING`

func (s *PGSink) flush(batch []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := &pgx.Batch{}
	for _, e := range batch {
		b.Queue(insertDiagnosticSQL, e.ID, e.Timestamp, string(e.Source), e.Label, e.WorkspaceID, payloadJSON(e.Payload))
	}
	results := s.db.SendBatch(ctx, b)
	for range batch {
		if _, err := results.Exec(); err != nil {
			logger.Warn("diagnostics: pg flush failed", logger.FieldError, err, logger.FieldCount, len(batch))
			break
		}
	}
	if err := results.Close(); err != nil {
		logger.Debug("diagnostics: pg batch close", logger.FieldError, err)
	}
}

// payloadJSON 不可序列化的负载以字符串形式保存。
func payloadJSON(v any) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"unserializable": err.Error()})
	}
	return b
}
