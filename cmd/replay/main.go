// replay — 把录制的通知 (JSONL) 回放进协调引擎, 输出最终状态快照。
//
// 每行一个 JSON 对象: {"workspaceId","method","params","requestId"};
// 直接抓取的 JSON-RPC 帧 ({"method","params","id"}) 也可以。
//
//	replay -in session.jsonl -workspace ws-1 -diagnostics > snapshot.json
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"io"
	"os"
	"strings"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/codex"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/diagnostics"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/reconcile"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
	apperrors "github.com/xiaojiou176/CodexMonitor-sub005/pkg/errors"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/util"
)

const maxLineBytes = 8 << 20

// recordedLine 兼容录制格式与原始 JSON-RPC 帧。
type recordedLine struct {
	WorkspaceID string         `json:"workspaceId"`
	Method      string         `json:"method"`
	Params      map[string]any `json:"params"`
	RequestID   any            `json:"requestId"`
	ID          any            `json:"id"`
}

// Result replay 输出。
type Result struct {
	Events      int                 `json:"events"`
	Skipped     int                 `json:"skipped"`
	Snapshot    uistate.Snapshot    `json:"snapshot"`
	Diagnostics []diagnostics.Entry `json:"diagnostics,omitempty"`
}

// Options replay 参数。
type Options struct {
	// Workspace 行内缺少 workspaceId 时使用。
	Workspace   string
	Diagnostics bool
	RingSize    int
}

// Replay 逐行回放, 结束时关闭引擎刷出所有缓冲。
func Replay(r io.Reader, opts Options) (Result, error) {
	if opts.RingSize <= 0 {
		opts.RingSize = 2000
	}
	store := uistate.NewStore()
	ring := diagnostics.NewRing(opts.RingSize)
	engine := reconcile.New(reconcile.Options{State: store, Sink: ring})

	var res Result
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		n, ok := parseLine(line, opts.Workspace)
		if !ok {
			res.Skipped++
			logger.Debug("replay: skip line", "line", lineNo)
			continue
		}
		engine.HandleEvent(n)
		res.Events++
	}
	engine.Close()
	if err := scanner.Err(); err != nil {
		return res, apperrors.Wrapf(err, "Replay", "read line %d", lineNo+1)
	}

	res.Snapshot = store.Snapshot()
	if opts.Diagnostics {
		res.Diagnostics = []diagnostics.Entry{}
		var after int64
		for {
			page := ring.Read(after, opts.RingSize, "")
			if len(page.Entries) == 0 {
				break
			}
			res.Diagnostics = append(res.Diagnostics, page.Entries...)
			after = page.Entries[len(page.Entries)-1].Seq
		}
	}
	return res, nil
}

func parseLine(line, defaultWorkspace string) (codex.Notification, bool) {
	var rec recordedLine
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return codex.Notification{}, false
	}
	if strings.TrimSpace(rec.Method) == "" {
		return codex.Notification{}, false
	}
	ws := util.FirstNonEmpty(rec.WorkspaceID, normalize.WorkspaceID(rec.Params), defaultWorkspace)
	reqID := rec.RequestID
	if reqID == nil {
		reqID = rec.ID
	}
	return codex.Notification{
		WorkspaceID: ws,
		Method:      rec.Method,
		Params:      rec.Params,
		RequestID:   reqID,
	}, true
}

func main() {
	in := flag.String("in", "-", "输入 JSONL 文件, - 表示 stdin")
	workspace := flag.String("workspace", "replay", "缺省 workspace id")
	withDiag := flag.Bool("diagnostics", false, "输出诊断条目")
	pretty := flag.Bool("pretty", true, "缩进输出")
	flag.Parse()

	// development 模式日志写 stderr, stdout 只输出结果。
	logger.Init("development")

	var r io.Reader = os.Stdin
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			logger.Fatal("replay: open input failed", logger.FieldPath, *in, logger.FieldError, err)
		}
		defer f.Close()
		r = f
	}

	res, err := Replay(r, Options{Workspace: *workspace, Diagnostics: *withDiag})
	if err != nil {
		logger.Fatal("replay: failed", logger.FieldError, err)
	}
	logger.Info("replay: done", logger.FieldCount, res.Events, "skipped", res.Skipped)

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(res); err != nil {
		logger.Fatal("replay: encode result failed", logger.FieldError, err)
	}
}
