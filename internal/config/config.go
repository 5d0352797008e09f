// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"time"

	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 运行环境 / 日志
	AppEnv   string `env:"APP_ENV" default:"production"`
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"LOG_DIR" default:"logs"`

	// 增量合并 (delta coalescer)
	DeltaFlushIntervalMS   int  `env:"DELTA_FLUSH_INTERVAL_MS" default:"16" min:"1"`
	DeltaFlushFrameAligned bool `env:"DELTA_FLUSH_FRAME_ALIGNED" default:"true"`

	// stderr 诊断批处理
	StderrBatchWindowMS   int `env:"STDERR_BATCH_WINDOW_MS" default:"250" min:"10"`
	StderrSampleLimit     int `env:"STDERR_SAMPLE_LIMIT" default:"3" min:"0"`
	StderrTopSignatures   int `env:"STDERR_TOP_SIGNATURES" default:"5" min:"1"`
	StderrSignatureMaxLen int `env:"STDERR_SIGNATURE_MAX_LEN" default:"120" min:"16"`

	// 诊断
	DiagnosticsRingSize         int `env:"DIAGNOSTICS_RING_SIZE" default:"2000" min:"10"`
	DiagnosticsDeltaSampleEvery int `env:"DIAGNOSTICS_DELTA_SAMPLE_EVERY" default:"1" min:"1"`

	// app-server
	InterruptTimeoutSec int    `env:"INTERRUPT_TIMEOUT_SEC" default:"10" min:"1"`
	CodexBin            string `env:"CODEX_BIN" default:"codex"`
	WorkspacesFile      string `env:"WORKSPACES_FILE" default:"workspaces.yaml"`

	// PostgreSQL (可选: 诊断与日志持久化)
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"4" min:"1"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1"`

	// 调试面板 (gin)
	DebugEnabled bool   `env:"DEBUG_ENABLED" default:"false"`
	DebugAddr    string `env:"DEBUG_ADDR" default:"127.0.0.1:4510"`

	// 前端静态资源目录
	FrontendDir string `env:"FRONTEND_DIR" default:"frontend/dist"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}

// DeltaFlushInterval 增量 flush 的定时器间隔。
func (c *Config) DeltaFlushInterval() time.Duration {
	return time.Duration(c.DeltaFlushIntervalMS) * time.Millisecond
}

// StderrBatchWindow stderr 批处理窗口。
func (c *Config) StderrBatchWindow() time.Duration {
	return time.Duration(c.StderrBatchWindowMS) * time.Millisecond
}

// InterruptTimeout 单次 turn/interrupt 调用超时。
func (c *Config) InterruptTimeout() time.Duration {
	return time.Duration(c.InterruptTimeoutSec) * time.Second
}
