// Package database PostgreSQL 连接池与 schema 迁移。
//
// 持久化是可选的: 未配置连接串时控制台只使用内存诊断环。
// 使用 pgxpool 直接管理连接, 裸写 SQL (不使用 ORM)。
package database

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/config"
	apperrors "github.com/xiaojiou176/CodexMonitor-sub005/pkg/errors"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/util"
)

// Enabled 是否配置了 PostgreSQL。
func Enabled(cfg *config.Config) bool {
	return cfg != nil && cfg.PostgresConnStr != ""
}

// NewPool 创建 PostgreSQL 连接池并验证连接。
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if !Enabled(cfg) {
		return nil, apperrors.WithCode(apperrors.ErrInvalidInput, "database.NewPool", apperrors.CodeConfig, "POSTGRES_CONNECTION_STRING is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnStr)
	if err != nil {
		return nil, apperrors.Wrap(err, "database.NewPool", "parse postgres config")
	}
	maxConns := max(cfg.PostgresPoolMaxSize, 1)
	poolCfg.MaxConns = safeInt32(maxConns, "PostgresPoolMaxSize")
	// min 不超过 max
	poolCfg.MinConns = safeInt32(util.ClampInt(cfg.PostgresPoolMinSize, 0, maxConns), "PostgresPoolMinSize")

	// search_path 使用 Identifier.Sanitize 防止注入
	schema := cfg.PostgresSchema
	if schema != "" && schema != "public" {
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}

	timeout := time.Duration(cfg.PostgresPoolTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, apperrors.WithCode(err, "database.NewPool", apperrors.CodeDB, "create pool")
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, apperrors.WithCode(err, "database.NewPool", apperrors.CodeDB, "ping postgres")
	}

	logger.Info("database: postgres pool created",
		"min_conns", poolCfg.MinConns,
		"max_conns", poolCfg.MaxConns,
		"schema", schema)
	return pool, nil
}

// safeInt32 int → int32, 越界时 clamp 并告警。
func safeInt32(v int, name string) int32 {
	if v > math.MaxInt32 {
		logger.Warn("database: pool config overflow, clamped to MaxInt32", "field", name, "value", v)
		return math.MaxInt32
	}
	if v < 0 {
		logger.Warn("database: pool config negative, clamped to 0", "field", name, "value", v)
		return 0
	}
	return int32(v)
}
