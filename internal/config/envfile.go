package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
)

// LoadEnvFile 从 startDir 向上 (最多 5 层) 搜索 .env 并加载到环境变量。
// 不覆盖已有的环境变量, 返回实际设置的变量数。
func LoadEnvFile(startDir string) int {
	dir := startDir
	for range 5 {
		envPath := filepath.Join(dir, ".env")
		if f, err := os.Open(envPath); err == nil {
			count := applyEnv(bufio.NewScanner(f))
			_ = f.Close()
			logger.Info("loaded .env file", logger.FieldPath, envPath, logger.FieldCount, count)
			return count
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return 0
}

func applyEnv(scanner *bufio.Scanner) int {
	count := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			logger.Warn("LoadEnvFile: setenv failed", "key", key, logger.FieldError, err)
			continue
		}
		count++
	}
	return count
}
