// safego.go — 安全 goroutine 启动器，捕获 panic 防止进程崩溃。
package util

import (
	"runtime/debug"

	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
)

// SafeGo 在新 goroutine 中安全执行 fn，捕获 panic 并记录日志 + 堆栈。
func SafeGo(fn func()) {
	go func() {
		defer Recover("goroutine")
		fn()
	}()
}

// Recover 用于 defer: 捕获 panic 并记录。定时器回调等非 SafeGo 启动的路径使用。
func Recover(label string) {
	if r := recover(); r != nil {
		logger.Error(label+" panicked",
			logger.FieldError, r,
			"stack", string(debug.Stack()),
		)
	}
}
