package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
)

// 统一响应: {success, data} / {success, error: {code, message}}。

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": data})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": code, "message": message}})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": gin.H{"code": "not_found", "message": message}})
}

func unavailable(c *gin.Context, message string) {
	logger.Warn("dashboard: dependency unavailable", logger.FieldPath, c.FullPath())
	c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": gin.H{"code": "unavailable", "message": message}})
}
