package handler

import (
	"net/http"

	"github.com/GoPolymarket/reqlog/internal/reqctx"
	"github.com/gin-gonic/gin"
)

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "reqlog"})
}

// Echo returns the query parameters and the request id, handy for checking
// what the request log records.
func Echo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"request_id": reqctx.ID(c.Request.Context()),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"query":      c.Request.URL.Query(),
	})
}
