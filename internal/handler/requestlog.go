package handler

import (
	"net/http"
	"strconv"

	"github.com/GoPolymarket/reqlog/internal/model"
	"github.com/GoPolymarket/reqlog/internal/pkg/apperrors"
	"github.com/GoPolymarket/reqlog/internal/pkg/logger"
	"github.com/GoPolymarket/reqlog/internal/service"
	"github.com/GoPolymarket/reqlog/internal/stream"
	"github.com/gin-gonic/gin"
)

const maxListLimit = 1000

type RequestLogHandler struct {
	svc *service.RequestLogService
	hub *stream.Hub
}

// hub may be nil when live tailing is disabled.
func NewRequestLogHandler(svc *service.RequestLogService, hub *stream.Hub) *RequestLogHandler {
	return &RequestLogHandler{svc: svc, hub: hub}
}

func (h *RequestLogHandler) List(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxListLimit {
			c.Error(apperrors.NewInvalidRequest("limit must be between 1 and 1000"))
			return
		}
		limit = parsed
	}

	records, err := h.svc.Recent(c.Request.Context(), c.Query("category"), limit)
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, err.Error(), err))
		return
	}
	if records == nil {
		records = []*model.StoredRequestLog{}
	}
	c.JSON(http.StatusOK, records)
}

func (h *RequestLogHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		c.Error(apperrors.New(apperrors.ErrUnavailable, "live stream disabled", nil))
		return
	}
	if err := h.hub.ServeWS(c.Writer, c.Request, c.Query("category")); err != nil {
		// Upgrade already answered the client
		logger.Warn("stream upgrade failed", "error", err, "client_ip", c.ClientIP())
	}
}
