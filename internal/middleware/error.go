package middleware

import (
	"errors"
	"log/slog"

	"github.com/GoPolymarket/reqlog/internal/pkg/apperrors"
	"github.com/GoPolymarket/reqlog/internal/pkg/logger"
	"github.com/GoPolymarket/reqlog/internal/reqctx"
	"github.com/gin-gonic/gin"
)

// errorResponse carries the request id so a client report can be matched
// against the request log.
type errorResponse struct {
	*apperrors.AppError
	RequestID string `json:"requestId,omitempty"`
}

// ErrorHandler renders the last c.Error as JSON. It sits inside RequestLog,
// so the rendered body is what the request record captures.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}

		var appErr *apperrors.AppError
		if err := c.Errors.Last().Err; !errors.As(err, &appErr) {
			appErr = apperrors.New(apperrors.ErrInternal, err.Error(), err)
		}

		ctx := c.Request.Context()
		rid := reqctx.ID(ctx)
		attrs := []slog.Attr{
			slog.String("request_id", rid),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("code", string(appErr.Type)),
			slog.Int("status", appErr.HTTPStatus),
		}
		level := slog.LevelWarn
		if appErr.HTTPStatus >= 500 {
			level = slog.LevelError
			attrs = append(attrs, slog.Any("error", appErr))
		}
		logger.Get().LogAttrs(ctx, level, appErr.Message, attrs...)

		// 已写出响应的 handler 保留其响应
		if c.Writer.Written() {
			return
		}
		resp := errorResponse{AppError: appErr}
		if rid != reqctx.MissingID {
			resp.RequestID = rid
		}
		c.JSON(appErr.HTTPStatus, resp)
	}
}
