package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/GoPolymarket/reqlog/internal/model"
	"github.com/GoPolymarket/reqlog/internal/pkg/logger"
	"github.com/GoPolymarket/reqlog/internal/pkg/metrics"
	"github.com/GoPolymarket/reqlog/internal/reqctx"
	"github.com/gin-gonic/gin"
	"golang.org/x/text/encoding/htmlindex"
)

const (
	DefaultRequestLogCategory = "request"
	jsonMediaType             = "application/json"
)

// DefaultExcludePrefixes are matched as plain prefixes, so "/static" also
// covers "/static" itself and "/static.css".
var DefaultExcludePrefixes = []string{"/webjars", "/static"}

// ContextStore hands out the request-scoped context for a gin request.
type ContextStore interface {
	Get(c *gin.Context) *reqctx.RequestContext
	Clear(c *gin.Context)
}

// Sink receives one formatted record per request.
type Sink interface {
	Emit(ctx context.Context, category, message string) error
}

type RequestLogOption func(*requestLogConfig)

type requestLogConfig struct {
	category        string
	excludePrefixes []string
	maxBodyBytes    int
	fallback        *slog.Logger
}

// WithCategory sets the tag attached to every emitted record.
func WithCategory(category string) RequestLogOption {
	return func(cfg *requestLogConfig) {
		if category != "" {
			cfg.category = category
		}
	}
}

// WithExcludePrefixes replaces the default static-asset prefixes.
// Requests under these prefixes are passed through untouched.
func WithExcludePrefixes(prefixes ...string) RequestLogOption {
	return func(cfg *requestLogConfig) {
		cfg.excludePrefixes = append([]string(nil), prefixes...)
	}
}

// WithMaxBodyBytes caps the logged copy of the body. The client always gets
// the full response.
func WithMaxBodyBytes(n int) RequestLogOption {
	return func(cfg *requestLogConfig) {
		if n > 0 {
			cfg.maxBodyBytes = n
		}
	}
}

// WithFallbackLogger sets where finalization failures are reported.
func WithFallbackLogger(l *slog.Logger) RequestLogOption {
	return func(cfg *requestLogConfig) {
		if l != nil {
			cfg.fallback = l
		}
	}
}

// RequestLog emits one record per request with the captured response body
// (JSON responses only). store may be nil, in which case the record carries
// reqctx.MissingID. The ip field is c.ClientIP(), so forwarding headers only
// count when the engine's trusted proxies include the peer.
func RequestLog(store ContextStore, sink Sink, opts ...RequestLogOption) gin.HandlerFunc {
	cfg := &requestLogConfig{
		category:        DefaultRequestLogCategory,
		excludePrefixes: DefaultExcludePrefixes,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.fallback == nil {
		cfg.fallback = logger.Get()
	}

	return func(c *gin.Context) {
		// 1. 静态资源直接放行
		if cfg.excluded(c.Request.URL.Path) {
			c.Next()
			return
		}

		// 2. 获取请求上下文
		var rc *reqctx.RequestContext
		if store != nil {
			rc = store.Get(c)
		}

		// 3. 包装 ResponseWriter
		original := c.Writer
		cw := newCaptureWriter(original, cfg.maxBodyBytes)
		c.Writer = cw

		start := time.Now()
		completed := false
		defer func() {
			elapsed := time.Since(start)
			c.Writer = original
			cfg.finish(c, sink, rc, cw, elapsed, completed)
			if store != nil {
				store.Clear(c)
			}
		}()

		// === 执行业务逻辑 ===
		c.Next()
		completed = true
	}
}

func (cfg *requestLogConfig) excluded(path string) bool {
	for _, prefix := range cfg.excludePrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// finish builds and emits the record. Nothing in here may reach the client.
func (cfg *requestLogConfig) finish(c *gin.Context, sink Sink, rc *reqctx.RequestContext, cw *captureWriter, elapsed time.Duration, completed bool) {
	path := c.Request.URL.Path
	defer func() {
		if r := recover(); r != nil {
			metrics.EmitFailures.WithLabelValues("panic").Inc()
			cfg.fallback.Error("request log finalization panicked", "path", path, "panic", fmt.Sprint(r))
		}
	}()

	record := buildRecord(c, rc, cw, elapsed, completed)
	if record.WriteBody {
		body, err := decodeBody(cw.Body(), cw.Header().Get("Content-Type"), cw.Truncated())
		if err != nil {
			metrics.EmitFailures.WithLabelValues("decode").Inc()
			cfg.fallback.Warn("request log body decode failed", "request_id", record.RequestID, "path", path, "error", err)
		}
		record.Response = body
		record.Truncated = cw.Truncated()
	}

	line, err := record.Line()
	if err != nil {
		metrics.EmitFailures.WithLabelValues("encode").Inc()
		cfg.fallback.Error("request log encode failed", "request_id", record.RequestID, "path", path, "error", err)
		return
	}

	if sink == nil {
		return
	}
	// the sink may ship asynchronously, keep request values but drop cancellation
	ctx := context.WithoutCancel(c.Request.Context())
	if err := sink.Emit(ctx, cfg.category, line); err != nil {
		metrics.EmitFailures.WithLabelValues("emit").Inc()
		cfg.fallback.Warn("request log emit failed", "request_id", record.RequestID, "path", path, "error", err)
		return
	}
	metrics.RecordsEmitted.WithLabelValues(cfg.category).Inc()
}

func buildRecord(c *gin.Context, rc *reqctx.RequestContext, cw *captureWriter, elapsed time.Duration, completed bool) *model.RequestLogRecord {
	record := model.NewRequestLogRecord()
	record.RequestID = reqctx.MissingID
	if rc != nil && rc.ID != "" {
		record.RequestID = rc.ID
	}
	record.IP = c.ClientIP()
	record.UseTime = elapsed.Milliseconds()
	record.API = c.Request.URL.Path
	record.Method = c.Request.Method
	record.Parameters = requestParameters(c.Request)
	record.ResponseStatus = cw.Status()

	switch {
	case len(c.Errors) > 0:
		record.Error = c.Errors.Last().Error()
	case !completed:
		record.Error = "handler panicked"
	}

	// HTML 等非 JSON 响应不记录响应体
	if !isJSONContentType(cw.Header().Get("Content-Type")) {
		record.WriteBody = false
	}
	return record
}

// requestParameters prefers the parsed form when a handler already parsed it,
// so the body is never consumed here. Urlencoded POST fields therefore show up
// only for handlers that read them (c.PostForm, c.Bind and friends).
func requestParameters(r *http.Request) map[string][]string {
	src := r.Form
	if src == nil {
		src = r.URL.Query()
	}
	params := make(map[string][]string, len(src))
	for key, values := range src {
		params[key] = append([]string(nil), values...)
	}
	return params
}

func isJSONContentType(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), jsonMediaType)
}

// decodeBody turns the captured bytes into text using the declared charset.
// On failure it returns a placeholder together with the error.
func decodeBody(body []byte, contentType string, truncated bool) (string, error) {
	if len(body) == 0 {
		return "", nil
	}

	charset := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		charset = strings.ToLower(strings.TrimSpace(params["charset"]))
	}

	switch charset {
	case "", "utf-8", "utf8":
		if truncated {
			body = trimPartialRune(body)
		}
		if !utf8.Valid(body) {
			return undecodable("utf-8"), fmt.Errorf("body is not valid utf-8")
		}
		return string(body), nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return undecodable(charset), fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return undecodable(charset), fmt.Errorf("decode %s body: %w", charset, err)
	}
	return string(out), nil
}

func undecodable(charset string) string {
	return "[undecodable body: charset=" + charset + "]"
}

// trimPartialRune drops an incomplete UTF-8 sequence left at the end by the capture limit.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size != 1 {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}
