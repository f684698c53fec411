package middleware

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
)

// captureWriter 包装 ResponseWriter 以捕获响应体
// Every byte accepted by the real writer is mirrored into body. Header,
// status, Flush, Hijack and CloseNotify go straight to the embedded writer.
type captureWriter struct {
	gin.ResponseWriter
	body      *bytes.Buffer
	limit     int // max bytes kept for logging, 0 = unlimited
	truncated bool
}

func newCaptureWriter(w gin.ResponseWriter, limit int) *captureWriter {
	return &captureWriter{
		ResponseWriter: w,
		body:           &bytes.Buffer{},
		limit:          limit,
	}
}

func (w *captureWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	if n > 0 {
		w.capture(b[:n])
	}
	return n, err
}

// gin's String renderer goes through WriteString, so it has to be mirrored too.
func (w *captureWriter) WriteString(s string) (int, error) {
	n, err := w.ResponseWriter.WriteString(s)
	if n > 0 {
		w.capture([]byte(s[:n]))
	}
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *captureWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *captureWriter) capture(p []byte) {
	if w.limit <= 0 {
		w.body.Write(p)
		return
	}
	room := w.limit - w.body.Len()
	if room <= 0 {
		w.truncated = true
		return
	}
	if len(p) > room {
		p = p[:room]
		w.truncated = true
	}
	w.body.Write(p)
}

// Body is the logged copy, possibly cut at the limit.
func (w *captureWriter) Body() []byte {
	return w.body.Bytes()
}

// Truncated reports whether the limit dropped any bytes.
func (w *captureWriter) Truncated() bool {
	return w.truncated
}
