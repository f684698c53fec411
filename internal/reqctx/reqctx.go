// Package reqctx holds the request-scoped context shared by middleware and
// handlers. A context is bound to one *gin.Context and to the request's
// context.Context, never to the goroutine, since gin recycles *gin.Context
// values through a pool.
package reqctx

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/GoPolymarket/reqlog/internal/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	ContextKey    = "request_context"
	DefaultHeader = "X-Request-ID"
	// MissingID is reported when no context is bound.
	MissingID = "-"

	maxInboundIDLen = 128
)

type ctxKey struct{}

// RequestContext is the per-request state handed out by the Store.
type RequestContext struct {
	ID        string
	StartedAt time.Time

	cleared atomic.Bool
}

// Active reports whether the context has not been cleared yet.
func (rc *RequestContext) Active() bool {
	return rc != nil && !rc.cleared.Load()
}

type Options struct {
	Header       string // header carrying the request id
	TrustInbound bool   // reuse a caller supplied id
	Echo         bool   // copy the id onto the response header
}

type Store struct {
	opts  Options
	newID func() string
}

func NewStore(opts Options) *Store {
	if opts.Header == "" {
		opts.Header = DefaultHeader
	}
	return &Store{
		opts:  opts,
		newID: uuid.NewString,
	}
}

// Get returns the context bound to c, issuing a fresh one on first use.
func (s *Store) Get(c *gin.Context) *RequestContext {
	if rc, ok := s.Lookup(c); ok {
		return rc
	}

	rc := &RequestContext{
		ID:        s.issueID(c.Request),
		StartedAt: time.Now(),
	}
	c.Set(ContextKey, rc)
	if c.Request != nil {
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), ctxKey{}, rc))
	}
	if s.opts.Echo {
		c.Header(s.opts.Header, rc.ID)
	}
	metrics.ActiveContexts.Inc()
	return rc
}

// Lookup returns the active context bound to c without issuing one.
func (s *Store) Lookup(c *gin.Context) (*RequestContext, bool) {
	val, exists := c.Get(ContextKey)
	if !exists {
		return nil, false
	}
	rc, ok := val.(*RequestContext)
	if !ok || !rc.Active() {
		return nil, false
	}
	return rc, true
}

// Clear unbinds the context from c. Handles derived from c.Request.Context()
// observe the clear through Active. Safe to call more than once.
func (s *Store) Clear(c *gin.Context) {
	val, exists := c.Get(ContextKey)
	if !exists {
		return
	}
	c.Set(ContextKey, nil)
	if rc, ok := val.(*RequestContext); ok && rc != nil {
		if rc.cleared.CompareAndSwap(false, true) {
			metrics.ActiveContexts.Dec()
		}
	}
}

func (s *Store) issueID(r *http.Request) string {
	if s.opts.TrustInbound && r != nil {
		if id := r.Header.Get(s.opts.Header); validInboundID(id) {
			return id
		}
	}
	return s.newID()
}

func validInboundID(id string) bool {
	if id == "" || len(id) > maxInboundIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// FromContext returns the active request context carried by ctx.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(ctxKey{}).(*RequestContext)
	if !ok || !rc.Active() {
		return nil, false
	}
	return rc, true
}

// ID returns the request id carried by ctx, or MissingID.
func ID(ctx context.Context) string {
	if rc, ok := FromContext(ctx); ok {
		return rc.ID
	}
	return MissingID
}
