package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/GoPolymarket/reqlog/internal/model"
	"github.com/GoPolymarket/reqlog/internal/pkg/logger"
	"github.com/GoPolymarket/reqlog/internal/pkg/metrics"
)

var ErrServiceClosed = errors.New("request log service closed")

const shipTimeout = 3 * time.Second

type RequestLogRepo interface {
	Insert(ctx context.Context, entry *model.StoredRequestLog) error
	List(ctx context.Context, category string, limit int) ([]*model.StoredRequestLog, error)
}

// Publisher fans records out to live subscribers.
type Publisher interface {
	Publish(entry *model.StoredRequestLog)
}

type RequestLogOptions struct {
	Logger     *slog.Logger // destination of the structured log line, defaults to the global logger
	Repo       RequestLogRepo
	Publisher  Publisher
	BufferSize int
	QueueSize  int
}

// RequestLogService is the sink behind the request log middleware. Emit
// writes the log line synchronously; shipping to the repo happens on a
// background worker.
type RequestLogService struct {
	out    *slog.Logger
	buffer *requestLogBuffer
	repo   RequestLogRepo
	pub    Publisher

	mu     sync.RWMutex
	closed bool
	queue  chan *model.StoredRequestLog
	wg     sync.WaitGroup
}

func NewRequestLogService(opts RequestLogOptions) *RequestLogService {
	if opts.Logger == nil {
		opts.Logger = logger.Get()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}

	svc := &RequestLogService{
		out:    opts.Logger,
		buffer: newRequestLogBuffer(opts.BufferSize),
		repo:   opts.Repo,
		pub:    opts.Publisher,
	}
	if svc.repo != nil {
		svc.queue = make(chan *model.StoredRequestLog, opts.QueueSize)
		svc.wg.Add(1)
		go svc.processLogs()
	}
	return svc
}

func (s *RequestLogService) Emit(ctx context.Context, category, message string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrServiceClosed
	}

	raw := json.RawMessage(message)
	if !json.Valid(raw) {
		quoted, err := json.Marshal(message)
		if err != nil {
			return err
		}
		raw = quoted
	}

	s.out.LogAttrs(ctx, slog.LevelInfo, "request_log",
		slog.String("category", category),
		slog.Any("record", raw),
	)

	entry := &model.StoredRequestLog{
		Category: category,
		Record:   raw,
		LoggedAt: time.Now().UTC(),
	}
	s.buffer.Add(entry)
	if s.pub != nil {
		s.pub.Publish(entry)
	}
	if s.queue == nil {
		return nil
	}

	select {
	case s.queue <- entry:
	default:
		// 队列满时丢弃, 不阻塞请求
		metrics.DroppedRecords.Inc()
		s.out.Warn("request log queue full, dropping record", "category", category)
	}
	return nil
}

// Recent returns the newest records for category (all categories when empty).
// The repo is preferred; the in-memory buffer answers when it is missing or failing.
func (s *RequestLogService) Recent(ctx context.Context, category string, limit int) ([]*model.StoredRequestLog, error) {
	if s.repo != nil {
		records, err := s.repo.List(ctx, category, limit)
		if err == nil {
			return records, nil
		}
		logger.LogError(ctx, err, "request log repo list failed, using buffer", "category", category)
	}
	return s.buffer.List(category, limit), nil
}

func (s *RequestLogService) processLogs() {
	defer s.wg.Done()
	for entry := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), shipTimeout)
		if err := s.repo.Insert(ctx, entry); err != nil {
			metrics.EmitFailures.WithLabelValues("ship").Inc()
			s.out.Error("failed to ship request log", "category", entry.Category, "error", err)
		}
		cancel()
	}
}

// Close stops accepting records and drains the shipping queue.
func (s *RequestLogService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.queue != nil {
		close(s.queue)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

type requestLogBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.StoredRequestLog
	nextIndex int
}

func newRequestLogBuffer(maxSize int) *requestLogBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &requestLogBuffer{
		maxSize: maxSize,
		records: make([]*model.StoredRequestLog, 0, maxSize),
	}
}

func (b *requestLogBuffer) Add(entry *model.StoredRequestLog) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, entry)
		return
	}
	b.records[b.nextIndex] = entry
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

func (b *requestLogBuffer) List(category string, limit int) []*model.StoredRequestLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.StoredRequestLog, 0, limit)
	total := len(b.records)
	for i := 0; i < total; i++ {
		// newest first; nextIndex stays 0 until the ring wraps
		idx := (b.nextIndex + total - 1 - i) % total
		entry := b.records[idx]
		if entry == nil {
			continue
		}
		if category != "" && entry.Category != category {
			continue
		}
		results = append(results, entry)
		if len(results) >= limit {
			break
		}
	}
	return results
}
