package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GoPolymarket/reqlog/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisRequestLogRepo keeps capped lists of record lines: "<prefix>" holds
// every category, "<prefix>:<category>" one category each.
type RedisRequestLogRepo struct {
	rdb     redis.UniversalClient
	prefix  string
	listMax int
}

func NewRedisRequestLogRepo(rdb redis.UniversalClient, prefix string, listMax int) *RedisRequestLogRepo {
	if prefix == "" {
		prefix = "reqlog"
	}
	if listMax <= 0 {
		listMax = 10000
	}
	return &RedisRequestLogRepo{
		rdb:     rdb,
		prefix:  prefix,
		listMax: listMax,
	}
}

func (r *RedisRequestLogRepo) key(category string) string {
	if category == "" {
		return r.prefix
	}
	return r.prefix + ":" + category
}

func (r *RedisRequestLogRepo) Insert(ctx context.Context, entry *model.StoredRequestLog) error {
	if entry == nil {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	keys := []string{r.key("")}
	if entry.Category != "" {
		keys = append(keys, r.key(entry.Category))
	}
	pipe := r.rdb.TxPipeline()
	for _, key := range keys {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, int64(r.listMax-1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push request log: %w", err)
	}
	return nil
}

func (r *RedisRequestLogRepo) List(ctx context.Context, category string, limit int) ([]*model.StoredRequestLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	items, err := r.rdb.LRange(ctx, r.key(category), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	results := make([]*model.StoredRequestLog, 0, len(items))
	for _, raw := range items {
		var entry model.StoredRequestLog
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		results = append(results, &entry)
	}
	return results, nil
}
