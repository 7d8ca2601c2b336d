package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"challenge-service/internal/app"
	"challenge-service/internal/domain"
)

// PoolCache caches a topic's question pool in Redis and falls back to the
// underlying source on a miss. Pools are stored as a JSON blob under
// challenge:pool:{topicID} with a jittered TTL so expirations spread out.
type PoolCache struct {
	client *redis.Client
	source app.QuestionSource
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewPoolCache(client *redis.Client, source app.QuestionSource, ttl time.Duration) *PoolCache {
	return &PoolCache{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *PoolCache) TopicQuestions(ctx context.Context, topicID string) ([]domain.QuizQuestion, error) {
	key := c.key(topicID)

	if pool, ok := c.fetch(ctx, key); ok {
		return pool, nil
	}

	result, err, _ := c.sf.Do(topicID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if pool, ok := c.fetch(ctx, key); ok {
			return pool, nil
		}

		pool, err := c.source.TopicQuestions(ctx, topicID)
		if err != nil {
			return nil, err
		}

		if raw, err := json.Marshal(pool); err == nil {
			// Cache fill is best-effort; a failed write just means the next
			// call hits the source again.
			_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.QuizQuestion), nil
}

func (c *PoolCache) fetch(ctx context.Context, key string) ([]domain.QuizQuestion, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var pool []domain.QuizQuestion
	if err := json.Unmarshal(raw, &pool); err != nil {
		return nil, false
	}
	return pool, true
}

func (c *PoolCache) key(topicID string) string {
	return "challenge:pool:" + topicID
}

func (c *PoolCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
