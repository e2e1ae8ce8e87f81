package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"quiz-battle-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// SourceLoader fetches question documents from a backing store (e.g., Postgres).
type SourceLoader interface {
	LoadTopic(ctx context.Context, id string) (domain.Topic, error)
	LoadQuiz(ctx context.Context, id string) (domain.Quiz, error)
}

// SourceRepository caches topics and quizzes in Redis and falls back to a loader on cache miss.
// Documents are stored as JSON under source:{kind}:{id}.
type SourceRepository struct {
	client *redis.Client
	loader SourceLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewSourceRepository(client *redis.Client, loader SourceLoader, ttl time.Duration) *SourceRepository {
	return &SourceRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *SourceRepository) GetTopic(ctx context.Context, id string) (domain.Topic, error) {
	var topic domain.Topic
	err := r.get(ctx, domain.SourceRef{Kind: domain.SourceTopic, ID: id}, &topic, func(ctx context.Context) (any, error) {
		return r.loader.LoadTopic(ctx, id)
	})
	return topic, err
}

func (r *SourceRepository) GetQuiz(ctx context.Context, id string) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := r.get(ctx, domain.SourceRef{Kind: domain.SourceQuiz, ID: id}, &quiz, func(ctx context.Context) (any, error) {
		return r.loader.LoadQuiz(ctx, id)
	})
	return quiz, err
}

// Invalidate drops a cached document after it was edited.
func (r *SourceRepository) Invalidate(ctx context.Context, ref domain.SourceRef) error {
	return r.client.Del(ctx, sourceKey(ref)).Err()
}

func (r *SourceRepository) get(ctx context.Context, ref domain.SourceRef, dst any, load func(context.Context) (any, error)) error {
	key := sourceKey(ref)
	if ok, err := r.cached(ctx, key, dst); ok || err != nil {
		return err
	}

	raw, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if raw, err := r.client.Get(ctx, key).Bytes(); err == nil {
			return raw, nil
		}
		doc, err := load(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", ref, err)
		}
		// best-effort fill; a failed write only costs another load
		_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
		return raw, nil
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw.([]byte), dst); err != nil {
		return fmt.Errorf("decode %s: %w", ref, err)
	}
	return nil
}

func (r *SourceRepository) cached(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		// redis.Nil is a miss; any other failure degrades to the loader
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		_ = r.client.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

func (r *SourceRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

func sourceKey(ref domain.SourceRef) string {
	return "source:" + ref.String()
}
