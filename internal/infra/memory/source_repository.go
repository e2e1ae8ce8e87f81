package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"quiz-battle-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// SourceLoader fetches question documents from a backing store (e.g., document DB).
type SourceLoader interface {
	LoadTopic(ctx context.Context, id string) (domain.Topic, error)
	LoadQuiz(ctx context.Context, id string) (domain.Quiz, error)
}

// SourceRepository caches topics and quizzes with TTL to avoid repeated DB hits.
type SourceRepository struct {
	loader SourceLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedSource
}

type cachedSource struct {
	doc       any
	expiresAt time.Time
}

func NewSourceRepository(loader SourceLoader, ttl time.Duration) *SourceRepository {
	return &SourceRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedSource),
	}
}

func (r *SourceRepository) GetTopic(ctx context.Context, id string) (domain.Topic, error) {
	key := domain.SourceRef{Kind: domain.SourceTopic, ID: id}.String()
	doc, err := r.get(ctx, key, func(ctx context.Context) (any, error) {
		return r.loader.LoadTopic(ctx, id)
	})
	if err != nil {
		return domain.Topic{}, err
	}
	return doc.(domain.Topic), nil
}

func (r *SourceRepository) GetQuiz(ctx context.Context, id string) (domain.Quiz, error) {
	key := domain.SourceRef{Kind: domain.SourceQuiz, ID: id}.String()
	doc, err := r.get(ctx, key, func(ctx context.Context) (any, error) {
		return r.loader.LoadQuiz(ctx, id)
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return doc.(domain.Quiz), nil
}

func (r *SourceRepository) get(ctx context.Context, key string, load func(context.Context) (any, error)) (any, error) {
	if doc, ok := r.cached(key); ok {
		return doc, nil
	}

	doc, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if doc, ok := r.cached(key); ok {
			return doc, nil
		}
		doc, err := load(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[key] = cachedSource{doc: doc, expiresAt: r.clock().Add(r.ttlWithJitter())}
		r.mu.Unlock()
		return doc, nil
	})
	return doc, err
}

func (r *SourceRepository) cached(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[key]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return nil, false
	}
	return entry.doc, true
}

// Invalidate drops a cached document after it was edited.
func (r *SourceRepository) Invalidate(ref domain.SourceRef) {
	r.mu.Lock()
	delete(r.cache, ref.String())
	r.mu.Unlock()
}

// StaticSourceLoader is a simple loader backed by in-memory maps (useful for tests/demos).
type StaticSourceLoader struct {
	mu      sync.RWMutex
	topics  map[string]domain.Topic
	quizzes map[string]domain.Quiz
}

func NewStaticSourceLoader(topics map[string]domain.Topic, quizzes map[string]domain.Quiz) *StaticSourceLoader {
	if topics == nil {
		topics = make(map[string]domain.Topic)
	}
	if quizzes == nil {
		quizzes = make(map[string]domain.Quiz)
	}
	return &StaticSourceLoader{topics: topics, quizzes: quizzes}
}

func (l *StaticSourceLoader) LoadTopic(_ context.Context, id string) (domain.Topic, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if topic, ok := l.topics[id]; ok {
		return topic, nil
	}
	return domain.Topic{}, domain.ErrSourceNotFound
}

func (l *StaticSourceLoader) LoadQuiz(_ context.Context, id string) (domain.Quiz, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if quiz, ok := l.quizzes[id]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrSourceNotFound
}

// PutQuiz replaces a quiz, as a content author editing it would.
func (l *StaticSourceLoader) PutQuiz(quiz domain.Quiz) {
	l.mu.Lock()
	l.quizzes[quiz.ID] = quiz
	l.mu.Unlock()
}

func (r *SourceRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
