package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"golang.org/x/sync/singleflight"
)

// LevelLoader fetches learning levels from a backing store (e.g., Postgres).
type LevelLoader interface {
	LoadLevel(ctx context.Context, level int) (domain.LearningLevel, error)
}

// LevelRepository caches learning levels with TTL to avoid repeated DB hits.
type LevelRepository struct {
	loader LevelLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[int]cachedLevel
}

type cachedLevel struct {
	level     domain.LearningLevel
	expiresAt time.Time
}

func NewLevelRepository(loader LevelLoader, ttl time.Duration) *LevelRepository {
	return &LevelRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[int]cachedLevel),
	}
}

func (r *LevelRepository) GetLevel(ctx context.Context, level int) (domain.LearningLevel, error) {
	if ll, ok := r.cached(level); ok {
		return ll, nil
	}

	result, err, _ := r.sf.Do(strconv.Itoa(level), func() (interface{}, error) {
		if ll, ok := r.cached(level); ok {
			return ll, nil
		}

		ll, err := r.loader.LoadLevel(ctx, level)
		if err != nil {
			return domain.LearningLevel{}, err
		}

		expiresAt := r.clock().Add(r.ttlWithJitter())
		r.mu.Lock()
		r.cache[level] = cachedLevel{level: ll, expiresAt: expiresAt}
		r.mu.Unlock()
		return ll, nil
	})
	if err != nil {
		return domain.LearningLevel{}, err
	}
	return result.(domain.LearningLevel), nil
}

func (r *LevelRepository) cached(level int) (domain.LearningLevel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[level]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.LearningLevel{}, false
	}
	return entry.level, true
}

// ttlWithJitter adds up to 10% jitter to spread expirations.
// rand.Rand is not safe for concurrent use, so it shares mu with the cache.
func (r *LevelRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticLevelLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticLevelLoader struct {
	levels map[int]domain.LearningLevel
}

func NewStaticLevelLoader(levels map[int]domain.LearningLevel) *StaticLevelLoader {
	return &StaticLevelLoader{levels: levels}
}

func (l *StaticLevelLoader) LoadLevel(_ context.Context, level int) (domain.LearningLevel, error) {
	if ll, ok := l.levels[level]; ok {
		return ll, nil
	}
	return domain.LearningLevel{}, domain.ErrLevelNotFound
}
