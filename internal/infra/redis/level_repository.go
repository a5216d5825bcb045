package redis

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// LevelLoader fetches learning levels from the backing store.
type LevelLoader interface {
	LoadLevel(ctx context.Context, level int) (domain.LearningLevel, error)
}

// LevelRepository caches learning levels in Redis and falls back to a loader on miss.
// Levels are stored as: HSET level:{n} title {title} description {description}
type LevelRepository struct {
	client *redis.Client
	loader LevelLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewLevelRepository(client *redis.Client, loader LevelLoader, ttl time.Duration) *LevelRepository {
	return &LevelRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *LevelRepository) GetLevel(ctx context.Context, level int) (domain.LearningLevel, error) {
	key := r.key(level)
	if cached, ok := r.cached(ctx, key, level); ok {
		return cached, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// another caller may have filled the cache
		if cached, ok := r.cached(ctx, key, level); ok {
			return cached, nil
		}

		loaded, err := r.loader.LoadLevel(ctx, level)
		if err != nil {
			return domain.LearningLevel{}, err
		}

		pipe := r.client.Pipeline()
		pipe.HSet(ctx, key, "title", loaded.Title, "description", loaded.Description)
		if ttl := r.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		// a failed write only costs another load
		_, _ = pipe.Exec(ctx)

		return loaded, nil
	})
	if err != nil {
		return domain.LearningLevel{}, err
	}
	return result.(domain.LearningLevel), nil
}

func (r *LevelRepository) cached(ctx context.Context, key string, level int) (domain.LearningLevel, bool) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.LearningLevel{}, false
	}
	description, ok := fields["description"]
	if !ok {
		return domain.LearningLevel{}, false
	}
	return domain.LearningLevel{Level: level, Title: fields["title"], Description: description}, true
}

func (r *LevelRepository) key(level int) string {
	return "level:" + strconv.Itoa(level)
}

func (r *LevelRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
