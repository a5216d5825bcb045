package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Feed fans lifecycle events out across service instances via Redis pub/sub.
// One channel per user: progress:{userID}. While a subscription is open a
// liveness key progress:online:{userID} is kept with the configured TTL.
type Feed struct {
	client *redis.Client
	ttl    time.Duration
}

func NewFeed(client *redis.Client, ttl time.Duration) *Feed {
	return &Feed{client: client, ttl: ttl}
}

// Publish sends evt to the owner's channel. Anonymous events are dropped.
func (f *Feed) Publish(ctx context.Context, evt domain.Event) error {
	if evt.UserID == nil {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return f.client.Publish(ctx, f.channel(*evt.UserID), payload).Err()
}

// Subscribe streams events for userID until cancel is called.
func (f *Feed) Subscribe(ctx context.Context, userID uuid.UUID) (<-chan domain.Event, func(), error) {
	pubsub := f.client.Subscribe(ctx, f.channel(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}
	f.markOnline(ctx, userID)

	// mu orders liveness refreshes against cancel so a late refresh cannot
	// recreate the key after it was removed.
	var mu sync.Mutex
	done := make(chan struct{})

	out := make(chan domain.Event, 8)
	go func() {
		defer close(out)
		var refresh <-chan time.Time
		if f.ttl > 0 {
			ticker := time.NewTicker(f.ttl / 2)
			defer ticker.Stop()
			refresh = ticker.C
		}
		msgs := pubsub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					log.Printf("feed: drop malformed event on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- evt:
				default:
					// slow consumer; drop
				}
			case <-refresh:
				mu.Lock()
				select {
				case <-done:
				default:
					f.markOnline(context.Background(), userID)
				}
				mu.Unlock()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			mu.Lock()
			defer mu.Unlock()
			close(done)
			_ = pubsub.Close()
			_ = f.client.Del(context.Background(), f.onlineKey(userID)).Err()
		})
	}
	return out, cancel, nil
}

// Online reports whether userID has an open subscription on any instance.
func (f *Feed) Online(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := f.client.Exists(ctx, f.onlineKey(userID)).Result()
	return n > 0, err
}

// markOnline sets the liveness key; failures only degrade Online.
func (f *Feed) markOnline(ctx context.Context, userID uuid.UUID) {
	if err := f.client.Set(ctx, f.onlineKey(userID), "1", f.ttl).Err(); err != nil {
		log.Printf("feed: mark %s online: %v", userID, err)
	}
}

func (f *Feed) channel(userID uuid.UUID) string {
	return "progress:" + userID.String()
}

func (f *Feed) onlineKey(userID uuid.UUID) string {
	return "progress:online:" + userID.String()
}
