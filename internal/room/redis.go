package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"collabtext/internal/store"
)

// Redis is a Group backed by Redis Pub/Sub, one channel per document, so
// rooms span every server replica.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ Group = (*Redis)(nil)

func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb, prefix: "collabtext:room:"}
}

func (r *Redis) channel(doc store.DocumentID) string {
	return r.prefix + string(doc)
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Messages() <-chan []byte { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

// Subscribe returns once Redis confirmed the subscription, so a message the
// caller publishes next is delivered back to it.
func (r *Redis) Subscribe(ctx context.Context, doc store.DocumentID) (Subscription, error) {
	pubsub := r.rdb.Subscribe(ctx, r.channel(doc))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", doc, err)
	}
	s := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan []byte, DefaultBuffer),
		done:   make(chan struct{}),
	}

	// Relay messages from Redis until the subscription is closed. A
	// subscriber that falls DefaultBuffer messages behind is dropped, as in
	// the in-process registry, instead of letting go-redis discard messages.
	go func() {
		defer close(s.out)
		in := pubsub.Channel()
		for {
			select {
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case s.out <- []byte(msg.Payload):
				default:
					s.Close()
					return
				}
			case <-s.done:
				return
			}
		}
	}()
	return s, nil
}

func (r *Redis) Publish(ctx context.Context, doc store.DocumentID, msg []byte) error {
	if err := r.rdb.Publish(ctx, r.channel(doc), msg).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", doc, err)
	}
	return nil
}
