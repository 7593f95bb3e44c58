package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"collabtext/internal/store"
)

// Redis keeps presence in one hash per document (field = connection handle,
// value = JSON user) so every server replica sees the same room. A sorted set
// next to it scores each handle by its last refresh; List ignores and prunes
// handles older than the TTL, so entries left behind by a crashed replica
// expire on their own.
type Redis struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ Tracker = (*Redis)(nil)

func NewRedis(rdb redis.Cmdable) *Redis {
	return &Redis{rdb: rdb, prefix: "collabtext:presence:", ttl: DefaultTTL, now: time.Now}
}

// WithTTL sets how long an entry lives without a refresh. Call before use.
func (r *Redis) WithTTL(ttl time.Duration) *Redis {
	r.ttl = ttl
	return r
}

// WithClock replaces time.Now. Call before use.
func (r *Redis) WithClock(now func() time.Time) *Redis {
	r.now = now
	return r
}

func (r *Redis) key(doc store.DocumentID) string {
	return r.prefix + string(doc)
}

func (r *Redis) seenKey(doc store.DocumentID) string {
	return r.prefix + string(doc) + ":seen"
}

// touch writes the entry and its last-seen score. Both keys expire when the
// whole room goes quiet for a TTL.
func (r *Redis) touch(ctx context.Context, doc store.DocumentID, user store.User, handle string) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	seen := float64(r.now().UnixMilli())
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.key(doc), handle, raw)
		p.ZAdd(ctx, r.seenKey(doc), redis.Z{Score: seen, Member: handle})
		p.Expire(ctx, r.key(doc), r.ttl)
		p.Expire(ctx, r.seenKey(doc), r.ttl)
		return nil
	})
	return err
}

func (r *Redis) Add(ctx context.Context, doc store.DocumentID, user store.User, handle string) error {
	if err := r.touch(ctx, doc, user, handle); err != nil {
		return fmt.Errorf("presence add: %w", err)
	}
	return nil
}

func (r *Redis) Refresh(ctx context.Context, doc store.DocumentID, user store.User, handle string) error {
	if err := r.touch(ctx, doc, user, handle); err != nil {
		return fmt.Errorf("presence refresh: %w", err)
	}
	return nil
}

// Remove deletes the connection's entry; Redis drops each key with its last
// member.
func (r *Redis) Remove(ctx context.Context, doc store.DocumentID, _ store.User, handle string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, r.key(doc), handle)
		p.ZRem(ctx, r.seenKey(doc), handle)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence remove: %w", err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, doc store.DocumentID) ([]store.User, error) {
	cutoff := strconv.FormatInt(r.now().Add(-r.ttl).UnixMilli(), 10)

	stale, err := r.rdb.ZRangeByScore(ctx, r.seenKey(doc), &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}
	if len(stale) > 0 {
		members := make([]any, len(stale))
		for i, h := range stale {
			members[i] = h
		}
		_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HDel(ctx, r.key(doc), stale...)
			p.ZRem(ctx, r.seenKey(doc), members...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("presence prune: %w", err)
		}
	}

	live, err := r.rdb.ZRangeByScore(ctx, r.seenKey(doc), &redis.ZRangeBy{Min: "(" + cutoff, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}
	if len(live) == 0 {
		return []store.User{}, nil
	}
	values, err := r.rdb.HMGet(ctx, r.key(doc), live...).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}
	users := make([]store.User, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // removed between the two reads
		}
		var u store.User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return nil, fmt.Errorf("presence decode: %w", err)
		}
		users = append(users, u)
	}
	return dedupe(users), nil
}
