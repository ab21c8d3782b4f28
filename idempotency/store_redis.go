package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

// errHeld aborts a claim transaction when the record is still owned
var errHeld = errors.New("write record is held")

// RedisStore keeps write records in Redis so gateway instances share them.
//
// Terminal records are written with the retention window as their expiry;
// active records carry no expiry and are overwritten when they terminate.
type RedisStore struct {
	client redis.UniversalClient
	cfg    *config
}

// NewRedisStore creates a store on an existing client
func NewRedisStore(client redis.UniversalClient, opts ...Option) *RedisStore {
	return &RedisStore{
		client: client,
		cfg:    newConfig(opts),
	}
}

func (s *RedisStore) key(fingerprint string) string {
	return s.cfg.keyPrefix + fingerprint
}

// Get returns the record, or nil when absent
func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*gamefi.PendingWrite, error) {
	data, err := s.client.Get(ctx, s.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", fingerprint, err)
	}

	var rec gamefi.PendingWrite
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode write record %s: %w", fingerprint, err)
	}
	return &rec, nil
}

// Put stores the record, expiring terminal records after the retention window
func (s *RedisStore) Put(ctx context.Context, write *gamefi.PendingWrite) error {
	data, err := json.Marshal(write)
	if err != nil {
		return fmt.Errorf("encode write record: %w", err)
	}

	// Zero means no expiry
	var ttl time.Duration
	if write.Status.Terminal() {
		ttl = s.cfg.retention
	}
	if err := s.client.Set(ctx, s.key(write.Fingerprint), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", write.Fingerprint, err)
	}
	return nil
}

// Claim takes the fingerprint with SETNX. When a record exists, a stale
// active one is replaced inside a WATCH transaction so two instances cannot
// both take it over.
func (s *RedisStore) Claim(ctx context.Context, write *gamefi.PendingWrite, staleBefore time.Time) (bool, error) {
	data, err := json.Marshal(write)
	if err != nil {
		return false, fmt.Errorf("encode write record: %w", err)
	}
	key := s.key(write.Fingerprint)

	ok, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", write.Fingerprint, err)
	}
	if ok {
		return true, nil
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var rec gamefi.PendingWrite
			if err := json.Unmarshal(current, &rec); err != nil {
				return err
			}
			if rec.Status.Terminal() || !rec.UpdatedAt.Before(staleBefore) {
				return errHeld
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errHeld), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, fmt.Errorf("redis claim %s: %w", write.Fingerprint, err)
	}
}

// Has reports whether a record exists
func (s *RedisStore) Has(ctx context.Context, fingerprint string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(fingerprint)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", fingerprint, err)
	}
	return n > 0, nil
}

// Prune removes terminal records updated before the cut-off. Redis expiry
// normally does this already; Prune covers records written with a longer
// retention than the current one.
func (s *RedisStore) Prune(ctx context.Context, before time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, s.cfg.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		rec, err := s.Get(ctx, key[len(s.cfg.keyPrefix):])
		if err != nil {
			s.cfg.logger.WithError(err).WithField("key", key).Warn("skipping unreadable write record")
			continue
		}
		if rec == nil || !rec.Status.Terminal() || !rec.UpdatedAt.Before(before) {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return removed, fmt.Errorf("redis del %s: %w", key, err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, nil
}

var _ gamefi.IdempotencyStore = (*RedisStore)(nil)
