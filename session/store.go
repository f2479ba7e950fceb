package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Load when no record is stored under the key.
var ErrNotFound = errors.New("session record not found")

// ErrRedisUnavailable wraps transport failures talking to Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrCorrupt is returned by Load when the stored blob cannot be decoded. The
// blob is deleted before the error is returned.
var ErrCorrupt = errors.New("session record corrupt")

// Persistence stores one provider record per key. A ttl <= 0 stores the
// record without expiry.
type Persistence interface {
	Save(ctx context.Context, key string, rec *Record, ttl time.Duration) error
	Load(ctx context.Context, key string) (*Record, error)
	Delete(ctx context.Context, key string) error
}

/*
====================================
REDIS STORE
====================================
*/

// RedisStore keeps records in Redis under "<prefix>:<key>".
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a RedisStore using client. An empty prefix is
// replaced with "portalauth".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "portalauth"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":session:" + name
}

// Save writes rec with the given TTL.
//
//	Performance: 1 Redis SET.
func (s *RedisStore) Save(ctx context.Context, key string, rec *Record, ttl time.Duration) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.redis.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Load reads and decodes the record under key. Records written by an older
// schema are rewritten in the current one, keeping their TTL.
//
//	Performance: 1 Redis GET, plus 1 SET on migration.
func (s *RedisStore) Load(ctx context.Context, key string) (*Record, error) {
	k := s.key(key)

	data, err := s.redis.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		if delErr := s.redis.Del(ctx, k).Err(); delErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, delErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if rec.SchemaVersion < CurrentSchemaVersion {
		if err := s.migrate(ctx, k, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (s *RedisStore) migrate(ctx context.Context, k string, rec *Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	if err := s.redis.SetArgs(ctx, k, data, redis.SetArgs{KeepTTL: true, Mode: "XX"}).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	rec.SchemaVersion = CurrentSchemaVersion
	return nil
}

// Delete removes the record under key. Deleting a missing key succeeds.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

/*
====================================
MEMORY STORE
====================================
*/

// MemoryStore keeps encoded records in process memory. It is safe for
// concurrent use; the zero value is not, use NewMemoryStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryStore returns an empty MemoryStore. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

func (s *MemoryStore) Save(_ context.Context, key string, rec *Record, ttl time.Duration) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	entry, ok := s.entries[key]
	if ok && !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	rec, err := Decode(entry.data)
	if err != nil {
		_ = s.Delete(context.Background(), key)
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored records, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
