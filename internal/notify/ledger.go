package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/homepro-connect/internal/localstore"
)

// Ledger remembers which reminders were already sent.
type Ledger interface {
	// MarkSent records key and reports whether it was new.
	MarkSent(ctx context.Context, key string) (bool, error)
}

// MemoryLedger lasts for the process lifetime.
type MemoryLedger struct {
	mu   sync.Mutex
	sent map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{sent: make(map[string]struct{})}
}

func (l *MemoryLedger) MarkSent(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sent[key]; ok {
		return false, nil
	}
	l.sent[key] = struct{}{}
	return true, nil
}

// RedisLedger shares the record across devices via SETNX. Entries expire
// after ttl so the keyspace does not grow without bound.
type RedisLedger struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger wraps an existing client.
func NewRedisLedger(client *redis.Client, prefix string, ttl time.Duration) *RedisLedger {
	if client == nil {
		panic("notify: redis client required")
	}
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &RedisLedger{redis: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLedger) MarkSent(ctx context.Context, key string) (bool, error) {
	ok, err := l.redis.SetNX(ctx, l.prefix+"reminder:"+key, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("notify: ledger setnx: %w", err)
	}
	return ok, nil
}

// StoreLedger keeps the record under one key of the local store, so it
// survives restarts with the file backend. Entries older than ttl are pruned
// on each write.
type StoreLedger struct {
	mu    sync.Mutex
	store localstore.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewStoreLedger persists into store under localstore.KeyReminders.
func NewStoreLedger(store localstore.Store, ttl time.Duration) *StoreLedger {
	if store == nil {
		panic("notify: local store required")
	}
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &StoreLedger{store: store, ttl: ttl, now: time.Now}
}

func (l *StoreLedger) MarkSent(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sent := map[string]time.Time{}
	if _, err := localstore.GetJSON(ctx, l.store, localstore.KeyReminders, &sent); err != nil {
		return false, fmt.Errorf("notify: ledger read: %w", err)
	}
	now := l.now()
	if at, ok := sent[key]; ok && now.Sub(at) < l.ttl {
		return false, nil
	}
	for k, at := range sent {
		if now.Sub(at) >= l.ttl {
			delete(sent, k)
		}
	}
	sent[key] = now.UTC()
	if err := localstore.SetJSON(ctx, l.store, localstore.KeyReminders, sent); err != nil {
		return false, fmt.Errorf("notify: ledger write: %w", err)
	}
	return true, nil
}
