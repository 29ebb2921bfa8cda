package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ekaya-identity/pkg/models"
)

// SummaryCache stores derived preference summaries. Keys embed the tree
// fingerprint, so a changed tree never reads a stale entry; the TTL only bounds
// how long unreachable keys linger.
type SummaryCache interface {
	Get(ctx context.Context, key string) (*models.PreferenceSummary, bool, error)
	Set(ctx context.Context, key string, summary *models.PreferenceSummary, ttl time.Duration) error
}

// RedisSummaryCache keeps summaries as JSON strings in Redis.
type RedisSummaryCache struct {
	client *redis.Client
	prefix string
}

// NewRedisSummaryCache creates a cache over an already connected client.
func NewRedisSummaryCache(client *redis.Client) *RedisSummaryCache {
	return &RedisSummaryCache{client: client, prefix: "ekaya-identity:"}
}

var _ SummaryCache = (*RedisSummaryCache)(nil)

func (c *RedisSummaryCache) Get(ctx context.Context, key string) (*models.PreferenceSummary, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var summary models.PreferenceSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, false, fmt.Errorf("decode cached summary: %w", err)
	}
	return &summary, true, nil
}

func (c *RedisSummaryCache) Set(ctx context.Context, key string, summary *models.PreferenceSummary, ttl time.Duration) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// DefaultMemoryCacheEntries bounds the in-process cache.
const DefaultMemoryCacheEntries = 1024

// MemorySummaryCache is the in-process fallback used when Redis is not configured.
type MemorySummaryCache struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
	now        func() time.Time
}

type memoryEntry struct {
	summary   *models.PreferenceSummary
	expiresAt time.Time
}

// NewMemorySummaryCache creates a cache holding at most maxEntries summaries.
func NewMemorySummaryCache(maxEntries int) *MemorySummaryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryCacheEntries
	}
	return &MemorySummaryCache{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

var _ SummaryCache = (*MemorySummaryCache)(nil)

func (c *MemorySummaryCache) Get(_ context.Context, key string) (*models.PreferenceSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.summary, true, nil
}

func (c *MemorySummaryCache) Set(_ context.Context, key string, summary *models.PreferenceSummary, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evict(now)
	}

	e := memoryEntry{summary: summary}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// evict drops expired entries, or the entry closest to expiry when none have expired.
// Caller holds c.mu.
func (c *MemorySummaryCache) evict(now time.Time) {
	var (
		victim   string
		earliest time.Time
		found    bool
	)
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(c.entries, k)
			continue
		}
		if !found || (!e.expiresAt.IsZero() && (earliest.IsZero() || e.expiresAt.Before(earliest))) {
			victim, earliest, found = k, e.expiresAt, true
		}
	}
	if len(c.entries) >= c.maxEntries && found {
		delete(c.entries, victim)
	}
}

// Len returns the number of cached summaries, expired ones included.
func (c *MemorySummaryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
