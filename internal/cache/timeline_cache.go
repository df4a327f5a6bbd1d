// Package cache keeps computed patient timelines close to the API.
//
// Entries live in an in-process LRU with a short TTL and, when configured, in
// Redis so that several server replicas share them. Redis calls go through a
// circuit breaker; any Redis failure degrades to a cache miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/cardio-risk-server/internal/domain"
)

const (
	keyPrefix          = "cardio:timeline:"
	defaultMemoryItems = 1000
	defaultMemoryTTL   = time.Minute
	defaultRedisTTL    = 10 * time.Minute
	breakerFailures    = 3
)

// TimelineCache is a two-tier cache of patient timelines.
//
// Every Invalidate bumps a per-patient generation. A timeline computed before
// an invalidation carries the older generation and is never stored.
type TimelineCache struct {
	mu          sync.Mutex
	generations map[string]uint64

	memory   *expirable.LRU[string, *domain.PatientTimeline]
	redis    *redis.Client
	breaker  *gobreaker.CircuitBreaker
	redisTTL time.Duration
	log      *logrus.Logger
}

// New builds the cache from configuration. Redis is only dialled when enabled.
func New(cfg domain.CacheConfig, logger *logrus.Logger) (*TimelineCache, error) {
	var client *redis.Client
	if cfg.RedisEnabled {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		if cfg.PoolSize > 0 {
			opts.PoolSize = cfg.PoolSize
		}
		if cfg.PoolTimeout > 0 {
			opts.PoolTimeout = cfg.PoolTimeout
		}
		opts.MaxRetries = cfg.MaxRetries
		client = redis.NewClient(opts)
	}
	return NewWithClient(cfg, client, logger), nil
}

// NewWithClient builds the cache around an existing Redis client, which may be nil.
func NewWithClient(cfg domain.CacheConfig, client *redis.Client, logger *logrus.Logger) *TimelineCache {
	items := cfg.MemoryItems
	if items <= 0 {
		items = defaultMemoryItems
	}
	memoryTTL := cfg.MemoryTTL
	if memoryTTL <= 0 {
		memoryTTL = defaultMemoryTTL
	}
	redisTTL := cfg.DefaultTTL
	if redisTTL <= 0 {
		redisTTL = defaultRedisTTL
	}

	c := &TimelineCache{
		generations: make(map[string]uint64),
		memory:   expirable.NewLRU[string, *domain.PatientTimeline](items, nil, memoryTTL),
		redis:    client,
		redisTTL: redisTTL,
		log:      logger,
	}
	if client != nil {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "timeline-redis",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Cache circuit breaker state changed")
			},
		})
	}
	return c
}

// Get returns the cached timeline of a patient
func (c *TimelineCache) Get(ctx context.Context, hospitalID, patientID string) (*domain.PatientTimeline, bool) {
	key := cacheKey(hospitalID, patientID)
	if tl, ok := c.memory.Get(key); ok {
		return tl, true
	}
	if c.redis == nil {
		return nil, false
	}

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		val, err := c.redis.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return val, err
	})
	if err != nil {
		c.log.WithError(err).WithField("key", key).Debug("Redis timeline lookup failed")
		return nil, false
	}
	data, _ := raw.([]byte)
	if data == nil {
		return nil, false
	}

	var tl domain.PatientTimeline
	if err := json.Unmarshal(data, &tl); err != nil {
		// corrupted entry
		c.redis.Del(ctx, key)
		return nil, false
	}
	c.memory.Add(key, &tl)
	return &tl, true
}

// Generation returns the invalidation count of a patient. Read it before
// loading the data a timeline is computed from and pass it to Set.
func (c *TimelineCache) Generation(hospitalID, patientID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[cacheKey(hospitalID, patientID)]
}

// current reports whether no invalidation happened since generation was read.
// Callers hold c.mu.
func (c *TimelineCache) current(key string, generation uint64) bool {
	return c.generations[key] == generation
}

// Set stores a timeline in both tiers unless the patient was invalidated after
// generation was read.
func (c *TimelineCache) Set(ctx context.Context, hospitalID, patientID string, generation uint64, timeline *domain.PatientTimeline) {
	key := cacheKey(hospitalID, patientID)
	c.mu.Lock()
	if !c.current(key, generation) {
		c.mu.Unlock()
		c.log.WithField("key", key).Debug("Skipping stale timeline")
		return
	}
	c.memory.Add(key, timeline)
	c.mu.Unlock()
	if c.redis == nil {
		return
	}

	data, err := json.Marshal(timeline)
	if err != nil {
		c.log.WithError(err).Warn("Failed to encode timeline for cache")
		return
	}
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.redis.Set(ctx, key, data, c.redisTTL).Err()
	})
	if err != nil {
		c.log.WithError(err).WithField("key", key).Debug("Redis timeline write failed")
		return
	}

	// an invalidation that ran during the write may have deleted the key first
	c.mu.Lock()
	stale := !c.current(key, generation)
	c.mu.Unlock()
	if stale {
		c.dropShared(ctx, key)
	}
}

// Invalidate drops a patient's timeline from both tiers
func (c *TimelineCache) Invalidate(ctx context.Context, hospitalID, patientID string) {
	key := cacheKey(hospitalID, patientID)
	c.mu.Lock()
	c.generations[key]++
	c.memory.Remove(key)
	c.mu.Unlock()
	if c.redis == nil {
		return
	}
	c.dropShared(ctx, key)
}

func (c *TimelineCache) dropShared(ctx context.Context, key string) {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.redis.Del(ctx, key).Err()
	})
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Redis timeline invalidation failed")
	}
}

// Health reports whether the shared tier is reachable
func (c *TimelineCache) Health(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	if c.breaker.State() == gobreaker.StateOpen {
		return fmt.Errorf("redis circuit breaker open")
	}
	return c.redis.Ping(ctx).Err()
}

// BreakerState returns the Redis breaker state, or "disabled" without Redis
func (c *TimelineCache) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// Len returns the number of in-process entries
func (c *TimelineCache) Len() int {
	return c.memory.Len()
}

// Close releases the Redis client
func (c *TimelineCache) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

func cacheKey(hospitalID, patientID string) string {
	return keyPrefix + hospitalID + ":" + patientID
}
