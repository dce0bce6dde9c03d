package search

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "motif:result:"

// CacheStore is the subset of pkg/redis.Client the cache uses.
type CacheStore interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// ResultCache stores complete search results keyed by query fingerprint and
// index generation, so a commit or delete makes earlier entries unreachable.
// Store failures degrade to computing the result; a run of failures opens
// the breaker and skips the store until it recovers.
type ResultCache struct {
	store   CacheStore
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewResultCache(store CacheStore, ttl time.Duration, m *metrics.Metrics) *ResultCache {
	c := &ResultCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "result-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("result-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(name string, _, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return c
}

// GetOrCompute returns the cached result for q at generation, or runs
// compute once per key across concurrent callers. Truncated results are
// returned but never stored.
func (c *ResultCache) GetOrCompute(ctx context.Context, q *Query, generation uint64, compute func() (*Result, error)) (*Result, bool, error) {
	key := CacheKey(q, generation)
	if res, ok := c.get(ctx, key); ok {
		return res, true, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if res, ok := c.get(ctx, key); ok {
			return res, nil
		}
		res, err := compute()
		if err != nil {
			return nil, err
		}
		if !res.Truncated {
			c.set(ctx, key, res)
		}
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Result), false, nil
}

func (c *ResultCache) get(ctx context.Context, key string) (*Result, bool) {
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.GetBytes(ctx, key)
		if pkgredis.IsNilError(err) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
	}
	if data == nil {
		c.count(false)
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		c.logger.Error("cache entry unreadable", "key", key, "error", err)
		c.count(false)
		return nil, false
	}
	c.count(true)
	return &res, true
}

func (c *ResultCache) set(ctx context.Context, key string, res *Result) {
	data, err := json.Marshal(res)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.breaker.Execute(func() error {
		return c.store.SetBytes(ctx, key, data, c.ttl)
	}); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (c *ResultCache) count(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.Inc()
	} else {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// Invalidate drops every cached result.
func (c *ResultCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating result cache: %w", err)
	}
	c.logger.Info("result cache invalidated", "keys_deleted", deleted)
	return nil
}

// CacheKey fingerprints everything that determines a query's result.
func CacheKey(q *Query, generation uint64) string {
	h := sha256.New()
	var buf []byte
	buf = binary.AppendUvarint(buf, generation)
	buf = append(buf, q.StructureID...)
	buf = append(buf, 0)
	for _, r := range q.Refs {
		buf = appendRef(buf, r)
	}
	buf = binary.AppendVarint(buf, int64(q.Tolerances.Backbone))
	buf = binary.AppendVarint(buf, int64(q.Tolerances.SideChain))
	buf = binary.AppendVarint(buf, int64(q.Tolerances.Angle))
	buf = binary.AppendVarint(buf, int64(q.MaxResults))

	positions := make([]descriptor.ResidueRef, 0, len(q.Exchanges))
	for r := range q.Exchanges {
		positions = append(positions, r)
	}
	sort.Slice(positions, func(i, j int) bool {
		return residuesLess(positions[i:i+1], positions[j:j+1])
	})
	for _, r := range positions {
		buf = appendRef(buf, r)
		types := append([]descriptor.ResidueType(nil), q.Exchanges[r]...)
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		for _, t := range types {
			buf = append(buf, byte(t))
		}
		buf = append(buf, 0xff)
	}
	for _, o := range q.Path {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(o.Descriptor))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(o.Identifier))
	}
	h.Write(buf)
	return fmt.Sprintf("%s%x", cacheKeyPrefix, h.Sum(nil)[:16])
}

func appendRef(buf []byte, r descriptor.ResidueRef) []byte {
	buf = binary.AppendUvarint(buf, uint64(r.Index))
	return binary.AppendUvarint(buf, uint64(r.Operator))
}
