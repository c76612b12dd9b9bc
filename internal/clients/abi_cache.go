package clients

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	apperrors "credit-backend/internal/errors"
	"credit-backend/internal/metrics"

	"github.com/ethereum/go-ethereum/accounts/abi"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultABICacheSize parsed ABIs kept per gateway
const DefaultABICacheSize = 100

// ABICacheStats counters exposed by the gateway
type ABICacheStats struct {
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// ABICache memoizes parsed ABIs keyed by their compacted JSON
type ABICache struct {
	cache     *lru.Cache[string, *abi.ABI]
	capacity  int
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewABICache creates a bounded cache; size <= 0 uses DefaultABICacheSize
func NewABICache(size int) *ABICache {
	if size <= 0 {
		size = DefaultABICacheSize
	}
	c := &ABICache{capacity: size}
	// NewWithEvict only fails on a non-positive size
	c.cache, _ = lru.NewWithEvict[string, *abi.ABI](size, func(string, *abi.ABI) {
		c.evictions.Add(1)
		metrics.ABICacheEvents.WithLabelValues("eviction").Inc()
	})
	return c
}

// Get returns the parsed ABI, parsing and caching it on a miss
func (c *ABICache) Get(abiJSON string) (*abi.ABI, error) {
	key, err := cacheKey(abiJSON)
	if err != nil {
		return nil, err
	}

	if parsed, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		metrics.ABICacheEvents.WithLabelValues("hit").Inc()
		return parsed, nil
	}
	c.misses.Add(1)
	metrics.ABICacheEvents.WithLabelValues("miss").Inc()

	parsed, err := abi.JSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidABI, err)
	}
	c.cache.Add(key, &parsed)
	return &parsed, nil
}

// Stats returns a snapshot of the counters
func (c *ABICache) Stats() ABICacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	stats := ABICacheStats{
		Size:      c.cache.Len(),
		Capacity:  c.capacity,
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// cacheKey normalizes whitespace so the same ABI formatted differently hits one entry
func cacheKey(abiJSON string) (string, error) {
	if strings.TrimSpace(abiJSON) == "" {
		return "", fmt.Errorf("%w: empty abi", apperrors.ErrInvalidABI)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(abiJSON)); err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrInvalidABI, err)
	}
	return buf.String(), nil
}
