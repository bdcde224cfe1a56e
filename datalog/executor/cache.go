package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loganmhb/cliodb/datalog/db"
	"github.com/loganmhb/cliodb/datalog/query"
)

// PlanCache caches compiled plans to avoid re-planning identical queries.
// A plan resolves idents against one schema, so an entry only serves
// databases with that same schema.
type PlanCache struct {
	cache map[string]*cachedPlan
	mu    sync.RWMutex

	// Statistics
	hits   int64
	misses int64

	// Configuration
	maxSize int
	ttl     time.Duration
}

type cachedPlan struct {
	plan      *plan
	schema    *db.Schema
	timestamp time.Time
}

// NewPlanCache creates a plan cache. Zero values select 1000 plans and a
// five minute TTL.
func NewPlanCache(maxSize int, ttl time.Duration) *PlanCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &PlanCache{
		cache:   make(map[string]*cachedPlan),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// get returns the cached plan for q if it was compiled against schema and
// has not expired
func (c *PlanCache) get(q query.Query, schema *db.Schema) (*plan, bool) {
	if c == nil {
		return nil, false
	}

	key := computeKey(q)

	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.cache[key]
	if !ok || cached.schema != schema || time.Since(cached.timestamp) > c.ttl {
		// Stale entries are replaced on the next set.
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return cached.plan, true
}

// set stores a plan compiled against schema
func (c *PlanCache) set(q query.Query, schema *db.Schema, p *plan) {
	if c == nil || p == nil {
		return
	}

	key := computeKey(q)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.cache[key]; !ok && len(c.cache) >= c.maxSize {
		c.evictExpired()
		if len(c.cache) >= c.maxSize {
			c.evictOldest()
		}
	}

	c.cache[key] = &cachedPlan{
		plan:      p,
		schema:    schema,
		timestamp: time.Now(),
	}
}

// Clear removes all cached plans
func (c *PlanCache) Clear() {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string]*cachedPlan)
	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
}

// Stats returns cache statistics
func (c *PlanCache) Stats() (hits, misses int64, size int) {
	if c == nil {
		return 0, 0, 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses), len(c.cache)
}

// computeKey hashes the structure of q. Each pattern element is tagged with
// its kind, so an ident spelled like a variable or a blank keeps its own key.
func computeKey(q query.Query) string {
	h := sha256.New()

	fmt.Fprintf(h, "FIND:")
	for _, sym := range q.Find {
		fmt.Fprintf(h, "%q;", sym)
	}

	fmt.Fprintf(h, "WHERE:")
	for _, pattern := range q.Where {
		fmt.Fprintf(h, "[")
		for _, elem := range pattern.Elements {
			switch e := elem.(type) {
			case query.Variable:
				fmt.Fprintf(h, "V:%q;", e.Name)
			case query.Blank:
				fmt.Fprintf(h, "B;")
			case query.Constant:
				fmt.Fprintf(h, "C:%s:%q;", e.Value.Kind(), e.Value.String())
			default:
				fmt.Fprintf(h, "%T:%q;", elem, elem.String())
			}
		}
		fmt.Fprintf(h, "]")
	}

	return hex.EncodeToString(h.Sum(nil))
}

func (c *PlanCache) evictExpired() {
	now := time.Now()
	for key, cached := range c.cache {
		if now.Sub(cached.timestamp) > c.ttl {
			delete(c.cache, key)
		}
	}
}

func (c *PlanCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, cached := range c.cache {
		if oldestKey == "" || cached.timestamp.Before(oldestTime) {
			oldestKey = key
			oldestTime = cached.timestamp
		}
	}

	if oldestKey != "" {
		delete(c.cache, oldestKey)
	}
}
