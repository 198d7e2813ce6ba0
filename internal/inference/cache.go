package inference

import (
	"context"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/emirpasic/gods/maps/linkedhashmap"
	"golang.org/x/sync/singleflight"

	"github.com/23skdu/longbow-lens/internal/metrics"
)

// CachedSource keeps the most recent responses of an underlying source and
// collapses concurrent identical requests into a single call. Failures are
// never cached.
type CachedSource struct {
	next     Source
	capacity int

	mu      sync.Mutex
	entries *linkedhashmap.Map // uint64 -> *Response, least recently used first
	group   singleflight.Group
}

// NewCachedSource wraps next with a cache of the given capacity. A capacity
// of zero disables caching but still collapses concurrent requests.
func NewCachedSource(next Source, capacity int) *CachedSource {
	return &CachedSource{
		next:     next,
		capacity: capacity,
		entries:  linkedhashmap.New(),
	}
}

// Key hashes the request fields that determine a response.
func Key(req Request) uint64 {
	h := xxhash.New()
	h.WriteString(req.ModelName)
	h.Write([]byte{0})
	h.WriteString(req.Prompt)
	return h.Sum64()
}

func (c *CachedSource) Analyze(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key := Key(req)
	if resp, ok := c.get(key); ok {
		metrics.RecordCacheHit()
		return resp, nil
	}
	metrics.RecordCacheMiss()

	v, err, _ := c.group.Do(strconv.FormatUint(key, 16), func() (interface{}, error) {
		resp, err := c.next.Analyze(ctx, req)
		if err != nil {
			return nil, err
		}
		c.put(key, resp)
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

// Len returns the number of cached responses.
func (c *CachedSource) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Size()
}

func (c *CachedSource) get(key uint64) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	// Re-insert to mark as most recently used.
	c.entries.Remove(key)
	c.entries.Put(key, v)
	return v.(*Response), true
}

func (c *CachedSource) put(key uint64, resp *Response) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Remove(key)
	c.entries.Put(key, resp)
	for c.entries.Size() > c.capacity {
		it := c.entries.Iterator()
		if !it.First() {
			break
		}
		c.entries.Remove(it.Key())
		metrics.RecordCacheEviction()
	}
}
