package cache

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultMaxEntries = 10_000
	DefaultTTL        = time.Second
)

// Cache is an in-memory response store bounded by entry count and age.
// When full, the least recently used entry is evicted.
type Cache struct {
	entries    map[string]*list.Element
	order      *list.List
	mutex      sync.Mutex
	ttl        time.Duration
	maxEntries int

	janitor  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCache creates a cache. A non-positive maxEntries disables the bound and
// a non-positive ttl disables expiry.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		stopCh:     make(chan struct{}),
	}
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) Get(key string) (*Entry, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	element, exists := c.entries[key]
	if !exists {
		return nil, false
	}

	entry := element.Value.(*Entry)
	if entry.IsExpired() {
		c.order.Remove(element)
		delete(c.entries, key)
		return nil, false
	}

	c.order.MoveToFront(element)
	return entry, true
}

// Set stores entry under entry.Key. A previous entry is replaced, never
// mutated, so readers holding it keep a consistent view.
func (c *Cache) Set(entry *Entry) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if element, exists := c.entries[entry.Key]; exists {
		element.Value = entry
		c.order.MoveToFront(element)
		return
	}

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		if tail := c.order.Back(); tail != nil {
			c.order.Remove(tail)
			delete(c.entries, tail.Value.(*Entry).Key)
		}
	}

	c.entries[entry.Key] = c.order.PushFront(entry)
}

func (c *Cache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if element, exists := c.entries[key]; exists {
		c.order.Remove(element)
		delete(c.entries, key)
	}
}

func (c *Cache) CleanupExpired() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	count := 0
	for element := c.order.Front(); element != nil; {
		next := element.Next()
		entry := element.Value.(*Entry)
		if entry.IsExpired() {
			c.order.Remove(element)
			delete(c.entries, entry.Key)
			count++
		}
		element = next
	}

	return count
}

func (c *Cache) Size() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.entries)
}

func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// StartJanitor removes expired entries every interval until Close is called.
func (c *Cache) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		return
	}

	c.mutex.Lock()
	if c.janitor {
		c.mutex.Unlock()
		return
	}
	c.janitor = true
	c.mutex.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.CleanupExpired()
			}
		}
	}()
}

// Close stops the janitor and drops every entry.
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	c.Clear()
}
