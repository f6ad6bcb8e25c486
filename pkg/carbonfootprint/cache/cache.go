package cache

import (
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/api"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/clock"
)

// Cache provides thread-safe caching of grid intensity data with TTL
type Cache struct {
	data   map[string]*cacheEntry
	mutex  sync.RWMutex
	ttl    time.Duration
	maxAge time.Duration
	clock  clock.Clock
	stopCh chan struct{}
	once   sync.Once

	hits   int64
	misses int64
}

type cacheEntry struct {
	data      *api.ElectricityData
	timestamp time.Time
}

// New creates a cache with a background cleanup loop
func New(ttl time.Duration, maxAge time.Duration) *Cache {
	c := NewWithClock(ttl, maxAge, clock.RealClock{})
	go c.cleanup()
	return c
}

// NewWithClock creates a cache without the cleanup loop; callers drive
// RemoveExpired themselves
func NewWithClock(ttl time.Duration, maxAge time.Duration, clk clock.Clock) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	if maxAge < ttl {
		maxAge = ttl
	}

	return &Cache{
		data:   make(map[string]*cacheEntry),
		ttl:    ttl,
		maxAge: maxAge,
		clock:  clk,
		stopCh: make(chan struct{}),
	}
}

// Get returns the cached data for zone if it is younger than the TTL
func (c *Cache) Get(zone string) (*api.ElectricityData, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.data[zone]
	if !exists || c.clock.Since(entry.timestamp) > c.ttl {
		c.misses++
		return nil, false
	}

	c.hits++
	return entry.data, true
}

// Set stores data for zone. Estimated readings never replace a measured
// reading for the same zone that is less than an hour older.
func (c *Cache) Set(zone string, data *api.ElectricityData) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if existing, exists := c.data[zone]; exists && data.IsEstimated && !existing.data.IsEstimated {
		if age := data.Datetime.Sub(existing.data.Datetime); age < time.Hour {
			klog.V(3).InfoS("Skipping estimated intensity update, measured data is cached",
				"zone", zone,
				"existingDatetime", existing.data.Datetime,
				"newDatetime", data.Datetime)
			return
		}
	}

	c.data[zone] = &cacheEntry{
		data:      data,
		timestamp: c.clock.Now(),
	}

	klog.V(4).InfoS("Cached grid intensity",
		"zone", zone,
		"carbonIntensity", data.CarbonIntensity,
		"isEstimated", data.IsEstimated)
}

// GetMetrics returns hit and miss counts
func (c *Cache) GetMetrics() (hits, misses int64) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.hits, c.misses
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.RemoveExpired()
		}
	}
}

// RemoveExpired drops entries older than the max age
func (c *Cache) RemoveExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for zone, entry := range c.data {
		if age := c.clock.Since(entry.timestamp); age > c.maxAge {
			delete(c.data, zone)
			klog.V(4).InfoS("Removed expired cache entry", "zone", zone, "age", age.String())
		}
	}
}

// Close stops the cleanup loop
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stopCh) })
}

// Size returns the number of cached zones
func (c *Cache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.data)
}
