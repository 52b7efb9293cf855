package cache

import (
	"sync"
	"time"

	"cassette/pkg/models"
)

// CacheEntry represents a cached item with expiration
type CacheEntry struct {
	Value      interface{}
	Expiration time.Time
}

// IsExpired checks if the cache entry has expired
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return now.After(e.Expiration)
}

// MemoryCache is an in-memory TTL cache. A zero or negative ttl disables caching.
type MemoryCache struct {
	items map[string]*CacheEntry
	mutex sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

// NewMemoryCache creates a cache and starts its cleanup goroutine
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	c := &MemoryCache{
		items: make(map[string]*CacheEntry),
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if ttl > 0 {
		go c.cleanupExpired(cleanupInterval(ttl))
	}
	return c
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl < 5*time.Minute {
		return ttl
	}
	return 5 * time.Minute
}

// Set stores a value in the cache
func (c *MemoryCache) Set(key string, value interface{}) {
	if c.ttl <= 0 {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = &CacheEntry{
		Value:      value,
		Expiration: c.now().Add(c.ttl),
	}
}

// Get retrieves a value from the cache
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.items[key]
	if !exists || entry.IsExpired(c.now()) {
		return nil, false
	}
	return entry.Value, true
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
}

// Size returns the number of items in the cache, expired or not
func (c *MemoryCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.items)
}

// Close stops the cleanup goroutine
func (c *MemoryCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *MemoryCache) purge() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	for key, entry := range c.items {
		if entry.IsExpired(now) {
			delete(c.items, key)
		}
	}
}

// cleanupExpired removes expired entries periodically
func (c *MemoryCache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purge()
		case <-c.stop:
			return
		}
	}
}

// CatalogCache provides typed access to cached catalog metadata
type CatalogCache struct {
	*MemoryCache
}

// NewCatalogCache creates a catalog cache with the given TTL
func NewCatalogCache(ttl time.Duration) *CatalogCache {
	return &CatalogCache{MemoryCache: NewMemoryCache(ttl)}
}

// SetTrack caches a single track
func (cc *CatalogCache) SetTrack(id string, track *models.Track) {
	cc.Set("track:"+id, track)
}

// GetTrack retrieves a cached track
func (cc *CatalogCache) GetTrack(id string) (*models.Track, bool) {
	value, exists := cc.Get("track:" + id)
	if !exists {
		return nil, false
	}
	track, ok := value.(*models.Track)
	return track, ok
}

// SetAlbum caches an album with its volumes
func (cc *CatalogCache) SetAlbum(id string, album *models.Album) {
	cc.Set("album:"+id, album)
}

// GetAlbum retrieves a cached album
func (cc *CatalogCache) GetAlbum(id string) (*models.Album, bool) {
	value, exists := cc.Get("album:" + id)
	if !exists {
		return nil, false
	}
	album, ok := value.(*models.Album)
	return album, ok
}

// SetPlaylist caches a playlist
func (cc *CatalogCache) SetPlaylist(owner, id string, playlist *models.Playlist) {
	cc.Set("playlist:"+owner+"/"+id, playlist)
}

// GetPlaylist retrieves a cached playlist
func (cc *CatalogCache) GetPlaylist(owner, id string) (*models.Playlist, bool) {
	value, exists := cc.Get("playlist:" + owner + "/" + id)
	if !exists {
		return nil, false
	}
	playlist, ok := value.(*models.Playlist)
	return playlist, ok
}
