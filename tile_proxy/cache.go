package tile_proxy

import (
	"sync"
	"time"
)

// cacheEntry 缓存项
type cacheEntry struct {
	data      []byte
	expiresAt time.Time
	lastUsed  time.Time
}

// TileCache 单个数据源的原始瓦片内存缓存，按瓦片坐标索引。
// 超过容量时淘汰最久未访问的瓦片，层级切换后可按层级裁剪。
type TileCache struct {
	mu      sync.Mutex
	items   map[TileCoord]*cacheEntry
	levels  map[int]int
	maxSize int
	ttl     time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTileCache 创建瓦片缓存
func NewTileCache(maxSize int, ttl time.Duration) *TileCache {
	if maxSize < 1 {
		maxSize = 1
	}
	cache := &TileCache{
		items:   make(map[TileCoord]*cacheEntry),
		levels:  make(map[int]int),
		maxSize: maxSize,
		ttl:     ttl,
		stop:    make(chan struct{}),
	}

	go cache.cleanupLoop()

	return cache
}

// Get 获取瓦片，命中时刷新访问时间
func (c *TileCache) Get(coord TileCoord) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[coord]
	if !ok {
		return nil, false
	}
	now := time.Now()
	if now.After(e.expiresAt) {
		c.remove(coord)
		return nil, false
	}
	e.lastUsed = now
	return e.data, true
}

// Set 写入瓦片，已满时淘汰最久未访问的一项
func (c *TileCache) Set(coord TileCoord, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.items[coord]; ok {
		e.data = data
		e.expiresAt = now.Add(c.ttl)
		e.lastUsed = now
		return
	}
	if len(c.items) >= c.maxSize {
		c.evictLeastUsed()
	}
	c.items[coord] = &cacheEntry{data: data, expiresAt: now.Add(c.ttl), lastUsed: now}
	c.levels[coord.Z]++
}

// Delete 删除单个瓦片
func (c *TileCache) Delete(coord TileCoord) {
	c.mu.Lock()
	c.remove(coord)
	c.mu.Unlock()
}

// PruneLevels 删除与 level 相差超过 radius 的层级，返回删除数量
func (c *TileCache) PruneLevels(level, radius int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for z := range c.levels {
		if z >= level-radius && z <= level+radius {
			continue
		}
		for coord := range c.items {
			if coord.Z == z {
				delete(c.items, coord)
				n++
			}
		}
		delete(c.levels, z)
	}
	return n
}

// Levels 各层级缓存的瓦片数
func (c *TileCache) Levels() map[int]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]int, len(c.levels))
	for z, n := range c.levels {
		out[z] = n
	}
	return out
}

// remove 调用方持有 c.mu
func (c *TileCache) remove(coord TileCoord) {
	if _, ok := c.items[coord]; !ok {
		return
	}
	delete(c.items, coord)
	if c.levels[coord.Z]--; c.levels[coord.Z] <= 0 {
		delete(c.levels, coord.Z)
	}
}

func (c *TileCache) evictLeastUsed() {
	var (
		victim TileCoord
		oldest time.Time
		found  bool
	)
	for coord, e := range c.items {
		if !found || e.lastUsed.Before(oldest) {
			victim, oldest, found = coord, e.lastUsed, true
		}
	}
	if found {
		c.remove(victim)
	}
}

func (c *TileCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *TileCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for coord, e := range c.items {
		if now.After(e.expiresAt) {
			c.remove(coord)
		}
	}
}

// Clear 清空缓存
func (c *TileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[TileCoord]*cacheEntry)
	c.levels = make(map[int]int)
}

// Size 缓存瓦片数
func (c *TileCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close 停止后台清理
func (c *TileCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
