package services

import "sync"

// FeatureDedup 按层级记录已渲染的要素 ID，层级变化时全部清空
type FeatureDedup struct {
	mu      sync.Mutex
	zoom    int
	buckets map[int]map[string]struct{}
}

// NewFeatureDedup 创建去重缓存
func NewFeatureDedup() *FeatureDedup {
	return &FeatureDedup{
		zoom:    -1,
		buckets: make(map[int]map[string]struct{}),
	}
}

// ShouldRender 该层级下首次出现返回 true 并记录，空 ID 总是渲染
func (d *FeatureDedup) ShouldRender(zoom int, id string) bool {
	if id == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	seen, ok := d.buckets[zoom]
	if !ok {
		seen = make(map[string]struct{})
		d.buckets[zoom] = seen
	}
	if _, dup := seen[id]; dup {
		return false
	}
	seen[id] = struct{}{}
	return true
}

// ResetIfZoomChanged 层级与上次不同时清空记录，返回是否清空
func (d *FeatureDedup) ResetIfZoomChanged(zoom int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if zoom == d.zoom {
		return false
	}
	d.zoom = zoom
	d.buckets = make(map[int]map[string]struct{})
	return true
}

// CurrentZoom 最近一次记录的层级，初始为 -1
func (d *FeatureDedup) CurrentZoom() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.zoom
}
