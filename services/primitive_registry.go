package services

import "sync"

// PrimitiveRegistry 按瓦片键记录图元批次，用于清理其他层级
type PrimitiveRegistry struct {
	mu      sync.Mutex
	batches map[string]*TileBatch
}

// NewPrimitiveRegistry 创建记录表
func NewPrimitiveRegistry() *PrimitiveRegistry {
	return &PrimitiveRegistry{batches: make(map[string]*TileBatch)}
}

// Record 记录批次，同一瓦片键的图元合并
func (r *PrimitiveRegistry) Record(b *TileBatch) {
	if b == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.batches[b.Key]; ok {
		old.Refs = append(old.Refs, b.Refs...)
		old.Halted = old.Halted || b.Halted
		return
	}
	cp := *b
	cp.Refs = append([]PrimitiveRef(nil), b.Refs...)
	r.batches[b.Key] = &cp
}

// Batch 查询瓦片键对应的图元
func (r *PrimitiveRegistry) Batch(key string) (TileBatch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[key]
	if !ok {
		return TileBatch{}, false
	}
	cp := *b
	cp.Refs = append([]PrimitiveRef(nil), b.Refs...)
	return cp, true
}

// EvictOtherLevels 从场景移除非 level 层级的图元，返回移除数量
func (r *PrimitiveRegistry) EvictOtherLevels(level int, scene Scene) int {
	r.mu.Lock()
	var stale []*TileBatch
	for key, b := range r.batches {
		if b.Level != level {
			stale = append(stale, b)
			delete(r.batches, key)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, b := range stale {
		for _, ref := range b.Refs {
			scene.RemovePrimitive(ref)
			n++
		}
	}
	return n
}

// Len 记录的瓦片数
func (r *PrimitiveRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}
