package ImgHandler

import (
	"context"
	"image/color"
	"log"
	"sync"
	"time"

	"github.com/GrainArc/GlobeMVT/Transformer"
	"github.com/GrainArc/GlobeMVT/config"
	"github.com/GrainArc/GlobeMVT/pgmvt"
	"github.com/GrainArc/GlobeMVT/tile_proxy"
	"github.com/gogpu/gg"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// 命中容差（像素）
const hitSlop = 3.0

// CompositorSource 参与拼接的矢量瓦片数据源
type CompositorSource struct {
	Name      string
	Fetcher   tile_proxy.TileFetcher
	Scheme    tile_proxy.TilingScheme
	Projector Transformer.Projector
	MinLevel  int
	MaxLevel  int
	Styles    []config.LayerStyle
}

// CompositorOptions 拼接器选项
type CompositorOptions struct {
	MaxConcurrent int
	CacheSize     int
	CacheTTL      time.Duration
}

// BasicCompositor 把邻域矢量瓦片按图层样式绘制到画布，并记录已绘制要素供拾取
type BasicCompositor struct {
	mu        sync.RWMutex
	sources   []*CompositorSource
	caches    map[string]*tile_proxy.TileCache
	pending   map[string]*RenderRef
	processor *tile_proxy.SafeTileProcessor
	opts      CompositorOptions
	zoom      int
}

// NewBasicCompositor 创建拼接器
func NewBasicCompositor(opts CompositorOptions) *BasicCompositor {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 4
	}
	if opts.CacheSize < 1 {
		opts.CacheSize = 256
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	return &BasicCompositor{
		caches:    make(map[string]*tile_proxy.TileCache),
		pending:   make(map[string]*RenderRef),
		processor: tile_proxy.NewSafeTileProcessor(opts.MaxConcurrent, 60*time.Second),
		opts:      opts,
		zoom:      -1,
	}
}

// AddSource 添加或替换数据源
func (c *BasicCompositor) AddSource(src *CompositorSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.sources {
		if s.Name == src.Name {
			c.sources[i] = src
			c.caches[src.Name].Clear()
			return
		}
	}
	c.sources = append(c.sources, src)
	c.caches[src.Name] = tile_proxy.NewTileCache(c.opts.CacheSize, c.opts.CacheTTL)
}

// RemoveSource 移除数据源
func (c *BasicCompositor) RemoveSource(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.sources {
		if s.Name == name {
			c.sources = append(c.sources[:i], c.sources[i+1:]...)
			break
		}
	}
	if cache, ok := c.caches[name]; ok {
		cache.Close()
		delete(c.caches, name)
	}
}

func (c *BasicCompositor) source(name string) *CompositorSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sources {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// FilterForZoom 设置当前渲染层级，之后的绘制和拾取只保留该层级可见的图层，
// 并裁掉相差超过一级的缓存瓦片
func (c *BasicCompositor) FilterForZoom(level int) {
	c.mu.Lock()
	changed := c.zoom != level
	c.zoom = level
	caches := make([]*tile_proxy.TileCache, 0, len(c.caches))
	for _, cache := range c.caches {
		caches = append(caches, cache)
	}
	c.mu.Unlock()

	if !changed {
		return
	}
	for _, cache := range caches {
		cache.PruneLevels(level, 1)
	}
}

// Zoom 最近一次 FilterForZoom 的层级
func (c *BasicCompositor) Zoom() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.zoom
}

// VisibleSources 该层级范围内的数据源，按添加顺序
func (c *BasicCompositor) VisibleSources(level int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var names []string
	for _, s := range c.sources {
		if level >= s.MinLevel && level <= s.MaxLevel {
			names = append(names, s.Name)
		}
	}
	return names
}

type loadedTile struct {
	spec tile_proxy.TileSpec
	tile *pgmvt.Tile
}

// RenderTiles 异步加载并绘制拼接列表，完成后调用 done；全部加载失败时错误以 tiles not available 结尾
func (c *BasicCompositor) RenderTiles(ctx context.Context, surface *gg.Context, dest DestRect, specs []tile_proxy.TileSpec, done func(error)) *RenderRef {
	ref := NewRenderRef(surface, dest, specs)
	ctx, cancel := context.WithCancel(ctx)
	ref.cancel = cancel

	c.mu.Lock()
	ref.Zoom = c.zoom
	c.pending[ref.ID] = ref
	c.mu.Unlock()

	go func() {
		err := c.render(ctx, ref)
		c.mu.Lock()
		delete(c.pending, ref.ID)
		c.mu.Unlock()
		done(err)
	}()
	return ref
}

func (c *BasicCompositor) render(ctx context.Context, ref *RenderRef) error {
	if len(ref.Specs) == 0 {
		return nil
	}

	loaded := make([]*loadedTile, len(ref.Specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range ref.Specs {
		i, spec := i, spec
		g.Go(func() error {
			res := c.processor.ProcessWithRecover(gctx, func() ([]byte, error) {
				return c.loadTile(gctx, spec)
			})
			if res.Err != nil {
				if errors.Is(res.Err, context.Canceled) {
					return res.Err
				}
				return nil
			}
			tile, err := pgmvt.Decode(res.Data)
			if err != nil {
				log.Printf("decode tile %s %d/%d/%d: %v", spec.Source, spec.Z, spec.X, spec.Y, err)
				return nil
			}
			loaded[i] = &loadedTile{spec: spec, tile: tile}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	n := 0
	for _, l := range loaded {
		if l != nil {
			n++
		}
	}
	if n == 0 {
		return errors.Errorf("%d tiles not available", len(ref.Specs))
	}

	ref.mu.Lock()
	defer ref.mu.Unlock()
	if ref.released {
		return context.Canceled
	}
	for _, l := range loaded {
		if l == nil {
			continue
		}
		if src := c.source(l.spec.Source); src != nil {
			c.drawTile(ref, src, l)
		}
	}
	return nil
}

func (c *BasicCompositor) loadTile(ctx context.Context, spec tile_proxy.TileSpec) ([]byte, error) {
	src := c.source(spec.Source)
	if src == nil || src.Fetcher == nil {
		return nil, errors.Wrapf(tile_proxy.ErrTileUnavailable, "unknown source %s", spec.Source)
	}
	key := spec.Coord()

	c.mu.RLock()
	cache := c.caches[spec.Source]
	c.mu.RUnlock()
	if cache != nil {
		if data, ok := cache.Get(key); ok {
			return data, nil
		}
	}
	data, err := src.Fetcher.FetchTile(ctx, spec.Z, spec.X, spec.Y)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache.Set(key, data)
	}
	return data, nil
}

// drawTile 调用方持有 ref.mu
func (c *BasicCompositor) drawTile(ref *RenderRef, src *CompositorSource, l *loadedTile) {
	surface := ref.surface
	offX := float64(ref.Dest.DestLeft - ref.Dest.SrcLeft + l.spec.Left)
	offY := float64(ref.Dest.DestTop - ref.Dest.SrcTop + l.spec.Top)

	for _, layer := range l.tile.Layers {
		style := config.FindStyle(src.Styles, layer.Name)
		if !style.VisibleAt(ref.Zoom) {
			continue
		}
		scale := float64(l.spec.Size) / float64(layer.Extent)
		toSurface := func(p orb.Point) orb.Point {
			return orb.Point{offX + p.X()*scale, offY + p.Y()*scale}
		}

		for i := 0; i < layer.Len(); i++ {
			f := layer.Feature(i)
			rings := f.LoadGeometry()
			if len(rings) == 0 {
				continue
			}
			for _, ring := range rings {
				for j := range ring {
					ring[j] = toSurface(ring[j])
				}
			}

			var tolerance float64
			switch f.Type {
			case pgmvt.GeomPoint:
				tolerance = style.PointSize/2 + hitSlop
				if surface != nil {
					setColor(surface, style.PointColor)
					for _, ring := range rings {
						for _, p := range ring {
							surface.DrawCircle(p.X(), p.Y(), style.PointSize/2)
							surface.Fill()
						}
					}
				}
			case pgmvt.GeomLineString:
				tolerance = style.LineWidth/2 + hitSlop
				if surface != nil {
					setColor(surface, style.LineColor)
					surface.SetLineWidth(style.LineWidth)
					for _, ring := range rings {
						tracePath(surface, ring, false)
						surface.Stroke()
					}
				}
			case pgmvt.GeomPolygon:
				tolerance = style.LineWidth/2 + hitSlop
				if surface != nil {
					for _, ring := range rings {
						tracePath(surface, ring, true)
					}
					setColor(surface, style.FillColor)
					surface.FillPreserve()
					setColor(surface, style.LineColor)
					surface.SetLineWidth(style.LineWidth)
					surface.Stroke()
				}
			default:
				continue
			}

			geom := surfaceGeometry(f.Geometry(), toSurface)
			ref.insert(&renderedFeature{
				source:     src.Name,
				layer:      layer.Name,
				properties: f.Properties,
				geometry:   geom,
				bound:      geom.Bound(),
				tolerance:  tolerance,
			})
		}
	}
}

func tracePath(surface *gg.Context, ring []orb.Point, closed bool) {
	for i, p := range ring {
		if i == 0 {
			surface.MoveTo(p.X(), p.Y())
		} else {
			surface.LineTo(p.X(), p.Y())
		}
	}
	if closed {
		surface.ClosePath()
	}
}

func setColor(surface *gg.Context, s string) {
	col, err := ParseColor(s)
	if err != nil {
		col = color.Black
	}
	surface.SetColor(col)
}

// surfaceGeometry 复制几何并换算到画布像素坐标
func surfaceGeometry(g orb.Geometry, fn func(orb.Point) orb.Point) orb.Geometry {
	switch v := orb.Clone(g).(type) {
	case orb.Point:
		return fn(v)
	case orb.MultiPoint:
		for i := range v {
			v[i] = fn(v[i])
		}
		return v
	case orb.LineString:
		for i := range v {
			v[i] = fn(v[i])
		}
		return v
	case orb.MultiLineString:
		for _, ls := range v {
			for i := range ls {
				ls[i] = fn(ls[i])
			}
		}
		return v
	case orb.Polygon:
		for _, r := range v {
			for i := range r {
				r[i] = fn(r[i])
			}
		}
		return v
	case orb.MultiPolygon:
		for _, p := range v {
			for _, r := range p {
				for i := range r {
					r[i] = fn(r[i])
				}
			}
		}
		return v
	}
	return g
}

// ReleaseRender 释放渲染句柄，重复调用无副作用
func (c *BasicCompositor) ReleaseRender(ref *RenderRef) {
	if ref == nil {
		return
	}
	ref.release()
	c.mu.Lock()
	delete(c.pending, ref.ID)
	c.mu.Unlock()
}

// ResetSourceCaches 清空各数据源的原始瓦片缓存
func (c *BasicCompositor) ResetSourceCaches() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cache := range c.caches {
		cache.Clear()
	}
}

// QueryRenderedFeatures 查询某数据源在经纬度处已绘制的要素
func (c *BasicCompositor) QueryRenderedFeatures(ref *RenderRef, q FeatureQuery) []LayerFeatures {
	if ref == nil {
		return nil
	}
	src := c.source(q.Source)
	if src == nil {
		return nil
	}
	spec, ok := ref.CenterSpec(q.Source)
	if !ok || spec.Z != q.TileZ {
		return nil
	}
	rect := src.Scheme.TileToNativeRectangle(spec.X, spec.Y, spec.Z)
	px, py, err := src.Projector.Unproject(orb.Point{q.Lng, q.Lat}, rect, float64(spec.Size))
	if err != nil {
		return nil
	}
	pt := orb.Point{
		float64(ref.Dest.DestLeft-ref.Dest.SrcLeft) + px,
		float64(ref.Dest.DestTop-ref.Dest.SrcTop) + py,
	}
	return ref.query(q.Source, pt, func(layer string) bool {
		return config.FindStyle(src.Styles, layer).VisibleAt(q.RenderedZoom)
	})
}

// CancelAllPendingRenders 释放所有未完成的渲染
func (c *BasicCompositor) CancelAllPendingRenders() {
	c.mu.Lock()
	refs := make([]*RenderRef, 0, len(c.pending))
	for _, r := range c.pending {
		refs = append(refs, r)
	}
	c.pending = make(map[string]*RenderRef)
	c.mu.Unlock()

	for _, r := range refs {
		r.release()
	}
}

// Close 释放缓存
func (c *BasicCompositor) Close() {
	c.CancelAllPendingRenders()
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, cache := range c.caches {
		cache.Close()
		delete(c.caches, name)
	}
}
