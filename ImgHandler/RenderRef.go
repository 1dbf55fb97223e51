package ImgHandler

import (
	"context"
	"sort"
	"sync"

	"github.com/GrainArc/GlobeMVT/tile_proxy"
	"github.com/dhconnelly/rtreego"
	"github.com/gogpu/gg"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// DestRect 拼接结果在画布上的位置
type DestRect struct {
	SrcLeft  int
	SrcTop   int
	Width    int
	Height   int
	DestLeft int
	DestTop  int
}

// FeatureQuery 拾取查询参数，经纬度为度。
// RenderedZoom 用于图层可见性过滤，TileZ 须与句柄中目标瓦片层级一致。
type FeatureQuery struct {
	Source       string
	RenderedZoom int
	Lng          float64
	Lat          float64
	TileZ        int
}

// LayerFeatures 单个图层命中的要素属性
type LayerFeatures struct {
	Name       string                   `json:"name"`
	Properties []map[string]interface{} `json:"properties"`
}

// RenderRef 一次拼接渲染的句柄，持有画布和已绘制要素的空间索引
type RenderRef struct {
	ID    string
	Specs []tile_proxy.TileSpec
	Dest  DestRect
	Zoom  int // 创建时的过滤层级，-1 表示不过滤

	mu       sync.Mutex
	surface  *gg.Context
	index    *rtreego.Rtree
	count    int
	released bool
	cancel   context.CancelFunc
}

// NewRenderRef 创建渲染句柄
func NewRenderRef(surface *gg.Context, dest DestRect, specs []tile_proxy.TileSpec) *RenderRef {
	return &RenderRef{
		ID:      uuid.NewString(),
		Specs:   specs,
		Dest:    dest,
		surface: surface,
		index:   rtreego.NewTree(2, 25, 50),
		Zoom:    -1,
		cancel:  func() {},
	}
}

// Surface 当前绑定的画布，Detach 后为 nil
func (r *RenderRef) Surface() *gg.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surface
}

// Detach 解除画布绑定，之后的绘制全部丢弃
func (r *RenderRef) Detach() {
	r.mu.Lock()
	r.surface = nil
	r.mu.Unlock()
}

// Released 是否已释放
func (r *RenderRef) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// FeatureCount 已索引要素数
func (r *RenderRef) FeatureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// CenterSpec 某数据源中目标瓦片本身（偏移为 0）的拼接项
func (r *RenderRef) CenterSpec(source string) (tile_proxy.TileSpec, bool) {
	for _, s := range r.Specs {
		if s.Source == source && s.Left == 0 && s.Top == 0 {
			return s, true
		}
	}
	return tile_proxy.TileSpec{}, false
}

func (r *RenderRef) release() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return false
	}
	r.released = true
	r.index = nil
	r.cancel()
	return true
}

func (r *RenderRef) insert(f *renderedFeature) {
	if r.index == nil {
		return
	}
	f.seq = r.count
	r.count++
	r.index.Insert(f)
}

// query 命中测试，结果按绘制顺序由上到下
func (r *RenderRef) query(source string, pt orb.Point, visible func(layer string) bool) []LayerFeatures {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index == nil {
		return nil
	}

	rect, _ := rtreego.NewRect(rtreego.Point{pt.X(), pt.Y()}, []float64{hitEpsilon, hitEpsilon})
	var hits []*renderedFeature
	for _, s := range r.index.SearchIntersect(rect) {
		f := s.(*renderedFeature)
		if f.source == source && visible(f.layer) && f.hit(pt) {
			hits = append(hits, f)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].seq > hits[j].seq })

	var out []LayerFeatures
	pos := map[string]int{}
	for _, f := range hits {
		i, ok := pos[f.layer]
		if !ok {
			i = len(out)
			pos[f.layer] = i
			out = append(out, LayerFeatures{Name: f.layer})
		}
		out[i].Properties = append(out[i].Properties, f.properties)
	}
	return out
}

const hitEpsilon = 1e-6

// renderedFeature 画布像素坐标下的已绘制要素
type renderedFeature struct {
	source     string
	layer      string
	properties map[string]interface{}
	geometry   orb.Geometry
	bound      orb.Bound
	tolerance  float64
	seq        int
}

// Bounds implements rtreego.Spatial.
func (f *renderedFeature) Bounds() rtreego.Rect {
	b := f.bound.Pad(f.tolerance)
	w := b.Max.X() - b.Min.X()
	h := b.Max.Y() - b.Min.Y()
	if w < hitEpsilon {
		w = hitEpsilon
	}
	if h < hitEpsilon {
		h = hitEpsilon
	}
	rect, _ := rtreego.NewRect(rtreego.Point{b.Min.X(), b.Min.Y()}, []float64{w, h})
	return rect
}

func (f *renderedFeature) hit(pt orb.Point) bool {
	switch g := f.geometry.(type) {
	case orb.Polygon:
		if planar.PolygonContains(g, pt) {
			return true
		}
	case orb.MultiPolygon:
		if planar.MultiPolygonContains(g, pt) {
			return true
		}
	}
	return planar.DistanceFrom(f.geometry, pt) <= f.tolerance
}
