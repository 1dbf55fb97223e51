package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/GrainArc/GlobeMVT/ImgHandler"
	"github.com/GrainArc/GlobeMVT/tile_proxy"
	"github.com/gogpu/gg"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
)

// fakeCompositor 记录调用次数，渲染结果由 renderErr 决定
type fakeCompositor struct {
	mu        sync.Mutex
	sources   []string
	renderErr error
	hits      []ImgHandler.LayerFeatures
	block     chan struct{}

	renders  int
	releases int
	resets   int
	queries  []ImgHandler.FeatureQuery
	canceled int
	zoom     int
}

func newFakeCompositor(sources ...string) *fakeCompositor {
	return &fakeCompositor{sources: sources}
}

func (f *fakeCompositor) FilterForZoom(level int) {
	f.mu.Lock()
	f.zoom = level
	f.mu.Unlock()
}

func (f *fakeCompositor) VisibleSources(level int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sources...)
}

func (f *fakeCompositor) RenderTiles(ctx context.Context, surface *gg.Context, dest ImgHandler.DestRect, specs []tile_proxy.TileSpec, done func(error)) *ImgHandler.RenderRef {
	f.mu.Lock()
	f.renders++
	err := f.renderErr
	block := f.block
	f.mu.Unlock()

	ref := ImgHandler.NewRenderRef(surface, dest, specs)
	go func() {
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				done(ctx.Err())
				return
			}
		}
		done(err)
	}()
	return ref
}

func (f *fakeCompositor) ReleaseRender(ref *ImgHandler.RenderRef) {
	f.mu.Lock()
	f.releases++
	f.mu.Unlock()
}

func (f *fakeCompositor) ResetSourceCaches() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeCompositor) QueryRenderedFeatures(ref *ImgHandler.RenderRef, q ImgHandler.FeatureQuery) []ImgHandler.LayerFeatures {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.hits
}

func (f *fakeCompositor) CancelAllPendingRenders() {
	f.mu.Lock()
	f.canceled++
	f.mu.Unlock()
}

func (f *fakeCompositor) counts() (renders, releases, resets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renders, f.releases, f.resets
}

// mapFetcher 按 z/x/y 返回瓦片
type mapFetcher struct {
	mu    sync.Mutex
	tiles map[string][]byte
	calls int
}

func (m *mapFetcher) FetchTile(ctx context.Context, z, x, y int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if d, ok := m.tiles[fmt.Sprintf("%d/%d/%d", z, x, y)]; ok {
		return d, nil
	}
	return nil, tile_proxy.ErrTileUnavailable
}

func encodeLayers(t *testing.T, layers map[string]*geojson.FeatureCollection) []byte {
	t.Helper()
	var ls mvt.Layers
	for name, fc := range layers {
		ls = append(ls, mvt.NewLayer(name, fc))
	}
	data, err := mvt.Marshal(ls)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return data
}

func lineFeature(id interface{}, y float64) *geojson.Feature {
	f := geojson.NewFeature(orb.LineString{{100, y}, {2000, y + 10}, {4000, y + 20}})
	if id != nil {
		f.Properties["id"] = id
	}
	return f
}

func pointFeature(fid string, x, y float64) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{x, y})
	if fid != "" {
		f.Properties["fid"] = fid
	}
	return f
}

func polygonFeature(fid string) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{{{10, 10}, {200, 10}, {200, 200}, {10, 200}, {10, 10}}})
	if fid != "" {
		f.Properties["fid"] = fid
	}
	return f
}

// roadsTile 一个 roads 图层，两条三顶点线，id 为 1 和 2
func roadsTile(t *testing.T) []byte {
	fc := geojson.NewFeatureCollection()
	fc.Append(lineFeature(1, 1000))
	fc.Append(lineFeature(2, 3000))
	return encodeLayers(t, map[string]*geojson.FeatureCollection{"roads": fc})
}
