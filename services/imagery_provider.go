package services

import (
	"context"
	"image"
	"math"
	"sync"

	"github.com/GrainArc/GlobeMVT/ImgHandler"
	"github.com/GrainArc/GlobeMVT/Transformer"
	"github.com/GrainArc/GlobeMVT/pgmvt"
	"github.com/GrainArc/GlobeMVT/tile_proxy"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ProviderOptions 影像提供者参数
type ProviderOptions struct {
	Name               string
	TileSize           int // 256 / 512
	MinLevel           int
	MaxLevel           int
	EnablePickFeatures bool
	EvictStaleLevels   bool // 层级变化时移除其他层级的图元
	Scheme             tile_proxy.TilingScheme
	Projector          Transformer.Projector
	SourceFilter       func(source string) bool // 拾取时过滤数据源
}

// TileImage RequestImage 的结果
type TileImage struct {
	Coord tile_proxy.TileCoord
	Image image.Image
	Batch *TileBatch // 瓦片不可用时为 nil
}

// MvtImageryProvider 矢量瓦片影像提供者：拼接渲染瓦片并把要素送入场景
type MvtImageryProvider struct {
	opts       ProviderOptions
	compositor Compositor
	fetcher    tile_proxy.TileFetcher
	scene      Scene

	dedup        *FeatureDedup
	registry     *PrimitiveRegistry
	materializer *Materializer
	picker       *FeaturePicker

	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	destroyed bool
}

// NewMvtImageryProvider 创建影像提供者，labels 为 nil 时不生成标注
func NewMvtImageryProvider(opts ProviderOptions, c Compositor, fetcher tile_proxy.TileFetcher, scene Scene, factory EntityFactory, labels *ImgHandler.LabelRasterizer) *MvtImageryProvider {
	if opts.TileSize != 512 {
		opts.TileSize = 256
	}
	if opts.Scheme == nil {
		opts.Scheme = tile_proxy.WebMercatorTilingScheme{}
	}
	if opts.MaxLevel < opts.MinLevel {
		opts.MaxLevel = opts.MinLevel
	}
	if factory == nil {
		factory = StyleEntityFactory{}
	}

	dedup := NewFeatureDedup()
	ctx, cancel := context.WithCancel(context.Background())
	p := &MvtImageryProvider{
		opts:       opts,
		compositor: c,
		fetcher:    fetcher,
		scene:      scene,
		dedup:      dedup,
		registry:   NewPrimitiveRegistry(),
		ctx:        ctx,
		cancel:     cancel,
	}
	p.materializer = &Materializer{
		Scene:     scene,
		Factory:   factory,
		Labels:    labels,
		Dedup:     dedup,
		Scheme:    opts.Scheme,
		Projector: opts.Projector,
	}
	p.picker = &FeaturePicker{
		Compositor:   c,
		Scheme:       opts.Scheme,
		TileSize:     opts.TileSize,
		SourceFilter: opts.SourceFilter,
	}
	return p
}

// Name 数据源名称
func (p *MvtImageryProvider) Name() string { return p.opts.Name }

// Options 参数
func (p *MvtImageryProvider) Options() ProviderOptions { return p.opts }

// Scene 宿主场景
func (p *MvtImageryProvider) Scene() Scene { return p.scene }

// Registry 图元记录表
func (p *MvtImageryProvider) Registry() *PrimitiveRegistry { return p.registry }

// Dedup 去重缓存
func (p *MvtImageryProvider) Dedup() *FeatureDedup { return p.dedup }

func (p *MvtImageryProvider) checkLevel(level int) error {
	p.mu.RLock()
	destroyed := p.destroyed
	p.mu.RUnlock()
	if destroyed {
		return ErrProviderDestroyed
	}
	if level < p.opts.MinLevel || level > p.opts.MaxLevel {
		return ErrLevelOutOfRange
	}
	return nil
}

// RequestImage 请求一个瓦片。相同瓦片的并发请求共享同一次结果，
// ctx 取消只影响当前调用方的等待。
func (p *MvtImageryProvider) RequestImage(ctx context.Context, x, y, level int) (*TileImage, error) {
	if err := p.checkLevel(level); err != nil {
		return nil, err
	}
	coord := tile_proxy.TileCoord{Z: level, X: x, Y: y}

	ch := p.group.DoChan(coord.Key(), func() (interface{}, error) {
		return p.requestImage(p.ctx, coord)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*TileImage), nil
	}
}

func (p *MvtImageryProvider) requestImage(ctx context.Context, coord tile_proxy.TileCoord) (*TileImage, error) {
	// 提交时的层级，去重以此为准
	zoom := coord.Z
	if p.dedup.ResetIfZoomChanged(zoom) && p.opts.EvictStaleLevels {
		n := p.registry.EvictOtherLevels(zoom, p.scene)
		Logger().Debug("evicted stale primitives", "source", p.opts.Name, "level", zoom, "count", n)
	}
	p.compositor.FilterForZoom(zoom)

	sources := p.compositor.VisibleSources(zoom)
	specs := tile_proxy.BuildTileSpecs(p.opts.Scheme, coord, p.opts.TileSize, sources)

	var (
		img  image.Image
		tile *pgmvt.Tile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		session := NewRenderSession(p.compositor, coord, specs, p.opts.TileSize)
		var err error
		img, err = session.Run(gctx, true)
		return err
	})
	if p.fetcher != nil {
		g.Go(func() error {
			data, err := p.fetcher.FetchTile(gctx, coord.Z, coord.X, coord.Y)
			if err != nil {
				Logger().Debug("tile unavailable", "source", p.opts.Name, "tile", coord.Key(), "err", err)
				return nil
			}
			t, err := pgmvt.Decode(data)
			if err != nil {
				Logger().Debug("decode failed", "source", p.opts.Name, "tile", coord.Key(), "err", err)
				return nil
			}
			tile = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &TileImage{Coord: coord, Image: img}
	if tile != nil {
		out.Batch = p.materializer.Materialize(tile, coord, zoom)
		p.registry.Record(out.Batch)
	}
	return out, nil
}

// RawTile 原始矢量瓦片，经过内存和持久缓存。获取失败一律视为瓦片不可用。
func (p *MvtImageryProvider) RawTile(ctx context.Context, x, y, level int) ([]byte, error) {
	if err := p.checkLevel(level); err != nil {
		return nil, err
	}
	if p.fetcher == nil {
		return nil, ErrTileUnavailable
	}
	data, err := p.fetcher.FetchTile(ctx, level, x, y)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isNotAvailable(err) {
			return nil, err
		}
		Logger().Debug("raw tile fetch failed", "source", p.opts.Name, "level", level, "x", x, "y", y, "err", err)
		return nil, errors.Wrap(ErrTileUnavailable, err.Error())
	}
	return data, nil
}

// PickFeatures 拾取要素，经纬度为弧度。未开启拾取或无命中时返回 nil。
func (p *MvtImageryProvider) PickFeatures(ctx context.Context, x, y, level int, lonRad, latRad float64) ([]FeatureInfo, error) {
	if !p.opts.EnablePickFeatures {
		return nil, nil
	}
	if err := p.checkLevel(level); err != nil {
		return nil, err
	}
	lng := lonRad * 180 / math.Pi
	lat := latRad * 180 / math.Pi
	return p.picker.Pick(ctx, tile_proxy.TileCoord{Z: level, X: x, Y: y}, lng, lat)
}

// EvictOtherLevels 手动移除非 level 层级的图元
func (p *MvtImageryProvider) EvictOtherLevels(level int) int {
	return p.registry.EvictOtherLevels(level, p.scene)
}

// Destroy 取消所有未完成的渲染并重置缓存
func (p *MvtImageryProvider) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.mu.Unlock()

	p.cancel()
	p.compositor.CancelAllPendingRenders()
	p.compositor.ResetSourceCaches()
}
