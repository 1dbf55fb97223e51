package services

import (
	"context"
	"image"
	"image/draw"
	"sync"

	"github.com/GrainArc/GlobeMVT/ImgHandler"
	"github.com/GrainArc/GlobeMVT/tile_proxy"
	"github.com/gogpu/gg"
	"github.com/pkg/errors"
)

// Compositor 拼接渲染器
type Compositor interface {
	FilterForZoom(level int)
	VisibleSources(level int) []string
	RenderTiles(ctx context.Context, surface *gg.Context, dest ImgHandler.DestRect, specs []tile_proxy.TileSpec, done func(error)) *ImgHandler.RenderRef
	ReleaseRender(ref *ImgHandler.RenderRef)
	ResetSourceCaches()
	QueryRenderedFeatures(ref *ImgHandler.RenderRef, q ImgHandler.FeatureQuery) []ImgHandler.LayerFeatures
	CancelAllPendingRenders()
}

// SessionState 渲染会话状态
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionRequested
	SessionCompositing
	SessionSucceeded
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionRequested:
		return "requested"
	case SessionCompositing:
		return "compositing"
	case SessionSucceeded:
		return "succeeded"
	case SessionFailed:
		return "failed"
	}
	return "unknown"
}

// RenderSession 一次拼接渲染，独占画布和拼接列表
type RenderSession struct {
	compositor Compositor
	coord      tile_proxy.TileCoord
	specs      []tile_proxy.TileSpec
	tileSize   int

	mu      sync.Mutex
	state   SessionState
	surface *gg.Context
	ref     *ImgHandler.RenderRef

	releaseOnce sync.Once
}

// NewRenderSession 创建渲染会话
func NewRenderSession(c Compositor, coord tile_proxy.TileCoord, specs []tile_proxy.TileSpec, tileSize int) *RenderSession {
	return &RenderSession{
		compositor: c,
		coord:      coord,
		specs:      specs,
		tileSize:   tileSize,
	}
}

// Run 执行拼接并等待完成。release 为 true 时成功后立即释放；
// 为 false 时句柄保留供拾取查询，由调用方负责 Release。
// 瓦片不可用按成功处理，返回透明图像。
func (s *RenderSession) Run(ctx context.Context, release bool) (image.Image, error) {
	s.mu.Lock()
	if s.state != SessionIdle {
		s.mu.Unlock()
		return nil, errors.Errorf("render session for %s already started", s.coord.Key())
	}
	s.state = SessionRequested
	s.surface = gg.NewContext(s.tileSize, s.tileSize)
	surface := s.surface
	s.mu.Unlock()

	done := make(chan error, 1)
	dest := ImgHandler.DestRect{Width: s.tileSize, Height: s.tileSize}

	s.setState(SessionCompositing)
	ref := s.compositor.RenderTiles(ctx, surface, dest, s.specs, func(err error) {
		done <- err
	})
	s.mu.Lock()
	s.ref = ref
	s.mu.Unlock()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		s.setState(SessionFailed)
		s.Release()
		return nil, ctx.Err()
	}

	if err != nil && !isNotAvailable(err) {
		s.setState(SessionFailed)
		s.Release()
		Logger().Warn("compositor failed", "tile", s.coord.Key(), "err", err)
		return nil, errors.Wrap(ErrCompositorFailure, err.Error())
	}

	s.setState(SessionSucceeded)
	img := s.snapshot()
	if release {
		s.Release()
	}
	return img, nil
}

func (s *RenderSession) snapshot() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.surface.Image()
	out := image.NewRGBA(image.Rect(0, 0, s.tileSize, s.tileSize))
	if src != nil {
		draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)
	}
	return out
}

func (s *RenderSession) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State 当前状态
func (s *RenderSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ref 渲染句柄，Run 之前为 nil
func (s *RenderSession) Ref() *ImgHandler.RenderRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ref
}

// Coord 会话对应的瓦片
func (s *RenderSession) Coord() tile_proxy.TileCoord {
	return s.coord
}

// Release 断开画布、释放句柄并重置数据源缓存，只执行一次
func (s *RenderSession) Release() {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		ref := s.ref
		surface := s.surface
		s.mu.Unlock()

		if ref != nil {
			ref.Detach()
		}
		s.compositor.ReleaseRender(ref)
		s.compositor.ResetSourceCaches()
		if surface != nil {
			_ = surface.Close()
		}
	})
}
