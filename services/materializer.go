package services

import (
	"sync"

	"github.com/GrainArc/GlobeMVT/ImgHandler"
	"github.com/GrainArc/GlobeMVT/Transformer"
	"github.com/GrainArc/GlobeMVT/pgmvt"
	"github.com/GrainArc/GlobeMVT/tile_proxy"
)

// TileBatch 单个瓦片生成的图元
type TileBatch struct {
	Key    string
	Level  int
	Refs   []PrimitiveRef
	Halted bool // 遇到面要素提前停止
}

// Materializer 把解码后的瓦片要素转换为场景图元
type Materializer struct {
	Scene     Scene
	Factory   EntityFactory
	Labels    *ImgHandler.LabelRasterizer // nil 时不生成标注
	Dedup     *FeatureDedup
	Scheme    tile_proxy.TilingScheme
	Projector Transformer.Projector

	mu       sync.Mutex
	lastType pgmvt.GeomType
}

// SamplingStride 低层级下按步长抽稀要素
func SamplingStride(count, level int) int {
	if level < 4 {
		level = 4
	}
	shift := level - 4
	if shift > 30 {
		return 1
	}
	stride := count / (1 << uint(shift))
	if stride < 1 {
		stride = 1
	}
	return stride
}

// Materialize 遍历各图层要素生成图元。zoom 为请求提交时的层级，用于去重。
// 面要素暂不支持，遇到后停止处理该瓦片剩余的全部图层。
// 上一个通过去重的要素不是面时，本瓦片的新增事件合并为一次通知。
func (m *Materializer) Materialize(tile *pgmvt.Tile, coord tile_proxy.TileCoord, zoom int) *TileBatch {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := &TileBatch{Key: coord.Key(), Level: coord.Z}
	if tile == nil {
		return batch
	}
	rect := m.Scheme.TileToNativeRectangle(coord.X, coord.Y, coord.Z)

	suspended := false
	if m.lastType != pgmvt.GeomPolygon {
		m.Scene.SuspendChangeEvents()
		suspended = true
	}

layers:
	for _, layer := range tile.Layers {
		stride := SamplingStride(layer.Len(), coord.Z)
		extent := float64(layer.Extent)

		for i := 0; i < layer.Len(); i += stride {
			f := layer.Feature(i)
			if f == nil {
				continue
			}
			if !m.Dedup.ShouldRender(zoom, f.FeatureID()) {
				continue
			}
			m.lastType = f.Type

			switch f.Type {
			case pgmvt.GeomPolygon:
				batch.Halted = true
				break layers
			case pgmvt.GeomPoint:
				batch.Refs = append(batch.Refs, m.point(layer.Name, f, rect, extent)...)
			case pgmvt.GeomLineString:
				batch.Refs = append(batch.Refs, m.line(layer.Name, f, rect, extent)...)
			}
		}
	}

	if suspended {
		m.Scene.ResumeChangeEvents()
	}
	if !batch.Halted {
		m.Scene.RaiseChanged()
	}
	return batch
}

func (m *Materializer) point(layer string, f *pgmvt.Feature, rect Transformer.NativeRectangle, extent float64) []PrimitiveRef {
	e := m.Factory.Point(layer, f)
	if e == nil {
		return nil
	}
	rings := f.LoadGeometry()
	if len(rings) == 0 || len(rings[0]) == 0 {
		return nil
	}
	p := rings[0][0]
	pos, err := m.Projector.Project(p.X(), p.Y(), rect, extent)
	if err != nil {
		Logger().Debug("skip point", "layer", layer, "fid", f.FeatureID(), "err", err)
		return nil
	}

	refs := []PrimitiveRef{m.Scene.AddPrimitive(PrimitivePoint, &PointPrimitive{
		Position:  pos,
		Color:     e.Color,
		PixelSize: e.PixelSize,
		FeatureID: f.FeatureID(),
		Layer:     layer,
	})}

	if e.Label == nil || m.Labels == nil {
		return refs
	}
	img, err := m.Labels.Rasterize(e.Label.Style)
	if err != nil {
		Logger().Debug("skip label", "layer", layer, "text", e.Label.Style.Text, "err", err)
		return refs
	}
	data, err := img.PNG()
	if err != nil {
		Logger().Debug("encode label", "layer", layer, "err", err)
		return refs
	}
	refs = append(refs, m.Scene.AddPrimitive(PrimitiveBillboard, &BillboardPrimitive{
		Position:        pos,
		Image:           data,
		Width:           img.Width,
		Height:          img.Height,
		HorizontalAlign: "center",
		VerticalAlign:   "bottom",
		PixelOffset:     [2]int{0, -int(e.PixelSize)},
		NearDistance:    e.Label.NearDistance,
		FarDistance:     e.Label.FarDistance,
		Text:            e.Label.Style.Text,
		Layer:           layer,
	}))
	return refs
}

func (m *Materializer) line(layer string, f *pgmvt.Feature, rect Transformer.NativeRectangle, extent float64) []PrimitiveRef {
	e := m.Factory.LineString(layer, f)
	if e == nil {
		return nil
	}
	var refs []PrimitiveRef
	for _, ring := range f.LoadGeometry() {
		positions, err := m.Projector.ProjectLine(ring, rect, extent)
		if err != nil {
			Logger().Debug("skip line", "layer", layer, "fid", f.FeatureID(), "err", err)
			return refs
		}
		if len(positions) <= 1 {
			continue
		}
		refs = append(refs, m.Scene.AddPrimitive(PrimitiveGroundPolyline, &GroundPolylinePrimitive{
			Positions: positions,
			Color:     e.Color,
			Width:     e.Width,
			FeatureID: f.FeatureID(),
			Layer:     layer,
		}))
	}
	return refs
}
