package services

import (
	"context"

	"github.com/GrainArc/GlobeMVT/ImgHandler"
	"github.com/GrainArc/GlobeMVT/tile_proxy"
)

// FeatureInfo 拾取结果
type FeatureInfo struct {
	Source     string      `json:"source"`
	Name       string      `json:"name"`
	Properties interface{} `json:"properties"`
}

// FeaturePicker 重新拼接渲染瓦片并查询某点的要素
type FeaturePicker struct {
	Compositor   Compositor
	Scheme       tile_proxy.TilingScheme
	TileSize     int
	SourceFilter func(source string) bool
}

// Pick 经纬度为度。无命中返回 nil；渲染会话总会被释放。
func (p *FeaturePicker) Pick(ctx context.Context, coord tile_proxy.TileCoord, lng, lat float64) ([]FeatureInfo, error) {
	p.Compositor.FilterForZoom(coord.Z)
	sources := p.Compositor.VisibleSources(coord.Z)
	specs := tile_proxy.BuildTileSpecs(p.Scheme, coord, p.TileSize, sources)

	session := NewRenderSession(p.Compositor, coord, specs, p.TileSize)
	defer session.Release()

	if _, err := session.Run(ctx, false); err != nil {
		return nil, err
	}
	ref := session.Ref()

	var out []FeatureInfo
	for _, source := range sources {
		if p.SourceFilter != nil && !p.SourceFilter(source) {
			continue
		}
		layers := p.Compositor.QueryRenderedFeatures(ref, ImgHandler.FeatureQuery{
			Source:       source,
			RenderedZoom: coord.Z,
			Lng:          lng,
			Lat:          lat,
			TileZ:        coord.Z,
		})
		if len(layers) == 0 {
			continue
		}
		first := layers[0]
		info := FeatureInfo{Source: source, Name: first.Name}
		if len(first.Properties) == 1 {
			info.Properties = first.Properties[0]
		} else {
			info.Properties = first.Properties
		}
		out = append(out, info)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
