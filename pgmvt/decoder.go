package pgmvt

import (
	"bytes"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

// ErrMalformedTile 瓦片无法按 MVT 解析
var ErrMalformedTile = errors.New("malformed tile")

// GeomType MVT 几何类型
type GeomType int

const (
	GeomUnknown    GeomType = 0
	GeomPoint      GeomType = 1
	GeomLineString GeomType = 2
	GeomPolygon    GeomType = 3
)

func (g GeomType) String() string {
	switch g {
	case GeomPoint:
		return "Point"
	case GeomLineString:
		return "LineString"
	case GeomPolygon:
		return "Polygon"
	}
	return "Unknown"
}

var gzipMagic = []byte{0x1f, 0x8b}

// Tile 解码后的矢量瓦片
type Tile struct {
	Layers []*Layer
}

// Layer 按名称查找图层
func (t *Tile) Layer(name string) *Layer {
	if t == nil {
		return nil
	}
	for _, l := range t.Layers {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// Layer 解码后的图层，要素按下标访问
type Layer struct {
	Name    string
	Version uint32
	Extent  uint32

	features []*geojson.Feature
}

// Len 要素数量
func (l *Layer) Len() int {
	return len(l.features)
}

// Feature 第 i 个要素
func (l *Layer) Feature(i int) *Feature {
	if i < 0 || i >= len(l.features) {
		return nil
	}
	f := l.features[i]
	return &Feature{
		Type:       geomType(f.Geometry),
		ID:         f.ID,
		Properties: map[string]interface{}(f.Properties),
		geometry:   f.Geometry,
	}
}

// Feature 单个要素，几何为瓦片内坐标 (0..extent)
type Feature struct {
	Type       GeomType
	ID         interface{}
	Properties map[string]interface{}

	geometry orb.Geometry
}

// FeatureID 去重用的要素标识，依次取 fid、id 属性和要素 id，均无时返回空串
func (f *Feature) FeatureID() string {
	for _, key := range []string{"fid", "id"} {
		if v, ok := f.Properties[key]; ok {
			if s := idString(v); s != "" {
				return s
			}
		}
	}
	return idString(f.ID)
}

func idString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// LoadGeometry 返回要素的环/点序列，每次调用都重新生成
func (f *Feature) LoadGeometry() [][]orb.Point {
	switch g := f.geometry.(type) {
	case orb.Point:
		return [][]orb.Point{{g}}
	case orb.MultiPoint:
		rings := make([][]orb.Point, 0, len(g))
		for _, p := range g {
			rings = append(rings, []orb.Point{p})
		}
		return rings
	case orb.LineString:
		return [][]orb.Point{copyPoints(g)}
	case orb.MultiLineString:
		rings := make([][]orb.Point, 0, len(g))
		for _, ls := range g {
			rings = append(rings, copyPoints(ls))
		}
		return rings
	case orb.Polygon:
		rings := make([][]orb.Point, 0, len(g))
		for _, r := range g {
			rings = append(rings, copyPoints(r))
		}
		return rings
	case orb.MultiPolygon:
		var rings [][]orb.Point
		for _, poly := range g {
			for _, r := range poly {
				rings = append(rings, copyPoints(r))
			}
		}
		return rings
	}
	return nil
}

// Geometry 原始几何
func (f *Feature) Geometry() orb.Geometry {
	return f.geometry
}

func copyPoints(ps []orb.Point) []orb.Point {
	out := make([]orb.Point, len(ps))
	copy(out, ps)
	return out
}

func geomType(g orb.Geometry) GeomType {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return GeomPoint
	case orb.LineString, orb.MultiLineString:
		return GeomLineString
	case orb.Polygon, orb.MultiPolygon, orb.Ring:
		return GeomPolygon
	}
	return GeomUnknown
}

// Decode 解析 MVT 数据，自动识别 gzip 压缩；空数据得到空瓦片
func Decode(data []byte) (*Tile, error) {
	if len(data) == 0 {
		return &Tile{}, nil
	}

	var (
		layers mvt.Layers
		err    error
	)
	if bytes.HasPrefix(data, gzipMagic) {
		layers, err = mvt.UnmarshalGzipped(data)
	} else {
		layers, err = mvt.Unmarshal(data)
	}
	if err != nil {
		return nil, errors.Wrap(ErrMalformedTile, err.Error())
	}

	tile := &Tile{Layers: make([]*Layer, 0, len(layers))}
	for _, l := range layers {
		extent := l.Extent
		if extent == 0 {
			extent = mvt.DefaultExtent
		}
		tile.Layers = append(tile.Layers, &Layer{
			Name:     l.Name,
			Version:  l.Version,
			Extent:   extent,
			features: l.Features,
		})
	}
	return tile, nil
}
