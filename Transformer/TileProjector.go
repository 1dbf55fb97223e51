package Transformer

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/pkg/errors"
)

// ErrInvalidGeometry 瓦片范围或 extent 非法
var ErrInvalidGeometry = errors.New("invalid geometry")

// CRS 瓦片源投影
type CRS int

const (
	CRSWebMercator CRS = iota // EPSG:3857, 单位米
	CRSGeographic             // EPSG:4326, 单位度
)

// ParseCRS 解析配置中的投影编码
func ParseCRS(code string) CRS {
	switch code {
	case "4326", "EPSG:4326", "geographic":
		return CRSGeographic
	default:
		return CRSWebMercator
	}
}

func (c CRS) String() string {
	if c == CRSGeographic {
		return "EPSG:4326"
	}
	return "EPSG:3857"
}

// NativeRectangle 瓦片在源投影下的范围
type NativeRectangle struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Projector 瓦片内坐标 -> 地理坐标
type Projector struct {
	CRS   CRS
	Datum Datum
}

// NewProjector 创建投影器
func NewProjector(crs CRS, datum Datum) Projector {
	return Projector{CRS: crs, Datum: datum}
}

func validate(rect NativeRectangle, extent float64) error {
	if !(extent > 0) {
		return errors.Wrapf(ErrInvalidGeometry, "extent %v", extent)
	}
	if !(rect.East > rect.West) || !(rect.North > rect.South) {
		return errors.Wrapf(ErrInvalidGeometry, "rectangle %+v", rect)
	}
	return nil
}

// Project 瓦片内坐标 (px, py) 转 WGS84 经纬度
func (p Projector) Project(px, py float64, rect NativeRectangle, extent float64) (orb.Point, error) {
	if err := validate(rect, extent); err != nil {
		return orb.Point{}, err
	}
	x := rect.West + (rect.East-rect.West)/extent*px
	y := rect.North - (rect.North-rect.South)/extent*py

	pt := orb.Point{x, y}
	if p.CRS == CRSWebMercator {
		pt = project.Mercator.ToWGS84(pt)
	}
	lng, lat := p.Datum.ToWGS84(pt.Lon(), pt.Lat())
	return orb.Point{lng, lat}, nil
}

// Unproject Project 的逆运算
func (p Projector) Unproject(pt orb.Point, rect NativeRectangle, extent float64) (float64, float64, error) {
	if err := validate(rect, extent); err != nil {
		return 0, 0, err
	}
	lng, lat := p.Datum.FromWGS84(pt.Lon(), pt.Lat())
	native := orb.Point{lng, lat}
	if p.CRS == CRSWebMercator {
		native = project.WGS84.ToMercator(native)
	}
	px := (native.X() - rect.West) / (rect.East - rect.West) * extent
	py := (rect.North - native.Y()) / (rect.North - rect.South) * extent
	if math.IsNaN(px) || math.IsNaN(py) {
		return 0, 0, errors.Wrapf(ErrInvalidGeometry, "point %v", pt)
	}
	return px, py, nil
}

// ProjectLine 投影一条线上的所有顶点，任一顶点失败即返回错误
func (p Projector) ProjectLine(line []orb.Point, rect NativeRectangle, extent float64) ([]orb.Point, error) {
	out := make([]orb.Point, 0, len(line))
	for _, v := range line {
		pt, err := p.Project(v.X(), v.Y(), rect, extent)
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, nil
}
