// tile_calc.go
package tile_proxy

import (
	"fmt"
	"math"

	"github.com/GrainArc/GlobeMVT/Transformer"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	EarthRadius = 6378137.0
	OriginShift = math.Pi * EarthRadius // 20037508.342789244
)

// TileCoord 瓦片坐标
type TileCoord struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

// Key 瓦片键 x_y_level
func (c TileCoord) Key() string {
	return fmt.Sprintf("%d_%d_%d", c.X, c.Y, c.Z)
}

// TilingScheme 瓦片切分方案
type TilingScheme interface {
	CRS() Transformer.CRS
	TileToNativeRectangle(x, y, level int) Transformer.NativeRectangle
	NumberOfXTilesAtLevel(level int) int
	NumberOfYTilesAtLevel(level int) int
}

// NewTilingScheme 按投影编码创建切分方案
func NewTilingScheme(crs Transformer.CRS) TilingScheme {
	if crs == Transformer.CRSGeographic {
		return GeographicTilingScheme{}
	}
	return WebMercatorTilingScheme{}
}

// WebMercatorTilingScheme EPSG:3857，0 级 1x1
type WebMercatorTilingScheme struct{}

func (WebMercatorTilingScheme) CRS() Transformer.CRS { return Transformer.CRSWebMercator }

func (WebMercatorTilingScheme) NumberOfXTilesAtLevel(level int) int { return 1 << uint(level) }

func (WebMercatorTilingScheme) NumberOfYTilesAtLevel(level int) int { return 1 << uint(level) }

// TileToNativeRectangle 瓦片范围（米）
func (WebMercatorTilingScheme) TileToNativeRectangle(x, y, level int) Transformer.NativeRectangle {
	size := 2 * OriginShift / float64(int(1)<<uint(level))
	return Transformer.NativeRectangle{
		West:  -OriginShift + float64(x)*size,
		East:  -OriginShift + float64(x+1)*size,
		North: OriginShift - float64(y)*size,
		South: OriginShift - float64(y+1)*size,
	}
}

// GeographicTilingScheme EPSG:4326，0 级 2x1
type GeographicTilingScheme struct{}

func (GeographicTilingScheme) CRS() Transformer.CRS { return Transformer.CRSGeographic }

func (GeographicTilingScheme) NumberOfXTilesAtLevel(level int) int { return 2 << uint(level) }

func (GeographicTilingScheme) NumberOfYTilesAtLevel(level int) int { return 1 << uint(level) }

// TileToNativeRectangle 瓦片范围（度）
func (GeographicTilingScheme) TileToNativeRectangle(x, y, level int) Transformer.NativeRectangle {
	size := 180.0 / float64(int(1)<<uint(level))
	return Transformer.NativeRectangle{
		West:  -180 + float64(x)*size,
		East:  -180 + float64(x+1)*size,
		North: 90 - float64(y)*size,
		South: 90 - float64(y+1)*size,
	}
}

// PositionToTile 经纬度所在瓦片
func PositionToTile(scheme TilingScheme, lon, lat float64, level int) TileCoord {
	if scheme.CRS() == Transformer.CRSWebMercator {
		t := maptile.At(orb.Point{lon, lat}, maptile.Zoom(level))
		return TileCoord{Z: level, X: int(t.X), Y: int(t.Y)}
	}
	size := 180.0 / float64(int(1)<<uint(level))
	x := int(math.Floor((lon + 180) / size))
	y := int(math.Floor((90 - lat) / size))
	maxX := scheme.NumberOfXTilesAtLevel(level) - 1
	maxY := scheme.NumberOfYTilesAtLevel(level) - 1
	return TileCoord{Z: level, X: clamp(x, 0, maxX), Y: clamp(y, 0, maxY)}
}

// GetTileBoundsWGS84 获取瓦片的WGS84边界
func GetTileBoundsWGS84(scheme TilingScheme, z, x, y int) orb.Bound {
	if scheme.CRS() == Transformer.CRSWebMercator {
		return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)).Bound()
	}
	r := scheme.TileToNativeRectangle(x, y, z)
	return orb.Bound{Min: orb.Point{r.West, r.South}, Max: orb.Point{r.East, r.North}}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
