package tile_proxy

// TileSpec 拼接用的邻接瓦片，Left/Top 为相对目标瓦片的像素偏移
type TileSpec struct {
	Source string `json:"source"`
	Z      int    `json:"z"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Left   int    `json:"left"`
	Top    int    `json:"top"`
	Size   int    `json:"size"`
}

// Coord 拼接项对应的瓦片坐标
func (s TileSpec) Coord() TileCoord {
	return TileCoord{Z: s.Z, X: s.X, Y: s.Y}
}

// NeighborTileSpecs 3x3 邻域，东西向环绕，南北越界直接跳过
func NeighborTileSpecs(scheme TilingScheme, coord TileCoord, tileSize int, source string) []TileSpec {
	maxX := scheme.NumberOfXTilesAtLevel(coord.Z) - 1
	maxY := scheme.NumberOfYTilesAtLevel(coord.Z) - 1

	specs := make([]TileSpec, 0, 9)
	for dx := -1; dx <= 1; dx++ {
		nx := coord.X + dx
		if nx < 0 {
			nx = maxX
		}
		if nx > maxX {
			nx = 0
		}
		for dy := -1; dy <= 1; dy++ {
			ny := coord.Y + dy
			if ny < 0 || ny > maxY {
				continue
			}
			specs = append(specs, TileSpec{
				Source: source,
				Z:      coord.Z,
				X:      nx,
				Y:      ny,
				Left:   dx * tileSize,
				Top:    dy * tileSize,
				Size:   tileSize,
			})
		}
	}
	return specs
}

// BuildTileSpecs 所有可见数据源的邻域拼接列表
func BuildTileSpecs(scheme TilingScheme, coord TileCoord, tileSize int, sources []string) []TileSpec {
	var specs []TileSpec
	for _, s := range sources {
		specs = append(specs, NeighborTileSpecs(scheme, coord, tileSize, s)...)
	}
	return specs
}
