package tile_proxy

import (
	"math"
	"testing"
)

func TestNeighborTileSpecsInterior(t *testing.T) {
	specs := NeighborTileSpecs(WebMercatorTilingScheme{}, TileCoord{Z: 8, X: 10, Y: 20}, 256, "osm")
	if len(specs) != 9 {
		t.Fatalf("Expected 9 specs, got %d", len(specs))
	}
	first := specs[0]
	if first.X != 9 || first.Y != 19 || first.Left != -256 || first.Top != -256 {
		t.Errorf("Expected first spec (9,19) at (-256,-256), got %+v", first)
	}
	center := specs[4]
	if center.X != 10 || center.Y != 20 || center.Left != 0 || center.Top != 0 {
		t.Errorf("Expected center spec (10,20) at (0,0), got %+v", center)
	}
	for _, s := range specs {
		if s.Source != "osm" || s.Z != 8 || s.Size != 256 {
			t.Errorf("Unexpected spec %+v", s)
		}
	}
}

func TestNeighborTileSpecsWrapAndClip(t *testing.T) {
	scheme := WebMercatorTilingScheme{}

	specs := NeighborTileSpecs(scheme, TileCoord{Z: 2, X: 0, Y: 0}, 512, "a")
	if len(specs) != 6 {
		t.Fatalf("Expected 6 specs at top edge, got %d", len(specs))
	}
	if specs[0].X != 3 || specs[0].Left != -512 {
		t.Errorf("Expected west neighbor to wrap to x=3, got %+v", specs[0])
	}

	specs = NeighborTileSpecs(scheme, TileCoord{Z: 2, X: 3, Y: 3}, 256, "a")
	if len(specs) != 6 {
		t.Fatalf("Expected 6 specs at bottom edge, got %d", len(specs))
	}
	last := specs[len(specs)-1]
	if last.X != 0 || last.Left != 256 {
		t.Errorf("Expected east neighbor to wrap to x=0, got %+v", last)
	}

	specs = NeighborTileSpecs(scheme, TileCoord{Z: 0, X: 0, Y: 0}, 256, "a")
	if len(specs) != 3 {
		t.Errorf("Expected 3 specs at level 0, got %d", len(specs))
	}
}

func TestNeighborTileSpecsProperties(t *testing.T) {
	schemes := []TilingScheme{WebMercatorTilingScheme{}, GeographicTilingScheme{}}
	for _, scheme := range schemes {
		for level := 0; level <= 4; level++ {
			cols := scheme.NumberOfXTilesAtLevel(level)
			rows := scheme.NumberOfYTilesAtLevel(level)
			for x := 0; x < cols; x++ {
				for y := 0; y < rows; y++ {
					specs := NeighborTileSpecs(scheme, TileCoord{Z: level, X: x, Y: y}, 256, "s")
					if len(specs) > 9 {
						t.Fatalf("Expected at most 9 specs, got %d", len(specs))
					}
					expectedRows := 3
					if y == 0 {
						expectedRows--
					}
					if y == rows-1 {
						expectedRows--
					}
					if len(specs) != 3*expectedRows {
						t.Errorf("%T level %d (%d,%d): expected %d specs, got %d", scheme, level, x, y, 3*expectedRows, len(specs))
					}
					for _, s := range specs {
						if s.X < 0 || s.X >= cols {
							t.Errorf("x %d out of [0,%d)", s.X, cols)
						}
						if s.Y < 0 || s.Y >= rows {
							t.Errorf("y %d out of [0,%d)", s.Y, rows)
						}
					}
				}
			}
		}
	}
}

func TestBuildTileSpecs(t *testing.T) {
	specs := BuildTileSpecs(WebMercatorTilingScheme{}, TileCoord{Z: 5, X: 4, Y: 4}, 256, []string{"a", "b"})
	if len(specs) != 18 {
		t.Fatalf("Expected 18 specs, got %d", len(specs))
	}
	if specs[0].Source != "a" || specs[17].Source != "b" {
		t.Errorf("Expected specs grouped by source order")
	}
	if BuildTileSpecs(WebMercatorTilingScheme{}, TileCoord{Z: 5}, 256, nil) != nil {
		t.Errorf("Expected nil specs for no sources")
	}
}

func TestTilingSchemes(t *testing.T) {
	merc := WebMercatorTilingScheme{}
	r := merc.TileToNativeRectangle(0, 0, 0)
	if r.West != -OriginShift || r.East != OriginShift || r.North != OriginShift || r.South != -OriginShift {
		t.Errorf("Unexpected level 0 rectangle %+v", r)
	}
	if merc.NumberOfXTilesAtLevel(3) != 8 || merc.NumberOfYTilesAtLevel(3) != 8 {
		t.Errorf("Expected 8x8 tiles at level 3")
	}

	geo := GeographicTilingScheme{}
	if geo.NumberOfXTilesAtLevel(0) != 2 || geo.NumberOfYTilesAtLevel(0) != 1 {
		t.Errorf("Expected 2x1 tiles at level 0")
	}
	r = geo.TileToNativeRectangle(1, 0, 0)
	if r.West != 0 || r.East != 180 || r.North != 90 || r.South != -90 {
		t.Errorf("Unexpected geographic rectangle %+v", r)
	}
}

func TestPositionToTile(t *testing.T) {
	c := PositionToTile(WebMercatorTilingScheme{}, 0.1, 0.1, 1)
	if c.X != 1 || c.Y != 0 || c.Z != 1 {
		t.Errorf("Expected (1,0,1), got %+v", c)
	}
	c = PositionToTile(GeographicTilingScheme{}, -179, -89, 0)
	if c.X != 0 || c.Y != 0 {
		t.Errorf("Expected (0,0), got %+v", c)
	}
	c = PositionToTile(GeographicTilingScheme{}, 180, -90, 1)
	if c.X != 3 || c.Y != 1 {
		t.Errorf("Expected clamped (3,1), got %+v", c)
	}

	b := GetTileBoundsWGS84(WebMercatorTilingScheme{}, 1, 1, 0)
	if math.Abs(b.Min.Lon()) > 1e-9 || math.Abs(b.Max.Lon()-180) > 1e-9 {
		t.Errorf("Unexpected bounds %v", b)
	}
	if key := (TileCoord{Z: 8, X: 10, Y: 20}).Key(); key != "10_20_8" {
		t.Errorf("Expected key 10_20_8, got %s", key)
	}
}
