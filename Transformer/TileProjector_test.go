package Transformer

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

const originShift = math.Pi * 6378137.0

func mercatorRect(x, y, z int) NativeRectangle {
	n := float64(int(1) << uint(z))
	size := 2 * originShift / n
	return NativeRectangle{
		West:  -originShift + float64(x)*size,
		East:  -originShift + float64(x+1)*size,
		North: originShift - float64(y)*size,
		South: originShift - float64(y+1)*size,
	}
}

func TestProjectCorners(t *testing.T) {
	p := NewProjector(CRSWebMercator, DatumWGS84)
	rect := mercatorRect(0, 0, 0)

	nw, err := p.Project(0, 0, rect, 4096)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if math.Abs(nw.Lon()+180) > 1e-9 || math.Abs(nw.Lat()-85.0511287798) > 1e-6 {
		t.Errorf("Expected north-west corner (-180, 85.0511), got %v", nw)
	}

	center, err := p.Project(2048, 2048, rect, 4096)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if math.Abs(center.Lon()) > 1e-9 || math.Abs(center.Lat()) > 1e-9 {
		t.Errorf("Expected center (0, 0), got %v", center)
	}
}

func TestProjectGeographic(t *testing.T) {
	p := NewProjector(CRSGeographic, DatumWGS84)
	rect := NativeRectangle{West: 0, South: 0, East: 90, North: 90}

	pt, err := p.Project(256, 256, rect, 512)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if pt.Lon() != 45 || pt.Lat() != 45 {
		t.Errorf("Expected (45, 45), got %v", pt)
	}
}

func TestProjectInvalid(t *testing.T) {
	p := NewProjector(CRSWebMercator, DatumWGS84)
	rect := mercatorRect(1, 1, 2)

	for _, extent := range []float64{0, -1, math.NaN()} {
		if _, err := p.Project(1, 1, rect, extent); !errors.Is(err, ErrInvalidGeometry) {
			t.Errorf("Expected ErrInvalidGeometry for extent %v, got %v", extent, err)
		}
	}

	degenerate := NativeRectangle{West: 10, South: 10, East: 10, North: 20}
	if _, err := p.Project(1, 1, degenerate, 4096); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry for degenerate rectangle, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		p     Projector
		rect  NativeRectangle
		cells [][2]float64
	}{
		{"mercator", NewProjector(CRSWebMercator, DatumWGS84), mercatorRect(10, 20, 8),
			[][2]float64{{0, 0}, {1, 4095}, {2048, 17}, {4095, 4095}, {333, 2999}}},
		{"geographic", NewProjector(CRSGeographic, DatumWGS84), NativeRectangle{West: 100, South: 20, East: 110, North: 30},
			[][2]float64{{0, 0}, {4095, 1}, {1024, 3072}}},
		{"gcj02", NewProjector(CRSWebMercator, DatumGCJ02), mercatorRect(26, 12, 5),
			[][2]float64{{100, 100}, {2048, 2048}, {4000, 3000}}},
		{"bd09", NewProjector(CRSWebMercator, DatumBD09), mercatorRect(26, 12, 5),
			[][2]float64{{10, 4000}, {2048, 1024}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, c := range tc.cells {
				pt, err := tc.p.Project(c[0], c[1], tc.rect, 4096)
				if err != nil {
					t.Fatalf("Project(%v) failed: %v", c, err)
				}
				px, py, err := tc.p.Unproject(pt, tc.rect, 4096)
				if err != nil {
					t.Fatalf("Unproject(%v) failed: %v", pt, err)
				}
				if math.Abs(px-c[0]) > 1 || math.Abs(py-c[1]) > 1 {
					t.Errorf("Expected cell %v, got (%f, %f)", c, px, py)
				}
			}
		})
	}
}

func TestDatumOutsideChina(t *testing.T) {
	lng, lat := DatumGCJ02.ToWGS84(2.35, 48.85)
	if lng != 2.35 || lat != 48.85 {
		t.Errorf("Expected gcj02 offset to be identity outside China, got (%f, %f)", lng, lat)
	}
	lng, lat = DatumGCJ02.FromWGS84(116.39, 39.9)
	if lng == 116.39 && lat == 39.9 {
		t.Errorf("Expected gcj02 offset inside China")
	}
}

func TestProjectLine(t *testing.T) {
	p := NewProjector(CRSGeographic, DatumWGS84)
	rect := NativeRectangle{West: 0, South: 0, East: 10, North: 10}
	line, err := p.ProjectLine([]orb.Point{{0, 0}, {10, 10}}, rect, 10)
	if err != nil {
		t.Fatalf("ProjectLine failed: %v", err)
	}
	if len(line) != 2 || line[1] != (orb.Point{10, 0}) {
		t.Errorf("Expected [(0,10) (10,0)], got %v", line)
	}
	if _, err := p.ProjectLine(line, rect, 0); err == nil {
		t.Errorf("Expected error for zero extent")
	}
}

func TestParse(t *testing.T) {
	if ParseCRS("4326") != CRSGeographic || ParseCRS("3857") != CRSWebMercator || ParseCRS("") != CRSWebMercator {
		t.Errorf("ParseCRS mapping mismatch")
	}
	if ParseDatum("GCJ02") != DatumGCJ02 || ParseDatum("2") != DatumBD09 || ParseDatum("wgs84") != DatumWGS84 {
		t.Errorf("ParseDatum mapping mismatch")
	}
}
