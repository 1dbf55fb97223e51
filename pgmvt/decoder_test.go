package pgmvt

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

func sampleLayers() mvt.Layers {
	fc := geojson.NewFeatureCollection()

	line := geojson.NewFeature(orb.LineString{{10, 10}, {20, 20}, {30, 10}})
	line.Properties["fid"] = "road-1"
	line.Properties["name"] = "Main"
	fc.Append(line)

	pt := geojson.NewFeature(orb.Point{100, 200})
	pt.Properties["id"] = 7.0
	fc.Append(pt)

	poly := geojson.NewFeature(orb.Polygon{{{0, 0}, {0, 100}, {100, 100}, {100, 0}, {0, 0}}})
	fc.Append(poly)

	return mvt.Layers{mvt.NewLayer("roads", fc)}
}

func TestDecode(t *testing.T) {
	data, err := mvt.Marshal(sampleLayers())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	tile, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(tile.Layers) != 1 {
		t.Fatalf("Expected 1 layer, got %d", len(tile.Layers))
	}

	l := tile.Layer("roads")
	if l == nil {
		t.Fatalf("Expected layer roads")
	}
	if l.Extent != 4096 {
		t.Errorf("Expected extent 4096, got %d", l.Extent)
	}
	if l.Len() != 3 {
		t.Fatalf("Expected 3 features, got %d", l.Len())
	}

	expected := []GeomType{GeomLineString, GeomPoint, GeomPolygon}
	for i, want := range expected {
		if got := l.Feature(i).Type; got != want {
			t.Errorf("feature %d: expected %s, got %s", i, want, got)
		}
	}

	if id := l.Feature(0).FeatureID(); id != "road-1" {
		t.Errorf("Expected id road-1, got %q", id)
	}
	if id := l.Feature(1).FeatureID(); id != "7" {
		t.Errorf("Expected id 7, got %q", id)
	}
	if id := l.Feature(2).FeatureID(); id != "" {
		t.Errorf("Expected empty id, got %q", id)
	}
	if l.Feature(3) != nil || l.Feature(-1) != nil {
		t.Errorf("Expected nil for out of range index")
	}
	if tile.Layer("water") != nil {
		t.Errorf("Expected nil for unknown layer")
	}
}

func TestDecodeGzipped(t *testing.T) {
	data, err := mvt.MarshalGzipped(sampleLayers())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	tile, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if l := tile.Layer("roads"); l == nil || l.Len() != 3 {
		t.Errorf("Expected roads layer with 3 features")
	}
}

func TestDecodeEmpty(t *testing.T) {
	tile, err := Decode(nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(tile.Layers) != 0 {
		t.Errorf("Expected no layers, got %d", len(tile.Layers))
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, data := range [][]byte{{0xff, 0xff, 0xff}, {0x1f, 0x8b, 0x00}} {
		_, err := Decode(data)
		if !errors.Is(err, ErrMalformedTile) {
			t.Errorf("Expected ErrMalformedTile for %x, got %v", data, err)
		}
	}
}

func TestLoadGeometryRestartable(t *testing.T) {
	data, err := mvt.Marshal(sampleLayers())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	tile, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	f := tile.Layer("roads").Feature(0)

	first := f.LoadGeometry()
	if len(first) != 1 || len(first[0]) != 3 {
		t.Fatalf("Expected one ring with 3 points, got %v", first)
	}
	first[0][0] = orb.Point{-1, -1}

	second := f.LoadGeometry()
	if second[0][0] != (orb.Point{10, 10}) {
		t.Errorf("Expected fresh geometry, got %v", second[0][0])
	}

	pt := tile.Layer("roads").Feature(1).LoadGeometry()
	if len(pt) != 1 || pt[0][0] != (orb.Point{100, 200}) {
		t.Errorf("Expected point ring, got %v", pt)
	}
}
