package services

import (
	"context"
	"testing"
	"time"

	"github.com/GrainArc/GlobeMVT/tile_proxy"
	"github.com/pkg/errors"
)

func testSpecs(coord tile_proxy.TileCoord) []tile_proxy.TileSpec {
	return tile_proxy.NeighborTileSpecs(tile_proxy.WebMercatorTilingScheme{}, coord, 256, "osm")
}

func TestRenderSessionReleasesOnSuccess(t *testing.T) {
	c := newFakeCompositor("osm")
	coord := tile_proxy.TileCoord{Z: 8, X: 10, Y: 20}
	s := NewRenderSession(c, coord, testSpecs(coord), 256)
	if s.State() != SessionIdle {
		t.Errorf("Expected idle, got %s", s.State())
	}

	img, err := s.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if img.Bounds().Dx() != 256 || img.Bounds().Dy() != 256 {
		t.Errorf("Expected 256x256 image, got %v", img.Bounds())
	}
	if s.State() != SessionSucceeded {
		t.Errorf("Expected succeeded, got %s", s.State())
	}
	if _, releases, resets := c.counts(); releases != 1 || resets != 1 {
		t.Errorf("Expected 1 release and 1 reset, got %d and %d", releases, resets)
	}
	if s.Ref().Surface() != nil {
		t.Errorf("Expected surface detached after release")
	}

	s.Release()
	if _, releases, _ := c.counts(); releases != 1 {
		t.Errorf("Expected release to run once, got %d", releases)
	}
	if _, err := s.Run(context.Background(), true); err == nil {
		t.Errorf("Expected error when running a session twice")
	}
}

func TestRenderSessionKeepsHandleForPicking(t *testing.T) {
	c := newFakeCompositor("osm")
	coord := tile_proxy.TileCoord{Z: 3, X: 1, Y: 1}
	s := NewRenderSession(c, coord, testSpecs(coord), 512)

	if _, err := s.Run(context.Background(), false); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, releases, _ := c.counts(); releases != 0 {
		t.Errorf("Expected handle kept alive, got %d releases", releases)
	}
	if s.Ref() == nil || s.Ref().Surface() == nil {
		t.Fatalf("Expected live render handle")
	}

	s.Release()
	if _, releases, resets := c.counts(); releases != 1 || resets != 1 {
		t.Errorf("Expected deferred release, got %d releases %d resets", releases, resets)
	}
}

func TestRenderSessionNotAvailableIsSuccess(t *testing.T) {
	c := newFakeCompositor("osm")
	c.renderErr = errors.New("9 tiles not available")
	coord := tile_proxy.TileCoord{Z: 2, X: 1, Y: 1}
	s := NewRenderSession(c, coord, testSpecs(coord), 256)

	img, err := s.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Expected benign unavailability, got %v", err)
	}
	if img == nil {
		t.Errorf("Expected blank image")
	}
	if s.State() != SessionSucceeded {
		t.Errorf("Expected succeeded, got %s", s.State())
	}
}

func TestRenderSessionCompositorFailure(t *testing.T) {
	c := newFakeCompositor("osm")
	c.renderErr = errors.New("style evaluation exploded")
	coord := tile_proxy.TileCoord{Z: 2, X: 1, Y: 1}
	s := NewRenderSession(c, coord, testSpecs(coord), 256)

	_, err := s.Run(context.Background(), false)
	if !errors.Is(err, ErrCompositorFailure) {
		t.Fatalf("Expected compositor failure, got %v", err)
	}
	if s.State() != SessionFailed {
		t.Errorf("Expected failed, got %s", s.State())
	}
	if _, releases, _ := c.counts(); releases != 1 {
		t.Errorf("Expected failed session released, got %d", releases)
	}
}

func TestRenderSessionCanceled(t *testing.T) {
	c := newFakeCompositor("osm")
	c.block = make(chan struct{})
	defer close(c.block)

	coord := tile_proxy.TileCoord{Z: 2, X: 1, Y: 1}
	s := NewRenderSession(c, coord, testSpecs(coord), 256)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Run(ctx, true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if _, releases, _ := c.counts(); releases != 1 {
		t.Errorf("Expected canceled session released, got %d", releases)
	}
}
