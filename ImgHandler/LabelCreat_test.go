package ImgHandler

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"
)

func TestRasterizeLabel(t *testing.T) {
	r, err := NewLabelRasterizer()
	if err != nil {
		t.Fatalf("NewLabelRasterizer failed: %v", err)
	}

	img, err := r.Rasterize(LabelStyle{Text: "Harbor", FontSize: 16, Fill: "#FFFFFF", Outline: "#000000", OutlineWidth: 2})
	if err != nil {
		t.Fatalf("Rasterize failed: %v", err)
	}
	if img.Width <= 0 || img.Height <= 0 {
		t.Fatalf("Expected positive size, got %dx%d", img.Width, img.Height)
	}

	var white, black int
	b := img.Image.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.Image.RGBAAt(x, y)
			if c.A == 255 && c.R == 255 && c.G == 255 && c.B == 255 {
				white++
			}
			if c.A == 255 && c.R == 0 && c.G == 0 && c.B == 0 {
				black++
			}
		}
	}
	if white == 0 || black == 0 {
		t.Errorf("Expected both fill and outline pixels, got fill=%d outline=%d", white, black)
	}

	data, err := img.PNG()
	if err != nil {
		t.Fatalf("PNG failed: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png decode failed: %v", err)
	}
	if decoded.Bounds().Dx() != img.Width {
		t.Errorf("Expected width %d, got %d", img.Width, decoded.Bounds().Dx())
	}
}

func TestRasterizeFixedCanvas(t *testing.T) {
	r, err := NewLabelRasterizer()
	if err != nil {
		t.Fatalf("NewLabelRasterizer failed: %v", err)
	}
	img, err := r.Rasterize(LabelStyle{Text: "A", Width: 64, Height: 32})
	if err != nil {
		t.Fatalf("Rasterize failed: %v", err)
	}
	if img.Width != 64 || img.Height != 32 {
		t.Errorf("Expected 64x32, got %dx%d", img.Width, img.Height)
	}
	if _, err := r.Rasterize(LabelStyle{}); err == nil {
		t.Errorf("Expected error for empty text")
	}
}

func TestParseColor(t *testing.T) {
	cases := []struct {
		in   string
		want color.NRGBA
	}{
		{"#FF0000", color.NRGBA{255, 0, 0, 255}},
		{"#00ff0080", color.NRGBA{0, 255, 0, 128}},
		{"RGB(10, 20, 30)", color.NRGBA{10, 20, 30, 255}},
		{"rgba(10,20,30,0.5)", color.NRGBA{10, 20, 30, 128}},
	}
	for _, tc := range cases {
		got, err := ParseColor(tc.in)
		if err != nil {
			t.Errorf("ParseColor(%q) failed: %v", tc.in, err)
			continue
		}
		if n := color.NRGBAModel.Convert(got).(color.NRGBA); n != tc.want {
			t.Errorf("ParseColor(%q): expected %v, got %v", tc.in, tc.want, n)
		}
	}

	for _, bad := range []string{"", "#12", "red", "rgb(1,2)", "rgb(300,0,0)"} {
		if _, err := ParseColor(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}
