package ImgHandler

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"strconv"
	"strings"

	"github.com/gogpu/gg"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// LabelStyle 注记样式，Width/Height 为 0 时按文字自动计算画布
type LabelStyle struct {
	Text         string
	FontSize     float64
	Fill         string
	Outline      string
	OutlineWidth float64
	Width        int
	Height       int
}

// LabelImage 注记位图
type LabelImage struct {
	Image  *image.RGBA
	Width  int
	Height int
}

// PNG 编码为 png
func (l *LabelImage) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, l.Image); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LabelRasterizer 文字注记栅格化
type LabelRasterizer struct {
	font *truetype.Font
}

// NewLabelRasterizer 使用内置 Go Regular 字体
func NewLabelRasterizer() (*LabelRasterizer, error) {
	return NewLabelRasterizerWithFont(goregular.TTF)
}

// NewLabelRasterizerWithFont 使用指定 ttf 字体，中文注记需传入中文字体
func NewLabelRasterizerWithFont(fontBytes []byte) (*LabelRasterizer, error) {
	f, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, errors.Wrap(err, "parse font")
	}
	return &LabelRasterizer{font: f}, nil
}

// Rasterize 先画描边再画填充，文字居中
func (r *LabelRasterizer) Rasterize(style LabelStyle) (*LabelImage, error) {
	if style.Text == "" {
		return nil, errors.New("empty label text")
	}
	size := style.FontSize
	if size <= 0 {
		size = 14
	}
	fill, err := ParseColor(style.Fill)
	if err != nil {
		fill = color.White
	}
	var outline color.Color
	if style.Outline != "" {
		if outline, err = ParseColor(style.Outline); err != nil {
			return nil, err
		}
	}
	ow := int(math.Ceil(style.OutlineWidth))
	if outline == nil {
		ow = 0
	}

	textWidth := r.textWidth(style.Text, size)
	w, h := style.Width, style.Height
	if w <= 0 {
		w = textWidth + 2*ow + 4
	}
	if h <= 0 {
		h = int(math.Ceil(size*1.4)) + 2*ow
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.Transparent, image.Point{}, draw.Src)

	x := (w - textWidth) / 2
	y := int(float64(h)/2 + size*0.35)

	if outline != nil && ow > 0 {
		for dx := -ow; dx <= ow; dx++ {
			for dy := -ow; dy <= ow; dy++ {
				if dx == 0 && dy == 0 || dx*dx+dy*dy > ow*ow {
					continue
				}
				if err := r.drawText(img, x+dx, y+dy, style.Text, size, outline); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := r.drawText(img, x, y, style.Text, size, fill); err != nil {
		return nil, err
	}
	return &LabelImage{Image: img, Width: w, Height: h}, nil
}

func (r *LabelRasterizer) drawText(img *image.RGBA, x, y int, text string, fontSize float64, c color.Color) error {
	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(r.font)
	ctx.SetFontSize(fontSize)
	ctx.SetClip(img.Bounds())
	ctx.SetDst(img)
	ctx.SetSrc(image.NewUniform(c))
	ctx.SetHinting(font.HintingFull)

	_, err := ctx.DrawString(text, freetype.Pt(x, y))
	return err
}

func (r *LabelRasterizer) textWidth(text string, fontSize float64) int {
	face := truetype.NewFace(r.font, &truetype.Options{Size: fontSize, DPI: 72})
	defer face.Close()

	width := 0
	for _, c := range text {
		advance, ok := face.GlyphAdvance(c)
		if !ok {
			width += int(fontSize)
			continue
		}
		width += advance.Round()
	}
	return width
}

// ParseColor 支持 #RGB/#RRGGBB/#RRGGBBAA 与 RGB(r,g,b)/rgba(r,g,b,a)
func ParseColor(s string) (color.Color, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty color")
	}
	if strings.HasPrefix(s, "#") {
		switch len(s) {
		case 4, 5, 7, 9:
			return gg.Hex(s).Color(), nil
		}
		return nil, errors.Errorf("invalid hex color %q", s)
	}

	lower := strings.ToLower(s)
	var body string
	switch {
	case strings.HasPrefix(lower, "rgba(") && strings.HasSuffix(lower, ")"):
		body = lower[5 : len(lower)-1]
	case strings.HasPrefix(lower, "rgb(") && strings.HasSuffix(lower, ")"):
		body = lower[4 : len(lower)-1]
	default:
		return nil, errors.Errorf("unsupported color %q", s)
	}

	parts := strings.Split(body, ",")
	if len(parts) != 3 && len(parts) != 4 {
		return nil, errors.Errorf("invalid color %q", s)
	}
	var rgb [3]uint8
	for i := 0; i < 3; i++ {
		v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil || v < 0 || v > 255 {
			return nil, errors.Errorf("invalid color component %q", parts[i])
		}
		rgb[i] = uint8(v)
	}
	a := uint8(255)
	if len(parts) == 4 {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || f < 0 || f > 1 {
			return nil, errors.Errorf("invalid alpha %q", parts[3])
		}
		a = uint8(math.Round(f * 255))
	}
	return color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: a}, nil
}
