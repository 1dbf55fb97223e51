package services

import (
	"fmt"
	"strings"

	"github.com/GrainArc/GlobeMVT/ImgHandler"
	"github.com/GrainArc/GlobeMVT/config"
	"github.com/GrainArc/GlobeMVT/pgmvt"
)

// PointEntity 点要素的呈现方式，Label 为 nil 时不加标注
type PointEntity struct {
	Color     string
	PixelSize float64
	Label     *LabelEntity
}

// LabelEntity 标注文字及样式
type LabelEntity struct {
	Style        ImgHandler.LabelStyle
	NearDistance float64
	FarDistance  float64
}

// LineEntity 线要素的呈现方式
type LineEntity struct {
	Color string
	Width float64
}

// EntityFactory 决定要素是否以及如何生成图元，返回 nil 表示跳过
type EntityFactory interface {
	Point(layer string, f *pgmvt.Feature) *PointEntity
	LineString(layer string, f *pgmvt.Feature) *LineEntity
}

// StyleEntityFactory 按图层样式生成图元
type StyleEntityFactory struct {
	Styles []config.LayerStyle
}

func (s StyleEntityFactory) Point(layer string, f *pgmvt.Feature) *PointEntity {
	st := config.FindStyle(s.Styles, layer)
	e := &PointEntity{Color: st.PointColor, PixelSize: st.PointSize}
	if st.LabelField == "" {
		return e
	}
	text := labelText(f.Properties[st.LabelField])
	if text == "" {
		return e
	}
	e.Label = &LabelEntity{
		Style: ImgHandler.LabelStyle{
			Text:         text,
			FontSize:     st.LabelSize,
			Fill:         st.LabelFill,
			Outline:      st.LabelOutline,
			OutlineWidth: st.LabelOutlineWidth,
			Width:        st.LabelWidth,
			Height:       st.LabelHeight,
		},
		NearDistance: st.NearDistance,
		FarDistance:  st.FarDistance,
	}
	return e
}

func (s StyleEntityFactory) LineString(layer string, f *pgmvt.Feature) *LineEntity {
	st := config.FindStyle(s.Styles, layer)
	return &LineEntity{Color: st.LineColor, Width: st.LineWidth}
}

func labelText(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
