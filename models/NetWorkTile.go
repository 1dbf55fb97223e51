package models

import (
	"encoding/json"
	"time"

	"github.com/GrainArc/GlobeMVT/config"
	"gorm.io/datatypes"
)

// MvtSource 矢量瓦片数据源
type MvtSource struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Name            string         `gorm:"uniqueIndex;size:255;not null" json:"name"`                 // 数据源名称
	TileUrlTemplate string         `gorm:"column:tile_url_template;type:text" json:"tileUrlTemplate"` // 完整URL模板
	Subdomains      string         `gorm:"size:255" json:"subdomains"`                                // 逗号分隔
	TilingScheme    string         `gorm:"size:16;default:'3857'" json:"tilingScheme"`                // 3857 / 4326
	Datum           string         `gorm:"size:16;default:'wgs84'" json:"datum"`                      // wgs84 / gcj02 / bd09
	MinLevel        int            `gorm:"default:0" json:"minLevel"`
	MaxLevel        int            `gorm:"default:18" json:"maxLevel"`
	Styles          datatypes.JSON `json:"styles"`                        // []config.LayerStyle
	Status          int            `gorm:"default:1" json:"status"`       // 0禁用 1启用 2错误
	ErrorMsg        string         `gorm:"size:512" json:"errorMsg"`      // 错误信息
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (MvtSource) TableName() string {
	return "mvt_source"
}

// LayerStyles 解析样式表，格式错误时返回 nil
func (s *MvtSource) LayerStyles() []config.LayerStyle {
	if len(s.Styles) == 0 {
		return nil
	}
	var styles []config.LayerStyle
	if err := json.Unmarshal(s.Styles, &styles); err != nil {
		return nil
	}
	return styles
}

// SetLayerStyles 写入样式表
func (s *MvtSource) SetLayerStyles(styles []config.LayerStyle) error {
	data, err := json.Marshal(styles)
	if err != nil {
		return err
	}
	s.Styles = datatypes.JSON(data)
	return nil
}

// MvtSourceFromConfig config.xml 中的数据源转为数据库记录
func MvtSourceFromConfig(sc config.SourceConfig, styles []config.LayerStyle) MvtSource {
	src := MvtSource{
		Name:            sc.Name,
		TileUrlTemplate: sc.TileUrlTemplate,
		Subdomains:      sc.Subdomains,
		TilingScheme:    sc.TilingScheme,
		Datum:           sc.Datum,
		MinLevel:        sc.MinLevel,
		MaxLevel:        sc.MaxLevel,
		Status:          1,
	}
	if len(styles) > 0 {
		_ = src.SetLayerStyles(styles)
	}
	return src
}

// TileCache 持久化的原始矢量瓦片
type TileCache struct {
	Source    string    `gorm:"primaryKey;size:255" json:"source"`
	Z         int       `gorm:"primaryKey;autoIncrement:false" json:"z"`
	X         int       `gorm:"primaryKey;autoIncrement:false" json:"x"`
	Y         int       `gorm:"primaryKey;autoIncrement:false" json:"y"`
	TileData  []byte    `gorm:"not null" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (TileCache) TableName() string {
	return "mvt_tile_cache"
}
