package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"log"
	"os"
)

var MainConfig = DefaultConfig()

// Config config.xml 根节点
type Config struct {
	XMLName    xml.Name `xml:"config"`
	MainRouter string   `xml:"MainRouter"` // 监听地址
	DBType     string   `xml:"dbtype"`     // sqlite / postgres
	Dbname     string   `xml:"dbname"`
	Host       string   `xml:"host"`
	Port       string   `xml:"port"`
	Username   string   `xml:"user"`
	Password   string   `xml:"password"`
	Download   string   `xml:"download"` // sqlite 数据目录

	TileSize           int  `xml:"tileSize"`
	MinLevel           int  `xml:"minLevel"`
	MaxLevel           int  `xml:"maxLevel"`
	EnablePickFeatures bool `xml:"enablePickFeatures"`
	EvictStaleLevels   bool `xml:"evictStaleLevels"`
	CacheSize          int  `xml:"cacheSize"` // 内存瓦片缓存条数
	CacheTTL           int  `xml:"cacheTTL"`  // 分钟
	MaxConcurrent      int  `xml:"maxConcurrent"`

	Sources []SourceConfig `xml:"sources>source"`
	Styles  []LayerStyle   `xml:"styles>style"`
}

// SourceConfig 矢量瓦片数据源
type SourceConfig struct {
	Name            string `xml:"name,attr" json:"name"`
	TileUrlTemplate string `xml:"url" json:"tileUrlTemplate"`
	Subdomains      string `xml:"subdomains" json:"subdomains"`     // 逗号分隔
	TilingScheme    string `xml:"tilingScheme" json:"tilingScheme"` // 3857 / 4326
	Datum           string `xml:"datum" json:"datum"`               // wgs84 / gcj02 / bd09
	MinLevel        int    `xml:"minLevel" json:"minLevel"`
	MaxLevel        int    `xml:"maxLevel" json:"maxLevel"`
}

// LayerStyle 图层样式，Layer 为空表示默认样式
type LayerStyle struct {
	Layer             string  `xml:"layer,attr" json:"layer"`
	PointColor        string  `xml:"pointColor" json:"pointColor"`
	PointSize         float64 `xml:"pointSize" json:"pointSize"`
	LineColor         string  `xml:"lineColor" json:"lineColor"`
	LineWidth         float64 `xml:"lineWidth" json:"lineWidth"`
	FillColor         string  `xml:"fillColor" json:"fillColor"`
	LabelField        string  `xml:"labelField" json:"labelField"`
	LabelSize         float64 `xml:"labelSize" json:"labelSize"`
	LabelFill         string  `xml:"labelFill" json:"labelFill"`
	LabelOutline      string  `xml:"labelOutline" json:"labelOutline"`
	LabelOutlineWidth float64 `xml:"labelOutlineWidth" json:"labelOutlineWidth"`
	LabelWidth        int     `xml:"labelWidth" json:"labelWidth"`
	LabelHeight       int     `xml:"labelHeight" json:"labelHeight"`
	NearDistance      float64 `xml:"nearDistance" json:"nearDistance"`
	FarDistance       float64 `xml:"farDistance" json:"farDistance"`
	MinZoom           int     `xml:"minZoom" json:"minZoom"`
	MaxZoom           int     `xml:"maxZoom" json:"maxZoom"` // 0 表示不限
}

// VisibleAt 图层是否在该层级显示，zoom < 0 表示未过滤
func (s LayerStyle) VisibleAt(zoom int) bool {
	if zoom < 0 {
		return true
	}
	if zoom < s.MinZoom {
		return false
	}
	return s.MaxZoom <= 0 || zoom <= s.MaxZoom
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MainRouter:         ":8426",
		DBType:             "sqlite",
		Download:           "./data",
		TileSize:           256,
		MinLevel:           0,
		MaxLevel:           18,
		EnablePickFeatures: true,
		CacheSize:          1000,
		CacheTTL:           10,
		MaxConcurrent:      4,
	}
}

// LoadConfig 读取 xml 配置
func LoadConfig(path string) (*Config, error) {
	xmlFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer xmlFile.Close()

	cfg := DefaultConfig()
	if err := xml.NewDecoder(xmlFile).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize 修正非法取值
func (c *Config) Normalize() {
	if c.TileSize != 256 && c.TileSize != 512 {
		c.TileSize = 256
	}
	c.MinLevel = clampLevel(c.MinLevel)
	c.MaxLevel = clampLevel(c.MaxLevel)
	if c.MaxLevel < c.MinLevel {
		c.MaxLevel = c.MinLevel
	}
	if c.CacheSize < 1 {
		c.CacheSize = 1
	}
	if c.CacheTTL < 1 {
		c.CacheTTL = 1
	}
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 1
	}
	if c.DBType == "" {
		c.DBType = "sqlite"
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.TilingScheme == "" {
			s.TilingScheme = "3857"
		}
		if s.Datum == "" {
			s.Datum = "wgs84"
		}
		s.MinLevel = clampLevel(s.MinLevel)
		if s.MaxLevel == 0 {
			s.MaxLevel = c.MaxLevel
		}
		s.MaxLevel = clampLevel(s.MaxLevel)
	}
}

// DSN postgres 连接串
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.Host, c.Username, c.Password, c.Dbname, c.Port)
}

// StyleFor 查找图层样式，未配置时返回默认样式
func (c *Config) StyleFor(layer string) LayerStyle {
	return FindStyle(c.Styles, layer)
}

// FindStyle 在样式表中查找图层样式，未填写的字段取内置默认值
func FindStyle(styles []LayerStyle, layer string) LayerStyle {
	var picked *LayerStyle
	for i := range styles {
		if styles[i].Layer == layer {
			picked = &styles[i]
			break
		}
		if styles[i].Layer == "" && picked == nil {
			picked = &styles[i]
		}
	}
	s := builtinStyle()
	if picked != nil {
		s.merge(*picked)
	}
	s.Layer = layer
	return s
}

func builtinStyle() LayerStyle {
	return LayerStyle{
		PointColor: "#FF4500",
		PointSize:  6,
		LineColor:  "#1E90FF",
		LineWidth:  2,
		FillColor:  "#1E90FF55",
		LabelSize:  14,
		LabelFill:  "#FFFFFF",
	}
}

func (s *LayerStyle) merge(o LayerStyle) {
	if o.PointColor != "" {
		s.PointColor = o.PointColor
	}
	if o.PointSize > 0 {
		s.PointSize = o.PointSize
	}
	if o.LineColor != "" {
		s.LineColor = o.LineColor
	}
	if o.LineWidth > 0 {
		s.LineWidth = o.LineWidth
	}
	if o.FillColor != "" {
		s.FillColor = o.FillColor
	}
	if o.LabelSize > 0 {
		s.LabelSize = o.LabelSize
	}
	if o.LabelFill != "" {
		s.LabelFill = o.LabelFill
	}
	s.LabelField = o.LabelField
	s.LabelOutline = o.LabelOutline
	s.LabelOutlineWidth = o.LabelOutlineWidth
	s.LabelWidth = o.LabelWidth
	s.LabelHeight = o.LabelHeight
	s.NearDistance = o.NearDistance
	s.FarDistance = o.FarDistance
	s.MinZoom = o.MinZoom
	s.MaxZoom = o.MaxZoom
}

func clampLevel(l int) int {
	if l < 0 {
		return 0
	}
	if l > 24 {
		return 24
	}
	return l
}

func init() {
	cfg, err := LoadConfig("config.xml")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Println("Error loading config:", err)
		}
		return
	}
	MainConfig = cfg
}
