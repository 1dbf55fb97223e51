package views

import (
	"bytes"
	"image"
	"image/png"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/GrainArc/GlobeMVT/config"
	"github.com/GrainArc/GlobeMVT/models"
	"github.com/GrainArc/GlobeMVT/services"
	"github.com/GrainArc/GlobeMVT/tile_proxy"
	"github.com/chai2010/webp"
	"github.com/gin-gonic/gin"
)

// MvtController 矢量瓦片影像、拾取和数据源接口
type MvtController struct {
	Manager *services.ProviderManager
	Hub     *SceneHub
}

// SourceRequest 新增数据源参数
type SourceRequest struct {
	Name            string              `json:"name" binding:"required"`
	TileUrlTemplate string              `json:"tileUrlTemplate" binding:"required"`
	Subdomains      string              `json:"subdomains"`
	TilingScheme    string              `json:"tilingScheme"`
	Datum           string              `json:"datum"`
	MinLevel        int                 `json:"minLevel"`
	MaxLevel        int                 `json:"maxLevel"`
	Styles          []config.LayerStyle `json:"styles"`
}

// ListSources 数据源列表
func (mc *MvtController) ListSources(c *gin.Context) {
	sources, err := mc.Manager.ListSources()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": "查询失败: " + err.Error(), "code": 500})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    200,
		"data":    sources,
		"running": mc.Manager.ListRunning(),
	})
}

// AddSource 新增数据源并启动
func (mc *MvtController) AddSource(c *gin.Context) {
	var req SourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": err.Error(), "code": 500})
		return
	}

	src := models.MvtSource{
		Name:            req.Name,
		TileUrlTemplate: req.TileUrlTemplate,
		Subdomains:      req.Subdomains,
		TilingScheme:    req.TilingScheme,
		Datum:           req.Datum,
		MinLevel:        req.MinLevel,
		MaxLevel:        req.MaxLevel,
	}
	if len(req.Styles) > 0 {
		if err := src.SetLayerStyles(req.Styles); err != nil {
			c.JSON(http.StatusOK, gin.H{"error": err.Error(), "code": 500})
			return
		}
	}
	if err := mc.Manager.AddSource(&src); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": "创建失败: " + err.Error(), "code": 500})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": src})
}

// DeleteSource 删除数据源
func (mc *MvtController) DeleteSource(c *gin.Context) {
	if err := mc.Manager.DeleteSource(c.Param("name")); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": err.Error(), "code": 500})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "删除成功"})
}

// GetTile 输出瓦片影像，y 可带 .png / .webp 后缀
func (mc *MvtController) GetTile(c *gin.Context) {
	provider, err := mc.Manager.GetProvider(c.Param("source"))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": err.Error(), "code": 404})
		return
	}

	yStr, format := splitFormat(c.Param("y"))
	z, errZ := strconv.Atoi(c.Param("z"))
	x, errX := strconv.Atoi(c.Param("x"))
	y, errY := strconv.Atoi(yStr)
	if errZ != nil || errX != nil || errY != nil {
		c.JSON(http.StatusOK, gin.H{"error": "invalid tile coordinate", "code": 400})
		return
	}

	if format == "pbf" || format == "mvt" {
		mc.rawTile(c, provider, x, y, z)
		return
	}

	res, err := provider.RequestImage(c.Request.Context(), x, y, z)
	if err != nil {
		if services.IsUnavailable(err) {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, gin.H{"error": err.Error(), "code": 500})
		return
	}

	data, contentType, err := encodeImage(res.Image, format)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": err.Error(), "code": 500})
		return
	}
	if res.Batch != nil {
		c.Header("X-Primitive-Count", strconv.Itoa(len(res.Batch.Refs)))
	}
	c.Data(http.StatusOK, contentType, data)
}

// rawTile 透传原始矢量瓦片
func (mc *MvtController) rawTile(c *gin.Context, provider *services.MvtImageryProvider, x, y, z int) {
	data, err := provider.RawTile(c.Request.Context(), x, y, z)
	if err != nil {
		if services.IsUnavailable(err) {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, gin.H{"error": err.Error(), "code": 500})
		return
	}
	if len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b {
		c.Header("Content-Encoding", "gzip")
	}
	c.Data(http.StatusOK, "application/x-protobuf", data)
}

func splitFormat(y string) (string, string) {
	if i := strings.LastIndex(y, "."); i >= 0 {
		return y[:i], strings.ToLower(y[i+1:])
	}
	return y, "png"
}

func encodeImage(img image.Image, format string) ([]byte, string, error) {
	var buf bytes.Buffer
	switch format {
	case "webp":
		if err := webp.Encode(&buf, img, &webp.Options{Lossless: true}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/webp", nil
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	}
}

// Pick 拾取要素，lon/lat 为度，未传 x/y 时按层级计算所在瓦片
func (mc *MvtController) Pick(c *gin.Context) {
	provider, err := mc.Manager.GetProvider(c.Param("source"))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": err.Error(), "code": 404})
		return
	}

	z, errZ := strconv.Atoi(c.Query("z"))
	lon, errLon := strconv.ParseFloat(c.Query("lon"), 64)
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	if errZ != nil || errLon != nil || errLat != nil {
		c.JSON(http.StatusOK, gin.H{"error": "z, lon and lat are required", "code": 400})
		return
	}

	coord := tile_proxy.PositionToTile(provider.Options().Scheme, lon, lat, z)
	if xs, ys := c.Query("x"), c.Query("y"); xs != "" && ys != "" {
		x, errX := strconv.Atoi(xs)
		y, errY := strconv.Atoi(ys)
		if errX != nil || errY != nil {
			c.JSON(http.StatusOK, gin.H{"error": "invalid tile coordinate", "code": 400})
			return
		}
		coord.X, coord.Y = x, y
	}

	features, err := provider.PickFeatures(c.Request.Context(), coord.X, coord.Y, coord.Z, lon*math.Pi/180, lat*math.Pi/180)
	if err != nil && !services.IsUnavailable(err) {
		c.JSON(http.StatusOK, gin.H{"error": err.Error(), "code": 500})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":  200,
		"found": len(features) > 0,
		"data":  features,
	})
}

// EvictPrimitives 移除非指定层级的图元
func (mc *MvtController) EvictPrimitives(c *gin.Context) {
	provider, err := mc.Manager.GetProvider(c.Param("source"))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": err.Error(), "code": 404})
		return
	}
	level, err := strconv.Atoi(c.Query("level"))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": "level is required", "code": 400})
		return
	}
	n := provider.EvictOtherLevels(level)
	c.JSON(http.StatusOK, gin.H{"code": 200, "removed": n})
}
