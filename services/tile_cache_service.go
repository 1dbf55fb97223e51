// services/tile_cache_service.go
package services

import (
	"sync"

	"github.com/GrainArc/GlobeMVT/models"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TileCacheService 原始矢量瓦片的持久缓存
type TileCacheService struct {
	db *gorm.DB
}

var (
	tileCacheInstance *TileCacheService
	tileCacheOnce     sync.Once
)

// NewTileCacheService 创建缓存服务
func NewTileCacheService(db *gorm.DB) *TileCacheService {
	return &TileCacheService{db: db}
}

// InitTileCacheService 初始化缓存服务（在应用启动时调用）
func InitTileCacheService(db *gorm.DB) *TileCacheService {
	tileCacheOnce.Do(func() {
		tileCacheInstance = NewTileCacheService(db)
	})
	return tileCacheInstance
}

// GetTileCacheService 获取缓存服务单例
func GetTileCacheService() *TileCacheService {
	return tileCacheInstance
}

// GetCachedTile 读取缓存，未命中返回 false
func (s *TileCacheService) GetCachedTile(source string, z, x, y int) ([]byte, bool, error) {
	var row models.TileCache
	err := s.db.Where("source = ? AND z = ? AND x = ? AND y = ?", source, z, x, y).
		Limit(1).Find(&row).Error
	if err != nil {
		return nil, false, errors.Wrapf(err, "query cached tile %s %d/%d/%d", source, z, x, y)
	}
	if row.Source == "" {
		return nil, false, nil
	}
	return row.TileData, true, nil
}

// SetCachedTile 写入缓存，已存在时覆盖
func (s *TileCacheService) SetCachedTile(source string, z, x, y int, data []byte) error {
	row := models.TileCache{Source: source, Z: z, X: x, Y: y, TileData: data}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}, {Name: "z"}, {Name: "x"}, {Name: "y"}},
		DoUpdates: clause.AssignmentColumns([]string{"tile_data"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Wrapf(err, "save cached tile %s %d/%d/%d", source, z, x, y)
	}
	return nil
}

// ClearCache 清空某数据源的缓存
func (s *TileCacheService) ClearCache(source string) error {
	return s.db.Where("source = ?", source).Delete(&models.TileCache{}).Error
}

// Count 某数据源缓存的瓦片数
func (s *TileCacheService) Count(source string) (int64, error) {
	var n int64
	err := s.db.Model(&models.TileCache{}).Where("source = ?", source).Count(&n).Error
	return n, err
}
