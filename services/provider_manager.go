// services/provider_manager.go
package services

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GrainArc/GlobeMVT/ImgHandler"
	"github.com/GrainArc/GlobeMVT/Transformer"
	"github.com/GrainArc/GlobeMVT/config"
	"github.com/GrainArc/GlobeMVT/models"
	"github.com/GrainArc/GlobeMVT/tile_proxy"
	"gorm.io/gorm"
)

// SceneFactory 为数据源创建宿主场景
type SceneFactory func(source string) Scene

// ProviderManager 矢量瓦片数据源管理器
type ProviderManager struct {
	db           *gorm.DB
	cfg          *config.Config
	sceneFactory SceneFactory
	labels       *ImgHandler.LabelRasterizer
	store        *TileCacheService

	mu        sync.RWMutex
	providers map[string]*runningProvider
}

type runningProvider struct {
	provider   *MvtImageryProvider
	compositor *ImgHandler.BasicCompositor
	cache      *tile_proxy.TileCache
	source     models.MvtSource
}

var (
	providerManager     *ProviderManager
	providerManagerOnce sync.Once
)

// NewProviderManager 创建管理器，sceneFactory 为 nil 时使用内存场景
func NewProviderManager(db *gorm.DB, cfg *config.Config, sceneFactory SceneFactory) *ProviderManager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if sceneFactory == nil {
		sceneFactory = func(string) Scene { return NewMemoryScene(nil) }
	}
	labels, err := ImgHandler.NewLabelRasterizer()
	if err != nil {
		log.Printf("标注字体加载失败，不生成标注: %v", err)
	}
	m := &ProviderManager{
		db:           db,
		cfg:          cfg,
		sceneFactory: sceneFactory,
		labels:       labels,
		providers:    make(map[string]*runningProvider),
	}
	if s := GetTileCacheService(); s != nil {
		m.store = s
	} else if db != nil {
		m.store = NewTileCacheService(db)
	}
	return m
}

// InitProviderManager 初始化管理器（在程序启动时调用）
func InitProviderManager(db *gorm.DB, cfg *config.Config, sceneFactory SceneFactory) *ProviderManager {
	providerManagerOnce.Do(func() {
		providerManager = NewProviderManager(db, cfg, sceneFactory)
		providerManager.LoadAllSources()
	})
	return providerManager
}

// GetProviderManager 获取单例管理器
func GetProviderManager() *ProviderManager {
	return providerManager
}

// LoadAllSources 写入配置文件中的数据源，并启动所有启用的数据源
func (m *ProviderManager) LoadAllSources() {
	for _, sc := range m.cfg.Sources {
		src := models.MvtSourceFromConfig(sc, nil)
		if err := m.db.Where("name = ?", sc.Name).FirstOrCreate(&src).Error; err != nil {
			log.Printf("写入数据源 %s 失败: %v", sc.Name, err)
		}
	}

	var sources []models.MvtSource
	if err := m.db.Find(&sources).Error; err != nil {
		log.Printf("加载数据源失败: %v", err)
		return
	}
	for _, src := range sources {
		if src.Status != 1 {
			continue
		}
		if err := m.StartProvider(src.Name); err != nil {
			log.Printf("启动数据源 %s 失败: %v", src.Name, err)
		}
	}
}

// AddSource 添加新的数据源
func (m *ProviderManager) AddSource(src *models.MvtSource) error {
	src.Name = strings.TrimSpace(src.Name)
	if src.Name == "" {
		return fmt.Errorf("source name is required")
	}
	if !strings.Contains(src.TileUrlTemplate, "{z}") {
		return fmt.Errorf("invalid tile url template: %s", src.TileUrlTemplate)
	}
	if src.TilingScheme == "" {
		src.TilingScheme = "3857"
	}
	if src.Datum == "" {
		src.Datum = "wgs84"
	}
	if src.MaxLevel == 0 {
		src.MaxLevel = m.cfg.MaxLevel
	}
	if src.MaxLevel < src.MinLevel {
		return fmt.Errorf("maxLevel %d < minLevel %d", src.MaxLevel, src.MinLevel)
	}
	if src.Status == 0 {
		src.Status = 1
	}

	if err := m.db.Create(src).Error; err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}
	if src.Status == 1 {
		return m.StartProvider(src.Name)
	}
	return nil
}

// DeleteSource 删除数据源及其缓存
func (m *ProviderManager) DeleteSource(name string) error {
	m.StopProvider(name)

	result := m.db.Where("name = ?", name).Delete(&models.MvtSource{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("source not found: %s", name)
	}
	if m.store != nil {
		if err := m.store.ClearCache(name); err != nil {
			fmt.Printf("[WARN] failed to clear tile cache for %s: %v\n", name, err)
		}
	}
	return nil
}

// StartProvider 启动数据源
func (m *ProviderManager) StartProvider(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.providers[name]; ok {
		return nil
	}

	var src models.MvtSource
	if err := m.db.Where("name = ?", name).First(&src).Error; err != nil {
		return fmt.Errorf("source not found: %s", name)
	}
	if src.TileUrlTemplate == "" {
		m.db.Model(&src).Updates(map[string]interface{}{
			"status":    2,
			"error_msg": "empty tile url template",
		})
		return fmt.Errorf("empty tile url template: %s", name)
	}

	m.providers[name] = m.newProvider(src)
	m.db.Model(&src).Updates(map[string]interface{}{
		"status":    1,
		"error_msg": "",
	})
	return nil
}

func (m *ProviderManager) newProvider(src models.MvtSource) *runningProvider {
	scheme := tile_proxy.NewTilingScheme(Transformer.ParseCRS(src.TilingScheme))
	projector := Transformer.NewProjector(scheme.CRS(), Transformer.ParseDatum(src.Datum))
	ttl := time.Duration(m.cfg.CacheTTL) * time.Minute

	cache := tile_proxy.NewTileCache(m.cfg.CacheSize, ttl)
	opts := &tile_proxy.FetcherOptions{
		Subdomains: tile_proxy.ParseSubdomains(src.Subdomains),
		Cache:      cache,
	}
	if m.store != nil {
		opts.Store = m.store
	}
	fetcher := tile_proxy.NewHTTPTileFetcher(src.Name, src.TileUrlTemplate, opts)

	styles := src.LayerStyles()
	if len(styles) == 0 {
		styles = m.cfg.Styles
	}

	compositor := ImgHandler.NewBasicCompositor(ImgHandler.CompositorOptions{
		MaxConcurrent: m.cfg.MaxConcurrent,
		CacheSize:     m.cfg.CacheSize,
		CacheTTL:      ttl,
	})
	compositor.AddSource(&ImgHandler.CompositorSource{
		Name:      src.Name,
		Fetcher:   fetcher,
		Scheme:    scheme,
		Projector: projector,
		MinLevel:  src.MinLevel,
		MaxLevel:  src.MaxLevel,
		Styles:    styles,
	})

	scene := m.sceneFactory(src.Name)
	if scene == nil {
		scene = NewMemoryScene(nil)
	}
	provider := NewMvtImageryProvider(ProviderOptions{
		Name:               src.Name,
		TileSize:           m.cfg.TileSize,
		MinLevel:           src.MinLevel,
		MaxLevel:           src.MaxLevel,
		EnablePickFeatures: m.cfg.EnablePickFeatures,
		EvictStaleLevels:   m.cfg.EvictStaleLevels,
		Scheme:             scheme,
		Projector:          projector,
	}, compositor, fetcher, scene, StyleEntityFactory{Styles: styles}, m.labels)

	return &runningProvider{
		provider:   provider,
		compositor: compositor,
		cache:      cache,
		source:     src,
	}
}

// StopProvider 停止数据源
func (m *ProviderManager) StopProvider(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rp, ok := m.providers[name]; ok {
		rp.close()
		delete(m.providers, name)

		m.db.Model(&models.MvtSource{}).Where("name = ?", name).Updates(map[string]interface{}{
			"status": 0,
		})
	}
}

func (rp *runningProvider) close() {
	rp.provider.Destroy()
	rp.compositor.Close()
	rp.cache.Close()
}

// GetProvider 获取数据源，未运行时尝试启动
func (m *ProviderManager) GetProvider(name string) (*MvtImageryProvider, error) {
	m.mu.RLock()
	rp, ok := m.providers[name]
	m.mu.RUnlock()
	if ok {
		return rp.provider, nil
	}

	if err := m.StartProvider(name); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rp, ok = m.providers[name]; !ok {
		return nil, fmt.Errorf("source stopped: %s", name)
	}
	return rp.provider, nil
}

// ListSources 列出所有数据源
func (m *ProviderManager) ListSources() ([]models.MvtSource, error) {
	var sources []models.MvtSource
	if err := m.db.Order("id").Find(&sources).Error; err != nil {
		return nil, err
	}
	return sources, nil
}

// ListRunning 列出运行中的数据源
func (m *ProviderManager) ListRunning() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll 关闭所有数据源，数据库状态保持不变以便下次启动
func (m *ProviderManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rp := range m.providers {
		rp.close()
	}
	m.providers = make(map[string]*runningProvider)
}
