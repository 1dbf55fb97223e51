package models

import (
	"log"
	"os"
	"path/filepath"

	"github.com/GrainArc/GlobeMVT/config"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var DB *gorm.DB

// OpenDB 按类型打开数据库，sqlite 时 dsn 为文件路径
func OpenDB(dbType, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbType {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported dbtype %q", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", dbType)
	}
	if err := migrateAllTables(db); err != nil {
		return nil, errors.Wrap(err, "migrate tables")
	}
	return db, nil
}

// InitDB 初始化主数据库
func InitDB(cfg *config.Config) error {
	dsn := cfg.DSN()
	if cfg.DBType != "postgres" {
		if err := os.MkdirAll(cfg.Download, os.ModePerm); err != nil {
			log.Printf("创建存储目录失败: %v", err)
			return err
		}
		dsn = filepath.Join(cfg.Download, "globemvt.db")
		log.Printf("数据库路径: %s", dsn)
	}

	db, err := OpenDB(cfg.DBType, dsn)
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		return err
	}
	DB = db
	log.Println("数据库初始化成功")
	return nil
}

// migrateAllTables 批量迁移所有表
func migrateAllTables(db *gorm.DB) error {
	models := []interface{}{
		&MvtSource{},
		&TileCache{},
	}
	return db.AutoMigrate(models...)
}
