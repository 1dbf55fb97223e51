package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GrainArc/GlobeMVT/config"
	"github.com/GrainArc/GlobeMVT/models"
	"github.com/GrainArc/GlobeMVT/routers"
	"github.com/GrainArc/GlobeMVT/services"
	"github.com/GrainArc/GlobeMVT/views"
	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "", "config.xml 路径，默认读取工作目录下的 config.xml")
	debug := flag.Bool("debug", false, "输出瓦片管线调试日志")
	flag.Parse()

	cfg := config.MainConfig
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("加载配置失败: %v", err)
		}
		cfg = loaded
	}
	cfg.Normalize()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	services.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := models.InitDB(cfg); err != nil {
		log.Fatalf("数据库初始化失败: %v", err)
	}

	hub := views.NewSceneHub()
	services.InitTileCacheService(models.DB)
	manager := services.InitProviderManager(models.DB, cfg, hub.SceneFor)

	r := gin.Default()
	routers.MvtRouters(r, &views.MvtController{Manager: manager, Hub: hub})

	srv := &http.Server{
		Addr:    cfg.MainRouter,
		Handler: r,
	}
	go func() {
		log.Printf("服务启动: %s", cfg.MainRouter)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}
	hub.Close()
	manager.CloseAll()
}
