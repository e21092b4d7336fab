package main

import (
	"log"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"go-reader/config"
	"go-reader/internal/handler"
	"go-reader/internal/model"
	"go-reader/internal/scheduler"
	"go-reader/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	gin.SetMode(cfg.Server.Mode)

	// 初始化数据库
	db, err := gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect database:", err)
	}

	// 自动迁移
	db.AutoMigrate(
		&model.Feed{},
		&model.Article{},
		&model.Category{},
		&model.CategoryExample{},
		&model.Embedding{},
		&model.Config{},
	)

	// 初始化默认配置
	initDefaultConfig(db)

	// 初始化服务
	embeddingSvc := service.NewEmbeddingService(db)
	feedSvc := service.NewFeedService(db, service.NewRSSService(), embeddingSvc)

	// 启动定时任务
	sched := scheduler.NewScheduler(feedSvc, embeddingSvc, cfg.Cron)
	sched.Start()
	defer sched.Stop()

	// 初始化Gin
	r := gin.Default()

	// 注册路由
	h := handler.NewHandler(db)
	h.SetScheduler(sched)
	h.RegisterRoutes(r)

	// 启动服务
	log.Println("Server starting on", cfg.GetServerAddress())
	r.Run(cfg.GetServerAddress())
}

func initDefaultConfig(db *gorm.DB) {
	defaults := map[string]string{
		model.ConfigEmbeddingApiURL:     "https://api.openai.com/v1",
		model.ConfigEmbeddingModel:      "text-embedding-3-small",
		model.ConfigConfidenceThreshold: strconv.FormatFloat(service.DefaultConfidenceThreshold, 'f', -1, 64),
	}

	for key, value := range defaults {
		db.Where("key = ?", key).FirstOrCreate(&model.Config{Key: key, Value: value})
	}
}
