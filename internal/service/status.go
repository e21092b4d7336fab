package service

import (
	"time"

	"go-reader/internal/model"
	"gorm.io/gorm"
)

type StatusService struct {
	db *gorm.DB
}

type SystemStatus struct {
	// 文章统计
	TotalArticles      int64 `json:"total_articles"`
	UnreadArticles     int64 `json:"unread_articles"`
	BookmarkedArticles int64 `json:"bookmarked_articles"`
	ClassifiedArticles int64 `json:"classified_articles"`
	EmbeddedArticles   int64 `json:"embedded_articles"`

	// 订阅源与分类统计
	TotalFeeds      int64 `json:"total_feeds"`
	TotalCategories int64 `json:"total_categories"`

	// 定时任务信息
	NextFetchTime time.Time `json:"next_fetch_time"`
	NextEmbedTime time.Time `json:"next_embed_time"`
}

func NewStatusService(db *gorm.DB) *StatusService {
	return &StatusService{db: db}
}

// GetSystemStatus 获取系统状态
func (s *StatusService) GetSystemStatus() (*SystemStatus, error) {
	status := &SystemStatus{}

	// 统计文章
	s.db.Model(&model.Article{}).Count(&status.TotalArticles)
	s.db.Model(&model.Article{}).Where("is_read = ?", false).Count(&status.UnreadArticles)
	s.db.Model(&model.Article{}).Where("is_bookmarked = ?", true).Count(&status.BookmarkedArticles)
	s.db.Model(&model.Article{}).Where("category_id IS NOT NULL").Count(&status.ClassifiedArticles)
	s.db.Model(&model.Embedding{}).Count(&status.EmbeddedArticles)

	// 统计订阅源与分类
	s.db.Model(&model.Feed{}).Count(&status.TotalFeeds)
	s.db.Model(&model.Category{}).Count(&status.TotalCategories)

	return status, nil
}
