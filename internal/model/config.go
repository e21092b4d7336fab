package model

import "time"

type Config struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"size:100;uniqueIndex;not null"`
	Value     string    `gorm:"type:text"`
	UpdatedAt time.Time
}

// 预定义配置键
const (
	ConfigEmbeddingApiURL     = "embedding_api_url"
	ConfigEmbeddingApiKey     = "embedding_api_key"
	ConfigEmbeddingModel      = "embedding_model"
	ConfigConfidenceThreshold = "confidence_threshold"
)
