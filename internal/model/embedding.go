package model

import "time"

// Embedding 文章向量,首次需要时懒生成,生成后不再更新
type Embedding struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ArticleID uint      `gorm:"uniqueIndex;not null" json:"article_id"`
	Vector    []float32 `gorm:"serializer:json;type:text" json:"vector"`
	CreatedAt time.Time `json:"created_at"`
}
