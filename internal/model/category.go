package model

import "time"

type Category struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Color     string    `gorm:"size:20" json:"color"`
	Priority  int       `gorm:"default:0" json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// CategoryExample 分类的示例文章,用相似度刻画分类中心
type CategoryExample struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CategoryID uint      `gorm:"not null;uniqueIndex:idx_category_article" json:"category_id"`
	ArticleID  uint      `gorm:"not null;uniqueIndex:idx_category_article" json:"article_id"`
	CreatedAt  time.Time `json:"created_at"`
}
