package model

import "time"

type Article struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	FeedID             uint       `gorm:"not null;uniqueIndex:idx_feed_link" json:"feed_id"`
	Feed               Feed       `gorm:"foreignKey:FeedID" json:"feed,omitempty"`
	Title              string     `gorm:"size:500;not null" json:"title"`
	Description        string     `gorm:"type:text" json:"description,omitempty"`
	Content            string     `gorm:"type:text" json:"content,omitempty"`
	Link               string     `gorm:"size:500;not null;uniqueIndex:idx_feed_link" json:"link"`
	Author             string     `gorm:"size:255" json:"author,omitempty"`
	PublishedAt        time.Time  `gorm:"not null" json:"published_at"`
	ImageURL           string     `gorm:"size:500" json:"image_url,omitempty"`
	IsRead             bool       `gorm:"default:false" json:"is_read"`
	IsBookmarked       bool       `gorm:"default:false" json:"is_bookmarked"`
	BookmarkedAt       *time.Time `json:"bookmarked_at,omitempty"`
	CategoryID         *uint      `gorm:"index" json:"category_id,omitempty"`
	CategoryConfidence *float64   `json:"category_confidence,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}
