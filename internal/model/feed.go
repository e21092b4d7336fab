package model

import "time"

type Feed struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	URL         string     `gorm:"size:500;uniqueIndex;not null" json:"url"`
	Title       string     `gorm:"size:255;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description,omitempty"`
	Link        string     `gorm:"size:500" json:"link,omitempty"`
	ImageURL    string     `gorm:"size:500" json:"image_url,omitempty"`
	LastFetched *time.Time `json:"last_fetched,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
