package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go-reader/internal/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBCounter int

// newTestDB 每个测试一个独立的共享缓存内存库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testDBCounter++
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBCounter)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.Feed{},
		&model.Article{},
		&model.Category{},
		&model.CategoryExample{},
		&model.Embedding{},
		&model.Config{},
	))

	return db
}

func createTestFeed(t *testing.T, db *gorm.DB, url string) *model.Feed {
	t.Helper()

	feed := &model.Feed{URL: url, Title: "Test Feed"}
	require.NoError(t, db.Create(feed).Error)
	return feed
}

func createTestArticle(t *testing.T, db *gorm.DB, feedID uint, title, link string) *model.Article {
	t.Helper()

	article := &model.Article{
		FeedID:      feedID,
		Title:       title,
		Link:        link,
		PublishedAt: time.Now(),
	}
	require.NoError(t, db.Create(article).Error)
	return article
}

func setVector(t *testing.T, db *gorm.DB, articleID uint, vector []float32) {
	t.Helper()

	require.NoError(t, db.Create(&model.Embedding{ArticleID: articleID, Vector: vector}).Error)
}

func setConfig(t *testing.T, db *gorm.DB, key, value string) {
	t.Helper()

	require.NoError(t, db.Where("key = ?", key).
		Assign(model.Config{Value: value}).
		FirstOrCreate(&model.Config{Key: key}).Error)
}
