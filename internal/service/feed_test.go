package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-reader/internal/model"
	"gorm.io/gorm"
)

func newFeedService(db *gorm.DB) *FeedService {
	return NewFeedService(db, NewRSSService(), NewEmbeddingService(db))
}

func feedServer(body *atomic.Value) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body.Load().(string)))
	}))
}

func TestAddFeed(t *testing.T) {
	var body atomic.Value
	body.Store(testRSS)
	server := feedServer(&body)
	defer server.Close()

	db := newTestDB(t)
	svc := newFeedService(db)

	feed, err := svc.AddFeed(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Tech News", feed.Title)
	require.NotNil(t, feed.LastFetched)

	var count int64
	db.Model(&model.Article{}).Where("feed_id = ?", feed.ID).Count(&count)
	assert.EqualValues(t, 3, count)
}

func TestAddFeedDuplicateRejected(t *testing.T) {
	var body atomic.Value
	body.Store(testRSS)
	server := feedServer(&body)
	defer server.Close()

	db := newTestDB(t)
	svc := newFeedService(db)

	_, err := svc.AddFeed(context.Background(), server.URL)
	require.NoError(t, err)

	// 同一个源地址重复订阅是前置条件错误,不是静默跳过
	_, err = svc.AddFeed(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrFeedExists)
}

func TestRefreshFeedIdempotent(t *testing.T) {
	var body atomic.Value
	body.Store(testRSS)
	server := feedServer(&body)
	defer server.Close()

	db := newTestDB(t)
	svc := newFeedService(db)

	feed, err := svc.AddFeed(context.Background(), server.URL)
	require.NoError(t, err)

	// 上游没有变化时刷新不产生新文章,刷两次都是0
	count, err := svc.RefreshFeed(context.Background(), feed.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = svc.RefreshFeed(context.Background(), feed.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRefreshFeedPicksUpNewArticles(t *testing.T) {
	var body atomic.Value
	body.Store(`<rss version="2.0"><channel><title>X</title>
		<item><title>One</title><link>https://x/1</link></item>
		</channel></rss>`)
	server := feedServer(&body)
	defer server.Close()

	db := newTestDB(t)
	svc := newFeedService(db)

	feed, err := svc.AddFeed(context.Background(), server.URL)
	require.NoError(t, err)

	body.Store(`<rss version="2.0"><channel><title>X</title>
		<item><title>One</title><link>https://x/1</link></item>
		<item><title>Two</title><link>https://x/2</link></item>
		</channel></rss>`)

	count, err := svc.RefreshFeed(context.Background(), feed.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var total int64
	db.Model(&model.Article{}).Where("feed_id = ?", feed.ID).Count(&total)
	assert.EqualValues(t, 2, total)
}

func TestRefreshFeedNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := newFeedService(db)

	_, err := svc.RefreshFeed(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrFeedNotFound)
}

func TestRefreshAllFeedsPartialFailure(t *testing.T) {
	var body atomic.Value
	body.Store(testRSS)
	server := feedServer(&body)
	defer server.Close()

	db := newTestDB(t)
	svc := newFeedService(db)
	// 测试里不经过真实代理
	svc.rss.proxy = server.URL + "/proxy-missing?url="

	good, err := svc.AddFeed(context.Background(), server.URL)
	require.NoError(t, err)

	// 一个抓不通的源,直接入库
	bad := createTestFeed(t, db, "http://127.0.0.1:1/feed.xml")

	results := svc.RefreshAllFeeds(context.Background())

	// 失败的源记0,不影响其它源
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[bad.ID])
	assert.Equal(t, 0, results[good.ID])
}

func TestDeleteFeedCascades(t *testing.T) {
	var body atomic.Value
	body.Store(testRSS)
	server := feedServer(&body)
	defer server.Close()

	db := newTestDB(t)
	svc := newFeedService(db)

	feed, err := svc.AddFeed(context.Background(), server.URL)
	require.NoError(t, err)

	var articles []model.Article
	require.NoError(t, db.Where("feed_id = ?", feed.ID).Find(&articles).Error)
	require.NotEmpty(t, articles)
	setVector(t, db, articles[0].ID, []float32{1, 2, 3})

	require.NoError(t, svc.DeleteFeed(feed.ID))

	var articleCount, embeddingCount, feedCount int64
	db.Model(&model.Article{}).Where("feed_id = ?", feed.ID).Count(&articleCount)
	db.Model(&model.Embedding{}).Count(&embeddingCount)
	db.Model(&model.Feed{}).Count(&feedCount)

	assert.Zero(t, articleCount)
	assert.Zero(t, embeddingCount)
	assert.Zero(t, feedCount)
}

func TestDeleteFeedNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := newFeedService(db)

	assert.ErrorIs(t, svc.DeleteFeed(9999), ErrFeedNotFound)
}

func TestMarkAsRead(t *testing.T) {
	db := newTestDB(t)
	svc := newFeedService(db)

	feed := createTestFeed(t, db, "https://x/feed.xml")
	article := createTestArticle(t, db, feed.ID, "Hello", "https://x/1")

	require.NoError(t, svc.MarkAsRead(article.ID, true))

	var updated model.Article
	require.NoError(t, db.First(&updated, article.ID).Error)
	assert.True(t, updated.IsRead)

	require.NoError(t, svc.MarkAsRead(article.ID, false))
	require.NoError(t, db.First(&updated, article.ID).Error)
	assert.False(t, updated.IsRead)

	assert.ErrorIs(t, svc.MarkAsRead(9999, true), ErrArticleNotFound)
}

func TestToggleBookmark(t *testing.T) {
	db := newTestDB(t)
	svc := newFeedService(db)

	feed := createTestFeed(t, db, "https://x/feed.xml")
	article := createTestArticle(t, db, feed.ID, "Hello", "https://x/1")

	bookmarked, err := svc.ToggleBookmark(article.ID)
	require.NoError(t, err)
	assert.True(t, bookmarked)

	var updated model.Article
	require.NoError(t, db.First(&updated, article.ID).Error)
	assert.True(t, updated.IsBookmarked)
	assert.NotNil(t, updated.BookmarkedAt)

	bookmarked, err = svc.ToggleBookmark(article.ID)
	require.NoError(t, err)
	assert.False(t, bookmarked)

	updated = model.Article{}
	require.NoError(t, db.First(&updated, article.ID).Error)
	assert.False(t, updated.IsBookmarked)
	assert.Nil(t, updated.BookmarkedAt)

	_, err = svc.ToggleBookmark(9999)
	assert.ErrorIs(t, err, ErrArticleNotFound)
}

func TestBackgroundEmbeddings(t *testing.T) {
	var body atomic.Value
	body.Store(`<rss version="2.0"><channel><title>X</title>
		<item><title>One</title><link>https://x/1</link></item>
		</channel></rss>`)
	server := feedServer(&body)
	defer server.Close()

	db := newTestDB(t)
	svc := newFeedService(db)

	feed, err := svc.AddFeed(context.Background(), server.URL)
	require.NoError(t, err)

	// 订阅返回时向量不保证已生成,这是刻意的空窗
	deadline := time.Now().Add(3 * time.Second)
	for {
		var count int64
		db.Model(&model.Embedding{}).Count(&count)
		if count == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("embedding for feed %d was never generated", feed.ID)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
