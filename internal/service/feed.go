package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/samber/lo"
	"go-reader/internal/model"
	"gorm.io/gorm"
)

// 订阅成功后延迟多久开始生成向量,调用方不等待生成完成
const embedDelay = 100 * time.Millisecond

var (
	ErrFeedExists   = errors.New("feed already subscribed")
	ErrFeedNotFound = errors.New("feed not found")
)

type FeedService struct {
	db        *gorm.DB
	rss       *RSSService
	embedding *EmbeddingService
}

func NewFeedService(db *gorm.DB, rss *RSSService, embedding *EmbeddingService) *FeedService {
	return &FeedService{
		db:        db,
		rss:       rss,
		embedding: embedding,
	}
}

// AddFeed 订阅一个Feed并拉取全部文章
// 同一个源地址只能订阅一次,重复订阅直接报错
func (s *FeedService) AddFeed(ctx context.Context, feedURL string) (*model.Feed, error) {
	var count int64
	s.db.Model(&model.Feed{}).Where("url = ?", feedURL).Count(&count)
	if count > 0 {
		return nil, ErrFeedExists
	}

	parsed, err := s.rss.FetchFeed(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	feed := parsed.Feed
	feed.LastFetched = &now

	if err := s.db.Create(&feed).Error; err != nil {
		return nil, err
	}

	articles := dedupeArticles(parsed.Articles, map[string]struct{}{}, feed.ID)
	if len(articles) > 0 {
		if err := s.db.Create(&articles).Error; err != nil {
			return nil, err
		}
	}

	s.scheduleEmbeddings(articles)

	return &feed, nil
}

// DeleteFeed 删除订阅,级联删除文章和文章向量
func (s *FeedService) DeleteFeed(id uint) error {
	var feed model.Feed
	if err := s.db.First(&feed, id).Error; err != nil {
		return ErrFeedNotFound
	}

	var articleIDs []uint
	s.db.Model(&model.Article{}).Where("feed_id = ?", id).Pluck("id", &articleIDs)

	if len(articleIDs) > 0 {
		s.db.Where("article_id IN ?", articleIDs).Delete(&model.Embedding{})
		s.db.Where("article_id IN ?", articleIDs).Delete(&model.CategoryExample{})
	}

	s.db.Where("feed_id = ?", id).Delete(&model.Article{})

	return s.db.Delete(&model.Feed{}, id).Error
}

// RefreshFeed 重新抓取一个Feed,返回新文章数量
// 按(feed_id, link)去重,已有的文章不会重复入库
func (s *FeedService) RefreshFeed(ctx context.Context, id uint) (int, error) {
	var feed model.Feed
	if err := s.db.First(&feed, id).Error; err != nil {
		return 0, ErrFeedNotFound
	}

	parsed, err := s.rss.FetchFeed(ctx, feed.URL)
	if err != nil {
		return 0, err
	}

	var links []string
	s.db.Model(&model.Article{}).Where("feed_id = ?", feed.ID).Pluck("link", &links)
	seen := lo.SliceToMap(links, func(link string) (string, struct{}) {
		return link, struct{}{}
	})

	fresh := dedupeArticles(parsed.Articles, seen, feed.ID)
	if len(fresh) > 0 {
		if err := s.db.Create(&fresh).Error; err != nil {
			return 0, err
		}
		s.scheduleEmbeddings(fresh)
	}

	now := time.Now()
	s.db.Model(&feed).Update("last_fetched", &now)

	return len(fresh), nil
}

// RefreshAllFeeds 逐个刷新全部订阅
// 单个Feed失败记为0条新文章,不影响其余Feed
func (s *FeedService) RefreshAllFeeds(ctx context.Context) map[uint]int {
	var feeds []model.Feed
	s.db.Find(&feeds)

	results := make(map[uint]int, len(feeds))
	for _, feed := range feeds {
		count, err := s.RefreshFeed(ctx, feed.ID)
		if err != nil {
			log.Printf("[Feed] 刷新失败 id=%d url=%s: %v", feed.ID, feed.URL, err)
			results[feed.ID] = 0
			continue
		}
		results[feed.ID] = count
	}

	return results
}

// MarkAsRead 标记已读/未读
func (s *FeedService) MarkAsRead(id uint, isRead bool) error {
	result := s.db.Model(&model.Article{}).Where("id = ?", id).Update("is_read", isRead)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrArticleNotFound
	}
	return nil
}

// ToggleBookmark 切换收藏状态,返回切换后的状态
func (s *FeedService) ToggleBookmark(id uint) (bool, error) {
	var article model.Article
	if err := s.db.First(&article, id).Error; err != nil {
		return false, ErrArticleNotFound
	}

	article.IsBookmarked = !article.IsBookmarked
	if article.IsBookmarked {
		now := time.Now()
		article.BookmarkedAt = &now
	} else {
		article.BookmarkedAt = nil
	}

	updates := map[string]interface{}{
		"is_bookmarked": article.IsBookmarked,
		"bookmarked_at": article.BookmarkedAt,
	}

	return article.IsBookmarked, s.db.Model(&article).Updates(updates).Error
}

// ArticlesByFeed 按发布时间倒序返回某个Feed的文章
func (s *FeedService) ArticlesByFeed(feedID uint) ([]model.Article, error) {
	var articles []model.Article
	err := s.db.Where("feed_id = ?", feedID).Order("published_at DESC").Find(&articles).Error
	return articles, err
}

// UnreadArticles 未读文章
func (s *FeedService) UnreadArticles() ([]model.Article, error) {
	var articles []model.Article
	err := s.db.Where("is_read = ?", false).Order("published_at DESC").Find(&articles).Error
	return articles, err
}

// BookmarkedArticles 收藏文章,按收藏时间倒序
func (s *FeedService) BookmarkedArticles() ([]model.Article, error) {
	var articles []model.Article
	err := s.db.Where("is_bookmarked = ?", true).Order("bookmarked_at DESC").Find(&articles).Error
	return articles, err
}

// scheduleEmbeddings 延迟异步生成向量
// 订阅/刷新返回时向量不一定已生成,语义搜索允许这个短暂的空窗
func (s *FeedService) scheduleEmbeddings(articles []model.Article) {
	if len(articles) == 0 {
		return
	}

	ids := lo.Map(articles, func(a model.Article, _ int) uint { return a.ID })

	time.AfterFunc(embedDelay, func() {
		ctx := context.Background()
		for _, id := range ids {
			if err := s.embedding.EnsureEmbedding(ctx, id); err != nil {
				log.Printf("[Embed] 生成向量失败 article=%d: %v", id, err)
			}
		}
	})
}

// dedupeArticles 过滤掉链接已存在的文章,同一批内重复链接也只保留一条
func dedupeArticles(articles []model.Article, seen map[string]struct{}, feedID uint) []model.Article {
	fresh := make([]model.Article, 0, len(articles))
	for _, article := range articles {
		if article.Link == "" {
			continue
		}
		if _, ok := seen[article.Link]; ok {
			continue
		}
		seen[article.Link] = struct{}{}
		article.FeedID = feedID
		fresh = append(fresh, article)
	}
	return fresh
}
