package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"go-reader/config"
	"go-reader/internal/service"
)

type Scheduler struct {
	cron         *cron.Cron
	feed         *service.FeedService
	embedding    *service.EmbeddingService
	config       config.CronConfig
	fetchEntryID cron.EntryID
	embedEntryID cron.EntryID
}

func NewScheduler(feed *service.FeedService, embedding *service.EmbeddingService, cfg config.CronConfig) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		feed:      feed,
		embedding: embedding,
		config:    cfg,
	}
}

func (s *Scheduler) Start() {
	// RSS刷新任务
	s.fetchEntryID, _ = s.cron.AddFunc(s.config.FetchInterval, func() {
		log.Println("[Cron] Refreshing feeds...")
		s.feed.RefreshAllFeeds(context.Background())
	})

	// 向量补齐任务
	s.embedEntryID, _ = s.cron.AddFunc(s.config.EmbedInterval, func() {
		log.Println("[Cron] Embedding articles...")
		s.embedding.EmbedMissing(context.Background(), 20)
	})

	s.cron.Start()
	log.Printf("[Cron] Scheduler started (fetch: %s, embed: %s)", s.config.FetchInterval, s.config.EmbedInterval)
}

// GetNextFetchTime 获取下次刷新时间
func (s *Scheduler) GetNextFetchTime() time.Time {
	entry := s.cron.Entry(s.fetchEntryID)
	return entry.Next
}

// GetNextEmbedTime 获取下次向量补齐时间
func (s *Scheduler) GetNextEmbedTime() time.Time {
	entry := s.cron.Entry(s.embedEntryID)
	return entry.Next
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}
