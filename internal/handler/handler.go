package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go-reader/internal/model"
	"go-reader/internal/service"
	"gorm.io/gorm"
)

type Handler struct {
	db         *gorm.DB
	feed       *service.FeedService
	embedding  *service.EmbeddingService
	search     *service.SearchService
	classifier *service.ClassifierService
	status     *service.StatusService
	scheduler  interface {
		GetNextFetchTime() time.Time
		GetNextEmbedTime() time.Time
	}
}

func NewHandler(db *gorm.DB) *Handler {
	embedding := service.NewEmbeddingService(db)
	return &Handler{
		db:         db,
		feed:       service.NewFeedService(db, service.NewRSSService(), embedding),
		embedding:  embedding,
		search:     service.NewSearchService(db, embedding),
		classifier: service.NewClassifierService(db, embedding),
		status:     service.NewStatusService(db),
	}
}

// SetScheduler 设置调度器引用
func (h *Handler) SetScheduler(scheduler interface {
	GetNextFetchTime() time.Time
	GetNextEmbedTime() time.Time
}) {
	h.scheduler = scheduler
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// Feeds
		api.GET("/feeds", h.ListFeeds)
		api.POST("/feeds", h.AddFeed)
		api.DELETE("/feeds/:id", h.DeleteFeed)
		api.POST("/feeds/:id/refresh", h.RefreshFeed)
		api.POST("/feeds/refresh", h.RefreshAllFeeds)

		// Articles
		api.GET("/articles", h.ListArticles)
		api.POST("/articles/:id/read", h.MarkAsRead)
		api.POST("/articles/:id/bookmark", h.ToggleBookmark)

		// Search
		api.GET("/search", h.Search)

		// Categories
		api.GET("/categories", h.ListCategories)
		api.POST("/categories", h.CreateCategory)
		api.DELETE("/categories/:id", h.DeleteCategory)
		api.POST("/categories/:id/examples", h.AddCategoryExamples)
		api.POST("/classify", h.Reclassify)

		// Config
		api.GET("/config", h.GetConfig)
		api.POST("/config", h.SaveConfig)
		api.POST("/embedding/test", h.TestEmbedding)

		// Status
		api.GET("/status", h.GetStatus)
	}
}

// ===== Feed相关 =====

func (h *Handler) ListFeeds(c *gin.Context) {
	var feeds []model.Feed
	h.db.Order("created_at").Find(&feeds)
	c.JSON(http.StatusOK, feeds)
}

func (h *Handler) AddFeed(c *gin.Context) {
	var input struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	feed, err := h.feed.AddFeed(c.Request.Context(), input.URL)
	if err != nil {
		if errors.Is(err, service.ErrFeedExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "feed already subscribed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, feed)
}

func (h *Handler) DeleteFeed(c *gin.Context) {
	id, _ := strconv.Atoi(c.Param("id"))

	if err := h.feed.DeleteFeed(uint(id)); err != nil {
		if errors.Is(err, service.ErrFeedNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *Handler) RefreshFeed(c *gin.Context) {
	id, _ := strconv.Atoi(c.Param("id"))

	count, err := h.feed.RefreshFeed(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, service.ErrFeedNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"new_articles": count})
}

func (h *Handler) RefreshAllFeeds(c *gin.Context) {
	results := h.feed.RefreshAllFeeds(c.Request.Context())

	total := 0
	for _, count := range results {
		total += count
	}

	c.JSON(http.StatusOK, gin.H{"new_articles": total, "feeds": results})
}

// ===== Article相关 =====

func (h *Handler) ListArticles(c *gin.Context) {
	filter := c.Query("filter") // unread, bookmarked
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize := 20

	query := h.db.Model(&model.Article{}).Preload("Feed")

	if feedID, err := strconv.Atoi(c.Query("feed_id")); err == nil {
		query = query.Where("feed_id = ?", feedID)
	}
	if categoryID, err := strconv.Atoi(c.Query("category_id")); err == nil {
		query = query.Where("category_id = ?", categoryID)
	}

	switch filter {
	case "unread":
		query = query.Where("is_read = ?", false)
	case "bookmarked":
		query = query.Where("is_bookmarked = ?", true)
	}

	var total int64
	query.Count(&total)

	var articles []model.Article
	query.Order("published_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&articles)

	c.JSON(http.StatusOK, gin.H{
		"data":  articles,
		"total": total,
		"page":  page,
	})
}

func (h *Handler) MarkAsRead(c *gin.Context) {
	id, _ := strconv.Atoi(c.Param("id"))

	var input struct {
		IsRead *bool `json:"is_read"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	isRead := true
	if input.IsRead != nil {
		isRead = *input.IsRead
	}

	if err := h.feed.MarkAsRead(uint(id), isRead); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"is_read": isRead})
}

func (h *Handler) ToggleBookmark(c *gin.Context) {
	id, _ := strconv.Atoi(c.Param("id"))

	bookmarked, err := h.feed.ToggleBookmark(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"is_bookmarked": bookmarked})
}

// ===== 搜索相关 =====

func (h *Handler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	var articles []model.Article
	h.db.Find(&articles)

	var results []service.SearchResult
	switch c.DefaultQuery("type", "fulltext") {
	case "semantic":
		results = h.search.Semantic(c.Request.Context(), query, articles, limit)
	default:
		results = h.search.Fulltext(query, articles, limit)
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
}

// ===== 分类相关 =====

func (h *Handler) ListCategories(c *gin.Context) {
	var categories []model.Category
	h.db.Order("priority DESC, id").Find(&categories)

	type categoryWithCount struct {
		model.Category
		ExampleCount int64 `json:"example_count"`
	}

	result := make([]categoryWithCount, 0, len(categories))
	for _, category := range categories {
		var count int64
		h.db.Model(&model.CategoryExample{}).Where("category_id = ?", category.ID).Count(&count)
		result = append(result, categoryWithCount{Category: category, ExampleCount: count})
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) CreateCategory(c *gin.Context) {
	var category model.Category
	if err := c.ShouldBindJSON(&category); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.Create(&category).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, category)
}

func (h *Handler) DeleteCategory(c *gin.Context) {
	id, _ := strconv.Atoi(c.Param("id"))

	var category model.Category
	if err := h.db.First(&category, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
		return
	}

	// 删除分类时清掉成员文章的归类字段
	h.db.Model(&model.Article{}).Where("category_id = ?", id).
		Updates(map[string]interface{}{"category_id": nil, "category_confidence": nil})
	h.db.Where("category_id = ?", id).Delete(&model.CategoryExample{})
	h.db.Delete(&model.Category{}, id)

	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *Handler) AddCategoryExamples(c *gin.Context) {
	id, _ := strconv.Atoi(c.Param("id"))

	var category model.Category
	if err := h.db.First(&category, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
		return
	}

	var input struct {
		ArticleIDs []uint `json:"article_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	added := 0
	for _, articleID := range input.ArticleIDs {
		var article model.Article
		if err := h.db.First(&article, articleID).Error; err != nil {
			continue
		}

		example := model.CategoryExample{CategoryID: category.ID, ArticleID: articleID}
		result := h.db.Where("category_id = ? AND article_id = ?", category.ID, articleID).
			FirstOrCreate(&example)
		if result.RowsAffected > 0 {
			added++
		}
	}

	var total int64
	h.db.Model(&model.CategoryExample{}).Where("category_id = ?", category.ID).Count(&total)

	c.JSON(http.StatusOK, gin.H{"added": added, "example_count": total})
}

func (h *Handler) Reclassify(c *gin.Context) {
	var articles []model.Article
	h.db.Find(&articles)

	var categories []model.Category
	h.db.Order("priority DESC, id").Find(&categories)

	assigned, err := h.classifier.Reclassify(c.Request.Context(), articles, categories)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"classified": assigned, "total": len(articles)})
}

// ===== Config相关 =====

func (h *Handler) GetConfig(c *gin.Context) {
	var configs []model.Config
	h.db.Find(&configs)

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) SaveConfig(c *gin.Context) {
	var input map[string]string
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for key, value := range input {
		h.db.Where("key = ?", key).Assign(model.Config{Value: value}).FirstOrCreate(&model.Config{Key: key})
	}

	c.JSON(http.StatusOK, gin.H{"message": "saved"})
}

func (h *Handler) TestEmbedding(c *gin.Context) {
	dimension, err := h.embedding.TestConnection(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "连接成功",
		"dimension": dimension,
	})
}

// ===== Status相关 =====

func (h *Handler) GetStatus(c *gin.Context) {
	status, err := h.status.GetSystemStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// 添加定时任务信息
	if h.scheduler != nil {
		status.NextFetchTime = h.scheduler.GetNextFetchTime()
		status.NextEmbedTime = h.scheduler.GetNextEmbedTime()
	}

	c.JSON(http.StatusOK, status)
}
