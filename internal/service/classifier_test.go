package service

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-reader/internal/model"
	"gorm.io/gorm"
)

type classifierFixture struct {
	db         *gorm.DB
	classifier *ClassifierService
	feed       *model.Feed
}

func newClassifierFixture(t *testing.T) *classifierFixture {
	db := newTestDB(t)
	return &classifierFixture{
		db:         db,
		classifier: NewClassifierService(db, NewEmbeddingService(db)),
		feed:       createTestFeed(t, db, "https://x/feed.xml"),
	}
}

// addCategory 建一个分类并挂上带指定向量的示例文章
func (f *classifierFixture) addCategory(t *testing.T, name string, vectors ...[]float32) *model.Category {
	t.Helper()

	category := &model.Category{Name: name}
	require.NoError(t, f.db.Create(category).Error)

	for i, vector := range vectors {
		article := createTestArticle(t, f.db, f.feed.ID,
			name+"-example-"+strconv.Itoa(i), "https://x/"+name+"/"+strconv.Itoa(i))
		setVector(t, f.db, article.ID, vector)
		require.NoError(t, f.db.Create(&model.CategoryExample{
			CategoryID: category.ID,
			ArticleID:  article.ID,
		}).Error)
	}

	return category
}

func (f *classifierFixture) categories(t *testing.T) []model.Category {
	t.Helper()

	var categories []model.Category
	require.NoError(t, f.db.Order("id").Find(&categories).Error)
	return categories
}

func TestClassifyPerfectMatch(t *testing.T) {
	f := newClassifierFixture(t)

	vector := []float32{1, 0, 0}
	f.addCategory(t, "Tech", vector, vector, vector)

	article := createTestArticle(t, f.db, f.feed.ID, "New Article", "https://x/new")
	setVector(t, f.db, article.ID, vector)

	result := f.classifier.ClassifyArticle(context.Background(), article, f.categories(t), f.classifier.loadVectors())

	require.NotNil(t, result)
	assert.InDelta(t, 1.0, result.Confidence, 1e-6)
}

func TestClassifyTwoExamplesNeverAssigned(t *testing.T) {
	f := newClassifierFixture(t)

	// 只有2篇示例,即便完全相似也不参与分类
	vector := []float32{1, 0, 0}
	f.addCategory(t, "Tech", vector, vector)

	article := createTestArticle(t, f.db, f.feed.ID, "New Article", "https://x/new")
	setVector(t, f.db, article.ID, vector)

	result := f.classifier.ClassifyArticle(context.Background(), article, f.categories(t), f.classifier.loadVectors())
	assert.Nil(t, result)
}

func TestClassifyBelowThreshold(t *testing.T) {
	f := newClassifierFixture(t)

	// 示例与文章正交,平均相似度0,低于阈值
	orthogonal := []float32{0, 1, 0}
	f.addCategory(t, "Tech", orthogonal, orthogonal, orthogonal)

	article := createTestArticle(t, f.db, f.feed.ID, "New Article", "https://x/new")
	setVector(t, f.db, article.ID, []float32{1, 0, 0})

	result := f.classifier.ClassifyArticle(context.Background(), article, f.categories(t), f.classifier.loadVectors())
	assert.Nil(t, result)
}

func TestClassifyConfigurableThreshold(t *testing.T) {
	f := newClassifierFixture(t)

	same := []float32{1, 0}
	other := []float32{0, 1}
	// 平均相似度 (1+1+0)/3 ≈ 0.667
	f.addCategory(t, "Tech", same, same, other)

	article := createTestArticle(t, f.db, f.feed.ID, "New Article", "https://x/new")
	setVector(t, f.db, article.ID, same)

	// 默认阈值0.6,0.667够
	result := f.classifier.ClassifyArticle(context.Background(), article, f.categories(t), f.classifier.loadVectors())
	require.NotNil(t, result)
	assert.InDelta(t, 2.0/3.0, result.Confidence, 1e-6)

	// 调高阈值后同样的相似度不再达标
	setConfig(t, f.db, model.ConfigConfidenceThreshold, "0.9")
	result = f.classifier.ClassifyArticle(context.Background(), article, f.categories(t), f.classifier.loadVectors())
	assert.Nil(t, result)
}

func TestClassifyTieFirstSeenWins(t *testing.T) {
	f := newClassifierFixture(t)

	vector := []float32{1, 0, 0}
	first := f.addCategory(t, "First", vector, vector, vector)
	f.addCategory(t, "Second", vector, vector, vector)

	article := createTestArticle(t, f.db, f.feed.ID, "New Article", "https://x/new")
	setVector(t, f.db, article.ID, vector)

	result := f.classifier.ClassifyArticle(context.Background(), article, f.categories(t), f.classifier.loadVectors())

	require.NotNil(t, result)
	assert.Equal(t, first.ID, result.CategoryID)
}

func TestClassifySynthesizesMissingVector(t *testing.T) {
	f := newClassifierFixture(t)

	// 文章本身没有向量,分类时现场生成并落库
	text := "fresh article body"
	vector := mockEmbedding("Fresh Article " + text)
	f.addCategory(t, "Tech", vector, vector, vector)

	article := &model.Article{
		FeedID:      f.feed.ID,
		Title:       "Fresh Article",
		Description: text,
		Link:        "https://x/fresh",
	}
	require.NoError(t, f.db.Create(article).Error)

	result := f.classifier.ClassifyArticle(context.Background(), article, f.categories(t), f.classifier.loadVectors())

	require.NotNil(t, result)
	assert.InDelta(t, 1.0, result.Confidence, 1e-6)

	var count int64
	f.db.Model(&model.Embedding{}).Where("article_id = ?", article.ID).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestReclassifyAssignsAndOverwrites(t *testing.T) {
	f := newClassifierFixture(t)

	vector := []float32{1, 0, 0}
	category := f.addCategory(t, "Tech", vector, vector, vector)

	article := createTestArticle(t, f.db, f.feed.ID, "New Article", "https://x/new")
	setVector(t, f.db, article.ID, vector)

	var articles []model.Article
	require.NoError(t, f.db.Where("id = ?", article.ID).Find(&articles).Error)

	assigned, err := f.classifier.Reclassify(context.Background(), articles, f.categories(t))
	require.NoError(t, err)
	assert.Equal(t, 1, assigned)

	var updated model.Article
	require.NoError(t, f.db.First(&updated, article.ID).Error)
	require.NotNil(t, updated.CategoryID)
	assert.Equal(t, category.ID, *updated.CategoryID)
	require.NotNil(t, updated.CategoryConfidence)
	assert.InDelta(t, 1.0, *updated.CategoryConfidence, 1e-6)
}

func TestReclassifyEmptyCategoriesClears(t *testing.T) {
	f := newClassifierFixture(t)

	article := createTestArticle(t, f.db, f.feed.ID, "Old Article", "https://x/old")
	setVector(t, f.db, article.ID, []float32{1, 0, 0})

	// 先塞一个旧归类
	categoryID := uint(42)
	confidence := 0.8
	require.NoError(t, f.db.Model(&model.Article{}).Where("id = ?", article.ID).Updates(map[string]interface{}{
		"category_id":         categoryID,
		"category_confidence": confidence,
	}).Error)

	var articles []model.Article
	require.NoError(t, f.db.Find(&articles).Error)

	assigned, err := f.classifier.Reclassify(context.Background(), articles, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, assigned)

	var updated model.Article
	require.NoError(t, f.db.First(&updated, article.ID).Error)
	assert.Nil(t, updated.CategoryID)
	assert.Nil(t, updated.CategoryConfidence)
}
