package service

import (
	"context"
	"strconv"

	"github.com/samber/lo"
	"go-reader/internal/model"
	"gorm.io/gorm"
)

const (
	// MinCategoryExamples 分类生效所需的最少示例文章数
	MinCategoryExamples = 3
	// DefaultConfidenceThreshold 自动归类的默认置信度阈值
	DefaultConfidenceThreshold = 0.6
)

type ClassifierService struct {
	db        *gorm.DB
	embedding *EmbeddingService
}

type ClassificationResult struct {
	CategoryID uint    `json:"category_id"`
	Confidence float64 `json:"confidence"`
}

func NewClassifierService(db *gorm.DB, embedding *EmbeddingService) *ClassifierService {
	return &ClassifierService{db: db, embedding: embedding}
}

// Threshold 当前置信度阈值,可在设置里调整
func (s *ClassifierService) Threshold() float64 {
	var config model.Config
	s.db.Where("key = ?", model.ConfigConfidenceThreshold).First(&config)

	if v, err := strconv.ParseFloat(config.Value, 64); err == nil {
		return v
	}
	return DefaultConfidenceThreshold
}

// ClassifyArticle 给单篇文章挑选最匹配的分类
// 取文章向量与各分类示例向量相似度的平均值,示例不足3篇的分类不参与;
// 最高平均值达到阈值才算归类成功,否则返回nil
func (s *ClassifierService) ClassifyArticle(ctx context.Context, article *model.Article, categories []model.Category, vectors map[uint][]float32) *ClassificationResult {
	articleVector := s.resolveVector(ctx, article.ID, vectors)
	if articleVector == nil {
		return nil
	}

	var best *ClassificationResult
	for _, category := range categories {
		exampleIDs := s.exampleArticleIDs(category.ID)
		if len(exampleIDs) < MinCategoryExamples {
			continue
		}

		var sum float64
		var matched int
		for _, exampleID := range exampleIDs {
			exampleVector := s.resolveVector(ctx, exampleID, vectors)
			if exampleVector == nil {
				continue
			}
			sum += Cosine(articleVector, exampleVector)
			matched++
		}
		if matched == 0 {
			continue
		}

		// 平均相似度即该分类的候选置信度,打平时先出现的分类胜出
		avg := sum / float64(matched)
		if best == nil || avg > best.Confidence {
			best = &ClassificationResult{CategoryID: category.ID, Confidence: avg}
		}
	}

	if best == nil || best.Confidence < s.Threshold() {
		return nil
	}

	return best
}

// Reclassify 批量重新分类,返回归类成功的数量
// 结果无条件覆盖已有归类:不达标的文章会被清空归类字段
func (s *ClassifierService) Reclassify(ctx context.Context, articles []model.Article, categories []model.Category) (int, error) {
	vectors := s.loadVectors()

	assigned := 0
	for i := range articles {
		select {
		case <-ctx.Done():
			return assigned, ctx.Err()
		default:
		}

		result := s.ClassifyArticle(ctx, &articles[i], categories, vectors)

		updates := map[string]interface{}{
			"category_id":         nil,
			"category_confidence": nil,
		}
		if result != nil {
			updates["category_id"] = result.CategoryID
			updates["category_confidence"] = result.Confidence
			assigned++
		}

		if err := s.db.Model(&model.Article{}).Where("id = ?", articles[i].ID).Updates(updates).Error; err != nil {
			return assigned, err
		}
	}

	return assigned, nil
}

// resolveVector 取文章向量:先查缓存,再查库,最后现场生成并落库
func (s *ClassifierService) resolveVector(ctx context.Context, articleID uint, vectors map[uint][]float32) []float32 {
	if vector, ok := vectors[articleID]; ok {
		return vector
	}

	var embedding model.Embedding
	if err := s.db.Where("article_id = ?", articleID).First(&embedding).Error; err == nil {
		vectors[articleID] = embedding.Vector
		return embedding.Vector
	}

	var article model.Article
	if err := s.db.First(&article, articleID).Error; err != nil {
		return nil
	}

	vector := s.embedding.EmbedArticle(ctx, &article)
	s.db.Create(&model.Embedding{ArticleID: articleID, Vector: vector})
	vectors[articleID] = vector

	return vector
}

func (s *ClassifierService) exampleArticleIDs(categoryID uint) []uint {
	var ids []uint
	s.db.Model(&model.CategoryExample{}).Where("category_id = ?", categoryID).
		Order("id").Pluck("article_id", &ids)
	return ids
}

// loadVectors 一次性加载全部已有向量,批量分类时避免逐条查库
func (s *ClassifierService) loadVectors() map[uint][]float32 {
	var embeddings []model.Embedding
	s.db.Find(&embeddings)
	return lo.SliceToMap(embeddings, func(e model.Embedding) (uint, []float32) {
		return e.ArticleID, e.Vector
	})
}
