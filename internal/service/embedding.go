package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"

	"go-reader/internal/model"
	"gorm.io/gorm"
)

const (
	// EmbeddingDimension 与text-embedding-3-small保持一致
	EmbeddingDimension = 1536
	// 发送给向量接口的文本长度上限(按字符截断)
	embeddingInputLimit = 8000
)

var ErrArticleNotFound = errors.New("article not found")

type EmbeddingService struct {
	db     *gorm.DB
	client *http.Client
}

type EmbeddingConfig struct {
	ApiURL string
	ApiKey string
	Model  string
}

type EmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type EmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func NewEmbeddingService(db *gorm.DB) *EmbeddingService {
	return &EmbeddingService{
		db:     db,
		client: &http.Client{},
	}
}

// GetConfig 获取向量接口配置
func (s *EmbeddingService) GetConfig() *EmbeddingConfig {
	configs := make(map[string]string)
	var items []model.Config
	s.db.Find(&items)

	for _, item := range items {
		configs[item.Key] = item.Value
	}

	cfg := &EmbeddingConfig{
		ApiURL: configs[model.ConfigEmbeddingApiURL],
		ApiKey: configs[model.ConfigEmbeddingApiKey],
		Model:  configs[model.ConfigEmbeddingModel],
	}

	if cfg.ApiURL == "" {
		cfg.ApiURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}

	return cfg
}

// Embed 生成文本向量
// 没有配置密钥时使用本地确定性向量;接口出错时同样回退,永远不会失败
func (s *EmbeddingService) Embed(ctx context.Context, text string) []float32 {
	text = truncateRunes(text, embeddingInputLimit)

	cfg := s.GetConfig()
	if cfg.ApiKey == "" {
		return mockEmbedding(text)
	}

	vector, err := s.requestEmbedding(ctx, cfg, text)
	if err != nil {
		log.Printf("[Embed] 调用向量接口失败,回退本地向量: %v", err)
		return mockEmbedding(text)
	}

	return vector
}

// EmbedArticle 生成文章向量,拼接标题、摘要和正文
func (s *EmbeddingService) EmbedArticle(ctx context.Context, article *model.Article) []float32 {
	text := strings.TrimSpace(article.Title + " " + article.Description + " " + article.Content)
	return s.Embed(ctx, text)
}

// EnsureEmbedding 确保文章向量存在,已存在时不重复生成
func (s *EmbeddingService) EnsureEmbedding(ctx context.Context, articleID uint) error {
	var count int64
	s.db.Model(&model.Embedding{}).Where("article_id = ?", articleID).Count(&count)
	if count > 0 {
		return nil
	}

	var article model.Article
	if err := s.db.First(&article, articleID).Error; err != nil {
		return ErrArticleNotFound
	}

	vector := s.EmbedArticle(ctx, &article)

	// 写入前再查一次,压缩并发触发时的重复计算窗口
	s.db.Model(&model.Embedding{}).Where("article_id = ?", articleID).Count(&count)
	if count > 0 {
		return nil
	}

	return s.db.Create(&model.Embedding{ArticleID: articleID, Vector: vector}).Error
}

// EmbedMissing 为还没有向量的文章补齐向量
func (s *EmbeddingService) EmbedMissing(ctx context.Context, limit int) (int, error) {
	var articles []model.Article
	s.db.Where("id NOT IN (?)", s.db.Model(&model.Embedding{}).Select("article_id")).
		Order("created_at DESC").
		Limit(limit).
		Find(&articles)

	count := 0
	for _, article := range articles {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		default:
		}

		if err := s.EnsureEmbedding(ctx, article.ID); err != nil {
			log.Printf("[Embed] 生成向量失败 article=%d: %v", article.ID, err)
			continue
		}
		count++
	}

	return count, nil
}

// TestConnection 测试向量接口连接
func (s *EmbeddingService) TestConnection(ctx context.Context) (int, error) {
	cfg := s.GetConfig()

	if cfg.ApiKey == "" {
		return 0, fmt.Errorf("API密钥未配置")
	}

	vector, err := s.requestEmbedding(ctx, cfg, "Hi")
	if err != nil {
		return 0, err
	}

	return len(vector), nil
}

func (s *EmbeddingService) requestEmbedding(ctx context.Context, cfg *EmbeddingConfig, text string) ([]float32, error) {
	reqBody := EmbeddingRequest{
		Model: cfg.Model,
		Input: text,
	}

	jsonBody, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST",
		cfg.ApiURL+"/embeddings", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.ApiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API返回错误 (%d): %s", resp.StatusCode, string(body))
	}

	var embResp EmbeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %v", err)
	}

	if len(embResp.Data) == 0 {
		return nil, fmt.Errorf("no embedding in response")
	}

	return embResp.Data[0].Embedding, nil
}

// mockEmbedding 基于滚动哈希生成确定性伪向量,相同文本恒得到相同向量
func mockEmbedding(text string) []float32 {
	var hash int32
	for _, r := range text {
		hash = hash*31 + int32(r)
	}

	seed := float64(hash)
	if seed < 0 {
		seed = -seed
	}

	vector := make([]float32, EmbeddingDimension)
	var norm float64
	for i := range vector {
		x := math.Sin(seed+float64(i)) * 10000
		v := x - math.Floor(x)
		vector[i] = float32(v)
		norm += v * v
	}

	// L2归一化
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vector
	}
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / norm)
	}

	return vector
}

// Cosine 余弦相似度,取值[-1, 1]
// 长度不一致或任一向量为零向量时返回0,调用方无需处理退化情况
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// truncateRunes 按字符数截断,避免把多字节字符截成半个
func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
