package service

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"
	"go-reader/internal/model"
	"gorm.io/gorm"
)

const (
	// 归一化编辑距离超过这个值视为不匹配
	matchTolerance = 0.3
	// 参与匹配的最小词长
	minMatchLength = 2
	// 高亮片段向两侧扩展的字符数
	snippetWindow = 50
	// 每条结果最多带几条高亮片段
	maxHighlights = 3
)

// 各字段的检索权重,标题最高;权重只参与排序,不进入报告的得分
var searchFields = []struct {
	Weight float64
	Value  func(*model.Article) string
}{
	{2.0, func(a *model.Article) string { return a.Title }},
	{1.5, func(a *model.Article) string { return a.Description }},
	{1.0, func(a *model.Article) string { return a.Content }},
	{0.5, func(a *model.Article) string { return a.Author }},
}

type SearchService struct {
	db        *gorm.DB
	embedding *EmbeddingService
}

type SearchResult struct {
	Article    model.Article `json:"article"`
	Score      float64       `json:"score"`
	Highlights []string      `json:"highlights,omitempty"`
}

func NewSearchService(db *gorm.DB, embedding *EmbeddingService) *SearchService {
	return &SearchService{
		db:        db,
		embedding: embedding,
	}
}

// Fulltext 加权模糊全文检索
// 得分为1-归一化编辑距离,任一字段完全命中都得1;
// 字段权重只决定排序先后,没有命中返回空列表
func (s *SearchService) Fulltext(query string, articles []model.Article, limit int) []SearchResult {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return []SearchResult{}
	}

	type rankedResult struct {
		SearchResult
		rank float64
	}

	ranked := make([]rankedResult, 0)
	for i := range articles {
		article := &articles[i]

		var bestScore, bestRank float64
		var matchedTexts []string

		for _, field := range searchFields {
			text := field.Value(article)
			if text == "" {
				continue
			}

			distance, ok := fieldDistance(tokens, text)
			if !ok {
				continue
			}

			matchedTexts = append(matchedTexts, text)
			score := 1 - distance
			if rank := score * field.Weight; rank > bestRank {
				bestRank = rank
				bestScore = score
			}
		}

		if bestRank <= 0 {
			continue
		}

		ranked = append(ranked, rankedResult{
			SearchResult: SearchResult{
				Article:    *article,
				Score:      bestScore,
				Highlights: highlightSnippets(matchedTexts, tokens),
			},
			rank: bestRank,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].rank > ranked[j].rank
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	results := make([]SearchResult, 0, len(ranked))
	for _, r := range ranked {
		results = append(results, r.SearchResult)
	}

	return results
}

// Semantic 语义检索:查询向量与文章向量的余弦相似度排序
// 没有向量的文章直接跳过,检索路径里不现场生成向量
func (s *SearchService) Semantic(ctx context.Context, query string, articles []model.Article, limit int) []SearchResult {
	queryVector := s.embedding.Embed(ctx, query)

	var embeddings []model.Embedding
	s.db.Find(&embeddings)
	vectors := lo.SliceToMap(embeddings, func(e model.Embedding) (uint, []float32) {
		return e.ArticleID, e.Vector
	})

	results := make([]SearchResult, 0, len(articles))
	for i := range articles {
		vector, ok := vectors[articles[i].ID]
		if !ok {
			continue
		}
		results = append(results, SearchResult{
			Article: articles[i],
			Score:   Cosine(queryVector, vector),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results
}

// queryTokens 拆分查询词,过滤过短的词
func queryTokens(query string) []string {
	words := splitWords(query)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if len([]rune(word)) >= minMatchLength {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

// fieldDistance 各查询词在字段内最优归一化编辑距离的平均值
func fieldDistance(tokens []string, text string) (float64, bool) {
	words := splitWords(text)
	if len(words) == 0 {
		return 0, false
	}

	var total float64
	for _, token := range tokens {
		best := 1.0
		for _, word := range words {
			if d := normalizedDistance(token, word); d < best {
				best = d
			}
		}
		total += best
	}

	mean := total / float64(len(tokens))
	return mean, mean <= matchTolerance
}

func normalizedDistance(a, b string) float64 {
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1
	}
	return float64(fuzzy.LevenshteinDistance(a, b)) / float64(longest)
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// highlightSnippets 取每个命中词首次出现位置前后的片段,最多maxHighlights条
// 全程按rune定位和截取,窗口按字符数,多字节字符不会被截半
func highlightSnippets(texts []string, tokens []string) []string {
	var snippets []string
	for _, text := range texts {
		runes := []rune(text)
		lower := make([]rune, len(runes))
		for i, r := range runes {
			lower[i] = unicode.ToLower(r)
		}

		for _, token := range tokens {
			idx := runeIndex(lower, []rune(token))
			if idx < 0 {
				continue
			}

			start := idx - snippetWindow
			if start < 0 {
				start = 0
			}
			end := idx + len([]rune(token)) + snippetWindow
			if end > len(runes) {
				end = len(runes)
			}

			snippet := string(runes[start:end])
			if start > 0 {
				snippet = "..." + snippet
			}
			if end < len(runes) {
				snippet = snippet + "..."
			}

			snippets = append(snippets, snippet)
			if len(snippets) >= maxHighlights {
				return snippets
			}
		}
	}
	return snippets
}

// runeIndex needle在haystack里首次出现的rune下标,找不到返回-1
func runeIndex(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
