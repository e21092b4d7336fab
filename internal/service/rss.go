package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/mmcdole/gofeed/rss"

	"go-reader/internal/model"
)

// 直接抓取失败时走的中转代理,返回 {"contents": "<原始内容>"}
const relayProxyURL = "https://api.allorigins.win/get?url="

type RSSService struct {
	client *http.Client
	proxy  string
}

// ParsedFeed 一次抓取的解析结果,去重由调用方负责
type ParsedFeed struct {
	Feed     model.Feed
	Articles []model.Article
}

func NewRSSService() *RSSService {
	return &RSSService{
		client: &http.Client{Timeout: 30 * time.Second},
		proxy:  relayProxyURL,
	}
}

// FetchFeed 抓取并解析一个Feed
func (s *RSSService) FetchFeed(ctx context.Context, feedURL string) (*ParsedFeed, error) {
	xmlText, err := s.fetchRaw(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	return s.ParseFeed(xmlText, feedURL)
}

// ParseFeed 识别格式并按对应语法解析
// 根元素是feed时按Atom处理,否则按RSS 2.0处理;两者都不是则直接失败
func (s *RSSService) ParseFeed(xmlText, feedURL string) (*ParsedFeed, error) {
	switch gofeed.DetectFeedType(strings.NewReader(xmlText)) {
	case gofeed.FeedTypeAtom:
		return s.parseAtom(xmlText, feedURL)
	case gofeed.FeedTypeRSS:
		return s.parseRSS(xmlText, feedURL)
	default:
		return nil, fmt.Errorf("无法识别的Feed格式: %s", feedURL)
	}
}

// fetchRaw 先直接抓取,失败后通过中转代理重试一次
func (s *RSSService) fetchRaw(ctx context.Context, feedURL string) (string, error) {
	body, directErr := s.get(ctx, feedURL)
	if directErr == nil {
		return body, nil
	}

	proxyBody, proxyErr := s.get(ctx, s.proxy+url.QueryEscape(feedURL))
	if proxyErr != nil {
		return "", fmt.Errorf("抓取Feed失败 %s: %v (代理: %v)", feedURL, directErr, proxyErr)
	}

	var wrapped struct {
		Contents string `json:"contents"`
	}
	if err := json.Unmarshal([]byte(proxyBody), &wrapped); err != nil {
		return "", fmt.Errorf("解析代理响应失败 %s: %v", feedURL, err)
	}

	return wrapped.Contents, nil
}

func (s *RSSService) get(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return string(body), nil
}

func (s *RSSService) parseRSS(xmlText, feedURL string) (*ParsedFeed, error) {
	parsed, err := (&rss.Parser{}).Parse(strings.NewReader(xmlText))
	if err != nil {
		return nil, fmt.Errorf("解析RSS失败: %v", err)
	}

	feed := model.Feed{
		URL:         feedURL,
		Title:       firstNonEmpty(parsed.Title, "Untitled Feed"),
		Description: strings.TrimSpace(parsed.Description),
		Link:        strings.TrimSpace(parsed.Link),
	}
	if parsed.Image != nil {
		feed.ImageURL = firstNonEmpty(parsed.Image.URL, parsed.Image.Link)
	}

	now := time.Now()
	articles := make([]model.Article, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		articles = append(articles, s.mapRSSItem(item, now))
	}

	return &ParsedFeed{Feed: feed, Articles: articles}, nil
}

func (s *RSSService) mapRSSItem(item *rss.Item, now time.Time) model.Article {
	var dcCreator, dcDate string
	if item.DublinCoreExt != nil {
		if len(item.DublinCoreExt.Creator) > 0 {
			dcCreator = item.DublinCoreExt.Creator[0]
		}
		if len(item.DublinCoreExt.Date) > 0 {
			dcDate = item.DublinCoreExt.Date[0]
		}
	}

	// 字段回退表: description <- description|content:encoded,content反向
	description := firstNonEmpty(item.Description, item.Content)
	content := firstNonEmpty(item.Content, item.Description)

	return model.Article{
		Title:       firstNonEmpty(item.Title, "Untitled"),
		Description: description,
		Content:     content,
		Link:        strings.TrimSpace(item.Link),
		Author:      firstNonEmpty(item.Author, dcCreator, item.Custom["creator"]),
		PublishedAt: parseDate(now, item.PubDateParsed, firstNonEmpty(item.PubDate, dcDate)),
		ImageURL:    rssItemImage(item, content),
	}
}

func (s *RSSService) parseAtom(xmlText, feedURL string) (*ParsedFeed, error) {
	parsed, err := (&atom.Parser{}).Parse(strings.NewReader(xmlText))
	if err != nil {
		return nil, fmt.Errorf("解析Atom失败: %v", err)
	}

	feed := model.Feed{
		URL:         feedURL,
		Title:       firstNonEmpty(parsed.Title, "Untitled Feed"),
		Description: strings.TrimSpace(parsed.Subtitle),
		Link:        atomLink(parsed.Links),
		ImageURL:    firstNonEmpty(parsed.Logo, parsed.Icon),
	}

	now := time.Now()
	articles := make([]model.Article, 0, len(parsed.Entries))
	for _, entry := range parsed.Entries {
		articles = append(articles, s.mapAtomEntry(entry, now))
	}

	return &ParsedFeed{Feed: feed, Articles: articles}, nil
}

func (s *RSSService) mapAtomEntry(entry *atom.Entry, now time.Time) model.Article {
	summary := strings.TrimSpace(entry.Summary)

	var content string
	if entry.Content != nil {
		content = strings.TrimSpace(entry.Content.Value)
	}
	content = firstNonEmpty(content, summary)

	var author string
	if len(entry.Authors) > 0 {
		author = strings.TrimSpace(entry.Authors[0].Name)
	}

	var published *time.Time
	if entry.PublishedParsed != nil {
		published = entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		published = entry.UpdatedParsed
	}

	return model.Article{
		Title:       firstNonEmpty(entry.Title, "Untitled"),
		Description: summary,
		Content:     content,
		Link:        atomLink(entry.Links),
		Author:      author,
		PublishedAt: parseDate(now, published, firstNonEmpty(entry.Published, entry.Updated)),
		ImageURL:    atomEntryImage(entry, content),
	}
}

// firstNonEmpty 按优先级返回第一个非空值,字段回退表保持数据驱动
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// parseDate 解析发布时间,解析不了或缺失时回退到抓取时间,从不返回零值
func parseDate(now time.Time, parsed *time.Time, raw string) time.Time {
	if parsed != nil {
		return *parsed
	}
	if raw != "" {
		if t, err := dateparse.ParseAny(raw); err == nil {
			return t
		}
	}
	return now
}

// rssItemImage 按media:content、enclosure、正文<img>的顺序取图
func rssItemImage(item *rss.Item, html string) string {
	if mediaURL := extensionAttr(item.Extensions, "media", "content", "url"); mediaURL != "" {
		return mediaURL
	}

	if item.Enclosure != nil && strings.HasPrefix(item.Enclosure.Type, "image") {
		return strings.TrimSpace(item.Enclosure.URL)
	}

	return firstImageSrc(html)
}

// atomEntryImage 与RSS走同一条取图链,enclosure在Atom里是rel=enclosure的link
func atomEntryImage(entry *atom.Entry, html string) string {
	if mediaURL := extensionAttr(entry.Extensions, "media", "content", "url"); mediaURL != "" {
		return mediaURL
	}

	for _, link := range entry.Links {
		if link.Rel == "enclosure" && strings.HasPrefix(link.Type, "image") {
			return strings.TrimSpace(link.Href)
		}
	}

	return firstImageSrc(html)
}

func extensionAttr(extensions ext.Extensions, prefix, name, attr string) string {
	for _, e := range extensions[prefix][name] {
		if v := strings.TrimSpace(e.Attrs[attr]); v != "" {
			return v
		}
	}
	return ""
}

// firstImageSrc 从正文HTML里提取第一张图片的地址
func firstImageSrc(html string) string {
	if html == "" || !strings.Contains(html, "<img") {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}

// atomLink 优先取rel为alternate的链接
func atomLink(links []*atom.Link) string {
	for _, link := range links {
		if link.Rel == "" || link.Rel == "alternate" {
			return strings.TrimSpace(link.Href)
		}
	}
	if len(links) > 0 {
		return strings.TrimSpace(links[0].Href)
	}
	return ""
}
