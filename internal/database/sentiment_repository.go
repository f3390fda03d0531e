package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/irfndi/correlation-regime-go/internal/models"
)

// DefaultHeadlinesPerTicker caps the example headlines returned per ticker.
const DefaultHeadlinesPerTicker = 5

const titleKeyLength = 50

// SentimentRepository reads scored news from the news_sentiment table.
type SentimentRepository struct {
	pool         DatabasePool
	maxHeadlines int
}

func NewSentimentRepository(pool DatabasePool, maxHeadlines int) *SentimentRepository {
	if maxHeadlines <= 0 {
		maxHeadlines = DefaultHeadlinesPerTicker
	}
	return &SentimentRepository{pool: pool, maxHeadlines: maxHeadlines}
}

const selectSentimentQuery = `
	SELECT ticker, title, url, source, snippet, published_at, score
	FROM news_sentiment
	WHERE ticker = ANY($1) AND published_at >= $2 AND published_at < $3
	ORDER BY ticker ASC, published_at DESC`

// LoadSentiment averages article scores per ticker after deduplication and
// keeps the newest headlines as examples. Tickers without news are absent.
func (r *SentimentRepository) LoadSentiment(ctx context.Context, tickers []string, start, end time.Time) (map[string]models.TickerSentiment, error) {
	rows, err := r.pool.Query(ctx, selectSentimentQuery, tickers, start, end.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to query news sentiment: %w", err)
	}
	defer rows.Close()

	type scored struct {
		item  models.NewsItem
		score float64
	}
	articles := make(map[string][]scored)
	for rows.Next() {
		var (
			ticker          string
			source, snippet *string
			s               scored
		)
		if err := rows.Scan(&ticker, &s.item.Title, &s.item.URL, &source, &snippet, &s.item.PublishedAt, &s.score); err != nil {
			return nil, fmt.Errorf("failed to scan sentiment row: %w", err)
		}
		if source != nil {
			s.item.Source = *source
		}
		if snippet != nil {
			s.item.Snippet = *snippet
		}
		articles[ticker] = append(articles[ticker], s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sentiment rows: %w", err)
	}

	out := make(map[string]models.TickerSentiment, len(articles))
	for ticker, list := range articles {
		kept := DedupeNews(list, func(a scored) models.NewsItem { return a.item })
		var (
			sum       float64
			headlines []models.NewsItem
		)
		for _, a := range kept {
			sum += a.score
			if len(headlines) < r.maxHeadlines {
				headlines = append(headlines, a.item)
			}
		}
		out[ticker] = models.TickerSentiment{
			Ticker:    ticker,
			Score:     sum / float64(len(kept)),
			Headlines: headlines,
		}
	}
	return out, nil
}

// DedupeNews drops repeated articles: first by URL, then by the first 50
// characters of the title, case-insensitively. Order is preserved. news
// extracts the article from each element.
func DedupeNews[T any](items []T, news func(T) models.NewsItem) []T {
	seen := newNewsDeduper()
	out := make([]T, 0, len(items))
	for _, item := range items {
		if seen.add(news(item)) {
			out = append(out, item)
		}
	}
	return out
}

type newsDeduper struct {
	urls   map[string]struct{}
	titles map[string]struct{}
}

func newNewsDeduper() *newsDeduper {
	return &newsDeduper{urls: map[string]struct{}{}, titles: map[string]struct{}{}}
}

func (d *newsDeduper) add(item models.NewsItem) bool {
	url := strings.TrimSpace(item.URL)
	title := titleKey(item.Title)
	if url != "" {
		if _, dup := d.urls[url]; dup {
			return false
		}
	}
	if title != "" {
		if _, dup := d.titles[title]; dup {
			return false
		}
	}
	if url != "" {
		d.urls[url] = struct{}{}
	}
	if title != "" {
		d.titles[title] = struct{}{}
	}
	return true
}

func titleKey(title string) string {
	runes := []rune(strings.ToLower(strings.TrimSpace(title)))
	if len(runes) > titleKeyLength {
		runes = runes[:titleKeyLength]
	}
	return string(runes)
}
