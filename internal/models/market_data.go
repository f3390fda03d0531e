package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one daily close of a ticker.
type PricePoint struct {
	Ticker string          `json:"ticker" db:"ticker"`
	Date   time.Time       `json:"date" db:"trade_date"`
	Close  decimal.Decimal `json:"close" db:"adj_close"`
}

// NewsItem is a headline that supports a sentiment score. It is displayed,
// never used numerically.
type NewsItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Snippet     string    `json:"snippet,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// TickerSentiment is the aggregated news sentiment of one ticker over a lookback window.
type TickerSentiment struct {
	Ticker    string     `json:"ticker"`
	Score     float64    `json:"score"`
	Headlines []NewsItem `json:"headlines"`
}
