package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/irfndi/correlation-regime-go/internal/models"
)

// PriceWindow holds closing prices aligned on the dates every returned ticker traded.
type PriceWindow struct {
	Dates  []time.Time
	Closes map[string][]float64
}

// PriceRepository reads daily closes from the price_history table.
type PriceRepository struct {
	pool DatabasePool
}

func NewPriceRepository(pool DatabasePool) *PriceRepository {
	return &PriceRepository{pool: pool}
}

const selectPricesQuery = `
	SELECT ticker, trade_date, close
	FROM price_history
	WHERE ticker = ANY($1) AND trade_date >= $2 AND trade_date <= $3
	ORDER BY trade_date ASC, ticker ASC`

// LoadPrices returns closes for tickers between start and end inclusive.
// Tickers with no rows are absent from the window; the remaining series are
// restricted to dates present for all of them.
func (r *PriceRepository) LoadPrices(ctx context.Context, tickers []string, start, end time.Time) (*PriceWindow, error) {
	rows, err := r.pool.Query(ctx, selectPricesQuery, tickers, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	var points []models.PricePoint
	for rows.Next() {
		var p models.PricePoint
		if err := rows.Scan(&p.Ticker, &p.Date, &p.Close); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price rows: %w", err)
	}

	return AlignPrices(points), nil
}

// AlignPrices pivots price points into per-ticker series on their common dates,
// ascending. Non-positive closes are kept so the returns builder can reject them.
func AlignPrices(points []models.PricePoint) *PriceWindow {
	byDate := make(map[time.Time]map[string]decimal.Decimal)
	present := make(map[string]struct{})
	for _, p := range points {
		day := p.Date.UTC().Truncate(24 * time.Hour)
		if byDate[day] == nil {
			byDate[day] = make(map[string]decimal.Decimal)
		}
		byDate[day][p.Ticker] = p.Close
		present[p.Ticker] = struct{}{}
	}

	dates := make([]time.Time, 0, len(byDate))
	for day, closes := range byDate {
		if len(closes) == len(present) {
			dates = append(dates, day)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	window := &PriceWindow{Dates: dates, Closes: make(map[string][]float64, len(present))}
	for ticker := range present {
		series := make([]float64, len(dates))
		for i, day := range dates {
			series[i] = byDate[day][ticker].InexactFloat64()
		}
		window.Closes[ticker] = series
	}
	return window
}
