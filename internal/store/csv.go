package store

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"bracket-trader/internal/models"
)

// planRow flattens a TradePlan for CSV export.
type planRow struct {
	ID         string  `csv:"id"`
	Symbol     string  `csv:"symbol"`
	Side       string  `csv:"side"`
	Entry      float64 `csv:"entry"`
	LimitPrice float64 `csv:"limit_price"`
	Stop       float64 `csv:"stop"`
	Target     float64 `csv:"target"`
	Quantity   int     `csv:"quantity"`
	RiskAmount float64 `csv:"risk_amount"`
	ATR        float64 `csv:"atr"`
	CreatedAt  string  `csv:"created_at"`
}

// ExportPlansCSV writes the plans as CSV.
func ExportPlansCSV(w io.Writer, plans []models.TradePlan) error {
	rows := make([]planRow, 0, len(plans))
	for _, p := range plans {
		rows = append(rows, planRow{
			ID:         p.ID,
			Symbol:     p.Symbol,
			Side:       string(p.Side),
			Entry:      p.Entry,
			LimitPrice: p.LimitPrice,
			Stop:       p.Stop,
			Target:     p.Target,
			Quantity:   p.Quantity,
			RiskAmount: p.RiskAmount,
			ATR:        p.ATR,
			CreatedAt:  p.CreatedAt.Format(time.RFC3339),
		})
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to export plans: %w", err)
	}
	return nil
}

// eventRow flattens a JournalRecord for CSV export.
type eventRow struct {
	ID        int64  `csv:"id"`
	Timestamp string `csv:"timestamp"`
	Type      string `csv:"type"`
	Symbol    string `csv:"symbol"`
	GroupID   string `csv:"group_id"`
	Leg       string `csv:"leg"`
	FromState string `csv:"from_state"`
	ToState   string `csv:"to_state"`
	Message   string `csv:"message"`
}

// ExportEventsCSV writes journal records as CSV.
func ExportEventsCSV(w io.Writer, records []JournalRecord) error {
	rows := make([]eventRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, eventRow{
			ID:        r.ID,
			Timestamp: r.Timestamp.Format(time.RFC3339),
			Type:      string(r.Type),
			Symbol:    r.Symbol,
			GroupID:   r.GroupID,
			Leg:       r.Leg,
			FromState: r.FromState,
			ToState:   r.ToState,
			Message:   r.Message,
		})
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to export events: %w", err)
	}
	return nil
}

// candleRow maps one CSV line of OHLCV data.
type candleRow struct {
	Timestamp string  `csv:"timestamp"`
	Open      float64 `csv:"open"`
	High      float64 `csv:"high"`
	Low       float64 `csv:"low"`
	Close     float64 `csv:"close"`
	Volume    int64   `csv:"volume"`
}

// ImportCandlesCSV reads candles from a CSV with timestamp,open,high,low,
// close,volume columns. Timestamps are RFC 3339.
func ImportCandlesCSV(r io.Reader) ([]models.Candle, error) {
	var rows []candleRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse candles: %w", err)
	}
	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		ts, err := time.Parse(time.RFC3339, row.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("bad candle timestamp %q: %w", row.Timestamp, err)
		}
		candles = append(candles, models.Candle{
			Timestamp: ts,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		})
	}
	return candles, nil
}
