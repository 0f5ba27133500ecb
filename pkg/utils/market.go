package utils

import (
	"time"
)

// NewYorkLocation is the timezone for US equity markets.
var NewYorkLocation *time.Location

func init() {
	var err error
	NewYorkLocation, err = time.LoadLocation("America/New_York")
	if err != nil {
		// Fallback to fixed EST offset
		NewYorkLocation = time.FixedZone("EST", -5*60*60)
	}
}

// USMarketCalendar supplies regular-session hours for US equities
// (NYSE/Nasdaq, 9:30-16:00 ET, weekdays).
type USMarketCalendar struct{}

// IsTradingDay reports whether t falls on a regular trading day.
func (USMarketCalendar) IsTradingDay(t time.Time) bool {
	day := t.In(NewYorkLocation).Weekday()
	return day != time.Saturday && day != time.Sunday
}

// SessionOpen returns the regular session open on t's date in market time.
func (c USMarketCalendar) SessionOpen(t time.Time) time.Time {
	et := t.In(NewYorkLocation)
	return time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, NewYorkLocation)
}

// SessionClose returns the regular session close on t's date in market time.
func (c USMarketCalendar) SessionClose(t time.Time) time.Time {
	et := t.In(NewYorkLocation)
	return time.Date(et.Year(), et.Month(), et.Day(), 16, 0, 0, 0, NewYorkLocation)
}

// SessionDate returns the session date key (YYYY-MM-DD in market time).
func (c USMarketCalendar) SessionDate(t time.Time) string {
	return t.In(NewYorkLocation).Format("2006-01-02")
}
