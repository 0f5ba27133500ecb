package models

import (
	"testing"
	"time"
)

func TestDraftExpiry(t *testing.T) {
	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	plan := &TradePlan{ID: "01PLAN", Symbol: "AAPL", CreatedAt: created}

	if plan.Expired(created.Add(10*time.Minute), 30*time.Minute) {
		t.Fatal("fresh draft reported expired")
	}
	if !plan.Expired(created.Add(30*time.Minute), 30*time.Minute) {
		t.Fatal("draft at the ttl boundary should be expired")
	}
	if !plan.Expired(created.Add(2*time.Hour), 30*time.Minute) {
		t.Fatal("aged draft not reported expired")
	}
	// A zero ttl disables expiry entirely.
	if plan.Expired(created.Add(24*time.Hour), 0) {
		t.Fatal("draft expired despite ttl of zero")
	}
}
