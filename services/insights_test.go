package services

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"athome-scraper/models"
)

func sampleActive() []*models.Listing {
	return []*models.Listing{
		{ID: "athome_1", Title: "府内町 売地", PriceAmount: intPtr(1000), AreaTsubo: floatPtr(100), Score: models.Score{Total: 95, Grade: models.GradeS}},
		{ID: "athome_2", Title: "萩原 売地", PriceAmount: intPtr(1500), AreaTsubo: floatPtr(50), Score: models.Score{Total: 82, Grade: models.GradeA}},
		{ID: "athome_3", Title: "野津原 売地", PriceAmount: intPtr(600), AreaTsubo: floatPtr(120), Score: models.Score{Total: 45, Grade: models.GradeD}},
		{ID: "athome_4", Title: "価格未定", AreaTsubo: floatPtr(80), Score: models.Score{Total: 50, Grade: models.GradeD}},
	}
}

func sampleStats(active []*models.Listing) *models.Stats {
	return &models.Stats{
		ActiveCount:  len(active),
		CountByGrade: map[models.Grade]int{models.GradeS: 1, models.GradeA: 1, models.GradeD: 2},
		LastRun: &models.RunLog{
			Status:     models.RunCompleted,
			TotalSeen:  4,
			NewCount:   4,
			ExecutedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		},
		TopByGrade: active[:2],
	}
}

func TestInsightPricePerTsubo(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	active := sampleActive()
	r := svc.Generate(sampleStats(active), active)

	if r.PricedCount != 3 {
		t.Errorf("PricedCount = %d; want 3", r.PricedCount)
	}
	// 10, 30 and 5 man-yen per tsubo
	if r.AveragePricePerTsubo != 15 || r.MinPricePerTsubo != 5 || r.MaxPricePerTsubo != 30 {
		t.Errorf("price per tsubo = %v/%v/%v; want 15/5/30",
			r.AveragePricePerTsubo, r.MinPricePerTsubo, r.MaxPricePerTsubo)
	}
	if r.Cheapest == nil || r.Cheapest.ID != "athome_3" {
		t.Errorf("Cheapest = %+v; want athome_3", r.Cheapest)
	}
}

func TestInsightCopiesStats(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	active := sampleActive()
	stats := sampleStats(active)
	r := svc.Generate(stats, active)

	if r.ActiveCount != 4 || r.CountByGrade[models.GradeD] != 2 || r.LastRun != stats.LastRun {
		t.Errorf("report = %+v", r)
	}
	if len(r.TopListings) != 2 || r.TopListings[0].ID != "athome_1" {
		t.Errorf("TopListings = %v", r.TopListings)
	}
}

func TestInsightCapsTopListings(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	var top []*models.Listing
	for i := 0; i < 8; i++ {
		top = append(top, &models.Listing{Score: models.Score{Grade: models.GradeA}})
	}
	r := svc.Generate(&models.Stats{TopByGrade: top}, nil)
	if len(r.TopListings) != topReportListings {
		t.Errorf("TopListings len = %d; want %d", len(r.TopListings), topReportListings)
	}
}

func TestInsightEmptyInput(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(nil, nil)
	if r.ActiveCount != 0 || r.PricedCount != 0 || r.LastRun != nil {
		t.Errorf("expected an empty report, got %+v", r)
	}

	var buf bytes.Buffer
	svc.Print(&buf, r)
	for _, want := range []string{"Last run        : never", "No price data available", "No S or A grade listings"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("empty report output missing %q", want)
		}
	}
}

func TestInsightPrint(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	active := sampleActive()
	var buf bytes.Buffer
	svc.Print(&buf, svc.Generate(sampleStats(active), active))

	out := buf.String()
	for _, want := range []string{"Active listings : \x1b[1m4", "2025-03-01 09:00:00", "[S] 府内町 売地", "Average : \x1b[1;32m15.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"大分市府内町の売地です", 8, "大分市府内..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q; want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
