package services

import (
	"math"
	"testing"

	"athome-scraper/models"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func newTestRanker() *Ranker { return NewRanker(models.DefaultRubric(), newTestLogger()) }

func TestPriceScoreSteps(t *testing.T) {
	r := newTestRanker()

	tests := []struct {
		price int
		tsubo float64
		want  float64
	}{
		{800, 100, 100}, // 8 per tsubo
		{1000, 100, 100},
		{1200, 100, 80},
		{2000, 100, 60},
		{2500, 100, 40},
		{3000, 100, 20},
		{3500, 100, 10},
	}
	for _, tt := range tests {
		l := &models.Listing{PriceAmount: intPtr(tt.price), AreaTsubo: floatPtr(tt.tsubo)}
		if got := r.priceScore(l); got != tt.want {
			t.Errorf("priceScore(%d/%v) = %v; want %v", tt.price, tt.tsubo, got, tt.want)
		}
	}
}

func TestNeutralDefaults(t *testing.T) {
	r := newTestRanker()
	s := r.Score(&models.Listing{ID: "athome_1"})

	if s.Price != 50 {
		t.Errorf("price with no data = %v; want 50", s.Price)
	}
	if s.Area != 30 {
		t.Errorf("area with no data = %v; want 30", s.Area)
	}
	// 0.5*50 (ordinary address) + 0.5*30 (no walk time)
	if s.Location != 40 {
		t.Errorf("location with no data = %v; want 40", s.Location)
	}
	if s.Investment != 50 {
		t.Errorf("investment with no data = %v; want 50", s.Investment)
	}
}

func TestLocationScore(t *testing.T) {
	r := newTestRanker()

	tests := []struct {
		address string
		walk    *int
		want    float64
	}{
		{"大分県大分市府内町1丁目", intPtr(3), 100},
		{"大分県大分市府内町1丁目", nil, 65},
		{"大分県大分市大在", intPtr(12), 55},
		{"大分県大分市大在", intPtr(45), 30},
	}
	for _, tt := range tests {
		got := r.locationScore(&models.Listing{Address: tt.address, WalkMinutes: tt.walk})
		if got != tt.want {
			t.Errorf("locationScore(%q, %v) = %v; want %v", tt.address, tt.walk, got, tt.want)
		}
	}
}

func TestAreaScore(t *testing.T) {
	r := newTestRanker()

	tests := []struct {
		tsubo float64
		want  float64
	}{
		{150, 100},
		{100, 100},
		{99.9, 80},
		{50, 60},
		{20, 20},
		{10, 10},
	}
	for _, tt := range tests {
		if got := r.areaScore(&models.Listing{AreaTsubo: floatPtr(tt.tsubo)}); got != tt.want {
			t.Errorf("areaScore(%v) = %v; want %v", tt.tsubo, got, tt.want)
		}
	}
}

func TestZoningMostSpecificFirst(t *testing.T) {
	r := newTestRanker()

	tests := []struct {
		zoning string
		want   float64
	}{
		{"商業地域", 90},
		{"近隣商業地域", 80},
		{"準工業地域", 70},
		{"第二種住居地域", 60},
		{"第一種低層住居専用地域", 40},
		{"市街化調整区域", 50},
		{"", 50},
	}
	for _, tt := range tests {
		if got := r.zoningScore(tt.zoning); got != tt.want {
			t.Errorf("zoningScore(%q) = %v; want %v", tt.zoning, got, tt.want)
		}
	}
}

func TestInvestmentScoreAveragesPresentComponents(t *testing.T) {
	r := newTestRanker()

	tests := []struct {
		name string
		l    *models.Listing
		want float64
	}{
		{"zoning only", &models.Listing{ZoningText: "商業地域"}, 90},
		{"coverage and zoning", &models.Listing{BuildingCoverageRatio: floatPtr(60), ZoningText: "準工業地域"}, 65},
		{"ratio below every threshold", &models.Listing{FloorAreaRatio: floatPtr(100)}, 50},
		{"zero ratio ignored", &models.Listing{BuildingCoverageRatio: floatPtr(0), ZoningText: "商業"}, 90},
	}
	for _, tt := range tests {
		if got := r.investmentScore(tt.l); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: investmentScore = %v; want %v", tt.name, got, tt.want)
		}
	}
}

func TestGradeBoundaries(t *testing.T) {
	r := newTestRanker()

	tests := []struct {
		total float64
		want  models.Grade
	}{
		{100, models.GradeS},
		{90, models.GradeS},
		{89.99, models.GradeA},
		{80, models.GradeA},
		{70, models.GradeB},
		{60, models.GradeC},
		{59.99, models.GradeD},
		{0, models.GradeD},
	}
	for _, tt := range tests {
		if got := r.Grade(tt.total); got != tt.want {
			t.Errorf("Grade(%v) = %s; want %s", tt.total, got, tt.want)
		}
	}
}

func TestSafeRecoversPanics(t *testing.T) {
	r := newTestRanker()
	l := &models.Listing{ID: "athome_1"}

	got := r.safe(l, "area", neutralArea, func(*models.Listing) float64 { panic("boom") })
	if got != neutralArea {
		t.Errorf("panicking component = %v; want %v", got, neutralArea)
	}
	got = r.safe(l, "price", neutralPrice, func(*models.Listing) float64 { return math.NaN() })
	if got != neutralPrice {
		t.Errorf("NaN component = %v; want %v", got, neutralPrice)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	r := newTestRanker()
	l := scenarioListings()[1]
	if a, b := r.Score(l), r.Score(l); a != b {
		t.Errorf("Score differs between calls: %+v vs %+v", a, b)
	}
}

func scenarioListings() []*models.Listing {
	return []*models.Listing{
		{
			ID: "athome_1", Address: "大分県大分市府内町1丁目",
			PriceAmount: intPtr(1000), AreaTsubo: floatPtr(100), WalkMinutes: intPtr(5),
			BuildingCoverageRatio: floatPtr(80), FloorAreaRatio: floatPtr(400), ZoningText: "商業地域",
		},
		{
			ID: "athome_2", Address: "大分県大分市萩原3丁目",
			PriceAmount: intPtr(800), AreaTsubo: floatPtr(50), WalkMinutes: intPtr(15),
			BuildingCoverageRatio: floatPtr(60), FloorAreaRatio: floatPtr(200), ZoningText: "第一種住居地域",
		},
		{
			ID: "athome_3", Address: "大分県大分市野津原",
			PriceAmount: intPtr(600), AreaTsubo: floatPtr(30), WalkMinutes: intPtr(30),
			BuildingCoverageRatio: floatPtr(50), FloorAreaRatio: floatPtr(100), ZoningText: "第一種低層住居専用地域",
		},
	}
}

func TestScenarioOrdering(t *testing.T) {
	r := newTestRanker()
	ls := scenarioListings()

	s1, s2, s3 := r.Score(ls[0]), r.Score(ls[1]), r.Score(ls[2])

	want := []struct {
		got   models.Score
		total float64
		grade models.Grade
	}{
		{s1, 99.33, models.GradeS},
		{s2, 66, models.GradeC},
		{s3, 45.17, models.GradeD},
	}
	for i, w := range want {
		if w.got.Total != w.total || w.got.Grade != w.grade {
			t.Errorf("listing %d: total %v grade %s; want %v %s", i+1, w.got.Total, w.got.Grade, w.total, w.grade)
		}
	}
	if !(s1.Total > s2.Total && s2.Total > s3.Total) {
		t.Errorf("ordering broken: %v, %v, %v", s1.Total, s2.Total, s3.Total)
	}

	// Same second listing on an address outside the premium list still
	// sits strictly between the other two.
	plain := *ls[1]
	plain.Address = "大分県大分市大在"
	if s := r.Score(&plain); !(s1.Total > s.Total && s.Total > s3.Total) {
		t.Errorf("non-premium second listing total %v not between %v and %v", s.Total, s1.Total, s3.Total)
	}
}
