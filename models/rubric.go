package models

import (
	"fmt"
	"math"
)

// Band maps a threshold to a score. Whether the threshold is an upper or a
// lower bound depends on the table it belongs to.
type Band struct {
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Score     float64 `yaml:"score" json:"score"`
}

// Weights are the sub-score weights of the total. They must sum to 1.
type Weights struct {
	Price      float64 `yaml:"price"`
	Location   float64 `yaml:"location"`
	Area       float64 `yaml:"area"`
	Investment float64 `yaml:"investment"`
}

// GradeThresholds are inclusive lower bounds; anything below C is D.
type GradeThresholds struct {
	S float64 `yaml:"S"`
	A float64 `yaml:"A"`
	B float64 `yaml:"B"`
	C float64 `yaml:"C"`
}

// ZoningRule scores a zoning text containing any of Keywords.
type ZoningRule struct {
	Keywords []string `yaml:"keywords"`
	Score    float64  `yaml:"score"`
}

// Rubric is the full ranking configuration. It is loaded once and never
// mutated afterwards.
type Rubric struct {
	Weights Weights         `yaml:"weights"`
	Grades  GradeThresholds `yaml:"grades"`

	// PriceBands are ascending upper bounds in man-yen per tsubo.
	PriceBands      []Band  `yaml:"price_bands"`
	PriceFloorScore float64 `yaml:"price_floor_score"`

	// StationBands are ascending upper bounds in walking minutes.
	StationBands      []Band  `yaml:"station_bands"`
	StationFloorScore float64 `yaml:"station_floor_score"`

	// AreaBands are descending lower bounds in tsubo.
	AreaBands      []Band  `yaml:"area_bands"`
	AreaFloorScore float64 `yaml:"area_floor_score"`

	PremiumAreas []string `yaml:"premium_areas"`

	// CoverageBands and FloorAreaRatioBands are lower bounds in percent;
	// the highest threshold not above the value wins.
	CoverageBands       []Band `yaml:"coverage_bands"`
	FloorAreaRatioBands []Band `yaml:"floor_area_ratio_bands"`

	// ZoningRules are checked in order, most specific first.
	ZoningRules   []ZoningRule `yaml:"zoning_rules"`
	ZoningDefault float64      `yaml:"zoning_default"`
}

// DefaultRubric returns the rubric tuned for Oita city land listings.
func DefaultRubric() Rubric {
	return Rubric{
		Weights: Weights{Price: 0.30, Location: 0.30, Area: 0.20, Investment: 0.20},
		Grades:  GradeThresholds{S: 90, A: 80, B: 70, C: 60},
		PriceBands: []Band{
			{Threshold: 10, Score: 100},
			{Threshold: 15, Score: 80},
			{Threshold: 20, Score: 60},
			{Threshold: 25, Score: 40},
			{Threshold: 30, Score: 20},
		},
		PriceFloorScore: 10,
		StationBands: []Band{
			{Threshold: 5, Score: 100},
			{Threshold: 10, Score: 80},
			{Threshold: 15, Score: 60},
			{Threshold: 20, Score: 40},
			{Threshold: 30, Score: 20},
		},
		StationFloorScore: 10,
		AreaBands: []Band{
			{Threshold: 100, Score: 100},
			{Threshold: 70, Score: 80},
			{Threshold: 50, Score: 60},
			{Threshold: 30, Score: 40},
			{Threshold: 20, Score: 20},
		},
		AreaFloorScore: 10,
		PremiumAreas: []string{
			"中央町", "府内町", "都町", "金池町", "末広町",
			"千代町", "大手町", "荷揚町", "長浜町", "錦町",
			"城崎町", "東大道", "西大道", "大道町", "萩原",
		},
		CoverageBands: []Band{
			{Threshold: 80, Score: 100},
			{Threshold: 70, Score: 80},
			{Threshold: 60, Score: 60},
			{Threshold: 50, Score: 40},
		},
		FloorAreaRatioBands: []Band{
			{Threshold: 400, Score: 100},
			{Threshold: 300, Score: 80},
			{Threshold: 200, Score: 60},
			{Threshold: 150, Score: 40},
		},
		ZoningRules: []ZoningRule{
			{Keywords: []string{"近隣商業"}, Score: 80},
			{Keywords: []string{"商業"}, Score: 90},
			{Keywords: []string{"準工業"}, Score: 70},
			{Keywords: []string{"第一種住居", "第二種住居"}, Score: 60},
			{Keywords: []string{"第一種低層", "第二種低層"}, Score: 40},
		},
		ZoningDefault: 50,
	}
}

// Validate checks the invariants the ranker relies on.
func (r Rubric) Validate() error {
	w := r.Weights
	if w.Price < 0 || w.Location < 0 || w.Area < 0 || w.Investment < 0 {
		return fmt.Errorf("rubric: weights must not be negative")
	}
	if sum := w.Price + w.Location + w.Area + w.Investment; math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("rubric: weights sum to %.4f, want 1.0", sum)
	}

	g := r.Grades
	if !(g.S >= g.A && g.A >= g.B && g.B >= g.C) {
		return fmt.Errorf("rubric: grade thresholds must satisfy S >= A >= B >= C")
	}

	if err := checkOrder("price_bands", r.PriceBands, true); err != nil {
		return err
	}
	if err := checkOrder("station_bands", r.StationBands, true); err != nil {
		return err
	}
	if err := checkOrder("area_bands", r.AreaBands, false); err != nil {
		return err
	}
	for i, z := range r.ZoningRules {
		if len(z.Keywords) == 0 {
			return fmt.Errorf("rubric: zoning rule %d has no keywords", i)
		}
	}
	return nil
}

func checkOrder(name string, bands []Band, ascending bool) error {
	for i := 1; i < len(bands); i++ {
		prev, cur := bands[i-1].Threshold, bands[i].Threshold
		if ascending && cur <= prev {
			return fmt.Errorf("rubric: %s must be strictly ascending (index %d)", name, i)
		}
		if !ascending && cur >= prev {
			return fmt.Errorf("rubric: %s must be strictly descending (index %d)", name, i)
		}
	}
	return nil
}
