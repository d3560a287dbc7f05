package services

import (
	"math"
	"strings"

	"athome-scraper/models"
	"athome-scraper/utils"
)

// Neutral sub-scores used when the input is missing or a component fails.
const (
	neutralPrice      = 50.0
	neutralLocation   = 50.0
	neutralArea       = 30.0
	neutralInvestment = 50.0

	noStationScore    = 30.0
	premiumAreaScore  = 100.0
	ordinaryAreaScore = 50.0
	unmatchedRatio    = 50.0
)

// Ranker scores listings against an immutable rubric.
type Ranker struct {
	rubric models.Rubric
	logger *utils.Logger
}

// NewRanker creates a Ranker. The rubric is copied and never modified.
func NewRanker(rubric models.Rubric, logger *utils.Logger) *Ranker {
	return &Ranker{rubric: rubric, logger: logger}
}

// Score computes the four sub-scores, the weighted total and the grade. It is
// pure: the same listing and rubric always produce the same score.
func (r *Ranker) Score(l *models.Listing) models.Score {
	price := r.safe(l, "price", neutralPrice, r.priceScore)
	location := r.safe(l, "location", neutralLocation, r.locationScore)
	area := r.safe(l, "area", neutralArea, r.areaScore)
	investment := r.safe(l, "investment", neutralInvestment, r.investmentScore)

	w := r.rubric.Weights
	total := round2(price*w.Price + location*w.Location + area*w.Area + investment*w.Investment)

	return models.Score{
		Total:      total,
		Grade:      r.Grade(total),
		Price:      round2(price),
		Location:   round2(location),
		Area:       round2(area),
		Investment: round2(investment),
	}
}

// Grade maps a total to a grade. Thresholds are inclusive lower bounds.
func (r *Ranker) Grade(total float64) models.Grade {
	g := r.rubric.Grades
	switch {
	case total >= g.S:
		return models.GradeS
	case total >= g.A:
		return models.GradeA
	case total >= g.B:
		return models.GradeB
	case total >= g.C:
		return models.GradeC
	}
	return models.GradeD
}

// safe runs one sub-score, replacing a panic or a non-finite result with the
// neutral default for that component.
func (r *Ranker) safe(l *models.Listing, name string, neutral float64, fn func(*models.Listing) float64) (score float64) {
	defer func() {
		if rec := recover(); rec != nil {
			r.warn("[ranker] %s score for %s failed: %v; using %.0f", name, l.ID, rec, neutral)
			score = neutral
		}
	}()

	score = fn(l)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		r.warn("[ranker] %s score for %s is not finite; using %.0f", name, l.ID, neutral)
		return neutral
	}
	return score
}

func (r *Ranker) priceScore(l *models.Listing) float64 {
	if l.PriceAmount == nil || *l.PriceAmount <= 0 || l.AreaTsubo == nil || *l.AreaTsubo <= 0 {
		return neutralPrice
	}
	perTsubo := float64(*l.PriceAmount) / *l.AreaTsubo
	return upperBand(r.rubric.PriceBands, perTsubo, r.rubric.PriceFloorScore)
}

func (r *Ranker) locationScore(l *models.Listing) float64 {
	areaComponent := ordinaryAreaScore
	for _, name := range r.rubric.PremiumAreas {
		if name != "" && strings.Contains(l.Address, name) {
			areaComponent = premiumAreaScore
			break
		}
	}

	stationComponent := noStationScore
	if l.WalkMinutes != nil {
		stationComponent = upperBand(r.rubric.StationBands, float64(*l.WalkMinutes), r.rubric.StationFloorScore)
	}
	return 0.5*areaComponent + 0.5*stationComponent
}

func (r *Ranker) areaScore(l *models.Listing) float64 {
	if l.AreaTsubo == nil || *l.AreaTsubo <= 0 {
		return neutralArea
	}
	for _, b := range r.rubric.AreaBands {
		if *l.AreaTsubo >= b.Threshold {
			return b.Score
		}
	}
	return r.rubric.AreaFloorScore
}

func (r *Ranker) investmentScore(l *models.Listing) float64 {
	var components []float64
	if l.BuildingCoverageRatio != nil && *l.BuildingCoverageRatio > 0 {
		components = append(components, ratioBand(r.rubric.CoverageBands, *l.BuildingCoverageRatio))
	}
	if l.FloorAreaRatio != nil && *l.FloorAreaRatio > 0 {
		components = append(components, ratioBand(r.rubric.FloorAreaRatioBands, *l.FloorAreaRatio))
	}
	components = append(components, r.zoningScore(l.ZoningText))

	var sum float64
	for _, c := range components {
		sum += c
	}
	return sum / float64(len(components))
}

func (r *Ranker) zoningScore(zoning string) float64 {
	for _, rule := range r.rubric.ZoningRules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(zoning, kw) {
				return rule.Score
			}
		}
	}
	return r.rubric.ZoningDefault
}

func (r *Ranker) warn(format string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(format, args...)
	}
}

// upperBand returns the score of the first band whose threshold is not
// below v. Bands are ascending.
func upperBand(bands []models.Band, v, floor float64) float64 {
	for _, b := range bands {
		if v <= b.Threshold {
			return b.Score
		}
	}
	return floor
}

// ratioBand returns the score of the highest threshold not above v.
func ratioBand(bands []models.Band, v float64) float64 {
	best, found := 0.0, false
	score := unmatchedRatio
	for _, b := range bands {
		if v >= b.Threshold && (!found || b.Threshold > best) {
			best, found, score = b.Threshold, true, b.Score
		}
	}
	return score
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
