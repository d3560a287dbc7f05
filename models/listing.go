package models

import (
	"time"

	"github.com/google/uuid"
)

// Grade is the single-letter summary of a listing's total score.
type Grade string

const (
	GradeS Grade = "S"
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// AllGrades lists the grades from best to worst.
var AllGrades = []Grade{GradeS, GradeA, GradeB, GradeC, GradeD}

// Valid reports whether g is one of the known grades.
func (g Grade) Valid() bool {
	switch g {
	case GradeS, GradeA, GradeB, GradeC, GradeD:
		return true
	}
	return false
}

// DetailPage holds the text fragments a fetcher selected from one listing
// detail page. It carries no parsed values; that is the extractor's job.
type DetailPage struct {
	URL            string
	Title          string
	Price          string
	Address        string
	Area           string
	Station        string
	Coverage       string
	FloorAreaRatio string
	Zoning         string
	ImageURLs      []string
}

// Score is the ranking result attached to a listing.
type Score struct {
	Total      float64 `json:"total"`
	Grade      Grade   `json:"grade"`
	Price      float64 `json:"price_score"`
	Location   float64 `json:"location_score"`
	Area       float64 `json:"area_score"`
	Investment float64 `json:"investment_score"`
}

// Listing is one land listing: typed fields parsed from the detail page,
// the ranking score, and its lifecycle timestamps.
type Listing struct {
	ID        string `json:"id"`
	SourceURL string `json:"source_url"`
	Title     string `json:"title"`
	Address   string `json:"address"`

	PriceText   string `json:"price_text"`
	PriceAmount *int   `json:"price_amount,omitempty"` // man-yen

	AreaText         string   `json:"area_text"`
	AreaSquareMeters *float64 `json:"area_m2,omitempty"`
	AreaTsubo        *float64 `json:"area_tsubo,omitempty"`

	NearestStation string `json:"nearest_station"`
	WalkTimeText   string `json:"walk_time"`
	WalkMinutes    *int   `json:"walk_minutes,omitempty"`

	BuildingCoverageRatio *float64 `json:"building_coverage_ratio,omitempty"`
	FloorAreaRatio        *float64 `json:"floor_area_ratio,omitempty"`
	ZoningText            string   `json:"zoning"`

	ImageURLs []string `json:"image_urls"`

	Score Score `json:"score"`

	ScrapedAt time.Time `json:"scraped_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsActive  bool      `json:"is_active"`
}

// RunStatus is the terminal state of a crawl run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunLog records one crawl execution. Entries are append-only.
type RunLog struct {
	RunID            uuid.UUID `json:"run_id"`
	TotalSeen        int       `json:"total_seen"`
	NewCount         int       `json:"new_count"`
	UpdatedCount     int       `json:"updated_count"`
	DeactivatedCount int       `json:"deactivated_count"`
	ErrorCount       int       `json:"error_count"`
	CandidateCount   int       `json:"candidate_count"`
	Status           RunStatus `json:"status"`
	Message          string    `json:"message"`
	DurationSeconds  float64   `json:"duration_seconds"`
	ExecutedAt       time.Time `json:"executed_at"`
}

// Change types recorded in the listing history.
const (
	ChangeNew         = "new_listing"
	ChangePrice       = "price_changed"
	ChangeGrade       = "grade_changed"
	ChangeReactivated = "reactivated"
	ChangeDeactivated = "deactivated"
)

// HistoryEntry is an informative record of one field change on a listing.
type HistoryEntry struct {
	ListingID  string    `json:"listing_id"`
	ChangeType string    `json:"change_type"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}

// Stats is the aggregate view used by status reporting.
type Stats struct {
	ActiveCount  int           `json:"active_count"`
	CountByGrade map[Grade]int `json:"count_by_grade"`
	LastRun      *RunLog       `json:"last_run,omitempty"`
	TopByGrade   []*Listing    `json:"top_listings"`
}

// RunPhase names the orchestrator state while a crawl is in progress.
type RunPhase string

const (
	PhaseIdle        RunPhase = "idle"
	PhaseListing     RunPhase = "listing"
	PhaseExtracting  RunPhase = "extracting"
	PhaseScoring     RunPhase = "scoring"
	PhasePersisting  RunPhase = "persisting"
	PhaseReconciling RunPhase = "reconciling"
	PhaseCompleted   RunPhase = "completed"
	PhaseFailed      RunPhase = "failed"
)

// Announcement is a listing picked for notification after a run. New is false
// when the listing was already stored before this run.
type Announcement struct {
	Listing *Listing
	New     bool
}
