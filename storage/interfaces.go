package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"athome-scraper/models"
)

// ErrNotFound is returned by Get when no listing has the given id.
var ErrNotFound = errors.New("storage: listing not found")

// maxTopListings caps Stats.TopByGrade.
const maxTopListings = 10

// ListingStore is the interface any listing backend must satisfy. All methods
// are safe to call from several goroutines; readers may run during a crawl.
type ListingStore interface {
	// Upsert inserts a new listing or overwrites every mutable field of an
	// existing one. ScrapedAt of an existing listing is never changed.
	Upsert(ctx context.Context, l *models.Listing) (isNew bool, id string, err error)

	// Reconcile deactivates every active listing whose id is not in observed
	// and returns how many were deactivated. An empty set deactivates all.
	Reconcile(ctx context.Context, observed map[string]struct{}) (int, error)

	// RecordRun appends a run log entry.
	RecordRun(ctx context.Context, run *models.RunLog) error

	// QueryActive returns active listings, optionally restricted to grades,
	// ordered by total desc then scraped-at desc.
	QueryActive(ctx context.Context, grades ...models.Grade) ([]*models.Listing, error)

	AggregateStats(ctx context.Context) (*models.Stats, error)
	Get(ctx context.Context, id string) (*models.Listing, error)
	History(ctx context.Context, id string) ([]models.HistoryEntry, error)
	Close() error
}

// diffHistory lists the history entries produced by writing next over prev.
// prev is nil for a listing seen for the first time.
func diffHistory(prev, next *models.Listing, now time.Time) []models.HistoryEntry {
	entry := func(change, oldValue, newValue string) models.HistoryEntry {
		return models.HistoryEntry{
			ListingID:  next.ID,
			ChangeType: change,
			OldValue:   oldValue,
			NewValue:   newValue,
			ChangedAt:  now,
		}
	}

	if prev == nil {
		return []models.HistoryEntry{entry(models.ChangeNew, "", string(next.Score.Grade))}
	}

	var out []models.HistoryEntry
	if oldPrice, newPrice := priceString(prev.PriceAmount), priceString(next.PriceAmount); oldPrice != newPrice {
		out = append(out, entry(models.ChangePrice, oldPrice, newPrice))
	}
	if prev.Score.Grade != next.Score.Grade {
		out = append(out, entry(models.ChangeGrade, string(prev.Score.Grade), string(next.Score.Grade)))
	}
	if !prev.IsActive {
		out = append(out, entry(models.ChangeReactivated, "", ""))
	}
	return out
}

func priceString(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func gradeSet(grades []models.Grade) map[models.Grade]bool {
	if len(grades) == 0 {
		return nil
	}
	set := make(map[models.Grade]bool, len(grades))
	for _, g := range grades {
		set[g] = true
	}
	return set
}
