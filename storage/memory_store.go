package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"athome-scraper/models"
)

// MemoryStore keeps listings, run logs and history in process memory. It
// backs dry runs (STORE=memory) and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[string]*models.Listing
	runs     []*models.RunLog
	history  map[string][]models.HistoryEntry
	now      func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[string]*models.Listing),
		history:  make(map[string][]models.HistoryEntry),
		now:      time.Now,
	}
}

func (m *MemoryStore) Upsert(ctx context.Context, l *models.Listing) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	prev, exists := m.listings[l.ID]

	next := cloneListing(l)
	next.IsActive = true
	next.UpdatedAt = now
	if exists {
		next.ScrapedAt = prev.ScrapedAt
	} else if next.ScrapedAt.IsZero() {
		next.ScrapedAt = now
	}

	m.history[l.ID] = append(m.history[l.ID], diffHistory(prev, next, now)...)
	m.listings[l.ID] = next

	return !exists, l.ID, nil
}

func (m *MemoryStore) Reconcile(ctx context.Context, observed map[string]struct{}) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	deactivated := 0
	for id, l := range m.listings {
		if !l.IsActive {
			continue
		}
		if _, ok := observed[id]; ok {
			continue
		}
		l.IsActive = false
		l.UpdatedAt = now
		m.history[id] = append(m.history[id], models.HistoryEntry{
			ListingID:  id,
			ChangeType: models.ChangeDeactivated,
			ChangedAt:  now,
		})
		deactivated++
	}
	return deactivated, nil
}

func (m *MemoryStore) RecordRun(ctx context.Context, run *models.RunLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r := *run
	m.runs = append(m.runs, &r)
	return nil
}

func (m *MemoryStore) QueryActive(ctx context.Context, grades ...models.Grade) ([]*models.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	want := gradeSet(grades)
	var out []*models.Listing
	for _, l := range m.listings {
		if !l.IsActive {
			continue
		}
		if want != nil && !want[l.Score.Grade] {
			continue
		}
		out = append(out, cloneListing(l))
	}
	sortListings(out)
	return out, nil
}

func (m *MemoryStore) AggregateStats(ctx context.Context) (*models.Stats, error) {
	active, err := m.QueryActive(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.Stats{
		ActiveCount:  len(active),
		CountByGrade: make(map[models.Grade]int, len(models.AllGrades)),
	}
	for _, l := range active {
		stats.CountByGrade[l.Score.Grade]++
		if (l.Score.Grade == models.GradeS || l.Score.Grade == models.GradeA) && len(stats.TopByGrade) < maxTopListings {
			stats.TopByGrade = append(stats.TopByGrade, l)
		}
	}

	m.mu.RLock()
	if n := len(m.runs); n > 0 {
		last := *m.runs[n-1]
		stats.LastRun = &last
	}
	m.mu.RUnlock()

	return stats, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneListing(l), nil
}

func (m *MemoryStore) History(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]models.HistoryEntry(nil), m.history[id]...), nil
}

// Runs returns a copy of every recorded run log in insertion order.
func (m *MemoryStore) Runs() []models.RunLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.RunLog, len(m.runs))
	for i, r := range m.runs {
		out[i] = *r
	}
	return out
}

func (m *MemoryStore) Close() error { return nil }

func cloneListing(l *models.Listing) *models.Listing {
	c := *l
	c.ImageURLs = append([]string(nil), l.ImageURLs...)
	if l.PriceAmount != nil {
		v := *l.PriceAmount
		c.PriceAmount = &v
	}
	c.AreaSquareMeters = cloneFloat(l.AreaSquareMeters)
	c.AreaTsubo = cloneFloat(l.AreaTsubo)
	c.BuildingCoverageRatio = cloneFloat(l.BuildingCoverageRatio)
	c.FloorAreaRatio = cloneFloat(l.FloorAreaRatio)
	if l.WalkMinutes != nil {
		v := *l.WalkMinutes
		c.WalkMinutes = &v
	}
	return &c
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// sortListings orders by total desc, scraped-at desc, then id for stability.
func sortListings(ls []*models.Listing) {
	sort.SliceStable(ls, func(i, j int) bool {
		a, b := ls[i], ls[j]
		if a.Score.Total != b.Score.Total {
			return a.Score.Total > b.Score.Total
		}
		if !a.ScrapedAt.Equal(b.ScrapedAt) {
			return a.ScrapedAt.After(b.ScrapedAt)
		}
		return a.ID < b.ID
	})
}
