package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"athome-scraper/models"
	"athome-scraper/utils"
)

// Runner starts one crawl.
type Runner interface {
	Run(ctx context.Context) (*models.RunLog, error)
}

// Scheduler runs a crawl at fixed hours of the day in one time zone.
type Scheduler struct {
	runner Runner
	hours  []int
	loc    *time.Location
	logger *utils.Logger
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
}

// NewScheduler validates hours (0-23) and resolves tz.
func NewScheduler(runner Runner, hours []int, tz string, logger *utils.Logger) (*Scheduler, error) {
	if len(hours) == 0 {
		return nil, errors.New("scheduler: no hours configured")
	}
	for _, h := range hours {
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("scheduler: hour %d out of range", h)
		}
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load time zone %q: %w", tz, err)
	}

	sorted := append([]int(nil), hours...)
	sort.Ints(sorted)
	return &Scheduler{
		runner: runner,
		hours:  sorted,
		loc:    loc,
		logger: logger,
		now:    time.Now,
		after:  time.After,
	}, nil
}

// NextRun returns the first scheduled instant strictly after now. hours must
// be sorted.
func NextRun(now time.Time, hours []int, loc *time.Location) time.Time {
	local := now.In(loc)
	for day := 0; day < 2; day++ {
		y, m, d := local.AddDate(0, 0, day).Date()
		for _, h := range hours {
			t := time.Date(y, m, d, h, 0, 0, 0, loc)
			if t.After(now) {
				return t
			}
		}
	}
	// Unreachable with at least one valid hour.
	return local.Add(24 * time.Hour)
}

// Start blocks, running a crawl at every scheduled hour until ctx is done.
// Run errors are logged and never stop the schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	for {
		next := NextRun(s.now(), s.hours, s.loc)
		s.logger.Info("[scheduler] Next run at %s", next.Format("2006-01-02 15:04 MST"))

		select {
		case <-ctx.Done():
			return nil
		case <-s.after(next.Sub(s.now())):
		}

		if _, err := s.runner.Run(ctx); err != nil {
			s.logger.Error("[scheduler] Run failed: %v", err)
		}
	}
}
