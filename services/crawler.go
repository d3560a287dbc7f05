package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"athome-scraper/models"
	"athome-scraper/storage"
	"athome-scraper/utils"
)

// Error taxonomy of a crawl run. Only enumeration, persistence and run-log
// failures fail a run; fetch failures are counted and skipped.
var (
	ErrFetch         = errors.New("fetch failed")
	ErrEnumeration   = errors.New("listing enumeration failed")
	ErrPersistence   = errors.New("persistence failed")
	ErrRunLogWrite   = errors.New("run log write failed")
	ErrRunInProgress = errors.New("a crawl is already running")
)

const recordRunTimeout = 10 * time.Second

// PageFetcher retrieves list and detail pages from the listing site.
type PageFetcher interface {
	// ListPage returns the detail URLs on result page n (1-based) and whether
	// a further page exists.
	ListPage(ctx context.Context, page int) ([]string, bool, error)
	FetchDetail(ctx context.Context, url string) (*models.DetailPage, error)
	Close() error
}

// Notifier announces listings after a run.
type Notifier interface {
	Notify(ctx context.Context, announcements []models.Announcement) error
}

// CrawlerConfig holds the crawl limits.
type CrawlerConfig struct {
	MaxPages       int
	MaxConcurrency int
	RequestDelay   time.Duration
	NotifyGrades   []models.Grade
	NotifyNewOnly  bool
}

// Crawler runs one full crawl: enumerate, fetch, extract, score, persist,
// reconcile and record.
type Crawler struct {
	fetcher   PageFetcher
	extractor *Extractor
	ranker    *Ranker
	store     storage.ListingStore
	notifier  Notifier
	cfg       CrawlerConfig
	logger    *utils.Logger
	now       func() time.Time

	mu      sync.Mutex
	phase   models.RunPhase
	running bool
}

// NewCrawler wires a Crawler. notifier may be nil.
func NewCrawler(fetcher PageFetcher, extractor *Extractor, ranker *Ranker, store storage.ListingStore,
	notifier Notifier, cfg CrawlerConfig, logger *utils.Logger) *Crawler {
	return &Crawler{
		fetcher:   fetcher,
		extractor: extractor,
		ranker:    ranker,
		store:     store,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		phase:     models.PhaseIdle,
	}
}

// Phase reports the current run phase.
func (c *Crawler) Phase() models.RunPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Crawler) setPhase(p models.RunPhase) {
	c.mu.Lock()
	prev := c.phase
	c.phase = p
	c.mu.Unlock()
	c.logger.Info("[crawler] %s -> %s", prev, p)
}

// enterStage moves one listing through extracting, scoring or persisting.
// With several workers the phase reflects the most recent stage entered.
func (c *Crawler) enterStage(p models.RunPhase, subject string) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
	c.logger.Debug("[crawler] %s %s", p, subject)
}

// runState accumulates the outcome of one run across workers.
type runState struct {
	mu         sync.Mutex
	log        *models.RunLog
	observed   map[string]struct{}
	announce   []models.Announcement
	persistErr error
}

// Run executes one crawl and always tries to leave a RunLog behind. The
// returned RunLog is non-nil except when another run is in progress.
func (c *Crawler) Run(ctx context.Context) (*models.RunLog, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrRunInProgress
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	start := c.now()
	st := &runState{
		log:      &models.RunLog{RunID: uuid.New(), ExecutedAt: start},
		observed: make(map[string]struct{}),
	}
	c.logger.Info("[crawler] Run %s started", st.log.RunID)

	throttle := utils.NewThrottle(c.cfg.RequestDelay)

	c.setPhase(models.PhaseListing)
	urls, err := c.enumerate(ctx, throttle)
	st.log.CandidateCount = len(urls)
	if err != nil {
		return c.finish(ctx, st, start, fmt.Errorf("%w: %w", ErrEnumeration, err))
	}
	c.logger.Info("[crawler] %d candidate listings", len(urls))

	c.setPhase(models.PhaseExtracting)
	c.processAll(ctx, urls, throttle, st)

	if st.persistErr != nil {
		return c.finish(ctx, st, start, st.persistErr)
	}
	if err := ctx.Err(); err != nil {
		return c.finish(ctx, st, start, fmt.Errorf("crawl interrupted: %w", err))
	}

	c.setPhase(models.PhaseReconciling)
	if len(st.observed) == 0 {
		c.logger.Warn("[crawler] No listing was stored this run; reconcile will deactivate every active listing")
	}
	n, err := c.store.Reconcile(ctx, st.observed)
	if err != nil {
		return c.finish(ctx, st, start, fmt.Errorf("%w: reconcile: %w", ErrPersistence, err))
	}
	st.log.DeactivatedCount = n

	run, err := c.finish(ctx, st, start, nil)
	c.notify(ctx, st.announce)
	return run, err
}

// enumerate walks the result pages and returns the distinct detail URLs.
// Any list-page failure aborts enumeration.
func (c *Crawler) enumerate(ctx context.Context, throttle *utils.Throttle) ([]string, error) {
	maxPages := c.cfg.MaxPages
	if maxPages < 1 {
		maxPages = 1
	}

	seen := utils.NewURLSet()
	var urls []string
	for page := 1; page <= maxPages; page++ {
		if err := throttle.Wait(ctx); err != nil {
			return urls, err
		}

		links, hasNext, err := c.fetcher.ListPage(ctx, page)
		if err != nil {
			return urls, fmt.Errorf("page %d: %w", page, err)
		}

		added := 0
		for _, l := range links {
			if seen.Add(l) {
				urls = append(urls, l)
				added++
			}
		}
		c.logger.Info("[crawler] Page %d: %d links, %d new", page, len(links), added)

		if len(links) == 0 {
			c.logger.Warn("[crawler] Page %d has no listings, stopping", page)
			break
		}
		if !hasNext {
			break
		}
	}
	return urls, nil
}

// processAll runs fetch, extract, score and upsert for every URL on the
// worker pool. A persistence failure cancels the remaining work.
func (c *Crawler) processAll(ctx context.Context, urls []string, throttle *utils.Throttle, st *runState) {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := utils.NewWorkerPool(c.cfg.MaxConcurrency, throttle)
	for _, u := range urls {
		if workCtx.Err() != nil {
			break
		}
		u := u
		pool.Submit(workCtx, func(waitErr error) {
			if waitErr != nil {
				return
			}
			if err := c.processOne(workCtx, u, st); err != nil {
				st.mu.Lock()
				if st.persistErr == nil {
					st.persistErr = err
				}
				st.mu.Unlock()
				cancel()
			}
		})
	}
	pool.Wait()
}

// processOne handles a single detail URL. It returns an error only for a
// persistence failure; fetch failures are counted and logged.
func (c *Crawler) processOne(ctx context.Context, url string, st *runState) error {
	c.enterStage(models.PhaseExtracting, url)
	page, err := c.fetcher.FetchDetail(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("[crawler] %v: %s: %v", ErrFetch, url, err)
		st.mu.Lock()
		st.log.ErrorCount++
		st.mu.Unlock()
		return nil
	}

	listing := c.extractor.Extract(page, url)

	c.enterStage(models.PhaseScoring, listing.ID)
	listing.Score = c.ranker.Score(listing)

	c.enterStage(models.PhasePersisting, listing.ID)
	isNew, id, err := c.store.Upsert(ctx, listing)
	if err != nil {
		c.logger.Error("[crawler] Upsert %s failed: %v", listing.ID, err)
		return fmt.Errorf("%w: upsert %s: %w", ErrPersistence, listing.ID, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.observed[id] = struct{}{}
	st.log.TotalSeen++
	if isNew {
		st.log.NewCount++
	} else {
		st.log.UpdatedCount++
	}
	if c.shouldAnnounce(listing, isNew) {
		st.announce = append(st.announce, models.Announcement{Listing: listing, New: isNew})
	}
	c.logger.Info("[crawler] %s %s %.2f (%s)", listing.ID, listing.Score.Grade, listing.Score.Total, newOrUpdated(isNew))
	return nil
}

func (c *Crawler) shouldAnnounce(l *models.Listing, isNew bool) bool {
	if c.notifier == nil || (c.cfg.NotifyNewOnly && !isNew) {
		return false
	}
	for _, g := range c.cfg.NotifyGrades {
		if l.Score.Grade == g {
			return true
		}
	}
	return false
}

// finish records the run log. A failed run gets status failed and one extra
// error. A run-log write failure is joined to the run error.
func (c *Crawler) finish(ctx context.Context, st *runState, start time.Time, runErr error) (*models.RunLog, error) {
	run := st.log
	run.DurationSeconds = round2(c.now().Sub(start).Seconds())

	if runErr != nil {
		run.Status = models.RunFailed
		run.ErrorCount++
		run.Message = runErr.Error()
		c.setPhase(models.PhaseFailed)
		c.logger.Error("[crawler] Run %s failed: %v", run.RunID, runErr)
	} else {
		run.Status = models.RunCompleted
		run.Message = fmt.Sprintf("seen %d, new %d, updated %d, deactivated %d, errors %d",
			run.TotalSeen, run.NewCount, run.UpdatedCount, run.DeactivatedCount, run.ErrorCount)
		c.setPhase(models.PhaseCompleted)
		c.logger.Info("[crawler] Run %s completed in %.1fs: %s", run.RunID, run.DurationSeconds, run.Message)
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordRunTimeout)
	defer cancel()
	if err := c.store.RecordRun(recordCtx, run); err != nil {
		c.logger.Error("[crawler] Could not record run %s: %v", run.RunID, err)
		return run, errors.Join(runErr, fmt.Errorf("%w: %w", ErrRunLogWrite, err))
	}
	return run, runErr
}

func (c *Crawler) notify(ctx context.Context, announcements []models.Announcement) {
	if c.notifier == nil || len(announcements) == 0 {
		return
	}
	if err := c.notifier.Notify(ctx, announcements); err != nil {
		c.logger.Warn("[crawler] Notification failed: %v", err)
		return
	}
	c.logger.Info("[crawler] Announced %d listings", len(announcements))
}

func newOrUpdated(isNew bool) string {
	if isNew {
		return "new"
	}
	return "updated"
}
