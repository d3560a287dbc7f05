package utils

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle enforces a minimum spacing between requests. A single Throttle is
// shared by every fetch call of a run, whatever goroutine makes it.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows one request per interval. A non-positive interval
// disables throttling.
func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		return &Throttle{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next request may start or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// WorkerPool manages a pool of goroutines whose jobs all pass through one
// shared Throttle before running.
type WorkerPool struct {
	maxWorkers int
	throttle   *Throttle
	semaphore  chan struct{}
	wg         sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool with the given concurrency. throttle may
// be nil.
func NewWorkerPool(maxWorkers int, throttle *Throttle) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if throttle == nil {
		throttle = NewThrottle(0)
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		throttle:   throttle,
		semaphore:  make(chan struct{}, maxWorkers),
	}
}

// Submit enqueues a job for execution in the pool. The job receives the
// error from the throttle wait (non-nil only when ctx is done) and decides
// what to do with it.
func (wp *WorkerPool) Submit(ctx context.Context, job func(waitErr error)) {
	wp.wg.Add(1)
	wp.semaphore <- struct{}{}

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		job(wp.throttle.Wait(ctx))
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// URLSet is a thread-safe set for tracking visited URLs.
type URLSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewURLSet creates an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add returns true if the URL was newly added, false if already present.
func (s *URLSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[url]; exists {
		return false
	}
	s.seen[url] = struct{}{}
	return true
}
