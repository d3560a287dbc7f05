package athome

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"athome-scraper/models"
	"athome-scraper/utils"
)

// ErrBlocked is returned when the site answers with a CAPTCHA or
// verification page instead of content.
var ErrBlocked = errors.New("athome: blocked by verification page")

// Options configures both fetch strategies.
type Options struct {
	SearchURL  string
	UserAgent  string
	ChromeBin  string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// HTTPFetcher fetches pages with plain HTTP requests through colly.
type HTTPFetcher struct {
	collector *colly.Collector
	searchURL string
	timeout   time.Duration
	retry     *utils.RetryConfig
	logger    *utils.Logger
}

// NewHTTPFetcher creates the parent collector. Every request runs on a clone
// so callbacks never leak between calls.
func NewHTTPFetcher(opts Options, logger *utils.Logger) (*HTTPFetcher, error) {
	if _, err := url.Parse(opts.SearchURL); err != nil {
		return nil, fmt.Errorf("athome: invalid search url: %w", err)
	}

	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	if opts.Timeout > 0 {
		c.SetRequestTimeout(opts.Timeout)
	}

	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	attempts := opts.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	return &HTTPFetcher{
		collector: c,
		searchURL: opts.SearchURL,
		timeout:   opts.Timeout,
		retry:     &utils.RetryConfig{MaxAttempts: attempts, BaseDelay: retryDelay, Logger: logger},
		logger:    logger,
	}, nil
}

// ListPage fetches result page n and returns its detail URLs.
func (f *HTTPFetcher) ListPage(ctx context.Context, page int) ([]string, bool, error) {
	pageURL, err := ListPageURL(f.searchURL, page)
	if err != nil {
		return nil, false, err
	}

	body, final, err := f.get(ctx, pageURL)
	if err != nil {
		return nil, false, err
	}
	if isVerificationPage(body) {
		return nil, false, fmt.Errorf("%w: %s", ErrBlocked, pageURL)
	}
	return ParseListPage(bytes.NewReader(body), final)
}

// FetchDetail fetches one detail page and selects its fields.
func (f *HTTPFetcher) FetchDetail(ctx context.Context, detailURL string) (*models.DetailPage, error) {
	body, final, err := f.get(ctx, detailURL)
	if err != nil {
		return nil, err
	}
	if isVerificationPage(body) {
		return nil, fmt.Errorf("%w: %s", ErrBlocked, detailURL)
	}

	page, err := ParseDetailPage(bytes.NewReader(body), final)
	if err != nil {
		return nil, err
	}
	page.URL = detailURL
	return page, nil
}

// Close is a no-op; colly holds no resources between requests.
func (f *HTTPFetcher) Close() error { return nil }

// get fetches rawURL with retries and returns the body and the final URL
// after redirects.
func (f *HTTPFetcher) get(ctx context.Context, rawURL string) ([]byte, *url.URL, error) {
	var (
		body  []byte
		final *url.URL
	)

	err := f.retry.Do(ctx, "GET "+rawURL, func() error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", utils.ErrPermanent, err)
		}

		c := f.collector.Clone()
		var status int
		var respErr error

		c.OnRequest(func(r *colly.Request) {
			f.logger.Debug("[athome] GET %s", r.URL)
		})
		c.OnResponse(func(r *colly.Response) {
			body = r.Body
			final = r.Request.URL
			status = r.StatusCode
		})
		c.OnError(func(r *colly.Response, err error) {
			status = r.StatusCode
			respErr = err
		})

		err := c.Visit(rawURL)
		if respErr == nil {
			respErr = err
		}
		if respErr != nil {
			if status == http.StatusNotFound || status == http.StatusGone {
				return fmt.Errorf("%w: %s returned %d", utils.ErrPermanent, rawURL, status)
			}
			return fmt.Errorf("athome: %s (status %d): %w", rawURL, status, respErr)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return body, final, nil
}

const verificationMarker = "認証にご協力ください"

func isVerificationPage(body []byte) bool {
	return bytes.Contains(body, []byte(verificationMarker)) ||
		bytes.Contains(bytes.ToLower(body), []byte("captcha"))
}
