package athome

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"athome-scraper/models"
	"athome-scraper/utils"
)

// settleDelay gives client-side scripts time to fill in the page after the
// body is ready.
const settleDelay = 2 * time.Second

// BrowserFetcher renders pages in headless Chrome through chromedp. One
// browser is started per fetcher; every page opens its own tab.
type BrowserFetcher struct {
	searchURL string
	timeout   time.Duration
	retry     *utils.RetryConfig
	logger    *utils.Logger

	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// NewBrowserFetcher starts a headless browser.
func NewBrowserFetcher(opts Options, logger *utils.Logger) (*BrowserFetcher, error) {
	chromeBin := findChromeBinary(opts.ChromeBin)
	logger.Info("[athome] Using browser binary: %s", chromeBin)

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("lang", "ja-JP"),
		chromedp.UserAgent(opts.UserAgent),
	)
	if chromeBin != "" {
		execOpts = append(execOpts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), execOpts...)

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("athome: start browser: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}

	return &BrowserFetcher{
		searchURL:     opts.SearchURL,
		timeout:       timeout,
		retry:         &utils.RetryConfig{MaxAttempts: opts.MaxRetries, BaseDelay: retryDelay, Logger: logger},
		logger:        logger,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

// ListPage renders result page n and returns its detail URLs.
func (b *BrowserFetcher) ListPage(ctx context.Context, page int) ([]string, bool, error) {
	pageURL, err := ListPageURL(b.searchURL, page)
	if err != nil {
		return nil, false, err
	}

	html, final, err := b.render(ctx, pageURL)
	if err != nil {
		return nil, false, err
	}
	return ParseListPage(strings.NewReader(html), final)
}

// FetchDetail renders one detail page and selects its fields.
func (b *BrowserFetcher) FetchDetail(ctx context.Context, detailURL string) (*models.DetailPage, error) {
	html, final, err := b.render(ctx, detailURL)
	if err != nil {
		return nil, err
	}

	page, err := ParseDetailPage(strings.NewReader(html), final)
	if err != nil {
		return nil, err
	}
	page.URL = detailURL
	return page, nil
}

// Close shuts the browser down.
func (b *BrowserFetcher) Close() error {
	b.cancelBrowser()
	b.cancelAlloc()
	return nil
}

// render loads pageURL in a fresh tab and returns the final HTML. A
// verification page is reported as ErrBlocked and is not retried.
func (b *BrowserFetcher) render(ctx context.Context, pageURL string) (string, *url.URL, error) {
	var html, location string

	err := b.retry.Do(ctx, "render "+pageURL, func() error {
		tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
		defer cancelTab()

		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.timeout)
		defer cancelTimeout()

		stop := context.AfterFunc(ctx, cancelTab)
		defer stop()

		err := chromedp.Run(tabCtx,
			chromedp.Navigate(pageURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(settleDelay),
			chromedp.Location(&location),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
		if err != nil {
			return fmt.Errorf("chromedp render: %w", err)
		}

		if isVerificationPage([]byte(html)) {
			b.logger.Warn("[athome] CAPTCHA page detected at %s", pageURL)
			return fmt.Errorf("%w: %w: %s", utils.ErrPermanent, ErrBlocked, pageURL)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	final, err := url.Parse(location)
	if err != nil || final.Host == "" {
		final, err = url.Parse(pageURL)
		if err != nil {
			return "", nil, fmt.Errorf("athome: parse url %q: %w", pageURL, err)
		}
	}
	return html, final, nil
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
