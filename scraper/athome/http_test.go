package athome

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"athome-scraper/utils"
)

func newTestServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var missingHits int32

	mux := http.NewServeMux()
	mux.HandleFunc("/list/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(`<a href="/tochi/6978000009/">last</a>`))
			return
		}
		_, _ = w.Write([]byte(listHTML))
	})
	mux.HandleFunc("/tochi/6978000002/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(detailHTML))
	})
	mux.HandleFunc("/tochi/6978000004/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><p>認証にご協力ください</p></body></html>`))
	})
	mux.HandleFunc("/tochi/6978000404/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&missingHits, 1)
		http.NotFound(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &missingHits
}

func newTestFetcher(t *testing.T, srv *httptest.Server) *HTTPFetcher {
	t.Helper()
	f, err := NewHTTPFetcher(Options{
		SearchURL:  srv.URL + "/list/",
		UserAgent:  "athome-scraper-test",
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}, utils.NewDiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestHTTPFetcherListPages(t *testing.T) {
	srv, _ := newTestServer(t)
	f := newTestFetcher(t, srv)

	links, hasNext, err := f.ListPage(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 2 || links[0] != srv.URL+"/tochi/6978000001/" {
		t.Errorf("page 1 links = %v", links)
	}
	if !hasNext {
		t.Error("page 1 should have a next page")
	}

	links, hasNext, err = f.ListPage(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || hasNext {
		t.Errorf("page 2 = %v, %v; want one link and no next page", links, hasNext)
	}
}

func TestHTTPFetcherDetail(t *testing.T) {
	srv, _ := newTestServer(t)
	f := newTestFetcher(t, srv)

	u := srv.URL + "/tochi/6978000002/"
	p, err := f.FetchDetail(context.Background(), u)
	if err != nil {
		t.Fatal(err)
	}
	if p.URL != u || p.Price != "1,280万円" {
		t.Errorf("detail = %+v", p)
	}
	if len(p.ImageURLs) == 0 || p.ImageURLs[0] != srv.URL+"/img/1.jpg" {
		t.Errorf("images should resolve against the test server: %v", p.ImageURLs)
	}
}

func TestHTTPFetcherNotFoundIsNotRetried(t *testing.T) {
	srv, hits := newTestServer(t)
	f := newTestFetcher(t, srv)

	_, err := f.FetchDetail(context.Background(), srv.URL+"/tochi/6978000404/")
	if !errors.Is(err, utils.ErrPermanent) {
		t.Errorf("err = %v; want ErrPermanent", err)
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Errorf("404 fetched %d times; want 1", n)
	}
}

func TestHTTPFetcherDetectsVerificationPage(t *testing.T) {
	srv, _ := newTestServer(t)
	f := newTestFetcher(t, srv)

	_, err := f.FetchDetail(context.Background(), srv.URL+"/tochi/6978000004/")
	if !errors.Is(err, ErrBlocked) {
		t.Errorf("err = %v; want ErrBlocked", err)
	}
}

func TestHTTPFetcherCancelledContext(t *testing.T) {
	srv, _ := newTestServer(t)
	f := newTestFetcher(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := f.ListPage(ctx, 1); err == nil {
		t.Error("ListPage with a cancelled context should fail")
	}
}
