package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"athome-scraper/config"
	"athome-scraper/models"
	"athome-scraper/services"
	"athome-scraper/storage"
	"athome-scraper/utils"
)

const shutdownTimeout = 10 * time.Second

// Runner is a crawl the API can start and whose phase it reports.
type Runner interface {
	services.Runner
	Phase() models.RunPhase
}

// Server exposes the listing store over HTTP and lets callers trigger a
// crawl.
type Server struct {
	store   storage.ListingStore
	runner  Runner
	logger  *utils.Logger
	router  *mux.Router
	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewServer builds the router. Crawls started through the API run under
// ctx rather than the request context.
func NewServer(ctx context.Context, store storage.ListingStore, runner Runner, logger *utils.Logger) *Server {
	s := &Server{store: store, runner: runner, logger: logger, baseCtx: ctx}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/listings", s.handleListings).Methods(http.MethodGet)
	api.HandleFunc("/listings/{id}", s.handleListing).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/export.csv", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.handleRun).Methods(http.MethodPost)
	s.router = r

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down and waits
// for background crawls to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[api] Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	s.logger.Info("[api] Stopped")
	return err
}

// Wait blocks until crawls started through the API have returned.
func (s *Server) Wait() { s.wg.Wait() }

type healthResponse struct {
	Status string          `json:"status"`
	Phase  models.RunPhase `json:"phase"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Phase: s.runner.Phase()})
}

// handleListings serves GET /api/listings?grade=S,A.
func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	grades, err := config.ParseGrades(r.URL.Query().Get("grade"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	listings, err := s.store.QueryActive(r.Context(), grades...)
	if err != nil {
		s.logger.Error("[api] Query listings: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if listings == nil {
		listings = []*models.Listing{}
	}
	writeJSON(w, http.StatusOK, listings)
}

type listingResponse struct {
	Listing *models.Listing       `json:"listing"`
	History []models.HistoryEntry `json:"history"`
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	l, err := s.store.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.logger.Error("[api] Get %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	history, err := s.store.History(r.Context(), id)
	if err != nil {
		s.logger.Error("[api] History %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if history == nil {
		history = []models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, listingResponse{Listing: l, History: history})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.AggregateStats(r.Context())
	if err != nil {
		s.logger.Error("[api] Stats: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleExport streams active listings as CSV, optionally filtered by grade.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	grades, err := config.ParseGrades(r.URL.Query().Get("grade"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	listings, err := s.store.QueryActive(r.Context(), grades...)
	if err != nil {
		s.logger.Error("[api] Export query: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="listings.csv"`)
	cw, err := storage.NewCSVStream(w)
	if err == nil {
		err = cw.Write(listings)
	}
	if err == nil {
		err = cw.Close()
	}
	if err != nil {
		// Headers are already sent; the client sees a truncated body.
		s.logger.Error("[api] Export write: %v", err)
	}
}

// handleRun starts a crawl in the background and answers 202. With
// ?wait=true it runs the crawl in the request and returns the run log.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("wait") == "true" {
		run, err := s.runner.Run(r.Context())
		switch {
		case errors.Is(err, services.ErrRunInProgress):
			writeError(w, http.StatusConflict, err)
		case err != nil && run == nil:
			writeError(w, http.StatusInternalServerError, err)
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, runResponse{Run: run, Error: err.Error()})
		default:
			writeJSON(w, http.StatusOK, runResponse{Run: run})
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.runner.Run(s.baseCtx); err != nil {
			s.logger.Error("[api] Triggered run: %v", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type runResponse struct {
	Run   *models.RunLog `json:"run"`
	Error string         `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
