package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"athome-scraper/models"
)

// utf8BOM lets spreadsheet tools detect the encoding of the Japanese text.
const utf8BOM = "\ufeff"

var csvHeader = []string{
	"id", "title", "price", "address", "area", "area_tsubo", "nearest_station", "walk_time",
	"grade", "total", "price_score", "location_score", "area_score", "investment_score",
	"url", "scraped_at",
}

// CSVWriter writes the listing projection as UTF-8 CSV with a BOM.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	closer io.Closer
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	c, err := newCSVWriter(f, f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return c, nil
}

// NewCSVStream writes the projection to w, for HTTP responses. Close flushes
// but does not close w.
func NewCSVStream(w io.Writer) (*CSVWriter, error) {
	return newCSVWriter(w, nil)
}

func newCSVWriter(w io.Writer, closer io.Closer) (*CSVWriter, error) {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return nil, fmt.Errorf("csv: write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	cw.Flush()
	return &CSVWriter{closer: closer, writer: cw}, cw.Error()
}

// Write appends one row per listing.
func (c *CSVWriter) Write(listings []*models.Listing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range listings {
		if err := c.writer.Write(csvRow(l)); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writer.Flush()
	if c.closer == nil {
		return c.writer.Error()
	}
	return c.closer.Close()
}

// ExportPath returns the timestamped export file name inside dir.
func ExportPath(dir string, t time.Time) string {
	return filepath.Join(dir, "listings_"+t.Format("20060102_150405")+".csv")
}

func csvRow(l *models.Listing) []string {
	tsubo := ""
	if l.AreaTsubo != nil {
		tsubo = strconv.FormatFloat(*l.AreaTsubo, 'f', 2, 64)
	}
	return []string{
		l.ID,
		l.Title,
		l.PriceText,
		l.Address,
		l.AreaText,
		tsubo,
		l.NearestStation,
		l.WalkTimeText,
		string(l.Score.Grade),
		formatScore(l.Score.Total),
		formatScore(l.Score.Price),
		formatScore(l.Score.Location),
		formatScore(l.Score.Area),
		formatScore(l.Score.Investment),
		l.SourceURL,
		l.ScrapedAt.Format("2006-01-02 15:04:05"),
	}
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
