package storage

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"athome-scraper/models"
)

func TestCSVWriterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "listings.csv")
	w, err := NewCSVWriter(path)
	if err != nil {
		t.Fatal(err)
	}

	tsubo := 50.061
	l := testListing("athome_1", 81.5, models.GradeA, time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))
	l.PriceText = "1,000万円"
	l.AreaTsubo = &tsubo
	l.WalkTimeText = "徒歩8分"

	if err := w.Write([]*models.Listing{l}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte(utf8BOM)) {
		t.Fatal("file does not start with a UTF-8 BOM")
	}

	records, err := csv.NewReader(bytes.NewReader(raw[len(utf8BOM):])).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records; want header plus 1", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(csvHeader, ",") {
		t.Errorf("header = %v", records[0])
	}

	row := records[1]
	checks := map[int]string{
		0:  "athome_1",
		2:  "1,000万円",
		5:  "50.06",
		7:  "徒歩8分",
		8:  "A",
		9:  "81.50",
		15: "2026-03-01 09:30:00",
	}
	for i, want := range checks {
		if row[i] != want {
			t.Errorf("column %s = %q; want %q", csvHeader[i], row[i], want)
		}
	}
}

func TestCSVStreamLeavesWriterOpen(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewCSVStream(&buf)
	if err != nil {
		t.Fatal(err)
	}
	_ = w.Write(nil)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimPrefix(buf.String(), utf8BOM); !strings.HasPrefix(got, "id,title,price") {
		t.Errorf("stream output = %q", buf.String())
	}
}

func TestExportPath(t *testing.T) {
	got := ExportPath("exports", time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC))
	want := filepath.Join("exports", "listings_20260102_150405.csv")
	if got != want {
		t.Errorf("ExportPath = %q; want %q", got, want)
	}
}
