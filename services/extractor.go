package services

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/width"

	"athome-scraper/models"
	"athome-scraper/utils"
)

const (
	idPrefix = "athome_"

	// SquareMetersPerTsubo converts between the two area units.
	SquareMetersPerTsubo = 3.305785

	maxImages    = 5
	defaultTitle = "タイトルなし"
)

var (
	digitsRegexp  = regexp.MustCompile(`\d+`)
	manYenRegexp  = regexp.MustCompile(`([\d,]+)\s*万円`)
	okuYenRegexp  = regexp.MustCompile(`([\d,]+)\s*億\s*(?:([\d,]+)\s*万)?\s*円`)
	sqmRegexp     = regexp.MustCompile(`([\d,]+(?:\.\d+)?)\s*(?:m2|㎡|m²)`)
	tsuboRegexp   = regexp.MustCompile(`([\d,]+(?:\.\d+)?)\s*坪`)
	walkRegexp    = regexp.MustCompile(`徒歩\s*(\d+)\s*分`)
	percentRegexp = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
)

// Extractor turns the text fragments of a detail page into a typed Listing.
type Extractor struct {
	logger *utils.Logger
	now    func() time.Time
}

// NewExtractor creates an Extractor with the given logger.
func NewExtractor(logger *utils.Logger) *Extractor {
	return &Extractor{logger: logger, now: time.Now}
}

// Extract builds a Listing from page. It never fails: a field that cannot be
// parsed is left nil or empty and the rest of the page is still used. The
// Score block is left zero for the ranker to fill.
func (e *Extractor) Extract(page *models.DetailPage, sourceURL string) *models.Listing {
	if page == nil {
		page = &models.DetailPage{}
	}

	now := e.now()
	l := &models.Listing{
		ID:             ListingID(sourceURL),
		SourceURL:      sourceURL,
		Title:          normaliseText(page.Title),
		Address:        normaliseText(page.Address),
		PriceText:      normaliseText(page.Price),
		AreaText:       normaliseText(page.Area),
		NearestStation: normaliseText(page.Station),
		ZoningText:     normaliseText(page.Zoning),
		ImageURLs:      capImages(page.ImageURLs),
		ScrapedAt:      now,
		UpdatedAt:      now,
		IsActive:       true,
	}
	if l.Title == "" {
		l.Title = defaultTitle
	}

	if v, ok := ParsePrice(page.Price); ok {
		l.PriceAmount = &v
	}
	if m2, tsubo, ok := ParseArea(page.Area); ok {
		l.AreaSquareMeters = m2
		l.AreaTsubo = tsubo
	}
	if v, ok := ParseWalkMinutes(page.Station); ok {
		l.WalkMinutes = &v
		l.WalkTimeText = fmt.Sprintf("徒歩%d分", v)
	}
	if v, ok := ParsePercent(page.Coverage); ok {
		l.BuildingCoverageRatio = &v
	}
	if v, ok := ParsePercent(page.FloorAreaRatio); ok {
		l.FloorAreaRatio = &v
	}

	if e.logger != nil {
		e.logger.Debug("[extractor] %s: price=%v tsubo=%v walk=%v", l.ID,
			derefInt(l.PriceAmount), derefFloat(l.AreaTsubo), derefInt(l.WalkMinutes))
	}
	return l
}

// ListingID derives the stable listing id from its source URL: the first
// run of digits in the URL path, or the first 10 hex characters of the md5
// of the whole URL when the path has no digits. The digit run may start
// anywhere in the path, not only after a slash: /tochi2/123/ yields athome_2.
func ListingID(sourceURL string) string {
	if u, err := url.Parse(sourceURL); err == nil {
		if digits := digitsRegexp.FindString(u.Path); digits != "" {
			return idPrefix + digits
		}
	}
	sum := md5.Sum([]byte(sourceURL))
	return idPrefix + hex.EncodeToString(sum[:])[:10]
}

// ParsePrice extracts a price in man-yen from text such as "1,980万円" or
// "1億2,000万円". Non-positive amounts are rejected.
func ParsePrice(text string) (int, bool) {
	s := foldWidth(text)

	if m := okuYenRegexp.FindStringSubmatch(s); m != nil {
		oku, ok := parseInt(m[1])
		if !ok {
			return 0, false
		}
		total := oku * 10000
		if m[2] != "" {
			man, ok := parseInt(m[2])
			if !ok {
				return 0, false
			}
			total += man
		}
		if total > 0 {
			return total, true
		}
		return 0, false
	}

	m := manYenRegexp.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, ok := parseInt(m[1])
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// ParseArea extracts the land area. A square-metre value also yields a
// derived tsubo value; a tsubo value written in the text overrides the
// derived one.
func ParseArea(text string) (m2, tsubo *float64, ok bool) {
	s := foldWidth(text)

	if m := sqmRegexp.FindStringSubmatch(s); m != nil {
		if v, ok := parseFloat(m[1]); ok && v > 0 {
			t := v / SquareMetersPerTsubo
			m2, tsubo = &v, &t
		}
	}
	if m := tsuboRegexp.FindStringSubmatch(s); m != nil {
		if v, ok := parseFloat(m[1]); ok && v > 0 {
			tsubo = &v
		}
	}
	return m2, tsubo, m2 != nil || tsubo != nil
}

// ParseWalkMinutes extracts N from "徒歩N分". Absence means unknown, not zero.
func ParseWalkMinutes(text string) (int, bool) {
	m := walkRegexp.FindStringSubmatch(foldWidth(text))
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParsePercent extracts the first "N%" value from text.
func ParsePercent(text string) (float64, bool) {
	m := percentRegexp.FindStringSubmatch(foldWidth(text))
	if m == nil {
		return 0, false
	}
	return parseFloat(m[1])
}

// foldWidth maps full-width ASCII variants (digits, ％, ，, ｍ) to their
// narrow forms so the patterns above match Japanese page text.
func foldWidth(s string) string {
	return width.Narrow.String(s)
}

func parseInt(s string) (int, bool) {
	v, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func capImages(urls []string) []string {
	out := make([]string, 0, maxImages)
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
		if len(out) == maxImages {
			break
		}
	}
	return out
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.Join(fields, " ")
}

func derefInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func derefFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
