package athome

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"athome-scraper/models"
)

// Selectors for the list pages. The primary set targets property cards; the
// fallback set is tried when the primary set finds nothing.
const (
	listLinkSelector     = `a.property-link, .bukken-link a, .item-link, .property-item a, .item-title a, a[href*="/tochi/"], a[href*="/kodate/"]`
	listFallbackSelector = `[class*="property"] a[href*="/detail/"], [class*="bukken"] a[href*="/detail/"], a[href*="/bukken/"]`
	nextPageSelector     = `a.next-page, .pagination .next a, a[rel="next"]`
)

// Selectors for the detail page fields.
const (
	titleSelector    = `h1, .property-title, .bukken-title`
	priceSelector    = `.price, .kakaku, [class*="price"]`
	addressSelector  = `.address, .jusho, [class*="address"]`
	areaSelector     = `[class*="area"], [class*="menseki"]`
	stationSelector  = `[class*="station"], .eki, [class*="eki-"], [class*="eki_"]`
	coverageSelector = `[class*="kenpei"]`
	ratioSelector    = `[class*="yoseki"]`
	zoningSelector   = `[class*="youto"], [class*="chiiki"]`
	imageSelector    = `.property-image img, .bukken-image img, [class*="photo"] img`
)

// Row labels of the property table, used when a class selector finds nothing.
const (
	labelPrice    = "価格"
	labelAddress  = "所在地"
	labelArea     = "土地面積"
	labelStation  = "交通"
	labelCoverage = "建ぺい率"
	labelRatio    = "容積率"
	labelZoning   = "用途地域"
)

// detailPathRegexp matches athome detail paths such as /tochi/6978912345/.
var detailPathRegexp = regexp.MustCompile(`/(?:tochi|kodate)/(?:[a-z]+/)*\d{6,}/?`)

// ListPageURL returns the URL of result page n. Page 1 is the search URL
// itself; later pages add a page query parameter.
func ListPageURL(searchURL string, page int) (string, error) {
	if page <= 1 {
		return searchURL, nil
	}
	u, err := url.Parse(searchURL)
	if err != nil {
		return "", fmt.Errorf("athome: parse search url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseListPage returns the absolute, deduplicated detail URLs on a list page
// and whether a next page link is present.
func ParseListPage(r io.Reader, base *url.URL) ([]string, bool, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, false, fmt.Errorf("athome: parse list page: %w", err)
	}

	links := collectLinks(doc.Find(listLinkSelector), base)
	if len(links) == 0 {
		links = collectLinks(doc.Find(listFallbackSelector), base)
	}

	hasNext := doc.Find(nextPageSelector).Length() > 0
	return links, hasNext, nil
}

func collectLinks(sel *goquery.Selection, base *url.URL) []string {
	seen := make(map[string]struct{})
	var links []string
	sel.Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		abs := resolve(base, href)
		if abs == nil || abs.Host != base.Host || !isDetailPath(abs.Path) {
			return
		}
		abs.RawQuery, abs.Fragment = "", ""
		s := abs.String()
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		links = append(links, s)
	})
	return links
}

func isDetailPath(p string) bool {
	return detailPathRegexp.MatchString(p) || strings.Contains(p, "/detail/") || strings.Contains(p, "/bukken/")
}

// ParseDetailPage selects the labelled text fragments of a detail page.
func ParseDetailPage(r io.Reader, pageURL *url.URL) (*models.DetailPage, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("athome: parse detail page: %w", err)
	}

	labels := labelTable(doc)
	pick := func(selector, label string) string {
		if s := firstText(doc, selector); s != "" {
			return s
		}
		return labels[label]
	}

	page := &models.DetailPage{
		URL:            pageURL.String(),
		Title:          firstText(doc, titleSelector),
		Price:          pick(priceSelector, labelPrice),
		Address:        pick(addressSelector, labelAddress),
		Area:           pick(areaSelector, labelArea),
		Station:        pick(stationSelector, labelStation),
		Coverage:       pick(coverageSelector, labelCoverage),
		FloorAreaRatio: pick(ratioSelector, labelRatio),
		Zoning:         pick(zoningSelector, labelZoning),
	}

	doc.Find(imageSelector).Each(func(_ int, img *goquery.Selection) {
		src := img.AttrOr("src", "")
		if src == "" {
			src = img.AttrOr("data-src", "")
		}
		if abs := resolve(pageURL, src); src != "" && abs != nil {
			page.ImageURLs = append(page.ImageURLs, abs.String())
		}
	})

	return page, nil
}

func firstText(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

// labelTable maps th/dt labels to the text of the cell that follows them.
// Labels are matched by containment, so "価格（税込）" answers to 価格.
func labelTable(doc *goquery.Document) map[string]string {
	wanted := []string{labelPrice, labelAddress, labelArea, labelStation, labelCoverage, labelRatio, labelZoning}
	out := make(map[string]string, len(wanted))

	doc.Find("th, dt").Each(func(_ int, head *goquery.Selection) {
		text := strings.TrimSpace(head.Text())
		value := strings.TrimSpace(head.NextFiltered("td, dd").Text())
		if value == "" {
			return
		}
		for _, label := range wanted {
			if _, done := out[label]; !done && strings.Contains(text, label) {
				out[label] = value
			}
		}
	})
	return out
}

func resolve(base *url.URL, href string) *url.URL {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") {
		return nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	return base.ResolveReference(ref)
}
