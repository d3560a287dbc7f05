package services

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"athome-scraper/models"
	"athome-scraper/utils"
)

func newTestLogger() *utils.Logger { return utils.NewDiscardLogger() }

func TestListingID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.athome.co.jp/tochi/6978912345/", "athome_6978912345"},
		{"https://www.athome.co.jp/kodate/1012345678/?DOWN=1", "athome_1012345678"},
		{"https://www.athome.co.jp/tochi/6978912345/photo/2/", "athome_6978912345"},
		{"https://www.athome.co.jp/tochi2/6978912345/", "athome_2"},
	}
	for _, tt := range tests {
		if got := ListingID(tt.url); got != tt.want {
			t.Errorf("ListingID(%q) = %q; want %q", tt.url, got, tt.want)
		}
	}
}

func TestListingIDFallsBackToHash(t *testing.T) {
	u := "https://www.athome.co.jp/tochi/detail/?bukken=abc"
	got := ListingID(u)
	if !strings.HasPrefix(got, "athome_") || len(got) != len("athome_")+10 {
		t.Errorf("ListingID(%q) = %q; want athome_ plus 10 hex chars", u, got)
	}
	if again := ListingID(u); again != got {
		t.Errorf("ListingID is not stable: %q then %q", got, again)
	}
	if other := ListingID(u + "x"); other == got {
		t.Errorf("different URLs produced the same id %q", got)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw    string
		want   int
		wantOK bool
	}{
		{"1,980万円", 1980, true},
		{"１，９８０万円", 1980, true},
		{"価格 850 万円（税込）", 850, true},
		{"1億2,000万円", 12000, true},
		{"2億円", 20000, true},
		{"0万円", 0, false},
		{"価格相談", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePrice(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParsePrice(%q) = %d, %v; want %d, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseArea(t *testing.T) {
	tests := []struct {
		raw       string
		wantM2    float64
		wantTsubo float64
		wantOK    bool
	}{
		{"165.5㎡（50.06坪）", 165.5, 50.06, true},
		{"200m2", 200, 200 / SquareMetersPerTsubo, true},
		{"１，０００．５㎡", 1000.5, 1000.5 / SquareMetersPerTsubo, true},
		{"30坪", 0, 30, true},
		{"面積不明", 0, 0, false},
	}
	for _, tt := range tests {
		m2, tsubo, ok := ParseArea(tt.raw)
		if ok != tt.wantOK {
			t.Errorf("ParseArea(%q) ok = %v; want %v", tt.raw, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if got := floatOrZero(m2); math.Abs(got-tt.wantM2) > 1e-9 {
			t.Errorf("ParseArea(%q) m2 = %v; want %v", tt.raw, got, tt.wantM2)
		}
		if got := floatOrZero(tsubo); math.Abs(got-tt.wantTsubo) > 1e-9 {
			t.Errorf("ParseArea(%q) tsubo = %v; want %v", tt.raw, got, tt.wantTsubo)
		}
	}
}

func TestParseWalkMinutes(t *testing.T) {
	tests := []struct {
		raw    string
		want   int
		wantOK bool
	}{
		{"JR日豊本線「大分」駅 徒歩12分", 12, true},
		{"徒歩 ５ 分", 5, true},
		{"バス15分 停歩3分", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseWalkMinutes(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseWalkMinutes(%q) = %d, %v; want %d, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParsePercent(t *testing.T) {
	tests := []struct {
		raw    string
		want   float64
		wantOK bool
	}{
		{"60%", 60, true},
		{"建ぺい率：６０％", 60, true},
		{"容積率 200.5 %", 200.5, true},
		{"-", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePercent(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParsePercent(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestExtractFullPage(t *testing.T) {
	e := NewExtractor(newTestLogger())
	fixed := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	page := &models.DetailPage{
		Title:          "  大分市府内町 売地\n",
		Price:          "1,500万円",
		Address:        "大分県大分市府内町2丁目",
		Area:           "198.35㎡",
		Station:        "JR日豊本線 大分駅 徒歩8分",
		Coverage:       "80%",
		FloorAreaRatio: "400%",
		Zoning:         "商業地域",
	}
	l := e.Extract(page, "https://www.athome.co.jp/tochi/6978000001/")

	if l.ID != "athome_6978000001" {
		t.Errorf("ID = %q", l.ID)
	}
	if l.Title != "大分市府内町 売地" {
		t.Errorf("Title = %q; want whitespace trimmed", l.Title)
	}
	if l.PriceAmount == nil || *l.PriceAmount != 1500 {
		t.Errorf("PriceAmount = %v; want 1500", l.PriceAmount)
	}
	if l.AreaTsubo == nil || math.Abs(*l.AreaTsubo-198.35/SquareMetersPerTsubo) > 1e-9 {
		t.Errorf("AreaTsubo = %v", l.AreaTsubo)
	}
	if l.WalkMinutes == nil || *l.WalkMinutes != 8 || l.WalkTimeText != "徒歩8分" {
		t.Errorf("walk = %v %q; want 8 徒歩8分", l.WalkMinutes, l.WalkTimeText)
	}
	if l.BuildingCoverageRatio == nil || *l.BuildingCoverageRatio != 80 {
		t.Errorf("BuildingCoverageRatio = %v; want 80", l.BuildingCoverageRatio)
	}
	if l.FloorAreaRatio == nil || *l.FloorAreaRatio != 400 {
		t.Errorf("FloorAreaRatio = %v; want 400", l.FloorAreaRatio)
	}
	if !l.IsActive || !l.ScrapedAt.Equal(fixed) || !l.UpdatedAt.Equal(fixed) {
		t.Errorf("lifecycle fields = %v %v %v", l.IsActive, l.ScrapedAt, l.UpdatedAt)
	}
}

func TestExtractToleratesMissingFields(t *testing.T) {
	e := NewExtractor(newTestLogger())
	l := e.Extract(&models.DetailPage{Price: "応相談"}, "https://www.athome.co.jp/tochi/42/")

	if l.Title != defaultTitle {
		t.Errorf("Title = %q; want %q", l.Title, defaultTitle)
	}
	if l.PriceAmount != nil || l.AreaTsubo != nil || l.WalkMinutes != nil {
		t.Error("unparseable fields should stay nil")
	}
	if l.PriceText != "応相談" {
		t.Errorf("PriceText = %q; raw text should be kept", l.PriceText)
	}

	if got := e.Extract(nil, "https://www.athome.co.jp/tochi/43/"); got.ID != "athome_43" {
		t.Errorf("nil page: ID = %q", got.ID)
	}
}

func TestExtractCapsImages(t *testing.T) {
	var urls []string
	for i := 0; i < 8; i++ {
		urls = append(urls, fmt.Sprintf("https://img.athome.jp/%d.jpg", i))
	}
	urls = append([]string{urls[0], ""}, urls...)

	l := NewExtractor(newTestLogger()).Extract(&models.DetailPage{ImageURLs: urls}, "https://www.athome.co.jp/tochi/1/")
	if len(l.ImageURLs) != maxImages {
		t.Fatalf("len(ImageURLs) = %d; want %d", len(l.ImageURLs), maxImages)
	}
	if l.ImageURLs[0] != urls[0] || l.ImageURLs[1] != "https://img.athome.jp/1.jpg" {
		t.Errorf("ImageURLs = %v; want duplicates and blanks dropped in order", l.ImageURLs)
	}
}

func floatOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
