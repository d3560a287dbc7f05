package services

import (
	"fmt"
	"io"
	"strings"

	"athome-scraper/models"
	"athome-scraper/utils"
)

const topReportListings = 5

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate builds a status report from the store aggregates and the active
// listings.
func (s *InsightService) Generate(stats *models.Stats, active []*models.Listing) *models.StatusReport {
	report := &models.StatusReport{CountByGrade: make(map[models.Grade]int)}
	if stats != nil {
		report.ActiveCount = stats.ActiveCount
		report.LastRun = stats.LastRun
		for g, n := range stats.CountByGrade {
			report.CountByGrade[g] = n
		}
		report.TopListings = stats.TopByGrade
		if len(report.TopListings) > topReportListings {
			report.TopListings = report.TopListings[:topReportListings]
		}
	}

	var total float64
	for _, l := range active {
		ppt, ok := pricePerTsubo(l)
		if !ok {
			continue
		}
		if report.PricedCount == 0 || ppt < report.MinPricePerTsubo {
			report.MinPricePerTsubo = ppt
			report.Cheapest = l
		}
		if ppt > report.MaxPricePerTsubo {
			report.MaxPricePerTsubo = ppt
		}
		total += ppt
		report.PricedCount++
	}
	if report.PricedCount > 0 {
		report.AveragePricePerTsubo = round2(total / float64(report.PricedCount))
		report.MinPricePerTsubo = round2(report.MinPricePerTsubo)
		report.MaxPricePerTsubo = round2(report.MaxPricePerTsubo)
	}

	s.logger.Debug("[insights] %d active, %d priced", report.ActiveCount, report.PricedCount)
	return report
}

func pricePerTsubo(l *models.Listing) (float64, bool) {
	if l.PriceAmount == nil || l.AreaTsubo == nil || *l.AreaTsubo <= 0 {
		return 0, false
	}
	return float64(*l.PriceAmount) / *l.AreaTsubo, true
}

func (s *InsightService) Print(w io.Writer, r *models.StatusReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  🏞  ATHOME LAND LISTINGS\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Active listings : \033[1m%d\033[0m\n", r.ActiveCount)
	if r.LastRun != nil {
		run := r.LastRun
		fmt.Fprintf(w, "  Last run        : %s (%s, %.1fs)\n",
			run.ExecutedAt.Format("2006-01-02 15:04:05"), run.Status, run.DurationSeconds)
		fmt.Fprintf(w, "                    seen %d, new %d, updated %d, deactivated %d, errors %d\n",
			run.TotalSeen, run.NewCount, run.UpdatedCount, run.DeactivatedCount, run.ErrorCount)
	} else {
		fmt.Fprintf(w, "  Last run        : never\n")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Listings by Grade\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	for _, g := range models.AllGrades {
		n := r.CountByGrade[g]
		fmt.Fprintf(w, "  %s  %-30s (%d)\n", g, strings.Repeat("█", min(n, 30)), n)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Price per Tsubo (万円)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.PricedCount > 0 {
		fmt.Fprintf(w, "  Average : \033[1;32m%.2f\033[0m\n", r.AveragePricePerTsubo)
		fmt.Fprintf(w, "  Minimum : \033[1;32m%.2f\033[0m\n", r.MinPricePerTsubo)
		fmt.Fprintf(w, "  Maximum : \033[1;32m%.2f\033[0m\n", r.MaxPricePerTsubo)
		if r.Cheapest != nil {
			fmt.Fprintf(w, "  Cheapest: %s\n", truncate(r.Cheapest.Title, 44))
		}
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Top %d Listings\033[0m\n", topReportListings)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.TopListings) == 0 {
		fmt.Fprintf(w, "  No S or A grade listings\n")
	} else {
		for i, l := range r.TopListings {
			fmt.Fprintf(w, "  \033[1m%d.\033[0m [%s] %-36s \033[1;32m%.2f\033[0m\n",
				i+1, l.Score.Grade, truncate(l.Title, 34), l.Score.Total)
			fmt.Fprintf(w, "     %s\n", l.SourceURL)
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

// truncate shortens s to at most max runes.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
