package models

// StatusReport is the summary printed by the status command.
type StatusReport struct {
	ActiveCount  int
	CountByGrade map[Grade]int
	LastRun      *RunLog

	// Price per tsubo in man-yen, over active listings that have both a
	// price and an area.
	PricedCount          int
	AveragePricePerTsubo float64
	MinPricePerTsubo     float64
	MaxPricePerTsubo     float64
	Cheapest             *Listing

	TopListings []*Listing
}
