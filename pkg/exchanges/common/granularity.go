package common

import (
	"sort"
	"time"
)

// Granularity describes a candle size accepted by the venue.
type Granularity struct {
	Value    string        `json:"value"`
	Label    string        `json:"label"`
	Duration time.Duration `json:"-"`
}

var granularities = map[string]Granularity{
	"S5":  {"S5", "5 seconds", 5 * time.Second},
	"S10": {"S10", "10 seconds", 10 * time.Second},
	"S15": {"S15", "15 seconds", 15 * time.Second},
	"S30": {"S30", "30 seconds", 30 * time.Second},
	"M1":  {"M1", "1 minute", time.Minute},
	"M2":  {"M2", "2 minutes", 2 * time.Minute},
	"M4":  {"M4", "4 minutes", 4 * time.Minute},
	"M5":  {"M5", "5 minutes", 5 * time.Minute},
	"M10": {"M10", "10 minutes", 10 * time.Minute},
	"M15": {"M15", "15 minutes", 15 * time.Minute},
	"M30": {"M30", "30 minutes", 30 * time.Minute},
	"H1":  {"H1", "1 hour", time.Hour},
	"H2":  {"H2", "2 hours", 2 * time.Hour},
	"H3":  {"H3", "3 hours", 3 * time.Hour},
	"H4":  {"H4", "4 hours", 4 * time.Hour},
	"H6":  {"H6", "6 hours", 6 * time.Hour},
	"H8":  {"H8", "8 hours", 8 * time.Hour},
	"H12": {"H12", "12 hours", 12 * time.Hour},
	"D":   {"D", "Daily", 24 * time.Hour},
	"W":   {"W", "Weekly", 7 * 24 * time.Hour},
	"M":   {"M", "Monthly", 30 * 24 * time.Hour},
}

// LookupGranularity returns the granularity for a venue code such as "M15".
func LookupGranularity(code string) (Granularity, bool) {
	g, ok := granularities[code]
	return g, ok
}

// BarDuration returns the nominal bar length, or 0 for unknown codes.
func BarDuration(code string) time.Duration {
	return granularities[code].Duration
}

// Granularities lists every supported granularity, shortest first.
func Granularities() []Granularity {
	out := make([]Granularity, 0, len(granularities))
	for _, g := range granularities {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Duration < out[j].Duration })
	return out
}
