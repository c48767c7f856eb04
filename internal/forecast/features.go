package forecast

import (
	"math"
	"time"
)

// Indices are pluggable exogenous signals. Each defaults to 1.0 (neutral);
// operators can feed real business-cycle or market data later.
type Indices struct {
	BusinessCycle float64 `json:"businessCycle"`
	Market        float64 `json:"market"`
	Competition   float64 `json:"competition"`
}

func (i Indices) withDefaults() Indices {
	if i.BusinessCycle == 0 {
		i.BusinessCycle = 1
	}
	if i.Market == 0 {
		i.Market = 1
	}
	if i.Competition == 0 {
		i.Competition = 1
	}
	return i
}

// seasonalMultipliers is the fixed monthly demand table (January first).
// Summer dip, November/December peak.
var seasonalMultipliers = [12]float64{
	0.9, 0.92, 0.98, 1.0, 1.02, 1.05,
	0.95, 0.9, 1.0, 1.05, 1.15, 1.2,
}

// fixedHolidays are month/day pairs treated as holidays regardless of year.
var fixedHolidays = map[[2]int]bool{
	{1, 1}:   true, // New Year's Day
	{5, 1}:   true, // May Day
	{12, 24}: true,
	{12, 25}: true,
	{12, 26}: true,
	{12, 31}: true,
}

// featureCount is the width of the engineered tuple.
const featureCount = 11

// EngineerFeatures builds the fixed feature tuple for one day: bias, linear
// trend index, weekly and yearly cyclic encodings, weekend/holiday flags,
// the monthly seasonal multiplier, and the exogenous indices.
func EngineerFeatures(date time.Time, idx int, indices Indices) []float64 {
	dow := float64(date.Weekday())
	doy := float64(date.YearDay())

	weekend := 0.0
	if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
		weekend = 1
	}
	holiday := 0.0
	if fixedHolidays[[2]int{int(date.Month()), date.Day()}] {
		holiday = 1
	}

	return []float64{
		1,                              // bias
		float64(idx),                   // trend
		math.Sin(2 * math.Pi * dow / 7),
		math.Cos(2 * math.Pi * dow / 7),
		math.Sin(2 * math.Pi * doy / 365),
		math.Cos(2 * math.Pi * doy / 365),
		weekend,
		holiday,
		seasonalMultipliers[date.Month()-1] * indices.BusinessCycle,
		indices.Market,
		indices.Competition,
	}
}
