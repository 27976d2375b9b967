// Package projection forecasts attendance outcomes from attended/total counts.
//
// All functions are pure. Negative counts are treated as zero and the attended
// count is capped at the total. The 75% threshold is evaluated in integers
// (attended >= total - total/4, i.e. 4*attended >= 3*total) so boundary cases
// never depend on float rounding, and no intermediate value overflows for
// any int input. Results that exceed math.MaxInt saturate at it.
package projection

import "math"

// Target is the attendance percentage every projection aims for.
const Target = 75.0

// MaxCount is the largest lecture count accepted from callers at the HTTP and
// CLI boundaries.
const MaxCount = 1_000_000_000

func normalize(attended, total int) (int, int) {
	if total < 0 {
		total = 0
	}
	if attended < 0 {
		attended = 0
	}
	if attended > total {
		attended = total
	}
	return attended, total
}

// atTarget reports 4*attended >= 3*total for normalized counts. ceil(3t/4)
// equals t - floor(t/4).
func atTarget(attended, total int) bool {
	return attended >= total-total/4
}

func addSat(a, b int) int {
	if a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}

func mulSat3(n int) int {
	if n > math.MaxInt/3 {
		return math.MaxInt
	}
	return 3 * n
}

// Percentage returns attended/total as a percentage rounded to two decimals.
func Percentage(attended, total int) float64 {
	attended, total = normalize(attended, total)
	if total == 0 {
		return 0
	}
	return math.Round(float64(attended)/float64(total)*100*100) / 100
}

// LecturesNeededFor75 returns the smallest n such that attending the next n
// lectures lifts the ratio to at least 75%.
func LecturesNeededFor75(attended, total int) int {
	attended, total = normalize(attended, total)
	if total == 0 || atTarget(attended, total) {
		return 0
	}
	// ceil((0.75t - p) / 0.25) is exactly 3t - 4p = 3(t-p) - p.
	missed := mulSat3(total - attended)
	if missed == math.MaxInt {
		return math.MaxInt
	}
	return missed - attended
}

// MaxBunkableLectures returns the largest n such that missing the next n
// lectures keeps the ratio at or above 75%.
func MaxBunkableLectures(attended, total int) int {
	attended, total = normalize(attended, total)
	if total == 0 || !atTarget(attended, total) {
		return 0
	}
	// floor(p/0.75 - t) is floor((4p - 3t) / 3) = floor((p - 3(t-p)) / 3).
	// At target 3(t-p) <= p, so nothing overflows.
	return (attended - 3*(total-attended)) / 3
}

// PercentageAfterSkipping models skip further lectures missed.
func PercentageAfterSkipping(attended, total, skip int) float64 {
	if skip < 0 {
		skip = 0
	}
	attended, total = normalize(attended, total)
	return Percentage(attended, addSat(total, skip))
}

// LecturesNeededToReach75 returns how many lectures must be attended after
// skipping skip lectures to get back to 75%. Attending one more lecture
// strictly raises a ratio below 1, so the count is always finite; it equals
// LecturesNeededFor75 evaluated at the post-skip totals.
func LecturesNeededToReach75(attended, total, skip int) int {
	if skip < 0 {
		skip = 0
	}
	attended, total = normalize(attended, total)
	after := addSat(total, skip)
	if after == 0 {
		return 0
	}
	return LecturesNeededFor75(attended, after)
}

// Summary is the projection view of one subject.
type Summary struct {
	Attended   int     `json:"attended"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Needed     int     `json:"lectures_needed"`
	Bunkable   int     `json:"bunkable"`
	AtTarget   bool    `json:"at_target"`
}

// Summarize bundles the projections for one subject.
func Summarize(attended, total int) Summary {
	attended, total = normalize(attended, total)
	return Summary{
		Attended:   attended,
		Total:      total,
		Percentage: Percentage(attended, total),
		Needed:     LecturesNeededFor75(attended, total),
		Bunkable:   MaxBunkableLectures(attended, total),
		AtTarget:   total == 0 || atTarget(attended, total),
	}
}

// Scenario is the outcome of skipping a number of lectures.
type Scenario struct {
	Skip                int     `json:"skip"`
	PercentageAfterSkip float64 `json:"percentage_after_skip"`
	NeededToRecover     int     `json:"lectures_needed_to_recover"`
	StillAtTarget       bool    `json:"still_at_target"`
}

// WhatIf simulates skipping skip lectures.
func WhatIf(attended, total, skip int) Scenario {
	if skip < 0 {
		skip = 0
	}
	needed := LecturesNeededToReach75(attended, total, skip)
	return Scenario{
		Skip:                skip,
		PercentageAfterSkip: PercentageAfterSkipping(attended, total, skip),
		NeededToRecover:     needed,
		StillAtTarget:       needed == 0,
	}
}
